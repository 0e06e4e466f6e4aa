// Package native loads generated codec programs into executable memory and
// calls them through the host C calling convention.
package native

import (
	"errors"
	"fmt"
	"maps"
	"runtime"
	"sync"

	"github.com/Alia5/portctrl/jit/codegen"
	"github.com/Alia5/portctrl/jit/execmem"
	"github.com/Alia5/portctrl/jit/x86"
	"github.com/Alia5/portctrl/layout"
)

var ErrUnsupportedHost = errors.New("native: generated code cannot run on this host")

// HostTarget is the codegen target matching the running process.
func HostTarget() (codegen.Target, error) {
	if !callable {
		return codegen.Target{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedHost, runtime.GOOS, runtime.GOARCH)
	}
	if runtime.GOOS == "windows" {
		return codegen.Target{Conv: x86.Win64}, nil
	}
	return codegen.Target{Conv: x86.SysV64}, nil
}

// Module is a program loaded into sealed executable memory.
type Module struct {
	prog    *codegen.Program
	layout  *layout.Layout
	region  *execmem.Region
	globals map[string]uintptr

	serialize, deserialize, read, write uintptr

	// scratch holds NUL-terminated copies of unterminated input lines.
	scratch sync.Pool
}

// Load places prog in executable memory. prog must have been generated for
// HostTarget.
func Load(prog *codegen.Program, l *layout.Layout) (*Module, error) {
	host, err := HostTarget()
	if err != nil {
		return nil, err
	}
	if prog.Target().Conv != host.Conv {
		return nil, fmt.Errorf("%w: program targets %s, host needs %s", ErrUnsupportedHost, prog.Target(), host)
	}

	region, err := execmem.Alloc(prog.Size())
	if err != nil {
		return nil, err
	}
	globals, err := prog.Link(region.Bytes(), region.Addr())
	if err != nil {
		_ = region.Close()
		return nil, fmt.Errorf("native: link: %w", err)
	}
	if err := region.Seal(); err != nil {
		_ = region.Close()
		return nil, err
	}

	m := &Module{
		prog:        prog,
		layout:      l,
		region:      region,
		globals:     globals,
		serialize:   globals[codegen.Serialize],
		deserialize: globals[codegen.Deserialize],
		read:        globals[codegen.Read],
		write:       globals[codegen.Write],
	}
	m.scratch.New = func() any {
		b := make([]byte, 0, l.MaxTextSize()+1)
		return &b
	}
	return m, nil
}

// Base is the load address of the image.
func (m *Module) Base() uintptr { return m.region.Addr() }

// Globals returns the absolute address of every exported name.
func (m *Module) Globals() map[string]uintptr { return maps.Clone(m.globals) }

func (m *Module) Program() *codegen.Program { return m.prog }

func (m *Module) Layout() *layout.Layout { return m.layout }

// Close releases the executable memory. No call may be in flight.
func (m *Module) Close() error { return m.region.Close() }

// Dump writes the loaded image as it sits in memory.
func (m *Module) Dump(dir, name string) error {
	image := make([]byte, m.prog.Size())
	if _, err := m.prog.Link(image, m.Base()); err != nil {
		return fmt.Errorf("native: dump: %w", err)
	}
	return writeDump(dir, name, m.prog, image, m.Base())
}
