// Package codec turns a controller port description into the four
// operations a movie recorder needs: random-access Read and Write on the
// binary state, and Serialize and Deserialize between the binary state and
// a movie-log text line.
//
// Codecs run generated x86 code where the host allows it and fall back to a
// portable interpreter otherwise. Both produce identical results.
package codec

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/Alia5/portctrl/interp"
	"github.com/Alia5/portctrl/jit/codegen"
	"github.com/Alia5/portctrl/jit/native"
	"github.com/Alia5/portctrl/layout"
	"github.com/Alia5/portctrl/schema"
)

// Blank is returned by Deserialize for ports without controllers.
const Blank = layout.Blank

// Environment variables consulted by New.
const (
	EnvBackend = "PORTCTRL_BACKEND"
	EnvDump    = "PORTCTRL_JIT_DUMP"
)

// BackendKind selects how a codec executes.
type BackendKind uint8

const (
	BackendAuto BackendKind = iota
	BackendInterpreter
	BackendNative
)

func (b BackendKind) String() string {
	switch b {
	case BackendAuto:
		return "auto"
	case BackendInterpreter:
		return "interpreter"
	case BackendNative:
		return "native"
	default:
		return fmt.Sprintf("BackendKind(%d)", uint8(b))
	}
}

// ParseBackend accepts auto, interpreter (interp) and native (jit).
func ParseBackend(s string) (BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return BackendAuto, nil
	case "interpreter", "interp":
		return BackendInterpreter, nil
	case "native", "jit":
		return BackendNative, nil
	}
	return BackendAuto, fmt.Errorf("unknown backend %q", s)
}

// backend is the operation set both execution strategies provide.
type backend interface {
	Serialize(state, out []byte) int
	Deserialize(state, in []byte) int
	Read(state []byte, controller, control int) int16
	Write(state []byte, controller, control int, v int16)
}

type options struct {
	logger  *slog.Logger
	backend BackendKind
	dumpDir string
}

type Option func(*options)

// WithLogger sets the logger used for fallback warnings and dumps.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBackend selects the backend. BackendNative fails instead of falling
// back when native code cannot be built.
func WithBackend(b BackendKind) Option {
	return func(o *options) { o.backend = b }
}

// WithDumpDir writes the generated machine code, a symbol map and a
// disassembly into dir.
func WithDumpDir(dir string) Option {
	return func(o *options) { o.dumpDir = dir }
}

// Codec serializes and accesses the state of one port layout.
type Codec struct {
	port   *schema.Port
	layout *layout.Layout
	kind   BackendKind
	module *native.Module

	read        func(state []byte, controller, control int) int16
	write       func(state []byte, controller, control int, v int16)
	serialize   func(state, out []byte) int
	deserialize func(state, in []byte) int
}

// New plans the layout of p and builds its codec.
func New(p *schema.Port, opts ...Option) (*Codec, error) {
	o := options{logger: slog.Default(), dumpDir: os.Getenv(EnvDump)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.backend == BackendAuto {
		if env := os.Getenv(EnvBackend); env != "" {
			b, err := ParseBackend(env)
			if err != nil {
				return nil, fmt.Errorf("codec: %s: %w", EnvBackend, err)
			}
			o.backend = b
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	l := layout.Plan(p)
	c := &Codec{port: p, layout: l}
	if o.backend != BackendInterpreter {
		m, err := buildNative(l, &o)
		if err == nil {
			c.module = m
			c.use(m, BackendNative)
			o.logger.Debug("native codec ready", "port", p.Name, "layout", l.Fingerprint(), "size", m.Program().Size())
			return c, nil
		}
		if o.backend == BackendNative {
			return nil, fmt.Errorf("codec: native backend: %w", err)
		}
		o.logger.Warn("native codec unavailable, using interpreter", "port", p.Name, "error", err)
	}
	c.use(interp.New(l), BackendInterpreter)
	return c, nil
}

func (c *Codec) use(b backend, kind BackendKind) {
	c.kind = kind
	c.read = b.Read
	c.write = b.Write
	c.serialize = b.Serialize
	c.deserialize = b.Deserialize
}

// Replaced in tests to force the fallback path.
var (
	generate   = codegen.Generate
	dumpModule = (*native.Module).Dump
)

func buildNative(l *layout.Layout, o *options) (m *native.Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			if m != nil {
				_ = m.Close()
			}
			m, err = nil, fmt.Errorf("code generation panicked: %v", r)
		}
	}()
	target, err := native.HostTarget()
	if err != nil {
		return nil, err
	}
	prog, err := generate(l, target)
	if err != nil {
		return nil, err
	}
	m, err = native.Load(prog, l)
	if err != nil {
		return nil, err
	}
	if o.dumpDir != "" {
		name := DumpName(l)
		if err := dumpModule(m, o.dumpDir, name); err != nil {
			o.logger.Warn("failed to write jit dump", "dir", o.dumpDir, "error", err)
		} else {
			o.logger.Info("jit dump written", "dir", o.dumpDir, "name", name)
		}
	}
	return m, nil
}

// DumpName is the file stem used for dumps of l.
func DumpName(l *layout.Layout) string {
	return "portctrl-" + l.Fingerprint().String()
}

func (c *Codec) checkState(state []byte) {
	if len(state) < c.layout.StorageSize {
		panic(fmt.Sprintf("codec: state buffer holds %d bytes, layout needs %d", len(state), c.layout.StorageSize))
	}
}

// Read returns a control value. Buttons read as 0 or 1; controls outside
// the layout read as 0.
func (c *Codec) Read(state []byte, controller, control int) int16 {
	c.checkState(state)
	return c.read(state, controller, control)
}

// Write stores a control value. Buttons are set for any non-zero v.
// Controls outside the layout are ignored.
func (c *Codec) Write(state []byte, controller, control int, v int16) {
	c.checkState(state)
	c.write(state, controller, control, v)
}

// Serialize writes the movie-log line of state into out and returns its
// length. out must hold MaxTextSize bytes.
func (c *Codec) Serialize(state, out []byte) int {
	c.checkState(state)
	if len(out) < c.layout.MaxTextSize() {
		panic(fmt.Sprintf("codec: text buffer holds %d bytes, layout needs %d", len(out), c.layout.MaxTextSize()))
	}
	return c.serialize(state, out)
}

// Deserialize parses a movie-log line into state, replacing its contents.
// It returns the number of bytes consumed, or Blank for ports without
// controllers. Parsing stops early at '\r', '\n' or NUL.
func (c *Codec) Deserialize(state, in []byte) int {
	c.checkState(state)
	return c.deserialize(state, in)
}

// AppendText appends the movie-log line of state to dst.
func (c *Codec) AppendText(dst, state []byte) []byte {
	n := len(dst)
	dst = slices.Grow(dst, c.layout.MaxTextSize())[:n+c.layout.MaxTextSize()]
	return dst[:n+c.Serialize(state, dst[n:])]
}

// NewState returns a zeroed state buffer.
func (c *Codec) NewState() []byte { return make([]byte, c.layout.StorageSize) }

func (c *Codec) StorageSize() int { return c.layout.StorageSize }

func (c *Codec) MaxTextSize() int { return c.layout.MaxTextSize() }

// Backend reports the backend serving this codec.
func (c *Codec) Backend() BackendKind { return c.kind }

func (c *Codec) Layout() *layout.Layout { return c.layout }

func (c *Codec) Port() *schema.Port { return c.port }

// Module returns the loaded native module, or nil for interpreted codecs.
func (c *Codec) Module() *native.Module { return c.module }

// Close releases native code. The codec must not be used afterwards.
func (c *Codec) Close() error {
	if c.module == nil {
		return nil
	}
	m := c.module
	c.module = nil
	return m.Close()
}
