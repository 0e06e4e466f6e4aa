package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/Alia5/portctrl/codec"
	"github.com/Alia5/portctrl/internal/log"
	"github.com/Alia5/portctrl/jit/codegen"
	"github.com/Alia5/portctrl/jit/native"
	"github.com/Alia5/portctrl/jit/x86"
	"github.com/Alia5/portctrl/layout"
)

// Dump writes the generated machine code of a port for inspection.
type Dump struct {
	Schema string `arg:"" help:"Descriptor file (.json, .yaml, .toml) or preset:<name>"`
	Out    string `short:"o" help:"Output directory" default:"." env:"PORTCTRL_JIT_DUMP"`
	Target string `help:"Calling convention: host, sysv-amd64, win64 or cdecl-386" default:"host"`
	Print  bool   `help:"Also print the disassembly"`
}

func (c *Dump) target() (codegen.Target, error) {
	if c.Target == "host" {
		return native.HostTarget()
	}
	conv, ok := x86.LookupConvention(c.Target)
	if !ok {
		return codegen.Target{}, fmt.Errorf("unknown target %q", c.Target)
	}
	return codegen.Target{Conv: conv}, nil
}

func (c *Dump) Run(logger *slog.Logger, out io.Writer) error {
	p, err := loadPort(c.Schema)
	if err != nil {
		return err
	}
	t, err := c.target()
	if err != nil {
		return err
	}
	l := layout.Plan(p)
	prog, err := codegen.Generate(l, t)
	if err != nil {
		return err
	}
	for _, s := range prog.Symbols() {
		logger.Log(context.Background(), log.LevelTrace, "symbol", "name", s.Name, "offset", s.Offset)
	}

	name := codec.DumpName(l)
	if err := native.DumpProgram(prog, c.Out, name); err != nil {
		return err
	}
	logger.Info("jit dump written", "port", p.Name, "target", t, "bytes", prog.Size(), "dir", c.Out)

	if c.Print {
		image := make([]byte, prog.Size())
		if _, err := prog.Link(image, native.DumpBase); err != nil {
			return err
		}
		_, err = io.WriteString(out, native.Disassemble(prog, image, native.DumpBase))
		return err
	}
	_, err = fmt.Fprintln(out, filepath.Join(c.Out, name+".s"))
	return err
}
