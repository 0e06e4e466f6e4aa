package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Alia5/portctrl/codec"
	"github.com/Alia5/portctrl/presets"
)

// Verify cross-checks the native codec against the interpreter.
type Verify struct {
	Schemas    []string `arg:"" optional:"" help:"Descriptor files or preset:<name> references; every preset when omitted"`
	Iterations int      `help:"Random states per port" default:"1000" env:"PORTCTRL_VERIFY_ITERATIONS"`
	Seed       uint64   `help:"Random seed" default:"1" env:"PORTCTRL_VERIFY_SEED"`
}

func (c *Verify) Run(logger *slog.Logger, out io.Writer) error {
	refs := c.Schemas
	if len(refs) == 0 {
		for _, name := range presets.Names() {
			refs = append(refs, presets.Prefix+name)
		}
	}
	var errs []error
	for _, ref := range refs {
		if err := c.one(ref, logger, out); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ref, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Verify) one(ref string, logger *slog.Logger, out io.Writer) error {
	p, err := loadPort(ref)
	if err != nil {
		return err
	}
	want, err := codec.New(p, codec.WithBackend(codec.BackendInterpreter), codec.WithLogger(logger))
	if err != nil {
		return err
	}
	defer want.Close()
	got, err := codec.New(p, codec.WithBackend(codec.BackendNative), codec.WithLogger(logger))
	if err != nil {
		return err
	}
	defer got.Close()

	start := time.Now()
	if err := codec.Verify(want, got, c.Iterations, c.Seed); err != nil {
		var me *codec.MismatchError
		if errors.As(err, &me) {
			logger.Error("backends disagree", "port", p.Name, "op", me.Op, "iteration", me.Iteration, "line", me.Line)
		}
		return err
	}
	logger.Info("verified", "port", p.Name, "iterations", c.Iterations, "elapsed", time.Since(start))
	_, err = fmt.Fprintf(out, "ok\t%s\t%s\n", p.Name, want.Layout().Fingerprint())
	return err
}
