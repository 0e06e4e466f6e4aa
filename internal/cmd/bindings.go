package cmd

import (
	"log/slog"

	"github.com/Alia5/portctrl/internal/codegen/generator"
)

// Bindings writes C and Rust definitions of a port's state layout.
type Bindings struct {
	Schema string `arg:"" help:"Descriptor file (.json, .yaml, .toml) or preset:<name>"`
	Output string `short:"o" help:"Output directory" default:"." env:"PORTCTRL_BINDINGS_OUTPUT"`
	Lang   string `help:"Target language: c, rust, or 'all'" default:"all" enum:"c,rust,all" env:"PORTCTRL_BINDINGS_LANG"`
}

// Run is called by Kong when the bindings command is executed.
func (c *Bindings) Run(logger *slog.Logger) error {
	p, err := loadPort(c.Schema)
	if err != nil {
		return err
	}
	logger.Info("Generating bindings", "port", p.Name, "output", c.Output, "lang", c.Lang)
	return generator.New(c.Output, logger).Generate(p, c.Lang)
}
