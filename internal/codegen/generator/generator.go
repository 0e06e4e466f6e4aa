// Package generator writes language bindings for port state layouts.
package generator

import (
	"fmt"
	"log/slog"
	"os"

	cgen "github.com/Alia5/portctrl/internal/codegen/generator/c"
	"github.com/Alia5/portctrl/internal/codegen/generator/rust"
	"github.com/Alia5/portctrl/internal/codegen/meta"
	"github.com/Alia5/portctrl/layout"
	"github.com/Alia5/portctrl/schema"
)

// Languages lists the supported binding languages.
var Languages = []string{"c", "rust"}

// Generator orchestrates binding generation for all target languages.
type Generator struct {
	outputDir string
	logger    *slog.Logger
}

// New creates a Generator writing into outputDir.
func New(outputDir string, logger *slog.Logger) *Generator {
	return &Generator{outputDir: outputDir, logger: logger}
}

func (g *Generator) prepare(p *schema.Port) (*meta.Metadata, error) {
	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	md := meta.FromLayout(p, layout.Plan(p))
	g.logger.Debug("Collected layout metadata", "port", md.Port, "controls", len(md.Controls), "layout", md.Fingerprint)
	return md, nil
}

// GenerateC writes the C header for p.
func (g *Generator) GenerateC(p *schema.Port) error {
	md, err := g.prepare(p)
	if err != nil {
		return err
	}
	return cgen.GenerateHeader(g.logger, g.outputDir, md)
}

// GenerateRust writes the Rust module for p.
func (g *Generator) GenerateRust(p *schema.Port) error {
	md, err := g.prepare(p)
	if err != nil {
		return err
	}
	return rust.GenerateModule(g.logger, g.outputDir, md)
}

// Generate writes bindings for lang, or for every language when lang is
// "all".
func (g *Generator) Generate(p *schema.Port, lang string) error {
	switch lang {
	case "c":
		return g.GenerateC(p)
	case "rust":
		return g.GenerateRust(p)
	case "all":
		if err := g.GenerateC(p); err != nil {
			return err
		}
		return g.GenerateRust(p)
	}
	return fmt.Errorf("unknown binding language %q", lang)
}
