// Package cmd implements the portctrl subcommands.
package cmd

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Alia5/portctrl/codec"
	"github.com/Alia5/portctrl/presets"
	"github.com/Alia5/portctrl/schema"
)

// Backend is the codec backend chosen on the command line. It is bound
// into every command's Run.
type Backend string

// Kind parses b.
func (b Backend) Kind() (codec.BackendKind, error) {
	return codec.ParseBackend(string(b))
}

// loadPort resolves a descriptor path or "preset:<name>" reference.
func loadPort(ref string) (*schema.Port, error) {
	p, err := presets.Resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref, err)
	}
	return p, nil
}

func openCodec(ref string, backend Backend, logger *slog.Logger) (*codec.Codec, error) {
	p, err := loadPort(ref)
	if err != nil {
		return nil, err
	}
	kind, err := backend.Kind()
	if err != nil {
		return nil, err
	}
	c, err := codec.New(p, codec.WithBackend(kind), codec.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	logger.Debug("codec ready", "port", p.Name, "backend", c.Backend(), "layout", c.Layout().Fingerprint())
	return c, nil
}

// Assignment sets one control: "<controller>.<control>=<value>".
type Assignment struct {
	Controller int
	Control    int
	Value      int16
}

// ParseAssignment parses s. Controls may be addressed by index or, when p
// is non-nil, by name.
func ParseAssignment(s string, p *schema.Port) (Assignment, error) {
	var a Assignment
	lhs, rhs, ok := strings.Cut(s, "=")
	if !ok {
		return a, fmt.Errorf("assignment %q: want controller.control=value", s)
	}
	ctrl, ctl, ok := strings.Cut(lhs, ".")
	if !ok {
		return a, fmt.Errorf("assignment %q: want controller.control=value", s)
	}
	var err error
	if a.Controller, err = strconv.Atoi(ctrl); err != nil {
		return a, fmt.Errorf("assignment %q: controller: %w", s, err)
	}
	if a.Control, err = strconv.Atoi(ctl); err != nil {
		idx, found := controlByName(p, a.Controller, ctl)
		if !found {
			return a, fmt.Errorf("assignment %q: no control %q on controller %d", s, ctl, a.Controller)
		}
		a.Control = idx
	}
	v, err := strconv.ParseInt(rhs, 10, 16)
	if err != nil {
		return a, fmt.Errorf("assignment %q: value: %w", s, err)
	}
	a.Value = int16(v)
	return a, nil
}

func controlByName(p *schema.Port, controller int, name string) (int, bool) {
	if p == nil || controller < 0 || controller >= len(p.Controllers) {
		return 0, false
	}
	for i, b := range p.Controllers[controller].Buttons {
		if b.Kind != schema.KindNull && b.Name == name {
			return i, true
		}
	}
	return 0, false
}
