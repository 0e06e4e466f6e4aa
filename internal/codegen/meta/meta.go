// Package meta collects what the binding generators need to know about a
// port: its layout constants and one record per stored control.
package meta

import (
	"fmt"

	"github.com/Alia5/portctrl/internal/codegen/common"
	"github.com/Alia5/portctrl/layout"
	"github.com/Alia5/portctrl/schema"
)

// Control is one stored control.
type Control struct {
	Name       string
	Ident      string
	Kind       schema.Kind
	Controller int
	Control    int
	Offset     int
	Mask       byte
	Bit        int
	Min, Max   int16
}

// IsButton reports whether the control is a single bit.
func (c Control) IsButton() bool { return c.Kind == schema.KindButton }

// Metadata describes a port for code generation.
type Metadata struct {
	Port        string
	Ident       string
	Fingerprint string
	StorageSize int
	Controllers int
	Stride      int
	MaxText     int
	Controls    []Control
}

// FromLayout builds metadata for p planned as l. Control identifiers are
// snake_case names prefixed with their controller when the port has more
// than one, and made unique with an index suffix.
func FromLayout(p *schema.Port, l *layout.Layout) *Metadata {
	md := &Metadata{
		Port:        p.Name,
		Ident:       common.Identifier(common.ToSnakeCase(p.Name), "port"),
		Fingerprint: l.Fingerprint().String(),
		StorageSize: l.StorageSize,
		Controllers: l.Controllers,
		Stride:      l.Stride,
		MaxText:     l.MaxTextSize(),
	}
	seen := make(map[string]int)
	for _, e := range l.Index {
		if !e.Stored() {
			continue
		}
		b := p.Controllers[e.Controller].Buttons[e.Control]
		ident := common.Identifier(common.ToSnakeCase(b.Name), fmt.Sprintf("control%d", e.Control))
		if l.Controllers > 1 {
			ident = fmt.Sprintf("p%d_%s", e.Controller, ident)
		}
		if n := seen[ident]; n > 0 {
			seen[ident]++
			ident = fmt.Sprintf("%s_%d", ident, n)
		} else {
			seen[ident] = 1
		}
		md.Controls = append(md.Controls, Control{
			Name:       b.Name,
			Ident:      ident,
			Kind:       e.Kind,
			Controller: e.Controller,
			Control:    e.Control,
			Offset:     e.Offset,
			Mask:       e.Mask,
			Bit:        e.Bit(),
			Min:        b.Min,
			Max:        b.Max,
		})
	}
	return md
}
