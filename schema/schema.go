// Package schema models declarative controller-port descriptions.
//
// A port is an ordered list of controllers, each an ordered list of
// controls (buttons and axes). Descriptors are parsed once and treated as
// immutable afterwards; everything downstream (layout, interpreter, native
// code) is derived from them.
package schema

import (
	"fmt"
	"slices"
	"unicode/utf8"

	"golang.org/x/exp/maps"
)

// Kind is the type of a single control.
type Kind uint8

const (
	KindNull Kind = iota
	KindButton
	KindAxis
	KindReverseAxis
	KindTriggerAxis
	KindLightgunAxis
)

var kindNames = map[string]Kind{
	"null":          KindNull,
	"button":        KindButton,
	"axis":          KindAxis,
	"raxis":         KindReverseAxis,
	"reverse-axis":  KindReverseAxis,
	"taxis":         KindTriggerAxis,
	"trigger-axis":  KindTriggerAxis,
	"lightgun":      KindLightgunAxis,
	"lightgun-axis": KindLightgunAxis,
}

// ParseKind maps a descriptor "type" string to a Kind.
func ParseKind(s string) (Kind, error) {
	k, ok := kindNames[s]
	if !ok {
		return KindNull, fmt.Errorf("unknown control type %q", s)
	}
	return k, nil
}

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindButton:
		return "button"
	case KindAxis:
		return "axis"
	case KindReverseAxis:
		return "raxis"
	case KindTriggerAxis:
		return "taxis"
	case KindLightgunAxis:
		return "lightgun"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// IsAxis reports whether controls of this kind hold a 16-bit value.
func (k Kind) IsAxis() bool {
	return k >= KindAxis && k <= KindLightgunAxis
}

// Button describes one control of a controller. Despite the name it covers
// axes too; Kind tells them apart.
type Button struct {
	Name   string
	Kind   Kind
	Symbol rune
	Macro  string
	// Movie is the byte written to movie logs while a button is held.
	Movie   byte
	Shadow  bool
	Min     int16
	Max     int16
	Centers bool
}

// NewButton returns a button whose symbols all derive from movie.
func NewButton(name string, movie byte) Button {
	return Button{
		Name:   name,
		Kind:   KindButton,
		Symbol: rune(movie),
		Macro:  string(rune(movie)),
		Movie:  movie,
	}
}

// NewAxis returns an axis control of the given kind and range.
func NewAxis(name string, kind Kind, min, max int16) Button {
	sym, _ := utf8.DecodeRuneInString(name)
	return Button{
		Name:    name,
		Kind:    kind,
		Symbol:  sym,
		Macro:   string(sym),
		Min:     min,
		Max:     max,
		Centers: kind == KindAxis || kind == KindReverseAxis,
	}
}

// Controller is one attachable device on a port.
type Controller struct {
	Class   string
	Type    string
	Buttons []Button
}

// Port is a logical connection point and the controllers it carries.
type Port struct {
	Name        string
	HName       string
	Symbol      string
	Controllers []Controller

	legal map[int]struct{}
}

// NewPort builds and validates a port from already-decoded parts.
func NewPort(name string, legal []int, controllers ...Controller) (*Port, error) {
	p := &Port{
		Name:        name,
		HName:       name,
		Controllers: controllers,
		legal:       make(map[int]struct{}, len(legal)),
	}
	if r, _ := utf8.DecodeRuneInString(name); r != utf8.RuneError {
		p.Symbol = string(r)
	}
	for _, s := range legal {
		p.legal[s] = struct{}{}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Legal reports whether the port may be plugged into slot.
func (p *Port) Legal(slot int) bool {
	_, ok := p.legal[slot]
	return ok
}

// LegalSlots returns the legal slot indices in ascending order.
func (p *Port) LegalSlots() []int {
	k := maps.Keys(p.legal)
	slices.Sort(k)
	return k
}

// IsSystem reports whether this is the system port (slot 0 legal). System
// ports serialize without a leading pipe.
func (p *Port) IsSystem() bool {
	return p.Legal(0)
}

// Validate checks the invariants the layout planner relies on.
func (p *Port) Validate() error {
	if p.Name == "" {
		return errorf("name", "required field missing")
	}
	for ci, c := range p.Controllers {
		for bi, b := range c.Buttons {
			if err := validateButton(fmt.Sprintf("controllers[%d].buttons[%d]", ci, bi), b); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateButton(path string, b Button) error {
	switch {
	case b.Kind == KindButton:
		if !validMovie(b.Movie) {
			return errorf(path+".movie", "movie symbol %q must be one printable ASCII character other than '.', '|' or space", b.Movie)
		}
	case b.Kind.IsAxis():
		if b.Min > b.Max {
			return errorf(path, "min %d greater than max %d", b.Min, b.Max)
		}
	case b.Kind != KindNull:
		return errorf(path+".type", "unknown control kind %d", b.Kind)
	}
	return nil
}

func validMovie(c byte) bool {
	return c > ' ' && c < 0x7f && c != '.' && c != '|'
}
