// Package asm is a small machine-code buffer builder: bytes, labels that
// may be referenced before they are defined, and relocations applied when
// the final load address is known.
package asm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrUndefinedLabel = errors.New("asm: undefined label")
	ErrOutOfRange     = errors.New("asm: displacement out of range")
)

// Label is a handle into the assembler's label arena.
type Label int32

// NoLabel is the zero handle for "no label".
const NoLabel Label = -1

type labelKind uint8

const (
	labelUnresolved labelKind = iota
	labelLocal
	labelExternal
	labelRelative
)

type label struct {
	kind  labelKind
	off   int
	addr  uintptr
	base  Label
	delta int
}

// PatchFunc writes a relocated field. loc is the field inside the flushed
// buffer, target the resolved label address and source the address right
// after the field.
type PatchFunc func(loc []byte, target, source uintptr) error

// Relocation is a deferred patch of Size bytes at Offset.
type Relocation struct {
	Patch  PatchFunc
	Target Label
	Offset int
	Size   int
}

// Assembler accumulates code bytes, labels and relocations.
type Assembler struct {
	buf     []byte
	labels  []label
	relocs  []Relocation
	globals map[string]Label
}

func New() *Assembler {
	return &Assembler{globals: make(map[string]Label)}
}

// Len is the number of bytes emitted so far.
func (a *Assembler) Len() int { return len(a.buf) }

// Bytes returns the unrelocated image. The slice aliases internal storage.
func (a *Assembler) Bytes() []byte { return a.buf }

// Relocations returns the queued relocations.
func (a *Assembler) Relocations() []Relocation { return a.relocs }

func (a *Assembler) Byte(b ...byte) { a.buf = append(a.buf, b...) }

func (a *Assembler) Uint16(v uint16) { a.buf = binary.LittleEndian.AppendUint16(a.buf, v) }

func (a *Assembler) Uint32(v uint32) { a.buf = binary.LittleEndian.AppendUint32(a.buf, v) }

func (a *Assembler) Uint64(v uint64) { a.buf = binary.LittleEndian.AppendUint64(a.buf, v) }

// Pad emits n fill bytes.
func (a *Assembler) Pad(n int, fill byte) {
	for range n {
		a.buf = append(a.buf, fill)
	}
}

// Align pads with fill until the length is a multiple of n.
func (a *Assembler) Align(n int, fill byte) {
	if n <= 1 {
		return
	}
	if rem := len(a.buf) % n; rem != 0 {
		a.Pad(n-rem, fill)
	}
}

// NewLabel returns a label to be defined later.
func (a *Assembler) NewLabel() Label {
	a.labels = append(a.labels, label{kind: labelUnresolved})
	return Label(len(a.labels) - 1)
}

// Define binds l to the current position. A label is defined once.
func (a *Assembler) Define(l Label) {
	lb := &a.labels[l]
	if lb.kind != labelUnresolved {
		panic(fmt.Sprintf("asm: label %d defined twice", l))
	}
	lb.kind = labelLocal
	lb.off = len(a.buf)
}

// Here returns a new label bound to the current position.
func (a *Assembler) Here() Label {
	l := a.NewLabel()
	a.Define(l)
	return l
}

// External returns a label for an absolute address outside the buffer.
func (a *Assembler) External(addr uintptr) Label {
	a.labels = append(a.labels, label{kind: labelExternal, addr: addr})
	return Label(len(a.labels) - 1)
}

// Relative returns a label delta bytes away from base.
func (a *Assembler) Relative(base Label, delta int) Label {
	if base < 0 || int(base) >= len(a.labels) {
		panic(fmt.Sprintf("asm: relative label on unknown base %d", base))
	}
	a.labels = append(a.labels, label{kind: labelRelative, base: base, delta: delta})
	return Label(len(a.labels) - 1)
}

// Global exports l under name in the flush result.
func (a *Assembler) Global(name string, l Label) {
	a.globals[name] = l
}

// GlobalLabel returns the label exported under name, or NoLabel.
func (a *Assembler) GlobalLabel(name string) Label {
	if l, ok := a.globals[name]; ok {
		return l
	}
	return NoLabel
}

// Globals lists exported names ordered by offset, then name.
func (a *Assembler) Globals() []string {
	names := make([]string, 0, len(a.globals))
	for n := range a.globals {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		oi, _ := a.Offset(a.globals[names[i]])
		oj, _ := a.Offset(a.globals[names[j]])
		if oi != oj {
			return oi < oj
		}
		return names[i] < names[j]
	})
	return names
}

// Offset returns the buffer offset of a label resolving inside the buffer.
func (a *Assembler) Offset(l Label) (int, bool) {
	if l < 0 || int(l) >= len(a.labels) {
		return 0, false
	}
	lb := a.labels[l]
	switch lb.kind {
	case labelLocal:
		return lb.off, true
	case labelRelative:
		off, ok := a.Offset(lb.base)
		return off + lb.delta, ok
	default:
		return 0, false
	}
}

// Reloc emits size placeholder bytes to be patched against target.
func (a *Assembler) Reloc(size int, patch PatchFunc, target Label) {
	a.relocs = append(a.relocs, Relocation{Patch: patch, Target: target, Offset: len(a.buf), Size: size})
	a.Pad(size, 0)
}

// Resolve computes the absolute address of l for a buffer loaded at base.
func (a *Assembler) Resolve(l Label, base uintptr) (uintptr, error) {
	if l < 0 || int(l) >= len(a.labels) {
		return 0, fmt.Errorf("%w: %d", ErrUndefinedLabel, l)
	}
	lb := a.labels[l]
	switch lb.kind {
	case labelLocal:
		return base + uintptr(lb.off), nil
	case labelExternal:
		return lb.addr, nil
	case labelRelative:
		addr, err := a.Resolve(lb.base, base)
		if err != nil {
			return 0, err
		}
		return uintptr(int64(addr) + int64(lb.delta)), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUndefinedLabel, l)
	}
}

// Flush copies the image to dst, which will live at base, applies every
// relocation once and returns the addresses of the exported globals.
func (a *Assembler) Flush(dst []byte, base uintptr) (map[string]uintptr, error) {
	if len(dst) < len(a.buf) {
		return nil, fmt.Errorf("asm: destination holds %d bytes, need %d", len(dst), len(a.buf))
	}
	copy(dst, a.buf)
	for _, r := range a.relocs {
		target, err := a.Resolve(r.Target, base)
		if err != nil {
			return nil, fmt.Errorf("relocation at %#x: %w", r.Offset, err)
		}
		source := base + uintptr(r.Offset+r.Size)
		if err := r.Patch(dst[r.Offset:r.Offset+r.Size], target, source); err != nil {
			return nil, fmt.Errorf("relocation at %#x: %w", r.Offset, err)
		}
	}
	out := make(map[string]uintptr, len(a.globals))
	for name, l := range a.globals {
		addr, err := a.Resolve(l, base)
		if err != nil {
			return nil, fmt.Errorf("global %s: %w", name, err)
		}
		out[name] = addr
	}
	return out, nil
}

// Rel8 patches a signed 8-bit displacement.
func Rel8(loc []byte, target, source uintptr) error {
	d := int64(target) - int64(source)
	if d < math.MinInt8 || d > math.MaxInt8 {
		return fmt.Errorf("%w: rel8 displacement %d", ErrOutOfRange, d)
	}
	loc[0] = byte(int8(d))
	return nil
}

// Rel32 patches a signed 32-bit displacement.
func Rel32(loc []byte, target, source uintptr) error {
	return PCRel32(0)(loc, target, source)
}

// PCRel32 is Rel32 for fields followed by trailing bytes of the same
// instruction (an immediate after a RIP-relative operand).
func PCRel32(trailing int) PatchFunc {
	return func(loc []byte, target, source uintptr) error {
		d := int64(target) - int64(source) - int64(trailing)
		if d < math.MinInt32 || d > math.MaxInt32 {
			return fmt.Errorf("%w: rel32 displacement %d", ErrOutOfRange, d)
		}
		binary.LittleEndian.PutUint32(loc, uint32(int32(d)))
		return nil
	}
}

// Abs32 patches a 32-bit absolute address.
func Abs32(loc []byte, target, _ uintptr) error {
	if uint64(target) > math.MaxUint32 {
		return fmt.Errorf("%w: address %#x does not fit 32 bits", ErrOutOfRange, target)
	}
	binary.LittleEndian.PutUint32(loc, uint32(target))
	return nil
}

// Abs64 patches a 64-bit absolute address.
func Abs64(loc []byte, target, _ uintptr) error {
	binary.LittleEndian.PutUint64(loc, uint64(target))
	return nil
}
