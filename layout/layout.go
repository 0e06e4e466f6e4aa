// Package layout derives the binary layout and the serialization program of
// a controller port.
//
// Everything here is a pure function of the port descriptors: planning the
// same port twice yields identical layouts and fingerprints.
package layout

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/bits"

	"golang.org/x/crypto/blake2b"

	"github.com/Alia5/portctrl/schema"
)

// Blank is returned by deserialization of a port without controllers.
const Blank = -1

// AxisTextSize is the longest text an axis can produce: " -32768".
const AxisTextSize = 7

// Op is a serialization program opcode.
type Op uint8

const (
	OpButton Op = iota
	OpAxis
	OpLeadingPipe
	OpPipe
	OpEnd
	OpEndEmpty

	NumOps
)

func (o Op) String() string {
	switch o {
	case OpButton:
		return "button"
	case OpAxis:
		return "axis"
	case OpLeadingPipe:
		return "leading-pipe"
	case OpPipe:
		return "pipe"
	case OpEnd:
		return "end"
	case OpEndEmpty:
		return "end-empty"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Step is one instruction of the serialization program.
type Step struct {
	Op     Op
	Offset int
	Mask   byte
	Char   byte
}

// Entry locates one control inside the state buffer.
type Entry struct {
	Kind       schema.Kind
	Offset     int
	Mask       byte
	Controller int
	Control    int
}

// InvMask is the complement of Mask, used to clear a button bit.
func (e Entry) InvMask() byte { return ^e.Mask }

// Bit is the bit position of Mask within its byte.
func (e Entry) Bit() int { return bits.TrailingZeros8(e.Mask) }

// Stored reports whether the control occupies storage.
func (e Entry) Stored() bool {
	return e.Kind == schema.KindButton || e.Kind.IsAxis()
}

// Fingerprint identifies a layout; ports with equal fingerprints share
// identical codecs.
type Fingerprint [blake2b.Size256]byte

func (f Fingerprint) String() string { return hex.EncodeToString(f[:8]) }

// Layout is the planned storage and text format of a port.
type Layout struct {
	StorageSize int
	ButtonBits  int
	Axes        int
	Controllers int
	// Stride is the number of index slots per controller, a power of two.
	Stride int
	System bool

	Index   []Entry
	Program []Step

	fingerprint Fingerprint
}

// Plan computes the layout of p.
func Plan(p *schema.Port) *Layout {
	l := &Layout{
		Controllers: len(p.Controllers),
		System:      p.IsSystem(),
		Stride:      1,
	}

	widest := 0
	for _, c := range p.Controllers {
		widest = max(widest, len(c.Buttons))
		for _, b := range c.Buttons {
			switch {
			case b.Kind == schema.KindButton:
				l.ButtonBits++
			case b.Kind.IsAxis():
				l.Axes++
			}
		}
	}
	for l.Stride < widest {
		l.Stride <<= 1
	}
	axisBase := (l.ButtonBits + 7) / 8
	l.StorageSize = axisBase + 2*l.Axes
	l.Index = make([]Entry, l.Controllers*l.Stride)

	bit, axis := 0, 0
	for ci, c := range p.Controllers {
		if ci == 0 && !l.System {
			l.Program = append(l.Program, Step{Op: OpLeadingPipe, Char: '|'})
		} else if ci > 0 {
			l.Program = append(l.Program, Step{Op: OpPipe, Char: '|'})
		}
		for bi := range l.Stride {
			e := Entry{Kind: schema.KindNull, Controller: ci, Control: bi}
			if bi < len(c.Buttons) {
				b := c.Buttons[bi]
				e.Kind = b.Kind
				switch {
				case b.Kind == schema.KindButton:
					e.Offset, e.Mask = bit/8, byte(1)<<(bit%8)
					bit++
					l.Program = append(l.Program, Step{Op: OpButton, Offset: e.Offset, Mask: e.Mask, Char: b.Movie})
				case b.Kind.IsAxis():
					e.Offset = axisBase + 2*axis
					axis++
					l.Program = append(l.Program, Step{Op: OpAxis, Offset: e.Offset})
				}
			}
			l.Index[ci*l.Stride+bi] = e
		}
	}
	if l.Controllers == 0 {
		l.Program = append(l.Program, Step{Op: OpEndEmpty})
	} else {
		l.Program = append(l.Program, Step{Op: OpEnd})
	}
	l.fingerprint = l.computeFingerprint()
	return l
}

// Lookup returns the index entry of (controller, control). ok is false for
// out-of-range pairs; null controls are returned with ok set.
func (l *Layout) Lookup(controller, control int) (Entry, bool) {
	if uint(controller) >= uint(l.Controllers) || uint(control) >= uint(l.Stride) {
		return Entry{Kind: schema.KindNull}, false
	}
	return l.Index[controller*l.Stride+control], true
}

// StrideShift is log2(Stride).
func (l *Layout) StrideShift() int { return bits.TrailingZeros(uint(l.Stride)) }

// MaxTextSize bounds the length of a serialized line.
func (l *Layout) MaxTextSize() int {
	n := 0
	for _, s := range l.Program {
		switch s.Op {
		case OpButton, OpLeadingPipe, OpPipe:
			n++
		case OpAxis:
			n += AxisTextSize
		}
	}
	return n
}

// Canonicalize clears the padding bits of the last button byte so that a
// state survives a serialize/deserialize round trip unchanged.
func (l *Layout) Canonicalize(state []byte) {
	if rem := l.ButtonBits % 8; rem != 0 {
		state[l.ButtonBits/8] &= byte(1)<<rem - 1
	}
}

// Fingerprint returns the layout identity hash.
func (l *Layout) Fingerprint() Fingerprint { return l.fingerprint }

func (l *Layout) computeFingerprint() Fingerprint {
	buf := make([]byte, 0, 16+len(l.Index)*2)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(l.Controllers))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(l.Stride))
	if l.System {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	for _, s := range l.Program {
		buf = append(buf, byte(s.Op), s.Char)
	}
	for _, e := range l.Index {
		buf = append(buf, byte(e.Kind))
	}
	return blake2b.Sum256(buf)
}
