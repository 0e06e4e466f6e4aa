// Package interp executes layout programs directly. It is the portable
// backend and the reference the native code generator is checked against.
package interp

import (
	"encoding/binary"
	"strconv"

	"github.com/Alia5/portctrl/layout"
	"github.com/Alia5/portctrl/schema"
)

type serializer struct {
	state []byte
	out   []byte
	n     int
}

type deserializer struct {
	state []byte
	in    []byte
	pos   int
	ret   int
}

// Actions return false once the program is done.
type (
	serializeAction   func(s *serializer, st *layout.Step) bool
	deserializeAction func(d *deserializer, st *layout.Step) bool
)

var serializeActions = [layout.NumOps]serializeAction{
	layout.OpButton: func(s *serializer, st *layout.Step) bool {
		if s.state[st.Offset]&st.Mask != 0 {
			s.out[s.n] = st.Char
		} else {
			s.out[s.n] = '.'
		}
		s.n++
		return true
	},
	layout.OpAxis: func(s *serializer, st *layout.Step) bool {
		v := int16(binary.LittleEndian.Uint16(s.state[st.Offset:]))
		s.out[s.n] = ' '
		s.n++
		s.n += len(strconv.AppendInt(s.out[s.n:s.n], int64(v), 10))
		return true
	},
	layout.OpLeadingPipe: serializePipe,
	layout.OpPipe:        serializePipe,
	layout.OpEnd: func(s *serializer, _ *layout.Step) bool {
		return false
	},
	layout.OpEndEmpty: func(s *serializer, _ *layout.Step) bool {
		s.n = 0
		return false
	},
}

func serializePipe(s *serializer, _ *layout.Step) bool {
	s.out[s.n] = '|'
	s.n++
	return true
}

var deserializeActions = [layout.NumOps]deserializeAction{
	layout.OpButton: func(d *deserializer, st *layout.Step) bool {
		c := d.at(d.pos)
		if isTerminator(c) {
			return true
		}
		d.pos++
		if c != '.' && c != ' ' {
			d.state[st.Offset] |= st.Mask
		}
		return true
	},
	layout.OpAxis: func(d *deserializer, st *layout.Step) bool {
		binary.LittleEndian.PutUint16(d.state[st.Offset:], uint16(d.parseAxis()))
		return true
	},
	layout.OpLeadingPipe: deserializePipe,
	layout.OpPipe:        deserializePipe,
	layout.OpEnd: func(d *deserializer, _ *layout.Step) bool {
		d.ret = d.pos
		return false
	},
	layout.OpEndEmpty: func(d *deserializer, _ *layout.Step) bool {
		d.ret = layout.Blank
		return false
	},
}

// deserializePipe skips the rest of the current field and consumes the
// separating pipe, if any.
func deserializePipe(d *deserializer, _ *layout.Step) bool {
	for {
		switch d.at(d.pos) {
		case '|':
			d.pos++
			return true
		case '\r', '\n', 0:
			return true
		}
		d.pos++
	}
}

func (d *deserializer) at(i int) byte {
	if i < len(d.in) {
		return d.in[i]
	}
	return 0
}

func (d *deserializer) parseAxis() int16 {
	for c := d.at(d.pos); c == ' ' || c == '\t'; c = d.at(d.pos) {
		d.pos++
	}
	neg := false
	switch d.at(d.pos) {
	case '-':
		neg = true
		d.pos++
	case '+':
		d.pos++
	}
	var acc int32
	for {
		digit := d.at(d.pos) - '0'
		if digit > 9 {
			break
		}
		acc = acc*10 + int32(digit)
		d.pos++
	}
	if neg {
		acc = -acc
	}
	return int16(acc)
}

func isTerminator(c byte) bool {
	return c == '|' || c == '\r' || c == '\n' || c == 0
}

type accessor struct {
	read  func(state []byte) int16
	write func(state []byte, v int16)
}

var noop = accessor{
	read:  func([]byte) int16 { return 0 },
	write: func([]byte, int16) {},
}

func newAccessor(e layout.Entry) accessor {
	switch {
	case e.Kind == schema.KindButton:
		off, mask := e.Offset, e.Mask
		return accessor{
			read: func(state []byte) int16 {
				if state[off]&mask != 0 {
					return 1
				}
				return 0
			},
			write: func(state []byte, v int16) {
				if v != 0 {
					state[off] |= mask
				} else {
					state[off] &^= mask
				}
			},
		}
	case e.Kind.IsAxis():
		off := e.Offset
		return accessor{
			read: func(state []byte) int16 {
				return int16(binary.LittleEndian.Uint16(state[off:]))
			},
			write: func(state []byte, v int16) {
				binary.LittleEndian.PutUint16(state[off:], uint16(v))
			},
		}
	default:
		return noop
	}
}

// Interpreter runs the codec operations of one layout.
type Interpreter struct {
	layout    *layout.Layout
	program   []layout.Step
	accessors []accessor
}

// New prepares the action tables for l.
func New(l *layout.Layout) *Interpreter {
	it := &Interpreter{
		layout:    l,
		program:   l.Program,
		accessors: make([]accessor, len(l.Index)),
	}
	for i, e := range l.Index {
		it.accessors[i] = newAccessor(e)
	}
	return it
}

// Layout returns the layout the interpreter was built for.
func (it *Interpreter) Layout() *layout.Layout { return it.layout }

// Serialize writes the movie text of state into out and returns its length.
// out must hold at least Layout().MaxTextSize() bytes.
func (it *Interpreter) Serialize(state, out []byte) int {
	s := serializer{state: state, out: out}
	for pc := 0; serializeActions[it.program[pc].Op](&s, &it.program[pc]); pc++ {
	}
	return s.n
}

// Deserialize parses in into state and returns the number of bytes
// consumed, or layout.Blank for ports without controllers.
func (it *Interpreter) Deserialize(state, in []byte) int {
	clear(state[:it.layout.StorageSize])
	d := deserializer{state: state, in: in}
	for pc := 0; deserializeActions[it.program[pc].Op](&d, &it.program[pc]); pc++ {
	}
	return d.ret
}

func (it *Interpreter) slot(controller, control int) *accessor {
	l := it.layout
	if uint(controller) >= uint(l.Controllers) || uint(control) >= uint(l.Stride) {
		return &noop
	}
	return &it.accessors[controller*l.Stride+control]
}

// Read returns the value of a control; buttons read as 0 or 1.
func (it *Interpreter) Read(state []byte, controller, control int) int16 {
	return it.slot(controller, control).read(state)
}

// Write stores v into a control. Out-of-range controls are ignored.
func (it *Interpreter) Write(state []byte, controller, control int, v int16) {
	it.slot(controller, control).write(state, v)
}
