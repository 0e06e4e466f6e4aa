package x86

import (
	"errors"
	"fmt"

	"github.com/Alia5/portctrl/jit/asm"
)

// ErrInvalidOperand reports an operand combination the target cannot encode.
var ErrInvalidOperand = errors.New("x86: invalid operand")

// AluOp selects a group-1 arithmetic instruction; the value is the ModRM
// opcode extension.
type AluOp uint8

const (
	Add AluOp = 0
	Or  AluOp = 1
	And AluOp = 4
	Sub AluOp = 5
	Xor AluOp = 6
	Cmp AluOp = 7
)

// Emitter writes instructions for one mode into an assembler. The first
// encoding error sticks; later calls are ignored and Err reports it.
type Emitter struct {
	a    *asm.Assembler
	mode Mode
	err  error
}

func New(a *asm.Assembler, mode Mode) *Emitter {
	return &Emitter{a: a, mode: mode}
}

func (e *Emitter) Mode() Mode { return e.mode }

func (e *Emitter) Asm() *asm.Assembler { return e.a }

func (e *Emitter) Err() error { return e.err }

func (e *Emitter) failf(format string, args ...any) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: "+format, append([]any{ErrInvalidOperand}, args...)...)
	}
}

type rmOperand struct {
	direct bool
	reg    Reg
	mem    Mem
}

func direct(r Reg) rmOperand { return rmOperand{direct: true, reg: r} }

func memory(m Mem) rmOperand { return rmOperand{mem: m} }

func (e *Emitter) checkReg(r Reg) bool {
	if !r.ValidIn(e.mode) {
		e.failf("register %s not available in %s", r, e.mode)
		return false
	}
	return true
}

// encode emits [66] [REX] opcode ModRM [SIB] [disp] [imm]. reg is the ModRM
// reg field: a register when regIsReg, otherwise an opcode extension.
func (e *Emitter) encode(w Width, opcode []byte, reg Reg, regIsReg bool, rm rmOperand, imm []byte) {
	if e.err != nil {
		return
	}
	if w == Qword && e.mode != Mode64 {
		e.failf("64-bit operand in %s", e.mode)
		return
	}
	var rex byte
	force := false
	if w == Qword {
		rex |= 0x08
	}
	if regIsReg {
		if !e.checkReg(reg) {
			return
		}
		if reg.Extended() {
			rex |= 0x04
		}
		force = force || (w == Byte && reg.byteNeedsREX())
	}
	if rm.direct {
		if !e.checkReg(rm.reg) {
			return
		}
		if rm.reg.Extended() {
			rex |= 0x01
		}
		force = force || (w == Byte && rm.reg.byteNeedsREX())
	} else {
		m := rm.mem
		if m.Base != NoReg {
			if !e.checkReg(m.Base) {
				return
			}
			if m.Base.Extended() {
				rex |= 0x01
			}
		}
		if m.Index != NoReg {
			if !e.checkReg(m.Index) {
				return
			}
			if m.Index == RSP {
				e.failf("rsp cannot be an index register")
				return
			}
			if m.Index.Extended() {
				rex |= 0x02
			}
		}
	}
	if e.mode == Mode32 && (rex != 0 || force) {
		e.failf("operand needs a REX prefix in %s", e.mode)
		return
	}

	if w == Word {
		e.a.Byte(0x66)
	}
	if rex != 0 || force {
		e.a.Byte(0x40 | rex)
	}
	e.a.Byte(opcode...)
	if rm.direct {
		e.a.Byte(0xc0 | reg.low()<<3 | rm.reg.low())
	} else {
		e.memOperand(reg.low(), rm.mem, len(imm))
	}
	e.a.Byte(imm...)
}

func (e *Emitter) memOperand(regField byte, m Mem, immLen int) {
	a := e.a
	if m.hasLabel() {
		target := m.Label
		if m.Disp != 0 {
			target = a.Relative(m.Label, int(m.Disp))
		}
		if m.Base != NoReg {
			e.failf("label operand cannot have a base register")
			return
		}
		if e.mode == Mode64 {
			if m.Index != NoReg {
				e.failf("indexed label operand needs 32-bit mode")
				return
			}
			a.Byte(regField<<3 | 5)
			a.Reloc(4, asm.PCRel32(immLen), target)
			return
		}
		if m.Index == NoReg {
			a.Byte(regField<<3 | 5)
		} else {
			sb, ok := scaleBits(m.Scale)
			if !ok {
				e.failf("invalid scale %d", m.Scale)
				return
			}
			a.Byte(regField<<3|4, sb<<6|m.Index.low()<<3|5)
		}
		a.Reloc(4, asm.Abs32, target)
		return
	}

	if m.Base == NoReg {
		e.failf("memory operand needs a base register")
		return
	}
	var mod byte
	switch {
	case m.Disp == 0 && m.Base.low() != 5:
		mod = 0
	case fitsInt8(m.Disp):
		mod = 1
	default:
		mod = 2
	}
	if m.Index == NoReg && m.Base.low() != 4 {
		a.Byte(mod<<6 | regField<<3 | m.Base.low())
	} else {
		index, sb := byte(4), byte(0)
		if m.Index != NoReg {
			var ok bool
			if sb, ok = scaleBits(m.Scale); !ok {
				e.failf("invalid scale %d", m.Scale)
				return
			}
			index = m.Index.low()
		}
		a.Byte(mod<<6|regField<<3|4, sb<<6|index<<3|m.Base.low())
	}
	switch mod {
	case 1:
		a.Byte(byte(int8(m.Disp)))
	case 2:
		a.Uint32(uint32(m.Disp))
	}
}

func (e *Emitter) imm(w Width, v int32) []byte {
	switch w {
	case Byte:
		if v < -128 || v > 0xff {
			e.failf("immediate %d does not fit a byte", v)
		}
		return []byte{byte(v)}
	case Word:
		if v < -32768 || v > 0xffff {
			e.failf("immediate %d does not fit a word", v)
		}
		return []byte{byte(v), byte(v >> 8)}
	default:
		return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	}
}

// opPlusReg emits a +r opcode such as push or mov r32, imm32.
func (e *Emitter) opPlusReg(w Width, op byte, r Reg) {
	if e.err != nil || !e.checkReg(r) {
		return
	}
	var rex byte
	if w == Qword {
		rex |= 0x08
	}
	if r.Extended() {
		rex |= 0x01
	}
	if w == Word {
		e.a.Byte(0x66)
	}
	if rex != 0 {
		e.a.Byte(0x40 | rex)
	}
	e.a.Byte(op + r.low())
}

func pick(w Width, byteOp, fullOp byte) []byte {
	if w == Byte {
		return []byte{byteOp}
	}
	return []byte{fullOp}
}

// MovRR is mov dst, src.
func (e *Emitter) MovRR(w Width, dst, src Reg) {
	e.encode(w, pick(w, 0x88, 0x89), src, true, direct(dst), nil)
}

// MovRM loads dst from memory.
func (e *Emitter) MovRM(w Width, dst Reg, src Mem) {
	e.encode(w, pick(w, 0x8a, 0x8b), dst, true, memory(src), nil)
}

// MovMR stores src to memory.
func (e *Emitter) MovMR(w Width, dst Mem, src Reg) {
	e.encode(w, pick(w, 0x88, 0x89), src, true, memory(dst), nil)
}

// MovRI loads an immediate. Qword immediates are sign-extended from 32 bits.
func (e *Emitter) MovRI(w Width, dst Reg, v int32) {
	switch w {
	case Byte:
		e.encode(Byte, []byte{0xc6}, 0, false, direct(dst), e.imm(Byte, v))
	case Qword:
		e.encode(Qword, []byte{0xc7}, 0, false, direct(dst), e.imm(Dword, v))
	default:
		imm := e.imm(w, v)
		e.opPlusReg(w, 0xb8, dst)
		if e.err == nil {
			e.a.Byte(imm...)
		}
	}
}

// MovMI stores an immediate to memory.
func (e *Emitter) MovMI(w Width, dst Mem, v int32) {
	iw := w
	if w == Qword {
		iw = Dword
	}
	e.encode(w, pick(w, 0xc6, 0xc7), 0, false, memory(dst), e.imm(iw, v))
}

// Movzx zero-extends a byte or word from memory into a 32-bit register.
func (e *Emitter) Movzx(dst Reg, src Width, m Mem) {
	op := []byte{0x0f, 0xb6}
	if src == Word {
		op[1] = 0xb7
	}
	e.encode(Dword, op, dst, true, memory(m), nil)
}

// Movsx sign-extends a byte or word from memory into a 32-bit register.
func (e *Emitter) Movsx(dst Reg, src Width, m Mem) {
	op := []byte{0x0f, 0xbe}
	if src == Word {
		op[1] = 0xbf
	}
	e.encode(Dword, op, dst, true, memory(m), nil)
}

// AluRR is op dst, src.
func (e *Emitter) AluRR(op AluOp, w Width, dst, src Reg) {
	base := byte(op) << 3
	e.encode(w, pick(w, base, base|1), src, true, direct(dst), nil)
}

// AluRI is op dst, imm.
func (e *Emitter) AluRI(op AluOp, w Width, dst Reg, v int32) {
	e.aluImm(op, w, direct(dst), v)
}

// AluMI is op [mem], imm.
func (e *Emitter) AluMI(op AluOp, w Width, dst Mem, v int32) {
	e.aluImm(op, w, memory(dst), v)
}

func (e *Emitter) aluImm(op AluOp, w Width, rm rmOperand, v int32) {
	switch {
	case w == Byte:
		e.encode(w, []byte{0x80}, Reg(op), false, rm, e.imm(Byte, v))
	case fitsInt8(v):
		e.encode(w, []byte{0x83}, Reg(op), false, rm, []byte{byte(int8(v))})
	default:
		iw := w
		if w == Qword {
			iw = Dword
		}
		e.encode(w, []byte{0x81}, Reg(op), false, rm, e.imm(iw, v))
	}
}

// TestRR is test a, b.
func (e *Emitter) TestRR(w Width, a, b Reg) {
	e.encode(w, pick(w, 0x84, 0x85), b, true, direct(a), nil)
}

// TestRI is test r, imm.
func (e *Emitter) TestRI(w Width, r Reg, v int32) {
	e.testImm(w, direct(r), v)
}

// TestMI is test [mem], imm.
func (e *Emitter) TestMI(w Width, m Mem, v int32) {
	e.testImm(w, memory(m), v)
}

func (e *Emitter) testImm(w Width, rm rmOperand, v int32) {
	iw := w
	if w == Qword {
		iw = Dword
	}
	e.encode(w, pick(w, 0xf6, 0xf7), 0, false, rm, e.imm(iw, v))
}

func (e *Emitter) Inc(w Width, r Reg) { e.encode(w, pick(w, 0xfe, 0xff), 0, false, direct(r), nil) }

func (e *Emitter) Dec(w Width, r Reg) { e.encode(w, pick(w, 0xfe, 0xff), 1, false, direct(r), nil) }

func (e *Emitter) Neg(w Width, r Reg) { e.encode(w, pick(w, 0xf6, 0xf7), 3, false, direct(r), nil) }

// Div is the unsigned divide of rdx:rax (edx:eax) by r.
func (e *Emitter) Div(w Width, r Reg) { e.encode(w, pick(w, 0xf6, 0xf7), 6, false, direct(r), nil) }

func (e *Emitter) Shl(w Width, r Reg, n uint8) {
	e.encode(w, pick(w, 0xc0, 0xc1), 4, false, direct(r), []byte{n})
}

func (e *Emitter) Shr(w Width, r Reg, n uint8) {
	e.encode(w, pick(w, 0xc0, 0xc1), 5, false, direct(r), []byte{n})
}

// Imul is dst = src * imm.
func (e *Emitter) Imul(w Width, dst, src Reg, v int32) {
	if fitsInt8(v) {
		e.encode(w, []byte{0x6b}, dst, true, direct(src), []byte{byte(int8(v))})
		return
	}
	iw := w
	if w == Qword {
		iw = Dword
	}
	e.encode(w, []byte{0x69}, dst, true, direct(src), e.imm(iw, v))
}

// Lea loads the effective address of m at pointer width.
func (e *Emitter) Lea(dst Reg, m Mem) {
	e.encode(e.mode.PtrWidth(), []byte{0x8d}, dst, true, memory(m), nil)
}

func (e *Emitter) Push(r Reg) { e.opPlusReg(Dword, 0x50, r) }

func (e *Emitter) Pop(r Reg) { e.opPlusReg(Dword, 0x58, r) }

func (e *Emitter) Ret() {
	if e.err == nil {
		e.a.Byte(0xc3)
	}
}

// Jmp is a near jump.
func (e *Emitter) Jmp(l asm.Label) {
	if e.err == nil {
		e.a.Byte(0xe9)
		e.a.Reloc(4, asm.Rel32, l)
	}
}

// JmpShort is a jump with an 8-bit displacement.
func (e *Emitter) JmpShort(l asm.Label) {
	if e.err == nil {
		e.a.Byte(0xeb)
		e.a.Reloc(1, asm.Rel8, l)
	}
}

// Jcc is a near conditional jump.
func (e *Emitter) Jcc(c Cond, l asm.Label) {
	if e.err == nil {
		e.a.Byte(0x0f, 0x80|byte(c))
		e.a.Reloc(4, asm.Rel32, l)
	}
}

// JccShort is a conditional jump with an 8-bit displacement.
func (e *Emitter) JccShort(c Cond, l asm.Label) {
	if e.err == nil {
		e.a.Byte(0x70 | byte(c))
		e.a.Reloc(1, asm.Rel8, l)
	}
}

func (e *Emitter) Call(l asm.Label) {
	if e.err == nil {
		e.a.Byte(0xe8)
		e.a.Reloc(4, asm.Rel32, l)
	}
}

// JmpMem jumps through a pointer stored in memory.
func (e *Emitter) JmpMem(m Mem) {
	e.encode(Dword, []byte{0xff}, 4, false, memory(m), nil)
}

// Addr emits a pointer-sized absolute address of l, for jump tables.
func (e *Emitter) Addr(l asm.Label) {
	if e.err != nil {
		return
	}
	if e.mode == Mode64 {
		e.a.Reloc(8, asm.Abs64, l)
	} else {
		e.a.Reloc(4, asm.Abs32, l)
	}
}
