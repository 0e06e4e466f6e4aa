// Package x86 encodes the handful of x86 instructions the codec generator
// needs, for both 32-bit and 64-bit mode. It is not a general assembler.
package x86

import (
	"fmt"

	"github.com/Alia5/portctrl/jit/asm"
)

// Mode is the target instruction set width.
type Mode uint8

const (
	Mode32 Mode = 32
	Mode64 Mode = 64
)

// PtrWidth is the width of addresses in m.
func (m Mode) PtrWidth() Width {
	if m == Mode64 {
		return Qword
	}
	return Dword
}

func (m Mode) String() string {
	return fmt.Sprintf("x86-%d", uint8(m))
}

// Width is an operand size in bytes.
type Width uint8

const (
	Byte  Width = 1
	Word  Width = 2
	Dword Width = 4
	Qword Width = 8
)

// Reg is a general-purpose register number. R8..R15 need a REX prefix and
// exist only in 64-bit mode.
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15

	NoReg Reg = 0xff
)

// 32-bit names of the legacy registers.
const (
	EAX = RAX
	ECX = RCX
	EDX = RDX
	EBX = RBX
	ESP = RSP
	EBP = RBP
	ESI = RSI
	EDI = RDI
)

var regNames = [...]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return "noreg"
}

// low is the 3-bit field value used in ModRM, SIB and +r opcodes.
func (r Reg) low() byte { return byte(r) & 7 }

// Extended reports whether the register needs REX.R, REX.X or REX.B.
func (r Reg) Extended() bool { return r != NoReg && r >= R8 }

// ValidIn reports whether r exists in mode m.
func (r Reg) ValidIn(m Mode) bool {
	if m == Mode64 {
		return r <= R15
	}
	return r <= RDI
}

// byteNeedsREX reports whether r used as a byte register is spl..dil, which
// require a REX prefix (and are ah..bh without one).
func (r Reg) byteNeedsREX() bool { return r >= RSP && r <= RDI }

// Cond is a condition code for jcc.
type Cond uint8

const (
	CondB  Cond = 0x2
	CondAE Cond = 0x3
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6
	CondA  Cond = 0x7
	CondS  Cond = 0x8
	CondNS Cond = 0x9
	CondL  Cond = 0xc
	CondGE Cond = 0xd
	CondLE Cond = 0xe
	CondG  Cond = 0xf

	CondZ  = CondE
	CondNZ = CondNE
)

// Mem is a memory operand.
//
// Supported forms are [base+disp], [base+index*scale+disp], [label+disp]
// (RIP-relative in 64-bit mode, absolute in 32-bit mode) and
// [label+index*scale] (32-bit mode only).
type Mem struct {
	Base  Reg
	Index Reg
	Scale uint8
	Disp  int32
	Label asm.Label
}

// Ptr is [base+disp].
func Ptr(base Reg, disp int32) Mem {
	return Mem{Base: base, Index: NoReg, Scale: 1, Disp: disp, Label: asm.NoLabel}
}

// Indexed is [base+index*scale+disp].
func Indexed(base, index Reg, scale uint8, disp int32) Mem {
	return Mem{Base: base, Index: index, Scale: scale, Disp: disp, Label: asm.NoLabel}
}

// At is [label+disp].
func At(l asm.Label, disp int32) Mem {
	return Mem{Base: NoReg, Index: NoReg, Scale: 1, Disp: disp, Label: l}
}

// Table is [label+index*scale], an absolute jump table access.
func Table(l asm.Label, index Reg, scale uint8) Mem {
	return Mem{Base: NoReg, Index: index, Scale: scale, Label: l}
}

func (m Mem) hasLabel() bool { return m.Label != asm.NoLabel }

func scaleBits(s uint8) (byte, bool) {
	switch s {
	case 0, 1:
		return 0, true
	case 2:
		return 1, true
	case 4:
		return 2, true
	case 8:
		return 3, true
	}
	return 0, false
}

func fitsInt8(v int32) bool { return v >= -128 && v <= 127 }
