// Package codegen compiles a layout into x86 machine code for the four codec
// entry points. The generated routines follow the C calling convention of
// the target and take an opaque context pointer as their first argument:
//
//	serialize(ctx, state, out) size_t
//	deserialize(ctx, state, in) size_t
//	read(ctx, state, controller, control) int16
//	write(ctx, state, controller, control, value)
//
// deserialize reads its input up to the first '\r', '\n' or NUL byte; the
// caller guarantees one is present.
package codegen

import (
	"errors"
	"fmt"

	"github.com/Alia5/portctrl/jit/asm"
	"github.com/Alia5/portctrl/jit/x86"
	"github.com/Alia5/portctrl/layout"
	"github.com/Alia5/portctrl/schema"
)

// Entry and helper names exported by a Program.
const (
	Serialize   = "serialize"
	Deserialize = "deserialize"
	Read        = "read"
	Write       = "write"
	ReadTable   = "read_table"
	WriteTable  = "write_table"
	FormatAxis  = "format_axis"
	ParseAxis   = "parse_axis"
	SkipField   = "skip_field"
)

// ErrNoConvention is returned for a Target without a calling convention.
var ErrNoConvention = errors.New("codegen: target has no calling convention")

// trialBase is where Generate test-links a program to surface relocation
// range errors before the program is handed out.
const trialBase = 0x10000

// Target selects the instruction mode and calling convention.
type Target struct {
	Conv *x86.Convention
}

func (t Target) Mode() x86.Mode { return t.Conv.Mode }

func (t Target) String() string { return t.Conv.Name }

// Range is a named span of the image holding data rather than code.
type Range struct {
	Name       string
	Start, End int
}

// Symbol is an exported name with its image offset.
type Symbol struct {
	Name   string
	Offset int
}

// Program is generated code awaiting a load address.
type Program struct {
	a      *asm.Assembler
	target Target
	data   []Range
}

// Size is the image size in bytes.
func (p *Program) Size() int { return p.a.Len() }

// Bytes returns the image before relocation.
func (p *Program) Bytes() []byte { return p.a.Bytes() }

func (p *Program) Target() Target { return p.target }

// DataRanges lists the jump tables inside the image.
func (p *Program) DataRanges() []Range { return p.data }

// Symbols lists the exported names in image order.
func (p *Program) Symbols() []Symbol {
	names := p.a.Globals()
	out := make([]Symbol, 0, len(names))
	for _, n := range names {
		off, _ := p.a.Offset(p.a.GlobalLabel(n))
		out = append(out, Symbol{Name: n, Offset: off})
	}
	return out
}

// Link copies the image to dst, which will execute at base, applies the
// relocations and returns the address of every exported name.
func (p *Program) Link(dst []byte, base uintptr) (map[string]uintptr, error) {
	return p.a.Flush(dst, base)
}

type regs struct {
	state, text, start, cursor x86.Reg
	ctrl, idx, val, table      x86.Reg
	saved                      []x86.Reg
}

// Entry points only touch volatile registers in 64-bit mode, so they need
// no frame. The 32-bit variant saves ebx, esi and edi.
var (
	regs64 = regs{
		state: x86.R10, text: x86.R11, start: x86.R9, cursor: x86.R8,
		ctrl: x86.R11, idx: x86.R9, val: x86.RAX, table: x86.RCX,
	}
	regs32 = regs{
		state: x86.ESI, text: x86.EDI, start: x86.EBX, cursor: x86.EBP,
		ctrl: x86.EDI, idx: x86.EBX, val: x86.EAX, table: x86.NoReg,
		saved: []x86.Reg{x86.EBX, x86.ESI, x86.EDI},
	}
)

type gen struct {
	l   *layout.Layout
	t   Target
	a   *asm.Assembler
	e   *x86.Emitter
	r   regs
	ptr x86.Width

	formatAxis, parseAxis, skipField asm.Label
	data                             []Range
}

// Generate compiles l for t.
func Generate(l *layout.Layout, t Target) (*Program, error) {
	if t.Conv == nil {
		return nil, ErrNoConvention
	}
	a := asm.New()
	g := &gen{
		l:   l,
		t:   t,
		a:   a,
		e:   x86.New(a, t.Mode()),
		r:   regs64,
		ptr: t.Mode().PtrWidth(),
	}
	if t.Mode() == x86.Mode32 {
		g.r = regs32
	}
	for _, r := range []x86.Reg{g.r.state, g.r.text, g.r.start, g.r.ctrl, g.r.idx} {
		if t.Mode() == x86.Mode64 && t.Conv.IsSaved(r) {
			return nil, fmt.Errorf("codegen: %s is callee-saved under %s", r, t)
		}
	}
	g.formatAxis = a.NewLabel()
	g.parseAxis = a.NewLabel()
	g.skipField = a.NewLabel()

	g.serialize()
	g.deserialize()
	readTable, readFrags := g.access(Read, g.readFragment)
	writeTable, writeFrags := g.access(Write, g.writeFragment)
	g.emitFormatAxis()
	g.emitParseAxis()
	g.emitSkipField()
	g.table(ReadTable, readTable, readFrags)
	g.table(WriteTable, writeTable, writeFrags)

	if err := g.e.Err(); err != nil {
		return nil, fmt.Errorf("codegen: %w", err)
	}
	p := &Program{a: a, target: t, data: g.data}
	if _, err := p.Link(make([]byte, p.Size()), trialBase); err != nil {
		return nil, fmt.Errorf("codegen: %w", err)
	}
	return p, nil
}

func (g *gen) entry(name string) {
	g.a.Global(name, g.a.Here())
	for _, r := range g.r.saved {
		g.e.Push(r)
	}
}

func (g *gen) epilogue() {
	for i := len(g.r.saved) - 1; i >= 0; i-- {
		g.e.Pop(g.r.saved[i])
	}
	g.e.Ret()
}

type argMove struct {
	dst, src x86.Reg
	mem      x86.Mem
	stack    bool
}

// loadArgs moves arguments 1.. (argument 0 is the context) into dsts.
// Register moves are ordered so no source is overwritten before it is
// read; stack loads go last.
func (g *gen) loadArgs(dsts ...x86.Reg) {
	var moves, loads []argMove
	for i, d := range dsts {
		src, m, ok := g.t.Conv.Arg(i+1, len(g.r.saved))
		switch {
		case !ok:
			loads = append(loads, argMove{dst: d, mem: m, stack: true})
		case src != d:
			moves = append(moves, argMove{dst: d, src: src})
		}
	}
	for len(moves) > 0 {
		next := -1
		for i, m := range moves {
			blocked := false
			for j, o := range moves {
				if j != i && o.src == m.dst {
					blocked = true
					break
				}
			}
			if !blocked {
				next = i
				break
			}
		}
		if next < 0 {
			panic(fmt.Sprintf("codegen: cyclic argument moves under %s", g.t))
		}
		g.e.MovRR(g.ptr, moves[next].dst, moves[next].src)
		moves = append(moves[:next], moves[next+1:]...)
	}
	for _, m := range loads {
		g.e.MovRM(g.ptr, m.dst, m.mem)
	}
}

func (g *gen) at(off int) x86.Mem { return x86.Ptr(g.r.state, int32(off)) }

func (g *gen) serialize() {
	e, r := g.e, g.r
	g.entry(Serialize)
	g.loadArgs(r.state, r.text)
	e.MovRR(g.ptr, r.start, r.text)
	for _, st := range g.l.Program {
		switch st.Op {
		case layout.OpButton:
			skip := g.a.NewLabel()
			e.TestMI(x86.Byte, g.at(st.Offset), int32(st.Mask))
			e.MovMI(x86.Byte, x86.Ptr(r.text, 0), '.')
			e.JccShort(x86.CondZ, skip)
			e.MovMI(x86.Byte, x86.Ptr(r.text, 0), int32(st.Char))
			g.a.Define(skip)
			e.Inc(g.ptr, r.text)
		case layout.OpAxis:
			e.Movsx(x86.EAX, x86.Word, g.at(st.Offset))
			e.Call(g.formatAxis)
			e.AluRR(x86.Add, g.ptr, r.text, x86.RAX)
		case layout.OpLeadingPipe, layout.OpPipe:
			e.MovMI(x86.Byte, x86.Ptr(r.text, 0), '|')
			e.Inc(g.ptr, r.text)
		case layout.OpEnd:
			e.MovRR(g.ptr, x86.RAX, r.text)
			e.AluRR(x86.Sub, g.ptr, x86.RAX, r.start)
		case layout.OpEndEmpty:
			e.AluRR(x86.Xor, x86.Dword, x86.EAX, x86.EAX)
		}
	}
	g.epilogue()
}

func (g *gen) zeroState() {
	e := g.e
	off, n := 0, g.l.StorageSize
	for ; off+4 <= n; off += 4 {
		e.MovMI(x86.Dword, g.at(off), 0)
	}
	if off+2 <= n {
		e.MovMI(x86.Word, g.at(off), 0)
		off += 2
	}
	if off < n {
		e.MovMI(x86.Byte, g.at(off), 0)
	}
}

func (g *gen) deserialize() {
	e, r := g.e, g.r
	g.entry(Deserialize)
	g.loadArgs(r.state, r.text)
	e.MovRR(g.ptr, r.start, r.text)
	g.zeroState()
	for _, st := range g.l.Program {
		switch st.Op {
		case layout.OpButton:
			next := g.a.NewLabel()
			e.Movzx(x86.EAX, x86.Byte, x86.Ptr(r.text, 0))
			for _, c := range []int32{'|', '\r', '\n'} {
				e.AluRI(x86.Cmp, x86.Byte, x86.RAX, c)
				e.JccShort(x86.CondE, next)
			}
			e.TestRR(x86.Byte, x86.RAX, x86.RAX)
			e.JccShort(x86.CondE, next)
			e.Inc(g.ptr, r.text)
			for _, c := range []int32{'.', ' '} {
				e.AluRI(x86.Cmp, x86.Byte, x86.RAX, c)
				e.JccShort(x86.CondE, next)
			}
			e.AluMI(x86.Or, x86.Byte, g.at(st.Offset), int32(st.Mask))
			g.a.Define(next)
		case layout.OpAxis:
			e.Call(g.parseAxis)
			e.MovMR(x86.Word, g.at(st.Offset), x86.RAX)
		case layout.OpLeadingPipe, layout.OpPipe:
			e.Call(g.skipField)
		case layout.OpEnd:
			e.MovRR(g.ptr, x86.RAX, r.text)
			e.AluRR(x86.Sub, g.ptr, x86.RAX, r.start)
		case layout.OpEndEmpty:
			e.MovRI(g.ptr, x86.RAX, layout.Blank)
		}
	}
	g.epilogue()
}

type fragmentFunc func(ent layout.Entry, epi asm.Label)

// access emits a bounds-checked jump-table dispatcher and one fragment per
// stored control. It returns the table label and its targets in index
// order.
func (g *gen) access(name string, fragment fragmentFunc) (asm.Label, []asm.Label) {
	e, r, l := g.e, g.r, g.l
	epi := g.a.NewLabel()
	g.entry(name)
	if name == Read {
		e.AluRR(x86.Xor, x86.Dword, x86.EAX, x86.EAX)
		g.loadArgs(r.state, r.ctrl, r.idx)
	} else {
		g.loadArgs(r.state, r.ctrl, r.idx, r.val)
	}
	e.AluRI(x86.Cmp, g.ptr, r.ctrl, int32(l.Controllers))
	e.Jcc(x86.CondAE, epi)
	e.AluRI(x86.Cmp, g.ptr, r.idx, int32(l.Stride))
	e.Jcc(x86.CondAE, epi)
	if k := l.StrideShift(); k > 0 {
		e.Shl(g.ptr, r.ctrl, uint8(k))
	}
	e.AluRR(x86.Add, g.ptr, r.ctrl, r.idx)

	table := g.a.NewLabel()
	if g.t.Mode() == x86.Mode64 {
		e.Lea(r.table, x86.At(table, 0))
		e.JmpMem(x86.Indexed(r.table, r.ctrl, 8, 0))
	} else {
		e.JmpMem(x86.Table(table, r.ctrl, 4))
	}

	targets := make([]asm.Label, len(l.Index))
	for i, ent := range l.Index {
		targets[i] = epi
		if !ent.Stored() {
			continue
		}
		targets[i] = g.a.Here()
		fragment(ent, epi)
	}
	g.a.Define(epi)
	g.epilogue()
	return table, targets
}

func (g *gen) readFragment(ent layout.Entry, epi asm.Label) {
	e := g.e
	if ent.Kind == schema.KindButton {
		e.Movzx(x86.EAX, x86.Byte, g.at(ent.Offset))
		if b := ent.Bit(); b > 0 {
			e.Shr(x86.Dword, x86.EAX, uint8(b))
		}
		e.AluRI(x86.And, x86.Dword, x86.EAX, 1)
	} else {
		e.Movsx(x86.EAX, x86.Word, g.at(ent.Offset))
	}
	e.Jmp(epi)
}

func (g *gen) writeFragment(ent layout.Entry, epi asm.Label) {
	e, val := g.e, g.r.val
	if ent.Kind == schema.KindButton {
		e.AluMI(x86.And, x86.Byte, g.at(ent.Offset), int32(ent.InvMask()))
		e.TestRR(x86.Word, val, val)
		e.Jcc(x86.CondZ, epi)
		e.AluMI(x86.Or, x86.Byte, g.at(ent.Offset), int32(ent.Mask))
	} else {
		e.MovMR(x86.Word, g.at(ent.Offset), val)
	}
	e.Jmp(epi)
}

// table emits a pointer-aligned array of absolute addresses.
func (g *gen) table(name string, l asm.Label, targets []asm.Label) {
	g.a.Align(int(g.ptr), 0xcc)
	g.a.Define(l)
	g.a.Global(name, l)
	start := g.a.Len()
	for _, t := range targets {
		g.e.Addr(t)
	}
	g.data = append(g.data, Range{Name: name, Start: start, End: g.a.Len()})
}

// emitFormatAxis writes ' ' and the signed decimal of eax at text and
// returns the length in eax. It clobbers eax, ecx and edx.
func (g *gen) emitFormatAxis() {
	e, text, cur := g.e, g.r.text, g.r.cursor
	pos, div, out, done := g.a.NewLabel(), g.a.NewLabel(), g.a.NewLabel(), g.a.NewLabel()

	g.a.Define(g.formatAxis)
	g.a.Global(FormatAxis, g.formatAxis)
	e.Push(cur)
	e.MovMI(x86.Byte, x86.Ptr(text, 0), ' ')
	e.Lea(cur, x86.Ptr(text, 1))
	e.TestRR(x86.Dword, x86.EAX, x86.EAX)
	e.JccShort(x86.CondNS, pos)
	e.MovMI(x86.Byte, x86.Ptr(cur, 0), '-')
	e.Inc(g.ptr, cur)
	e.Neg(x86.Dword, x86.EAX)

	// Digits are pushed least significant first above a zero sentinel.
	g.a.Define(pos)
	e.AluRR(x86.Xor, x86.Dword, x86.EDX, x86.EDX)
	e.Push(x86.EDX)
	e.MovRI(x86.Dword, x86.ECX, 10)
	g.a.Define(div)
	e.AluRR(x86.Xor, x86.Dword, x86.EDX, x86.EDX)
	e.Div(x86.Dword, x86.ECX)
	e.AluRI(x86.Add, x86.Dword, x86.EDX, '0')
	e.Push(x86.EDX)
	e.TestRR(x86.Dword, x86.EAX, x86.EAX)
	e.JccShort(x86.CondNZ, div)

	g.a.Define(out)
	e.Pop(x86.EAX)
	e.TestRR(x86.Dword, x86.EAX, x86.EAX)
	e.JccShort(x86.CondZ, done)
	e.MovMR(x86.Byte, x86.Ptr(cur, 0), x86.EAX)
	e.Inc(g.ptr, cur)
	e.JmpShort(out)

	g.a.Define(done)
	e.MovRR(g.ptr, x86.EAX, cur)
	e.AluRR(x86.Sub, g.ptr, x86.EAX, text)
	e.Pop(cur)
	e.Ret()
}

// emitParseAxis parses an optionally signed decimal at text, advancing it,
// and returns the value in eax. It clobbers ecx and edx.
func (g *gen) emitParseAxis() {
	e, in := g.e, g.r.text
	skip, adv, sign, plus, digits, done, ret :=
		g.a.NewLabel(), g.a.NewLabel(), g.a.NewLabel(), g.a.NewLabel(),
		g.a.NewLabel(), g.a.NewLabel(), g.a.NewLabel()

	g.a.Define(g.parseAxis)
	g.a.Global(ParseAxis, g.parseAxis)
	e.AluRR(x86.Xor, x86.Dword, x86.EAX, x86.EAX)
	e.AluRR(x86.Xor, x86.Dword, x86.EDX, x86.EDX)

	g.a.Define(skip)
	e.Movzx(x86.ECX, x86.Byte, x86.Ptr(in, 0))
	e.AluRI(x86.Cmp, x86.Byte, x86.ECX, ' ')
	e.JccShort(x86.CondE, adv)
	e.AluRI(x86.Cmp, x86.Byte, x86.ECX, '\t')
	e.JccShort(x86.CondNE, sign)
	g.a.Define(adv)
	e.Inc(g.ptr, in)
	e.JmpShort(skip)

	g.a.Define(sign)
	e.AluRI(x86.Cmp, x86.Byte, x86.ECX, '-')
	e.JccShort(x86.CondNE, plus)
	e.Inc(x86.Dword, x86.EDX)
	e.Inc(g.ptr, in)
	e.JmpShort(digits)
	g.a.Define(plus)
	e.AluRI(x86.Cmp, x86.Byte, x86.ECX, '+')
	e.JccShort(x86.CondNE, digits)
	e.Inc(g.ptr, in)

	g.a.Define(digits)
	e.Movzx(x86.ECX, x86.Byte, x86.Ptr(in, 0))
	e.AluRI(x86.Sub, x86.Dword, x86.ECX, '0')
	e.AluRI(x86.Cmp, x86.Dword, x86.ECX, 9)
	e.JccShort(x86.CondA, done)
	e.Imul(x86.Dword, x86.EAX, x86.EAX, 10)
	e.AluRR(x86.Add, x86.Dword, x86.EAX, x86.ECX)
	e.Inc(g.ptr, in)
	e.JmpShort(digits)

	g.a.Define(done)
	e.TestRR(x86.Dword, x86.EDX, x86.EDX)
	e.JccShort(x86.CondZ, ret)
	e.Neg(x86.Dword, x86.EAX)
	g.a.Define(ret)
	e.Ret()
}

// emitSkipField advances text past the next '|' or up to a line end.
// It clobbers eax.
func (g *gen) emitSkipField() {
	e, in := g.e, g.r.text
	loop, consume, done := g.a.NewLabel(), g.a.NewLabel(), g.a.NewLabel()

	g.a.Define(g.skipField)
	g.a.Global(SkipField, g.skipField)
	g.a.Define(loop)
	e.Movzx(x86.EAX, x86.Byte, x86.Ptr(in, 0))
	e.AluRI(x86.Cmp, x86.Byte, x86.EAX, '|')
	e.JccShort(x86.CondE, consume)
	e.AluRI(x86.Cmp, x86.Byte, x86.EAX, '\r')
	e.JccShort(x86.CondE, done)
	e.AluRI(x86.Cmp, x86.Byte, x86.EAX, '\n')
	e.JccShort(x86.CondE, done)
	e.TestRR(x86.Byte, x86.EAX, x86.EAX)
	e.JccShort(x86.CondE, done)
	e.Inc(g.ptr, in)
	e.JmpShort(loop)
	g.a.Define(consume)
	e.Inc(g.ptr, in)
	g.a.Define(done)
	e.Ret()
}
