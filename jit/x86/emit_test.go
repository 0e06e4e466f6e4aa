package x86_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/Alia5/portctrl/jit/asm"
	"github.com/Alia5/portctrl/jit/x86"
)

func TestEncoding(t *testing.T) {

	type testCase struct {
		name   string
		mode   x86.Mode
		emit   func(e *x86.Emitter)
		want   []byte
		wantOp x86asm.Op
	}

	cases := []testCase{
		{
			name:   "mov rax, r11",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.MovRR(x86.Qword, x86.RAX, x86.R11) },
			want:   []byte{0x4c, 0x89, 0xd8},
			wantOp: x86asm.MOV,
		},
		{
			name:   "mov r10, rsi",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.MovRR(x86.Qword, x86.R10, x86.RSI) },
			want:   []byte{0x49, 0x89, 0xf2},
			wantOp: x86asm.MOV,
		},
		{
			name:   "mov edx, r8d",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.MovRR(x86.Dword, x86.RDX, x86.R8) },
			want:   []byte{0x44, 0x89, 0xc2},
			wantOp: x86asm.MOV,
		},
		{
			name:   "mov rax, [rsp+40]",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.MovRM(x86.Qword, x86.RAX, x86.Ptr(x86.RSP, 40)) },
			want:   []byte{0x48, 0x8b, 0x44, 0x24, 0x28},
			wantOp: x86asm.MOV,
		},
		{
			name:   "mov esi, [esp+20]",
			mode:   x86.Mode32,
			emit:   func(e *x86.Emitter) { e.MovRM(x86.Dword, x86.ESI, x86.Ptr(x86.ESP, 20)) },
			want:   []byte{0x8b, 0x74, 0x24, 0x14},
			wantOp: x86asm.MOV,
		},
		{
			name:   "mov byte [r11], '.'",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.MovMI(x86.Byte, x86.Ptr(x86.R11, 0), '.') },
			want:   []byte{0x41, 0xc6, 0x03, 0x2e},
			wantOp: x86asm.MOV,
		},
		{
			name:   "mov byte [ebp], ' '",
			mode:   x86.Mode32,
			emit:   func(e *x86.Emitter) { e.MovMI(x86.Byte, x86.Ptr(x86.EBP, 0), ' ') },
			want:   []byte{0xc6, 0x45, 0x00, 0x20},
			wantOp: x86asm.MOV,
		},
		{
			name:   "mov dword [r10], 0",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.MovMI(x86.Dword, x86.Ptr(x86.R10, 0), 0) },
			want:   []byte{0x41, 0xc7, 0x02, 0x00, 0x00, 0x00, 0x00},
			wantOp: x86asm.MOV,
		},
		{
			name:   "mov word [r10+4], ax",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.MovMR(x86.Word, x86.Ptr(x86.R10, 4), x86.RAX) },
			want:   []byte{0x66, 0x41, 0x89, 0x42, 0x04},
			wantOp: x86asm.MOV,
		},
		{
			name:   "mov byte [r8], al",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.MovMR(x86.Byte, x86.Ptr(x86.R8, 0), x86.RAX) },
			want:   []byte{0x41, 0x88, 0x00},
			wantOp: x86asm.MOV,
		},
		{
			name:   "mov ecx, 10",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.MovRI(x86.Dword, x86.ECX, 10) },
			want:   []byte{0xb9, 0x0a, 0x00, 0x00, 0x00},
			wantOp: x86asm.MOV,
		},
		{
			name:   "mov rax, -1",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.MovRI(x86.Qword, x86.RAX, -1) },
			want:   []byte{0x48, 0xc7, 0xc0, 0xff, 0xff, 0xff, 0xff},
			wantOp: x86asm.MOV,
		},
		{
			name:   "movzx eax, byte [r10+3]",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.Movzx(x86.EAX, x86.Byte, x86.Ptr(x86.R10, 3)) },
			want:   []byte{0x41, 0x0f, 0xb6, 0x42, 0x03},
			wantOp: x86asm.MOVZX,
		},
		{
			name:   "movsx eax, word [r10+4]",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.Movsx(x86.EAX, x86.Word, x86.Ptr(x86.R10, 4)) },
			want:   []byte{0x41, 0x0f, 0xbf, 0x42, 0x04},
			wantOp: x86asm.MOVSX,
		},
		{
			name:   "movsx eax, word [esi+300]",
			mode:   x86.Mode32,
			emit:   func(e *x86.Emitter) { e.Movsx(x86.EAX, x86.Word, x86.Ptr(x86.ESI, 300)) },
			want:   []byte{0x0f, 0xbf, 0x86, 0x2c, 0x01, 0x00, 0x00},
			wantOp: x86asm.MOVSX,
		},
		{
			name:   "add r11, rax",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.AluRR(x86.Add, x86.Qword, x86.R11, x86.RAX) },
			want:   []byte{0x49, 0x01, 0xc3},
			wantOp: x86asm.ADD,
		},
		{
			name:   "sub rax, r9",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.AluRR(x86.Sub, x86.Qword, x86.RAX, x86.R9) },
			want:   []byte{0x4c, 0x29, 0xc8},
			wantOp: x86asm.SUB,
		},
		{
			name:   "xor eax, eax",
			mode:   x86.Mode32,
			emit:   func(e *x86.Emitter) { e.AluRR(x86.Xor, x86.Dword, x86.EAX, x86.EAX) },
			want:   []byte{0x31, 0xc0},
			wantOp: x86asm.XOR,
		},
		{
			name:   "cmp r11, 4",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.AluRI(x86.Cmp, x86.Qword, x86.R11, 4) },
			want:   []byte{0x49, 0x83, 0xfb, 0x04},
			wantOp: x86asm.CMP,
		},
		{
			name:   "cmp r9, 256",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.AluRI(x86.Cmp, x86.Qword, x86.R9, 256) },
			want:   []byte{0x49, 0x81, 0xf9, 0x00, 0x01, 0x00, 0x00},
			wantOp: x86asm.CMP,
		},
		{
			name:   "cmp al, '|'",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.AluRI(x86.Cmp, x86.Byte, x86.RAX, '|') },
			want:   []byte{0x80, 0xf8, 0x7c},
			wantOp: x86asm.CMP,
		},
		{
			name:   "and byte [r10], 0xfe",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.AluMI(x86.And, x86.Byte, x86.Ptr(x86.R10, 0), 0xfe) },
			want:   []byte{0x41, 0x80, 0x22, 0xfe},
			wantOp: x86asm.AND,
		},
		{
			name:   "or byte [esi+1], 0x80",
			mode:   x86.Mode32,
			emit:   func(e *x86.Emitter) { e.AluMI(x86.Or, x86.Byte, x86.Ptr(x86.ESI, 1), 0x80) },
			want:   []byte{0x80, 0x4e, 0x01, 0x80},
			wantOp: x86asm.OR,
		},
		{
			name:   "test byte [r10+3], 0x10",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.TestMI(x86.Byte, x86.Ptr(x86.R10, 3), 0x10) },
			want:   []byte{0x41, 0xf6, 0x42, 0x03, 0x10},
			wantOp: x86asm.TEST,
		},
		{
			name:   "test ax, ax",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.TestRR(x86.Word, x86.RAX, x86.RAX) },
			want:   []byte{0x66, 0x85, 0xc0},
			wantOp: x86asm.TEST,
		},
		{
			name:   "inc r11",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.Inc(x86.Qword, x86.R11) },
			want:   []byte{0x49, 0xff, 0xc3},
			wantOp: x86asm.INC,
		},
		{
			name:   "neg eax",
			mode:   x86.Mode32,
			emit:   func(e *x86.Emitter) { e.Neg(x86.Dword, x86.EAX) },
			want:   []byte{0xf7, 0xd8},
			wantOp: x86asm.NEG,
		},
		{
			name:   "div ecx",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.Div(x86.Dword, x86.ECX) },
			want:   []byte{0xf7, 0xf1},
			wantOp: x86asm.DIV,
		},
		{
			name:   "shl r11, 3",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.Shl(x86.Qword, x86.R11, 3) },
			want:   []byte{0x49, 0xc1, 0xe3, 0x03},
			wantOp: x86asm.SHL,
		},
		{
			name:   "shr eax, 3",
			mode:   x86.Mode32,
			emit:   func(e *x86.Emitter) { e.Shr(x86.Dword, x86.EAX, 3) },
			want:   []byte{0xc1, 0xe8, 0x03},
			wantOp: x86asm.SHR,
		},
		{
			name:   "imul eax, eax, 10",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.Imul(x86.Dword, x86.EAX, x86.EAX, 10) },
			want:   []byte{0x6b, 0xc0, 0x0a},
			wantOp: x86asm.IMUL,
		},
		{
			name:   "lea r8, [r11+1]",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.Lea(x86.R8, x86.Ptr(x86.R11, 1)) },
			want:   []byte{0x4d, 0x8d, 0x43, 0x01},
			wantOp: x86asm.LEA,
		},
		{
			name:   "push r8",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.Push(x86.R8) },
			want:   []byte{0x41, 0x50},
			wantOp: x86asm.PUSH,
		},
		{
			name:   "pop edi",
			mode:   x86.Mode32,
			emit:   func(e *x86.Emitter) { e.Pop(x86.EDI) },
			want:   []byte{0x5f},
			wantOp: x86asm.POP,
		},
		{
			name:   "jmp [rcx+r11*8]",
			mode:   x86.Mode64,
			emit:   func(e *x86.Emitter) { e.JmpMem(x86.Indexed(x86.RCX, x86.R11, 8, 0)) },
			want:   []byte{0x42, 0xff, 0x24, 0xd9},
			wantOp: x86asm.JMP,
		},
		{
			name:   "ret",
			mode:   x86.Mode32,
			emit:   func(e *x86.Emitter) { e.Ret() },
			want:   []byte{0xc3},
			wantOp: x86asm.RET,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := asm.New()
			e := x86.New(a, tc.mode)
			tc.emit(e)
			require.NoError(t, e.Err())
			assert.Equal(t, tc.want, a.Bytes())

			inst, err := x86asm.Decode(a.Bytes(), int(tc.mode))
			require.NoError(t, err)
			assert.Equal(t, tc.wantOp, inst.Op)
			assert.Equal(t, len(tc.want), inst.Len)
		})
	}
}

func TestEncodingErrors(t *testing.T) {

	type testCase struct {
		name string
		emit func(e *x86.Emitter)
	}

	cases := []testCase{
		{name: "extended register", emit: func(e *x86.Emitter) { e.MovRR(x86.Dword, x86.EAX, x86.R8) }},
		{name: "qword width", emit: func(e *x86.Emitter) { e.Inc(x86.Qword, x86.EAX) }},
		{name: "high byte register", emit: func(e *x86.Emitter) { e.MovMR(x86.Byte, x86.Ptr(x86.EAX, 0), x86.ESI) }},
		{name: "esp index", emit: func(e *x86.Emitter) { e.MovRM(x86.Dword, x86.EAX, x86.Indexed(x86.EAX, x86.ESP, 1, 0)) }},
		{name: "bad scale", emit: func(e *x86.Emitter) { e.MovRM(x86.Dword, x86.EAX, x86.Indexed(x86.EAX, x86.ECX, 3, 0)) }},
		{name: "byte immediate", emit: func(e *x86.Emitter) { e.MovMI(x86.Byte, x86.Ptr(x86.EAX, 0), 300) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := asm.New()
			e := x86.New(a, x86.Mode32)
			tc.emit(e)
			require.ErrorIs(t, e.Err(), x86.ErrInvalidOperand)

			n := a.Len()
			e.Ret()
			assert.Equal(t, n, a.Len(), "emitter must ignore calls after an error")
		})
	}
}

func TestByteRegisterNeedsREX(t *testing.T) {
	a := asm.New()
	e := x86.New(a, x86.Mode64)
	e.MovMR(x86.Byte, x86.Ptr(x86.RAX, 0), x86.RSI)
	require.NoError(t, e.Err())
	assert.Equal(t, []byte{0x40, 0x88, 0x30}, a.Bytes())
}

func TestBranches(t *testing.T) {
	a := asm.New()
	e := x86.New(a, x86.Mode64)
	top := a.Here()
	fwd := a.NewLabel()
	e.JccShort(x86.CondE, fwd)
	e.Jcc(x86.CondAE, fwd)
	e.Call(fwd)
	e.JmpShort(top)
	a.Define(fwd)
	e.Ret()
	require.NoError(t, e.Err())

	out := make([]byte, a.Len())
	_, err := a.Flush(out, 0x1000)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x74, 0x0d,
		0x0f, 0x83, 0x07, 0x00, 0x00, 0x00,
		0xe8, 0x02, 0x00, 0x00, 0x00,
		0xeb, 0xf1,
		0xc3,
	}, out[:16])
}

func TestLabelOperands(t *testing.T) {
	t.Run("rip relative in 64-bit mode", func(t *testing.T) {
		a := asm.New()
		e := x86.New(a, x86.Mode64)
		data := a.NewLabel()
		e.Lea(x86.RCX, x86.At(data, 0))
		e.Ret()
		a.Define(data)
		a.Uint64(0)
		require.NoError(t, e.Err())

		out := make([]byte, a.Len())
		_, err := a.Flush(out, 0x4000)
		require.NoError(t, err)
		// lea rcx, [rip+1]: the table starts right after the ret.
		assert.Equal(t, []byte{0x48, 0x8d, 0x0d, 0x01, 0x00, 0x00, 0x00, 0xc3}, out[:8])
	})

	t.Run("rip relative with trailing immediate", func(t *testing.T) {
		a := asm.New()
		e := x86.New(a, x86.Mode64)
		data := a.NewLabel()
		e.MovMI(x86.Byte, x86.At(data, 0), 7)
		a.Define(data)
		require.NoError(t, e.Err())

		out := make([]byte, a.Len())
		_, err := a.Flush(out, 0x4000)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xc6, 0x05, 0x00, 0x00, 0x00, 0x00, 0x07}, out)
	})

	t.Run("absolute table in 32-bit mode", func(t *testing.T) {
		a := asm.New()
		e := x86.New(a, x86.Mode32)
		table := a.NewLabel()
		e.JmpMem(x86.Table(table, x86.EDI, 4))
		a.Define(table)
		e.Addr(table)
		require.NoError(t, e.Err())

		out := make([]byte, a.Len())
		_, err := a.Flush(out, 0x4000)
		require.NoError(t, err)
		assert.Equal(t, []byte{
			0xff, 0x24, 0xbd, 0x07, 0x40, 0x00, 0x00,
			0x07, 0x40, 0x00, 0x00,
		}, out)

		inst, err := x86asm.Decode(out, 32)
		require.NoError(t, err)
		assert.Equal(t, x86asm.JMP, inst.Op)
		assert.Equal(t, 7, inst.Len)
	})
}

func TestConventionArgs(t *testing.T) {

	type testCase struct {
		name    string
		conv    *x86.Convention
		arg     int
		pushed  int
		wantReg x86.Reg
		wantMem x86.Mem
	}

	cases := []testCase{
		{name: "sysv first", conv: x86.SysV64, arg: 0, wantReg: x86.RDI},
		{name: "sysv fifth", conv: x86.SysV64, arg: 4, wantReg: x86.R8},
		{name: "sysv seventh", conv: x86.SysV64, arg: 6, wantReg: x86.NoReg, wantMem: x86.Ptr(x86.RSP, 8)},
		{name: "win64 fourth", conv: x86.Win64, arg: 3, wantReg: x86.R9},
		{name: "win64 fifth", conv: x86.Win64, arg: 4, wantReg: x86.NoReg, wantMem: x86.Ptr(x86.RSP, 40)},
		{name: "cdecl second after pushes", conv: x86.Cdecl32, arg: 1, pushed: 3, wantReg: x86.NoReg, wantMem: x86.Ptr(x86.ESP, 20)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, m, ok := tc.conv.Arg(tc.arg, tc.pushed)
			assert.Equal(t, tc.wantReg, r)
			assert.Equal(t, tc.wantReg != x86.NoReg, ok)
			if !ok {
				assert.Equal(t, tc.wantMem, m)
			}
		})
	}
}

func TestLookupConvention(t *testing.T) {
	for name, want := range map[string]*x86.Convention{
		"sysv-amd64": x86.SysV64,
		"amd64":      x86.SysV64,
		"win64":      x86.Win64,
		"cdecl-386":  x86.Cdecl32,
		"386":        x86.Cdecl32,
	} {
		got, ok := x86.LookupConvention(name)
		require.True(t, ok, name)
		assert.Same(t, want, got, name)
	}
	_, ok := x86.LookupConvention("arm64")
	assert.False(t, ok)
}
