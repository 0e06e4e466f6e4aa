package asm_test

import (
	"encoding/binary"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/portctrl/jit/asm"
)

func TestFlushAppliesRelocations(t *testing.T) {
	a := asm.New()
	start := a.Here()
	a.Global("start", start)
	fwd := a.NewLabel()
	a.Byte(0xe9)
	a.Reloc(4, asm.Rel32, fwd)
	a.Byte(0x90, 0x90)
	a.Define(fwd)
	a.Global("fwd", fwd)
	a.Reloc(8, asm.Abs64, start)
	a.Reloc(4, asm.Abs32, a.Relative(fwd, 2))

	out := make([]byte, a.Len())
	globals, err := a.Flush(out, 0x2000)
	require.NoError(t, err)

	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(out[1:5]))
	assert.Equal(t, uint64(0x2000), binary.LittleEndian.Uint64(out[7:15]))
	assert.Equal(t, uint32(0x2009), binary.LittleEndian.Uint32(out[15:19]))
	assert.Equal(t, map[string]uintptr{"start": 0x2000, "fwd": 0x2007}, globals)
	assert.Equal(t, []string{"start", "fwd"}, a.Globals())
}

func TestFlushRebases(t *testing.T) {
	a := asm.New()
	l := a.NewLabel()
	a.Reloc(4, asm.Abs32, l)
	a.Define(l)

	for _, base := range []uintptr{0x1000, 0x8000} {
		out := make([]byte, a.Len())
		_, err := a.Flush(out, base)
		require.NoError(t, err)
		assert.Equal(t, uint32(base+4), binary.LittleEndian.Uint32(out))
	}
}

func TestExternalLabel(t *testing.T) {
	a := asm.New()
	a.Byte(0xe8)
	a.Reloc(4, asm.Rel32, a.External(0x1100))

	out := make([]byte, a.Len())
	_, err := a.Flush(out, 0x1000)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xfb), binary.LittleEndian.Uint32(out[1:]))
}

func TestFlushErrors(t *testing.T) {

	type testCase struct {
		name    string
		build   func(a *asm.Assembler)
		wantErr error
	}

	cases := []testCase{
		{
			name: "undefined label",
			build: func(a *asm.Assembler) {
				a.Reloc(4, asm.Rel32, a.NewLabel())
			},
			wantErr: asm.ErrUndefinedLabel,
		},
		{
			name: "rel8 out of range",
			build: func(a *asm.Assembler) {
				l := a.NewLabel()
				a.Reloc(1, asm.Rel8, l)
				a.Pad(200, 0x90)
				a.Define(l)
			},
			wantErr: asm.ErrOutOfRange,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := asm.New()
			tc.build(a)
			_, err := a.Flush(make([]byte, a.Len()), 0x1000)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestAbs32AboveFourGiB(t *testing.T) {
	if strconv.IntSize == 32 {
		t.Skip("addresses are 32-bit on this host")
	}
	var far uint64 = 1 << 40
	a := asm.New()
	a.Reloc(4, asm.Abs32, a.External(uintptr(far)))
	_, err := a.Flush(make([]byte, a.Len()), 0x1000)
	require.ErrorIs(t, err, asm.ErrOutOfRange)
}

func TestFlushShortDestination(t *testing.T) {
	a := asm.New()
	a.Uint32(0xdeadbeef)
	_, err := a.Flush(make([]byte, 2), 0)
	require.Error(t, err)
}

func TestDefineTwicePanics(t *testing.T) {
	a := asm.New()
	l := a.Here()
	assert.Panics(t, func() { a.Define(l) })
}

func TestAlignAndPad(t *testing.T) {
	a := asm.New()
	a.Byte(1, 2, 3)
	a.Align(8, 0xcc)
	assert.Equal(t, 8, a.Len())
	a.Align(8, 0xcc)
	assert.Equal(t, 8, a.Len())
	a.Pad(2, 0x90)
	assert.Equal(t, []byte{1, 2, 3, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0x90, 0x90}, a.Bytes())
}

func TestPCRel32Trailing(t *testing.T) {
	loc := make([]byte, 4)
	require.NoError(t, asm.PCRel32(1)(loc, 0x1010, 0x1000))
	assert.Equal(t, uint32(0xf), binary.LittleEndian.Uint32(loc))
}
