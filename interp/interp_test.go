package interp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/portctrl/interp"
	"github.com/Alia5/portctrl/layout"
	"github.com/Alia5/portctrl/schema"
)

func scenario(t *testing.T, legal ...int) *interp.Interpreter {
	t.Helper()
	p, err := schema.NewPort("port", legal,
		schema.Controller{Class: "pad", Type: "pad", Buttons: []schema.Button{
			schema.NewButton("A", 'A'),
			schema.NewButton("B", 'B'),
			schema.NewAxis("X", schema.KindAxis, -100, 100),
		}},
		schema.Controller{Class: "pad", Type: "pad", Buttons: []schema.Button{
			schema.NewButton("C", 'C'),
		}},
	)
	require.NoError(t, err)
	return interp.New(layout.Plan(p))
}

func serialize(it *interp.Interpreter, state []byte) string {
	out := make([]byte, it.Layout().MaxTextSize())
	return string(out[:it.Serialize(state, out)])
}

func TestSerialize(t *testing.T) {

	type testCase struct {
		name   string
		legal  []int
		writes [][3]int
		want   string
	}

	cases := []testCase{
		{name: "zero system", legal: []int{0}, want: ".. 0|."},
		{name: "zero player", legal: []int{1}, want: "|.. 0|."},
		{name: "buttons", legal: []int{0}, writes: [][3]int{{0, 0, 1}, {1, 0, 1}}, want: "A. 0|C"},
		{name: "negative axis", legal: []int{0}, writes: [][3]int{{0, 2, -32768}}, want: ".. -32768|."},
		{name: "max axis", legal: []int{1}, writes: [][3]int{{0, 1, 7}, {0, 2, 32767}}, want: "|.B 32767|."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			it := scenario(t, tc.legal...)
			state := make([]byte, it.Layout().StorageSize)
			for _, w := range tc.writes {
				it.Write(state, w[0], w[1], int16(w[2]))
			}
			assert.Equal(t, tc.want, serialize(it, state))
		})
	}
}

func TestDeserialize(t *testing.T) {

	type testCase struct {
		name     string
		in       string
		wantN    int
		wantA    int16
		wantB    int16
		wantX    int16
		wantC    int16
		wantFull string
	}

	cases := []testCase{
		{name: "canonical", in: "A. 37|C", wantN: 7, wantA: 1, wantX: 37, wantC: 1},
		{name: "any non-dot sets", in: "xy -5|z", wantN: 7, wantA: 1, wantB: 1, wantX: -5, wantC: 1},
		{name: "space releases", in: "  9|.", wantN: 5, wantX: 9},
		{name: "newline stops", in: "A.\n 5|C", wantN: 2, wantA: 1},
		{name: "cr stops", in: "AB 1\r|C", wantN: 4, wantA: 1, wantB: 1, wantX: 1},
		{name: "nul stops", in: "A\x00B", wantN: 1, wantA: 1},
		{name: "short field", in: "A| 4|C", wantN: 3, wantA: 1},
		{name: "long field skipped", in: "AB 1 extra|C", wantN: 12, wantA: 1, wantB: 1, wantX: 1, wantC: 1},
		{name: "plus sign", in: "..+12|.", wantN: 7, wantX: 12},
		{name: "tab before axis", in: "..\t-3|.", wantN: 7, wantX: -3},
		{name: "int16 wrap", in: ".. 40000|.", wantN: 10, wantX: -25536},
		{name: "empty", in: "", wantN: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			it := scenario(t, 0)
			state := make([]byte, it.Layout().StorageSize)
			for i := range state {
				state[i] = 0xff
			}
			n := it.Deserialize(state, []byte(tc.in))
			assert.Equal(t, tc.wantN, n)
			assert.Equal(t, tc.wantA, it.Read(state, 0, 0))
			assert.Equal(t, tc.wantB, it.Read(state, 0, 1))
			assert.Equal(t, tc.wantX, it.Read(state, 0, 2))
			assert.Equal(t, tc.wantC, it.Read(state, 1, 0))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	it := scenario(t, 1)
	state := make([]byte, it.Layout().StorageSize)
	it.Write(state, 0, 0, 1)
	it.Write(state, 0, 2, -77)
	it.Write(state, 1, 0, 1)

	text := serialize(it, state)
	back := make([]byte, len(state))
	assert.Equal(t, len(text), it.Deserialize(back, []byte(text)))
	assert.Equal(t, state, back)
}

func TestEmptyPort(t *testing.T) {
	p, err := schema.NewPort("none", []int{1})
	require.NoError(t, err)
	it := interp.New(layout.Plan(p))

	assert.Equal(t, 0, it.Serialize(nil, nil))
	assert.Equal(t, layout.Blank, it.Deserialize(nil, []byte("|..")))
	assert.Zero(t, it.Read(nil, 0, 0))
	it.Write(nil, 0, 0, 5)
}

func TestReadWrite(t *testing.T) {
	it := scenario(t, 0)
	state := make([]byte, it.Layout().StorageSize)

	it.Write(state, 0, 1, -3)
	assert.Equal(t, int16(1), it.Read(state, 0, 1), "buttons read back as 0 or 1")
	it.Write(state, 0, 1, 0)
	assert.Zero(t, it.Read(state, 0, 1))

	it.Write(state, 0, 2, -100)
	assert.Equal(t, int16(-100), it.Read(state, 0, 2))

	before := append([]byte(nil), state...)
	it.Write(state, 0, 3, 1)
	it.Write(state, 2, 0, 1)
	it.Write(state, -1, 0, 1)
	assert.Equal(t, before, state, "null and out-of-range controls are ignored")
	assert.Zero(t, it.Read(state, 5, 5))
}
