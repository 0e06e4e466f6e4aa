package codec_test

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/portctrl/codec"
	"github.com/Alia5/portctrl/jit/native"
	"github.com/Alia5/portctrl/schema"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func scenarioPort(t *testing.T, legal ...int) *schema.Port {
	t.Helper()
	p, err := schema.NewPort("port", legal, schema.Controller{Class: "pad", Type: "pad", Buttons: []schema.Button{
		schema.NewButton("A", 'A'),
		schema.NewButton("B", 'B'),
		schema.NewAxis("X", schema.KindAxis, -100, 100),
	}})
	require.NoError(t, err)
	return p
}

// backends returns the backends that can run here.
func backends(t *testing.T) []codec.BackendKind {
	t.Helper()
	out := []codec.BackendKind{codec.BackendInterpreter}
	if _, err := native.HostTarget(); err == nil {
		out = append(out, codec.BackendNative)
	}
	return out
}

func newCodec(t *testing.T, p *schema.Port, b codec.BackendKind) *codec.Codec {
	t.Helper()
	c, err := codec.New(p, codec.WithBackend(b), codec.WithLogger(quiet))
	require.NoError(t, err)
	require.Equal(t, b, c.Backend())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestScenario(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.String(), func(t *testing.T) {
			c := newCodec(t, scenarioPort(t, 0), b)
			assert.Equal(t, 3, c.StorageSize())

			state := c.NewState()
			c.Write(state, 0, 0, 1)
			c.Write(state, 0, 1, 0)
			c.Write(state, 0, 2, 37)
			assert.Equal(t, "A. 37", string(c.AppendText(nil, state)))

			fresh := c.NewState()
			assert.Equal(t, 5, c.Deserialize(fresh, []byte("A. 37")))
			assert.Equal(t, state, fresh)

			c.Deserialize(fresh, []byte(".B -5"))
			assert.Equal(t, ".B -5", string(c.AppendText(nil, fresh)))
			assert.Equal(t, int16(-5), c.Read(fresh, 0, 2))
		})
	}
}

func TestLeadingPipe(t *testing.T) {

	type testCase struct {
		name  string
		legal []int
		want  string
	}

	cases := []testCase{
		{name: "system port", legal: []int{0}, want: "A. 37"},
		{name: "player port", legal: []int{1, 2}, want: "|A. 37"},
	}

	for _, tc := range cases {
		for _, b := range backends(t) {
			t.Run(tc.name+"/"+b.String(), func(t *testing.T) {
				c := newCodec(t, scenarioPort(t, tc.legal...), b)
				state := c.NewState()
				c.Write(state, 0, 0, 1)
				c.Write(state, 0, 2, 37)
				line := c.AppendText([]byte("prefix"), state)
				assert.Equal(t, "prefix"+tc.want, string(line))

				fresh := c.NewState()
				assert.Equal(t, len(tc.want), c.Deserialize(fresh, []byte(tc.want)))
				assert.Equal(t, state, fresh)
			})
		}
	}
}

func TestDeserializeEarlyTermination(t *testing.T) {
	p, err := schema.NewPort("multi", []int{1},
		schema.Controller{Buttons: []schema.Button{schema.NewButton("A", 'A'), schema.NewButton("B", 'B')}},
		schema.Controller{Buttons: []schema.Button{schema.NewAxis("X", schema.KindAxis, -9, 9), schema.NewButton("C", 'C')}},
	)
	require.NoError(t, err)

	type testCase struct {
		name  string
		line  string
		wantN int
		want  string
	}

	cases := []testCase{
		{name: "full", line: "|AB| 5C", wantN: 7, want: "|AB| 5C"},
		{name: "crlf", line: "|A.| -3.\r\n", wantN: 8, want: "|A.| -3."},
		{name: "truncated in first controller", line: "|A", wantN: 2, want: "|A.| 0."},
		{name: "truncated at pipe", line: "|.B|", wantN: 4, want: "|.B| 0."},
		{name: "short field", line: "|A| 7C", wantN: 6, want: "|A.| 7C"},
		{name: "long field is skipped", line: "|ABZZ| 1", wantN: 8, want: "|AB| 1."},
		{name: "nul", line: "|AB\x00| 5C", wantN: 3, want: "|AB| 0."},
		{name: "empty", line: "", wantN: 0, want: "|..| 0."},
	}

	for _, b := range backends(t) {
		c := newCodec(t, p, b)
		for _, tc := range cases {
			t.Run(b.String()+"/"+tc.name, func(t *testing.T) {
				state := c.NewState()
				for i := range state {
					state[i] = 0xff
				}
				assert.Equal(t, tc.wantN, c.Deserialize(state, []byte(tc.line)))
				assert.Equal(t, tc.want, string(c.AppendText(nil, state)))
			})
		}
	}
}

func TestEmptyPort(t *testing.T) {
	p, err := schema.NewPort("none", []int{1})
	require.NoError(t, err)
	for _, b := range backends(t) {
		t.Run(b.String(), func(t *testing.T) {
			c := newCodec(t, p, b)
			assert.Zero(t, c.StorageSize())
			assert.Empty(t, c.AppendText(nil, nil))
			assert.Equal(t, codec.Blank, c.Deserialize(nil, []byte("|ABC")))
			assert.Zero(t, c.Read(nil, 0, 0))
		})
	}
}

func TestReadWriteOutOfRange(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.String(), func(t *testing.T) {
			c := newCodec(t, scenarioPort(t, 1), b)
			state := []byte{0x03, 0x25, 0x00}
			before := bytes.Clone(state)

			for _, idx := range [][2]int{{1, 0}, {-1, 0}, {0, 4}, {0, 3}, {0, -1}, {1 << 20, 1}} {
				c.Write(state, idx[0], idx[1], 1)
				assert.Zero(t, c.Read(state, idx[0], idx[1]), "read(%d, %d)", idx[0], idx[1])
			}
			assert.Equal(t, before, state)
		})
	}
}

func TestReadAfterWrite(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.String(), func(t *testing.T) {
			c := newCodec(t, scenarioPort(t, 1), b)
			state := c.NewState()
			for _, v := range []int16{-32768, -1, 0, 1, 37, 32767} {
				c.Write(state, 0, 2, v)
				assert.Equal(t, v, c.Read(state, 0, 2))
				c.Write(state, 0, 1, v)
				want := int16(0)
				if v != 0 {
					want = 1
				}
				assert.Equal(t, want, c.Read(state, 0, 1))
			}
		})
	}
}

func TestUndersizedBuffersPanic(t *testing.T) {
	c := newCodec(t, scenarioPort(t, 0), codec.BackendInterpreter)
	assert.Panics(t, func() { c.Read(make([]byte, 1), 0, 0) })
	assert.Panics(t, func() { c.Serialize(c.NewState(), make([]byte, 2)) })
}

func TestBackendSelection(t *testing.T) {
	t.Run("env forces interpreter", func(t *testing.T) {
		t.Setenv(codec.EnvBackend, "interp")
		c, err := codec.New(scenarioPort(t, 0), codec.WithLogger(quiet))
		require.NoError(t, err)
		assert.Equal(t, codec.BackendInterpreter, c.Backend())
	})

	t.Run("bad env value", func(t *testing.T) {
		t.Setenv(codec.EnvBackend, "quantum")
		_, err := codec.New(scenarioPort(t, 0), codec.WithLogger(quiet))
		require.Error(t, err)
	})

	t.Run("auto falls back", func(t *testing.T) {
		t.Setenv(codec.EnvBackend, "")
		c, err := codec.New(scenarioPort(t, 0), codec.WithLogger(quiet))
		require.NoError(t, err)
		if _, herr := native.HostTarget(); herr == nil {
			assert.Equal(t, codec.BackendNative, c.Backend())
		} else {
			assert.Equal(t, codec.BackendInterpreter, c.Backend())
		}
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
	})

	t.Run("explicit native fails on unsupported hosts", func(t *testing.T) {
		if _, err := native.HostTarget(); err == nil {
			t.Skip("host runs native code")
		}
		_, err := codec.New(scenarioPort(t, 0), codec.WithBackend(codec.BackendNative), codec.WithLogger(quiet))
		require.ErrorIs(t, err, native.ErrUnsupportedHost)
	})
}

func TestParseBackend(t *testing.T) {
	for in, want := range map[string]codec.BackendKind{
		"":            codec.BackendAuto,
		"auto":        codec.BackendAuto,
		"Interpreter": codec.BackendInterpreter,
		"jit":         codec.BackendNative,
	} {
		got, err := codec.ParseBackend(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := codec.ParseBackend("gpu")
	assert.Error(t, err)
}

func TestDumpDir(t *testing.T) {
	if _, err := native.HostTarget(); err != nil {
		t.Skip(err)
	}
	dir := t.TempDir()
	c, err := codec.New(scenarioPort(t, 0), codec.WithDumpDir(dir), codec.WithLogger(quiet))
	require.NoError(t, err)
	defer c.Close()

	for _, ext := range []string{".bin", ".map", ".s"} {
		assert.FileExists(t, dir+"/"+codec.DumpName(c.Layout())+ext)
	}
}
