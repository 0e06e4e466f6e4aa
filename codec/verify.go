package codec

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
)

// ErrMismatch reports that two codecs disagree.
var ErrMismatch = errors.New("codec: backends disagree")

// MismatchError describes the first disagreement found by Verify.
type MismatchError struct {
	Op        string
	Iteration int
	State     []byte
	Line      string
	Want, Got string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s at iteration %d (state %x, line %q): want %s, got %s",
		e.Op, e.Iteration, e.State, e.Line, e.Want, e.Got)
}

func (e *MismatchError) Unwrap() error { return ErrMismatch }

// Verify runs randomized states and lines through ref and cand and checks
// that they agree and that both round-trip every canonical state. Both
// codecs must share a layout.
func Verify(ref, cand *Codec, iterations int, seed uint64) error {
	if ref.Layout().Fingerprint() != cand.Layout().Fingerprint() {
		return fmt.Errorf("codec: verify: layouts differ (%s vs %s)", ref.Layout().Fingerprint(), cand.Layout().Fingerprint())
	}
	l := ref.Layout()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	state := ref.NewState()
	refState, candState := ref.NewState(), cand.NewState()
	refText := make([]byte, ref.MaxTextSize())
	candText := make([]byte, cand.MaxTextSize())

	for it := range iterations {
		for i := range state {
			state[i] = byte(rng.Uint32())
		}
		l.Canonicalize(state)
		fail := func(op, line, want, got string) error {
			return &MismatchError{Op: op, Iteration: it, State: bytes.Clone(state), Line: line, Want: want, Got: got}
		}

		rn := ref.Serialize(state, refText)
		cn := cand.Serialize(state, candText)
		line := refText[:rn]
		if !bytes.Equal(line, candText[:cn]) {
			return fail("serialize", "", string(line), string(candText[:cn]))
		}

		for _, c := range []*Codec{ref, cand} {
			n := c.Deserialize(refState, line)
			if l.Controllers > 0 && (n != len(line) || !bytes.Equal(refState, state)) {
				return fail("round trip ("+c.Backend().String()+")", string(line), fmt.Sprintf("%x", state), fmt.Sprintf("%x", refState))
			}
		}

		probe := mutate(rng, line)
		rd := ref.Deserialize(refState, probe)
		cd := cand.Deserialize(candState, probe)
		if rd != cd || !bytes.Equal(refState, candState) {
			return fail("deserialize", string(probe), fmt.Sprintf("%d %x", rd, refState), fmt.Sprintf("%d %x", cd, candState))
		}

		if l.Controllers == 0 {
			continue
		}
		ctrl := rng.IntN(l.Controllers+1) - rng.IntN(2)
		ctl := rng.IntN(l.Stride+2) - 1
		v := int16(rng.Uint32())
		copy(refState, state)
		copy(candState, state)
		ref.Write(refState, ctrl, ctl, v)
		cand.Write(candState, ctrl, ctl, v)
		if !bytes.Equal(refState, candState) {
			return fail(fmt.Sprintf("write(%d, %d, %d)", ctrl, ctl, v), "", fmt.Sprintf("%x", refState), fmt.Sprintf("%x", candState))
		}
		if r, c := ref.Read(refState, ctrl, ctl), cand.Read(candState, ctrl, ctl); r != c {
			return fail(fmt.Sprintf("read(%d, %d)", ctrl, ctl), "", fmt.Sprint(r), fmt.Sprint(c))
		}
	}
	return nil
}

var noise = []byte("|.\r\n\x00 -+0123456789AB")

// mutate truncates or corrupts a line to exercise early termination.
func mutate(rng *rand.Rand, line []byte) []byte {
	out := bytes.Clone(line)
	switch rng.IntN(4) {
	case 0:
		return out
	case 1:
		return out[:rng.IntN(len(out)+1)]
	default:
		for range rng.IntN(4) + 1 {
			if len(out) == 0 {
				out = append(out, noise[rng.IntN(len(noise))])
				continue
			}
			out[rng.IntN(len(out))] = noise[rng.IntN(len(noise))]
		}
		return out
	}
}
