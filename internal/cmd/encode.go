package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
)

// Encode serializes controller states to movie lines.
type Encode struct {
	Schema string   `arg:"" help:"Descriptor file (.json, .yaml, .toml) or preset:<name>"`
	States []string `arg:"" optional:"" help:"Hex-encoded states; a single all-zero state when omitted"`
	Set    []string `short:"s" help:"Control assignment controller.control=value applied to every state; control may be an index or a name"`
}

func (c *Encode) Run(logger *slog.Logger, backend Backend, out io.Writer) error {
	cd, err := openCodec(c.Schema, backend, logger)
	if err != nil {
		return err
	}
	defer cd.Close()

	assigns := make([]Assignment, 0, len(c.Set))
	for _, s := range c.Set {
		a, err := ParseAssignment(s, cd.Port())
		if err != nil {
			return err
		}
		if _, ok := cd.Layout().Lookup(a.Controller, a.Control); !ok {
			return fmt.Errorf("assignment %q: control out of range", s)
		}
		assigns = append(assigns, a)
	}

	states := c.States
	if len(states) == 0 {
		states = []string{hex.EncodeToString(cd.NewState())}
	}
	var line []byte
	for _, h := range states {
		state, err := hex.DecodeString(h)
		if err != nil {
			return fmt.Errorf("state %q: %w", h, err)
		}
		if len(state) != cd.StorageSize() {
			return fmt.Errorf("state %q is %d bytes, layout needs %d", h, len(state), cd.StorageSize())
		}
		for _, a := range assigns {
			cd.Write(state, a.Controller, a.Control, a.Value)
		}
		logger.Debug("encoding", "state", hex.EncodeToString(state), "backend", cd.Backend())
		line = append(cd.AppendText(line[:0], state), '\n')
		if _, err := out.Write(line); err != nil {
			return err
		}
	}
	return nil
}
