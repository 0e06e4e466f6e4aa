package cmd

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Alia5/portctrl/codec"
)

// Decode parses movie lines and prints the resulting control values.
type Decode struct {
	Schema string   `arg:"" help:"Descriptor file (.json, .yaml, .toml) or preset:<name>"`
	Lines  []string `arg:"" optional:"" help:"Lines to decode; read from --input when omitted"`
	Input  string   `short:"i" help:"File to read lines from, - for stdin" default:"-"`
}

func (c *Decode) Run(logger *slog.Logger, backend Backend, out io.Writer) error {
	cd, err := openCodec(c.Schema, backend, logger)
	if err != nil {
		return err
	}
	defer cd.Close()

	if len(c.Lines) > 0 {
		for _, line := range c.Lines {
			if err := decodeLine(cd, line, out); err != nil {
				return err
			}
		}
		return nil
	}

	var in io.Reader = os.Stdin
	if c.Input != "-" {
		f, err := os.Open(c.Input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	sc := bufio.NewScanner(in)
	n := 0
	for sc.Scan() {
		n++
		if err := decodeLine(cd, sc.Text(), out); err != nil {
			return err
		}
	}
	logger.Debug("decoded", "lines", n)
	return sc.Err()
}

func decodeLine(cd *codec.Codec, line string, out io.Writer) error {
	state := cd.NewState()
	n := cd.Deserialize(state, []byte(line))

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d\t%s", n, hex.EncodeToString(state))
	p := cd.Port()
	for _, e := range cd.Layout().Index {
		if !e.Stored() {
			continue
		}
		name := p.Controllers[e.Controller].Buttons[e.Control].Name
		fmt.Fprintf(&sb, "\t%d.%s=%d", e.Controller, name, cd.Read(state, e.Controller, e.Control))
	}
	sb.WriteByte('\n')
	_, err := io.WriteString(out, sb.String())
	return err
}
