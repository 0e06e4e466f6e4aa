package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/Alia5/portctrl/layout"
	"github.com/Alia5/portctrl/schema"
)

// Inspect prints the planned layout of a port.
type Inspect struct {
	Schema string `arg:"" help:"Descriptor file (.json, .yaml, .toml) or preset:<name>"`
	JSON   bool   `help:"Print the layout as JSON" env:"PORTCTRL_INSPECT_JSON"`
}

type controlInfo struct {
	Controller int    `json:"controller"`
	Control    int    `json:"control"`
	Name       string `json:"name,omitempty"`
	Kind       string `json:"kind"`
	Offset     int    `json:"offset"`
	Mask       byte   `json:"mask,omitempty"`
}

type layoutInfo struct {
	Port        string        `json:"port"`
	Legal       []int         `json:"legal"`
	Fingerprint string        `json:"fingerprint"`
	Backend     string        `json:"backend"`
	StorageSize int           `json:"storageSize"`
	ButtonBits  int           `json:"buttonBits"`
	Axes        int           `json:"axes"`
	Controllers int           `json:"controllers"`
	Stride      int           `json:"stride"`
	MaxText     int           `json:"maxText"`
	Program     []string      `json:"program"`
	Controls    []controlInfo `json:"controls"`
}

func describe(p *schema.Port, l *layout.Layout) layoutInfo {
	info := layoutInfo{
		Port:        p.Name,
		Legal:       p.LegalSlots(),
		Fingerprint: l.Fingerprint().String(),
		StorageSize: l.StorageSize,
		ButtonBits:  l.ButtonBits,
		Axes:        l.Axes,
		Controllers: l.Controllers,
		Stride:      l.Stride,
		MaxText:     l.MaxTextSize(),
	}
	for _, s := range l.Program {
		switch s.Op {
		case layout.OpButton:
			info.Program = append(info.Program, fmt.Sprintf("%s %d/%#02x %q", s.Op, s.Offset, s.Mask, s.Char))
		case layout.OpAxis:
			info.Program = append(info.Program, fmt.Sprintf("%s %d", s.Op, s.Offset))
		default:
			info.Program = append(info.Program, s.Op.String())
		}
	}
	for _, e := range l.Index {
		if !e.Stored() {
			continue
		}
		info.Controls = append(info.Controls, controlInfo{
			Controller: e.Controller,
			Control:    e.Control,
			Name:       p.Controllers[e.Controller].Buttons[e.Control].Name,
			Kind:       e.Kind.String(),
			Offset:     e.Offset,
			Mask:       e.Mask,
		})
	}
	return info
}

func (c *Inspect) Run(logger *slog.Logger, backend Backend, out io.Writer) error {
	cd, err := openCodec(c.Schema, backend, logger)
	if err != nil {
		return err
	}
	defer cd.Close()
	info := describe(cd.Port(), cd.Layout())
	info.Backend = cd.Backend().String()

	if c.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "port\t%s\n", info.Port)
	fmt.Fprintf(tw, "legal\t%v\n", info.Legal)
	fmt.Fprintf(tw, "fingerprint\t%s\n", info.Fingerprint)
	fmt.Fprintf(tw, "storage\t%d bytes (%d button bits, %d axes)\n", info.StorageSize, info.ButtonBits, info.Axes)
	fmt.Fprintf(tw, "controllers\t%d (stride %d)\n", info.Controllers, info.Stride)
	fmt.Fprintf(tw, "max text\t%d\n", info.MaxText)
	fmt.Fprintf(tw, "backend\t%s\n", info.Backend)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "CTRL\tIDX\tNAME\tKIND\tOFFSET\tMASK")
	for _, ci := range info.Controls {
		mask := "-"
		if ci.Mask != 0 {
			mask = fmt.Sprintf("%#02x", ci.Mask)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d\t%s\n", ci.Controller, ci.Control, ci.Name, ci.Kind, ci.Offset, mask)
	}
	fmt.Fprintln(tw)
	for i, s := range info.Program {
		fmt.Fprintf(tw, "%3d\t%s\n", i, s)
	}
	return tw.Flush()
}
