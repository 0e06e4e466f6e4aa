package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Alia5/portctrl/layout"
	"github.com/Alia5/portctrl/presets"
)

// Presets lists the built-in port descriptors.
type Presets struct{}

func (c *Presets) Run(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPORT\tCONTROLLERS\tSTORAGE\tLEGAL")
	for _, name := range presets.Names() {
		p, err := presets.Load(name)
		if err != nil {
			return err
		}
		l := layout.Plan(p)
		fmt.Fprintf(tw, "%s%s\t%s\t%d\t%d\t%v\n", presets.Prefix, name, p.HName, l.Controllers, l.StorageSize, p.LegalSlots())
	}
	return tw.Flush()
}
