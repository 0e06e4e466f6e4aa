// Package c generates a C header describing a port's state layout.
package c

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Alia5/portctrl/internal/codegen/common"
	"github.com/Alia5/portctrl/internal/codegen/meta"
)

const headerTemplate = `// Auto-generated portctrl layout header
// DO NOT EDIT - generated from port "{{.Port}}" (layout {{.Fingerprint}})

#ifndef {{.Guard}}
#define {{.Guard}}

#include <stdint.h>

#define {{.Prefix}}_STORAGE_SIZE {{.StorageSize}}
#define {{.Prefix}}_CONTROLLERS {{.Controllers}}
#define {{.Prefix}}_STRIDE {{.Stride}}
#define {{.Prefix}}_MAX_TEXT {{.MaxText}}
{{range .Controls}}
/* {{.Controller}}.{{.Control}} {{.Name}} ({{.Kind}}) */
#define {{$.Prefix}}_{{upper .Ident}}_OFFSET {{.Offset}}
{{- if .IsButton}}
#define {{$.Prefix}}_{{upper .Ident}}_MASK 0x{{printf "%02x" .Mask}}
{{- else}}
#define {{$.Prefix}}_{{upper .Ident}}_MIN ({{.Min}})
#define {{$.Prefix}}_{{upper .Ident}}_MAX ({{.Max}})
{{- end}}
{{end}}
static inline int {{.Ident}}_get_button(const uint8_t *state, int offset, uint8_t mask) {
    return (state[offset] & mask) != 0;
}

static inline void {{.Ident}}_set_button(uint8_t *state, int offset, uint8_t mask, int pressed) {
    if (pressed) {
        state[offset] |= mask;
    } else {
        state[offset] &= (uint8_t)~mask;
    }
}

static inline int16_t {{.Ident}}_get_axis(const uint8_t *state, int offset) {
    return (int16_t)(uint16_t)(state[offset] | (state[offset + 1] << 8));
}

static inline void {{.Ident}}_set_axis(uint8_t *state, int offset, int16_t value) {
    state[offset] = (uint8_t)((uint16_t)value & 0xff);
    state[offset + 1] = (uint8_t)((uint16_t)value >> 8);
}

#endif /* {{.Guard}} */
`

var tmpl = template.Must(template.New("header").Funcs(template.FuncMap{
	"upper": strings.ToUpper,
}).Parse(headerTemplate))

type headerData struct {
	*meta.Metadata
	Guard  string
	Prefix string
}

// FileName is the header written for md.
func FileName(md *meta.Metadata) string { return md.Ident + "_layout.h" }

// GenerateHeader writes the header for md into dir.
func GenerateHeader(logger *slog.Logger, dir string, md *meta.Metadata) error {
	outputFile := filepath.Join(dir, FileName(md))
	logger.Debug("Generating C header", "file", outputFile)

	prefix := common.ToUpperSnake(md.Ident)
	if prefix == "" {
		prefix = "PORT"
	}
	data := headerData{Metadata: md, Guard: prefix + "_LAYOUT_H", Prefix: prefix}

	f, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("create %s: %w", FileName(md), err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("execute header template: %w", err)
	}

	logger.Info("Generated C header", "file", outputFile)
	return nil
}
