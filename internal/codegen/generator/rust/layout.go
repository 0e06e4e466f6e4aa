// Package rust generates a Rust module describing a port's state layout.
package rust

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

const layoutTemplate = `// Auto-generated portctrl layout module
// DO NOT EDIT - generated from port "{{.Port}}" (layout {{.Fingerprint}})

pub const STORAGE_SIZE: usize = {{.StorageSize}};
pub const CONTROLLERS: usize = {{.Controllers}};
pub const STRIDE: usize = {{.Stride}};
pub const MAX_TEXT: usize = {{.MaxText}};

#[derive(Debug, Clone, Copy, PartialEq, Eq, Default)]
pub struct {{.StructName}}(pub [u8; STORAGE_SIZE]);

impl {{.StructName}} {
{{- range .Controls}}
{{- if .IsButton}}
    /// {{.Controller}}.{{.Control}} {{.Name}}
    pub fn {{.Getter}}(&self) -> bool {
        self.0[{{.Offset}}] & 0x{{printf "%02x" .Mask}} != 0
    }

    pub fn {{.Setter}}(&mut self, pressed: bool) {
        if pressed {
            self.0[{{.Offset}}] |= 0x{{printf "%02x" .Mask}};
        } else {
            self.0[{{.Offset}}] &= !0x{{printf "%02x" .Mask}};
        }
    }
{{- else}}
    /// {{.Controller}}.{{.Control}} {{.Name}}, {{.Min}}..={{.Max}}
    pub fn {{.Getter}}(&self) -> i16 {
        i16::from_le_bytes([self.0[{{.Offset}}], self.0[{{.Offset}} + 1]])
    }

    pub fn {{.Setter}}(&mut self, value: i16) {
        self.0[{{.Offset}}..{{.Offset}} + 2].copy_from_slice(&value.to_le_bytes());
    }
{{- end}}
{{end}}}
`

var tmpl = template.Must(template.New("layout").Parse(layoutTemplate))

type rustControl struct {
	meta.Control
	Getter, Setter string
}

type layoutData struct {
	*meta.Metadata
	StructName string
	Controls   []rustControl
}

// rustKeywords are renamed with a raw identifier prefix.
var rustKeywords = map[string]bool{
	"as": true, "break": true, "const": true, "continue": true, "crate": true, "else": true,
	"enum": true, "fn": true, "for": true, "if": true, "impl": true, "in": true, "let": true,
	"loop": true, "match": true, "mod": true, "move": true, "mut": true, "pub": true,
	"ref": true, "return": true, "self": true, "static": true, "struct": true, "super": true,
	"trait": true, "type": true, "use": true, "where": true, "while": true,
}

// FileName is the module written for md.
func FileName(md *meta.Metadata) string { return md.Ident + "_layout.rs" }

// GenerateModule writes the Rust module for md into dir.
func GenerateModule(logger *slog.Logger, dir string, md *meta.Metadata) error {
	outputFile := filepath.Join(dir, FileName(md))
	logger.Debug("Generating Rust module", "file", outputFile)

	controls := make([]rustControl, len(md.Controls))
	for i, c := range md.Controls {
		rc := rustControl{Control: c, Getter: c.Ident, Setter: "set_" + c.Ident}
		if rustKeywords[c.Ident] {
			rc.Getter = "r#" + c.Ident
		}
		controls[i] = rc
	}
	name := common.ToPascalCase(md.Ident)
	if name == "" || strings.ContainsAny(name[:1], "0123456789") {
		name = "Port" + name
	}
	data := layoutData{Metadata: md, StructName: name + "State", Controls: controls}

	f, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("create %s: %w", FileName(md), err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("execute module template: %w", err)
	}

	logger.Info("Generated Rust module", "file", outputFile)
	return nil
}
