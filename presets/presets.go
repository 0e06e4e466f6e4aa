// Package presets ships ready-made port descriptors for common controller
// setups.
package presets

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/Alia5/portctrl/schema"
)

//go:embed data
var data embed.FS

// ErrUnknown is returned for a preset name that is not shipped.
var ErrUnknown = errors.New("unknown preset")

// Prefix marks a preset reference where a descriptor path is expected.
const Prefix = "preset:"

// Names lists the shipped presets in sorted order.
func Names() []string {
	entries, err := fs.ReadDir(data, "data")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		names = append(names, strings.TrimSuffix(n, path.Ext(n)))
	}
	slices.Sort(names)
	return names
}

func file(name string) (string, bool) {
	entries, _ := fs.ReadDir(data, "data")
	for _, e := range entries {
		n := e.Name()
		if strings.TrimSuffix(n, path.Ext(n)) == name {
			return path.Join("data", n), true
		}
	}
	return "", false
}

// Load parses the named preset.
func Load(name string) (*schema.Port, error) {
	p, ok := file(name)
	if !ok {
		return nil, fmt.Errorf("%w %q (have %s)", ErrUnknown, name, strings.Join(Names(), ", "))
	}
	format, err := schema.FormatFromPath(p)
	if err != nil {
		return nil, err
	}
	raw, err := data.ReadFile(p)
	if err != nil {
		return nil, err
	}
	port, err := schema.Parse(raw, format)
	if err != nil {
		return nil, fmt.Errorf("preset %s: %w", name, err)
	}
	return port, nil
}

// Must is Load for presets known to exist; it panics otherwise.
func Must(name string) *schema.Port {
	p, err := Load(name)
	if err != nil {
		panic(err)
	}
	return p
}

// Resolve loads ref either as a "preset:<name>" reference or as a
// descriptor file path.
func Resolve(ref string) (*schema.Port, error) {
	if name, ok := strings.CutPrefix(ref, Prefix); ok {
		return Load(name)
	}
	return schema.LoadFile(ref)
}
