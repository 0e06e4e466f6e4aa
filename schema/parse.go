package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pelletier/go-toml"
	"golang.org/x/exp/constraints"
	"gopkg.in/yaml.v3"
)

// Format selects the document syntax of a descriptor.
type Format uint8

const (
	FormatJSON Format = iota
	FormatYAML
	FormatTOML
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	case FormatTOML:
		return "toml"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// FormatFromPath picks a format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return 0, fmt.Errorf("schema: unsupported descriptor extension %q", filepath.Ext(path))
	}
}

// LoadFile reads and parses a port descriptor file.
func LoadFile(path string) (*Port, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	p, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a port descriptor document.
func Parse(data []byte, format Format) (*Port, error) {
	tree, err := decode(data, format)
	if err != nil {
		return nil, err
	}
	return parsePort(tree)
}

func decode(data []byte, format Format) (map[string]any, error) {
	var root any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &root); err != nil {
			return nil, &Error{Msg: "invalid json: " + err.Error()}
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, &Error{Msg: "invalid yaml: " + err.Error()}
		}
	case FormatTOML:
		tree, err := toml.LoadBytes(data)
		if err != nil {
			return nil, &Error{Msg: "invalid toml: " + err.Error()}
		}
		root = tree.ToMap()
	default:
		return nil, &Error{Msg: "unknown format " + format.String()}
	}
	m, ok := root.(map[string]any)
	if !ok {
		return nil, &Error{Msg: fmt.Sprintf("port must be an object, got %s", typeName(root))}
	}
	return m, nil
}

// object wraps one decoded mapping and tracks which keys were consumed so
// unknown fields can be reported.
type object struct {
	path string
	m    map[string]any
	used map[string]bool
}

func newObject(path string, v any) (*object, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errorf(path, "expected object, got %s", typeName(v))
	}
	return &object{path: path, m: m, used: make(map[string]bool, len(m))}, nil
}

func (o *object) field(name string) string {
	if o.path == "" {
		return name
	}
	return o.path + "." + name
}

func (o *object) get(name string) (any, bool) {
	v, ok := o.m[name]
	if ok {
		o.used[name] = true
	}
	return v, ok
}

func (o *object) str(name string, required bool) (string, error) {
	v, ok := o.get(name)
	if !ok {
		if required {
			return "", errorf(o.field(name), "required field missing")
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", errorf(o.field(name), "expected string, got %s", typeName(v))
	}
	return s, nil
}

func (o *object) boolean(name string) (bool, error) {
	v, ok := o.get(name)
	if !ok {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, errorf(o.field(name), "expected bool, got %s", typeName(v))
	}
	return b, nil
}

func (o *object) list(name string) ([]any, error) {
	v, ok := o.get(name)
	if !ok {
		return nil, errorf(o.field(name), "required field missing")
	}
	switch l := v.(type) {
	case []any:
		return l, nil
	case []map[string]any:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, nil
	default:
		return nil, errorf(o.field(name), "expected list, got %s", typeName(v))
	}
}

func (o *object) unknown() error {
	var extra []string
	for k := range o.m {
		if !o.used[k] {
			extra = append(extra, k)
		}
	}
	if len(extra) == 0 {
		return nil
	}
	sort.Strings(extra)
	return errorf(o.path, "unknown field %q", extra[0])
}

func parsePort(m map[string]any) (*Port, error) {
	o := &object{m: m, used: make(map[string]bool, len(m))}
	p := &Port{legal: make(map[int]struct{})}
	var err error
	if p.Name, err = o.str("name", true); err != nil {
		return nil, err
	}
	if p.HName, err = o.str("hname", false); err != nil {
		return nil, err
	}
	if p.HName == "" {
		p.HName = p.Name
	}
	if p.Symbol, err = o.str("symbol", false); err != nil {
		return nil, err
	}
	if p.Symbol == "" {
		r, _ := utf8.DecodeRuneInString(p.Name)
		p.Symbol = string(r)
	}

	legal, err := o.list("legal")
	if err != nil {
		return nil, err
	}
	for i, v := range legal {
		slot, err := intIn[int32](fmt.Sprintf("legal[%d]", i), v)
		if err != nil {
			return nil, err
		}
		if slot < 0 {
			return nil, errorf(fmt.Sprintf("legal[%d]", i), "slot index %d is negative", slot)
		}
		p.legal[int(slot)] = struct{}{}
	}

	controllers, err := o.list("controllers")
	if err != nil {
		return nil, err
	}
	for i, v := range controllers {
		c, err := parseController(fmt.Sprintf("controllers[%d]", i), v)
		if err != nil {
			return nil, err
		}
		p.Controllers = append(p.Controllers, c)
	}
	if err := o.unknown(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func parseController(path string, v any) (Controller, error) {
	var c Controller
	o, err := newObject(path, v)
	if err != nil {
		return c, err
	}
	if c.Class, err = o.str("class", true); err != nil {
		return c, err
	}
	if c.Type, err = o.str("type", true); err != nil {
		return c, err
	}
	buttons, err := o.list("buttons")
	if err != nil {
		return c, err
	}
	for i, bv := range buttons {
		b, err := parseButton(fmt.Sprintf("%s.buttons[%d]", path, i), bv)
		if err != nil {
			return c, err
		}
		c.Buttons = append(c.Buttons, b)
	}
	return c, o.unknown()
}

func parseButton(path string, v any) (Button, error) {
	var b Button
	o, err := newObject(path, v)
	if err != nil {
		return b, err
	}
	typ, err := o.str("type", true)
	if err != nil {
		return b, err
	}
	if b.Kind, err = ParseKind(typ); err != nil {
		return b, errorf(o.field("type"), "%s", err)
	}
	if b.Name, err = o.str("name", b.Kind != KindNull); err != nil {
		return b, err
	}
	if b.Shadow, err = o.boolean("shadow"); err != nil {
		return b, err
	}
	if b.Centers, err = o.boolean("centers"); err != nil {
		return b, err
	}

	b.Symbol, _ = utf8.DecodeRuneInString(b.Name)
	if b.Name == "" {
		b.Symbol = 0
	}
	if sv, ok := o.get("symbol"); ok {
		if b.Symbol, err = symbolValue(o.field("symbol"), sv); err != nil {
			return b, err
		}
	}
	if b.Symbol != 0 {
		b.Macro = string(b.Symbol)
	}
	if macro, err := o.str("macro", false); err != nil {
		return b, err
	} else if macro != "" {
		b.Macro = macro
	}
	if b.Symbol > 0 && b.Symbol < utf8.RuneSelf {
		b.Movie = byte(b.Symbol)
	}
	if movie, err := o.str("movie", false); err != nil {
		return b, err
	} else if movie != "" {
		if len(movie) != 1 {
			return b, errorf(o.field("movie"), "movie symbol %q must be a single character", movie)
		}
		b.Movie = movie[0]
	}

	if b.Kind.IsAxis() {
		if err := parseRange(o, &b); err != nil {
			return b, err
		}
	}
	if err := o.unknown(); err != nil {
		return b, err
	}
	return b, validateButton(path, b)
}

func parseRange(o *object, b *Button) error {
	minV, hasMin := o.get("min")
	maxV, hasMax := o.get("max")
	if !hasMin || !hasMax {
		if !b.Shadow {
			missing := "min"
			if hasMin {
				missing = "max"
			}
			return errorf(o.field(missing), "required field missing")
		}
		b.Min, b.Max = math.MinInt16, math.MaxInt16
	}
	var err error
	if hasMin {
		if b.Min, err = intIn[int16](o.field("min"), minV); err != nil {
			return err
		}
	}
	if hasMax {
		if b.Max, err = intIn[int16](o.field("max"), maxV); err != nil {
			return err
		}
	}
	return nil
}

func symbolValue(path string, v any) (rune, error) {
	if s, ok := v.(string); ok {
		r, size := utf8.DecodeRuneInString(s)
		if size == 0 || r == utf8.RuneError {
			return 0, errorf(path, "symbol %q is not a valid character", s)
		}
		return r, nil
	}
	r, err := intIn[int32](path, v)
	if err != nil {
		return 0, err
	}
	if !utf8.ValidRune(r) {
		return 0, errorf(path, "symbol %d is not a valid code point", r)
	}
	return r, nil
}

// intIn converts any numeric decoder output to T, rejecting fractions and
// values outside T's range.
func intIn[T constraints.Signed](path string, v any) (T, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int64:
		n = x
	case uint64:
		if x > math.MaxInt64 {
			return 0, errorf(path, "value %d out of range", x)
		}
		n = int64(x)
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, errorf(path, "expected integer, got %v", x)
		}
		if x < math.MinInt64 || x >= math.MaxInt64 {
			return 0, errorf(path, "value %v out of range", x)
		}
		n = int64(x)
	default:
		return 0, errorf(path, "expected integer, got %s", typeName(v))
	}
	if int64(T(n)) != n {
		return 0, errorf(path, "value %d out of range", n)
	}
	return T(n), nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int64, uint64, float64:
		return "number"
	case []any, []map[string]any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
