// Package common holds naming helpers shared by the binding generators.
package common

import (
	"strings"
	"unicode"
)

// words splits an identifier-ish string on case changes, digits boundaries
// and non-alphanumerics.
func words(s string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	rs := []rune(s)
	for i, r := range rs {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
			continue
		case unicode.IsUpper(r) && len(cur) > 0:
			prev := cur[len(cur)-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return out
}

// ToSnakeCase converts "LeftStickX" to "left_stick_x".
func ToSnakeCase(s string) string {
	ws := words(s)
	for i, w := range ws {
		ws[i] = strings.ToLower(w)
	}
	return strings.Join(ws, "_")
}

// ToUpperSnake converts "LeftStickX" to "LEFT_STICK_X".
func ToUpperSnake(s string) string {
	return strings.ToUpper(ToSnakeCase(s))
}

// ToPascalCase converts "left stick x" to "LeftStickX".
func ToPascalCase(s string) string {
	var sb strings.Builder
	for _, w := range words(s) {
		r := []rune(w)
		sb.WriteRune(unicode.ToUpper(r[0]))
		sb.WriteString(strings.ToLower(string(r[1:])))
	}
	return sb.String()
}

// Identifier makes s usable as a C or Rust identifier, prefixing an
// underscore when it would start with a digit and falling back to fallback
// when nothing usable is left.
func Identifier(s, fallback string) string {
	if s == "" {
		return fallback
	}
	if unicode.IsDigit([]rune(s)[0]) {
		return "_" + s
	}
	return s
}
