package gowrap

import (
	"path"
	"strings"
	"unicode"

	"github.com/chazu/jary/compiler"
)

// ModuleName converts a Go import path to a rule module name.
// e.g., "strings" → "strings", "net/url" → "url", "gopkg.in/yaml.v3" → "yaml_v3"
func ModuleName(importPath string) string {
	return identifier(strings.ToLower(path.Base(importPath)))
}

// RuleName converts a Go function name to snake case.
// e.g., "HasPrefix" → "has_prefix", "HTMLEscapeString" → "html_escape_string"
func RuleName(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return identifier(b.String())
}

// identifier replaces characters rules do not allow in names and steers
// clear of keywords.
func identifier(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '_' || (r < unicode.MaxASCII && unicode.IsLetter(r)):
			b.WriteRune(r)
		case r < unicode.MaxASCII && unicode.IsDigit(r):
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	for _, kw := range compiler.Keywords() {
		if out == kw {
			return out + "_"
		}
	}
	return out
}
