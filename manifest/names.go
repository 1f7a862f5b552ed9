package manifest

import (
	"fmt"

	"github.com/chazu/jary/compiler"
)

// ValidModuleName reports whether name can appear in an import
// declaration: an identifier that is not a keyword.
func ValidModuleName(name string) error {
	if name == "" {
		return fmt.Errorf("empty module name")
	}
	for i, r := range name {
		letter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		digit := r >= '0' && r <= '9'
		if !letter && !(digit && i > 0) {
			return fmt.Errorf("module name %q is not an identifier", name)
		}
	}
	for _, kw := range compiler.Keywords() {
		if kw == name {
			return fmt.Errorf("module name %q is a keyword", name)
		}
	}
	return nil
}
