package dist

import "fmt"

// ModulePolicy controls which modules a loaded image may import. A nil
// Allowed set means allow all.
type ModulePolicy struct {
	Allowed map[string]bool // nil = allow all
	Denied  map[string]bool
}

// NewPermissivePolicy creates a policy that allows every module.
func NewPermissivePolicy() *ModulePolicy {
	return &ModulePolicy{}
}

// NewRestrictedPolicy creates a policy that only allows the named modules.
func NewRestrictedPolicy(allowed []string) *ModulePolicy {
	m := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		m[name] = true
	}
	return &ModulePolicy{Allowed: m}
}

// Check verifies that every module img imports is allowed.
func (p *ModulePolicy) Check(img *Image) error {
	if p == nil || img == nil {
		return nil
	}
	for _, name := range img.Imports {
		if p.Denied[name] {
			return fmt.Errorf("dist: module %q is explicitly denied", name)
		}
		if p.Allowed != nil && !p.Allowed[name] {
			return fmt.Errorf("dist: module %q is not allowed", name)
		}
	}
	return nil
}

// Deny adds a module to the deny list.
func (p *ModulePolicy) Deny(name string) {
	if p.Denied == nil {
		p.Denied = make(map[string]bool)
	}
	p.Denied[name] = true
}
