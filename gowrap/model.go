// Package gowrap generates native rule modules from Go packages. Every
// exported function whose parameters and result map onto rule kinds becomes
// a module function; the generated source builds as a Go plugin.
package gowrap

import "github.com/chazu/jary/vm"

// PackageModel is the wrappable API of a Go package.
type PackageModel struct {
	ImportPath string
	Name       string // Go package name (e.g., "strings")
	Module     string // rule module name (e.g., "strings")
	Functions  []FunctionModel
	Skipped    []Skipped
}

// FunctionModel is an exported function callable from rules.
type FunctionModel struct {
	Name       string // Go name (e.g., "HasPrefix")
	RuleName   string // name in rules (e.g., "has_prefix")
	Params     []ParamModel
	Result     ParamModel
	ReturnsErr bool // true if a trailing error result follows Result
}

// ParamModel is a parameter or result of a basic Go type.
type ParamModel struct {
	GoType string // e.g., "int64"
	Kind   vm.Kind
}

// Skipped records an exported function that cannot be wrapped.
type Skipped struct {
	Name   string
	Reason string
}
