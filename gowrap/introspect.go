package gowrap

import (
	"fmt"
	"go/types"

	"golang.org/x/tools/go/packages"

	"github.com/chazu/jary/vm"
)

// IntrospectPackage loads a Go package by import path and returns its
// wrappable functions. The includeFilter, if non-nil, restricts which
// exported names are considered.
func IntrospectPackage(importPath string, includeFilter map[string]bool) (*PackageModel, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedTypes,
	}

	pkgs, err := packages.Load(cfg, importPath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", importPath, err)
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no packages found for %s", importPath)
	}
	if len(pkgs[0].Errors) > 0 {
		return nil, fmt.Errorf("package errors: %v", pkgs[0].Errors)
	}

	pkg := pkgs[0]
	if pkg.Types == nil {
		return nil, fmt.Errorf("type information not available for %s", importPath)
	}
	return FromTypes(importPath, pkg.Types, includeFilter), nil
}

// FromTypes builds the model of a type-checked package.
func FromTypes(importPath string, pkg *types.Package, includeFilter map[string]bool) *PackageModel {
	model := &PackageModel{
		ImportPath: importPath,
		Name:       pkg.Name(),
		Module:     ModuleName(importPath),
	}

	taken := make(map[string]string)
	scope := pkg.Scope()
	for _, name := range scope.Names() {
		if includeFilter != nil && !includeFilter[name] {
			continue
		}
		fn, ok := scope.Lookup(name).(*types.Func)
		if !ok || !fn.Exported() {
			continue
		}

		fm, reason := extractFunction(fn)
		if reason == "" {
			if other, dup := taken[fm.RuleName]; dup {
				reason = fmt.Sprintf("rule name %s already used by %s", fm.RuleName, other)
			}
		}
		if reason != "" {
			model.Skipped = append(model.Skipped, Skipped{Name: name, Reason: reason})
			continue
		}
		taken[fm.RuleName] = name
		model.Functions = append(model.Functions, fm)
	}
	return model
}

// extractFunction maps fn onto rule kinds, or says why it cannot.
func extractFunction(fn *types.Func) (FunctionModel, string) {
	sig := fn.Type().(*types.Signature)
	fm := FunctionModel{Name: fn.Name(), RuleName: RuleName(fn.Name())}

	if sig.TypeParams().Len() > 0 {
		return fm, "generic"
	}
	if sig.Variadic() {
		return fm, "variadic"
	}
	if sig.Params().Len() > 0xff {
		return fm, "too many parameters"
	}

	params := sig.Params()
	for i := 0; i < params.Len(); i++ {
		p, ok := paramModel(params.At(i).Type())
		if !ok {
			return fm, fmt.Sprintf("parameter %d has type %s", i+1, params.At(i).Type())
		}
		fm.Params = append(fm.Params, p)
	}

	results := sig.Results()
	n := results.Len()
	if n > 0 && isErrorType(results.At(n-1).Type()) {
		fm.ReturnsErr = true
		n--
	}
	if n != 1 {
		return fm, fmt.Sprintf("%d results", n)
	}
	r, ok := paramModel(results.At(0).Type())
	if !ok {
		return fm, fmt.Sprintf("result has type %s", results.At(0).Type())
	}
	fm.Result = r
	return fm, ""
}

// paramModel maps a basic Go type to its rule kind. Named types are not
// wrapped even when their underlying type is basic.
func paramModel(t types.Type) (ParamModel, bool) {
	b, ok := t.(*types.Basic)
	if !ok {
		return ParamModel{}, false
	}
	info := b.Info()
	switch {
	case info&types.IsUntyped != 0:
		return ParamModel{}, false
	case info&types.IsString != 0:
		return ParamModel{GoType: b.Name(), Kind: vm.KindString}, true
	case info&types.IsBoolean != 0:
		return ParamModel{GoType: b.Name(), Kind: vm.KindBool}, true
	case info&types.IsInteger != 0 && b.Kind() != types.Uintptr:
		return ParamModel{GoType: b.Name(), Kind: vm.KindLong}, true
	}
	return ParamModel{}, false
}

func isErrorType(t types.Type) bool {
	return types.Identical(t, types.Universe.Lookup("error").Type())
}
