package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/jary/gowrap"
	"github.com/chazu/jary/vm"
)

func TestWriteModule(t *testing.T) {
	dir := t.TempDir()
	model := &gowrap.PackageModel{
		ImportPath: "strings",
		Name:       "strings",
		Module:     "strings",
		Functions: []gowrap.FunctionModel{{
			Name:     "ToLower",
			RuleName: "to_lower",
			Params:   []gowrap.ParamModel{{GoType: "string", Kind: vm.KindString}},
			Result:   gowrap.ParamModel{GoType: "string", Kind: vm.KindString},
		}},
	}
	if err := writeModule(model, dir, false); err != nil {
		t.Fatal(err)
	}
	code, err := os.ReadFile(filepath.Join(dir, "strings", "module.go"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(code), "strings.ToLower(p0)") {
		t.Errorf("module does not call strings.ToLower:\n%s", code)
	}
}

func TestWriteModuleWithoutFunctions(t *testing.T) {
	model := &gowrap.PackageModel{ImportPath: "unsafe", Name: "unsafe", Module: "unsafe"}
	if err := writeModule(model, t.TempDir(), false); err == nil {
		t.Error("expected an error for a module without functions")
	}
}
