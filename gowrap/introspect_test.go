package gowrap

import (
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/jary/vm"
)

const demoSource = `package demo

type Celsius int

func Double(n int) int { return 2 * n }
func HasSuffix(s, suffix string) bool { return false }
func Parse(s string) (int64, error) { return 0, nil }
func Repeat(s string, n uint8) string { return s }
func Sum(ns ...int) int { return 0 }
func Ratio(a, b float64) float64 { return 0 }
func Warm(c Celsius) bool { return c > 20 }
func Pair() (int, int) { return 0, 0 }
func Nothing() {}
func Map[T any](v T) T { return v }
func private(n int) int { return n }
`

func checkDemo(t *testing.T) *types.Package {
	t.Helper()
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "demo.go", demoSource, 0)
	if err != nil {
		t.Fatal(err)
	}
	pkg, err := (&types.Config{}).Check("example.com/demo", fset, []*ast.File{file}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return pkg
}

func TestFromTypes(t *testing.T) {
	model := FromTypes("example.com/demo", checkDemo(t), nil)

	if model.Name != "demo" || model.Module != "demo" {
		t.Errorf("names = %q, %q", model.Name, model.Module)
	}

	long := func(goType string) ParamModel { return ParamModel{GoType: goType, Kind: vm.KindLong} }
	str := ParamModel{GoType: "string", Kind: vm.KindString}
	want := []FunctionModel{
		{Name: "Double", RuleName: "double", Params: []ParamModel{long("int")}, Result: long("int")},
		{Name: "HasSuffix", RuleName: "has_suffix", Params: []ParamModel{str, str}, Result: ParamModel{GoType: "bool", Kind: vm.KindBool}},
		{Name: "Parse", RuleName: "parse", Params: []ParamModel{str}, Result: long("int64"), ReturnsErr: true},
		{Name: "Repeat", RuleName: "repeat", Params: []ParamModel{str, long("uint8")}, Result: str},
	}
	if diff := cmp.Diff(want, model.Functions); diff != "" {
		t.Errorf("functions (-want +got):\n%s", diff)
	}

	skipped := make(map[string]bool)
	for _, s := range model.Skipped {
		skipped[s.Name] = true
		if s.Reason == "" {
			t.Errorf("%s skipped without a reason", s.Name)
		}
	}
	for _, name := range []string{"Sum", "Ratio", "Warm", "Pair", "Nothing", "Map"} {
		if !skipped[name] {
			t.Errorf("%s was not skipped", name)
		}
	}
	if skipped["private"] {
		t.Error("unexported function was considered")
	}
}

func TestFromTypes_WithFilter(t *testing.T) {
	model := FromTypes("example.com/demo", checkDemo(t), map[string]bool{"Double": true, "Sum": true})
	if len(model.Functions) != 1 || model.Functions[0].Name != "Double" {
		t.Errorf("functions = %+v, want Double only", model.Functions)
	}
	if len(model.Skipped) != 1 || model.Skipped[0].Name != "Sum" {
		t.Errorf("skipped = %+v, want Sum only", model.Skipped)
	}
}

func TestIntrospectPackage_Strings(t *testing.T) {
	if testing.Short() {
		t.Skip("loads packages through the go command")
	}
	model, err := IntrospectPackage("strings", map[string]bool{"HasPrefix": true, "Builder": true})
	if err != nil {
		t.Fatalf("IntrospectPackage(strings): %v", err)
	}
	if model.ImportPath != "strings" || model.Name != "strings" {
		t.Errorf("model = %q %q", model.ImportPath, model.Name)
	}
	if len(model.Functions) != 1 || model.Functions[0].RuleName != "has_prefix" {
		t.Errorf("functions = %+v, want has_prefix", model.Functions)
	}
}

func TestIntrospectPackage_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("loads packages through the go command")
	}
	if _, err := IntrospectPackage("example.invalid/nope", nil); err == nil {
		t.Error("expected an error for a missing package")
	}
}
