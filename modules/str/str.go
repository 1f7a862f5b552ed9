// Command str is a native rule module providing string functions. Build it
// with
//
//	go build -buildmode=plugin -o str.so ./modules/str
//
// and load it with jary -module ./str.
package main

import (
	"strings"

	"github.com/chazu/jary/arena"
	"github.com/chazu/jary/module"
	"github.com/chazu/jary/vm"
)

type function struct {
	name   string
	ret    vm.Kind
	params []vm.Kind
	fn     vm.NativeFunc
}

var functions = []function{
	{"len", vm.KindLong, []vm.Kind{vm.KindString}, length},
	{"contains", vm.KindBool, []vm.Kind{vm.KindString, vm.KindString}, contains},
	{"prefix", vm.KindBool, []vm.Kind{vm.KindString, vm.KindString}, prefix},
	{"lower", vm.KindString, []vm.Kind{vm.KindString}, lower},
}

// ModuleLoad registers every function of the module.
func ModuleLoad(ctx *module.Context) int32 {
	for _, f := range functions {
		if status := module.DefineFunction(ctx, f.name, f.ret, f.params, f.fn); status != 0 {
			return status
		}
	}
	return 0
}

// ModuleUnload has nothing to release.
func ModuleUnload(ctx *module.Context) int32 {
	return 0
}

func strings2(heap *arena.Heap, args []vm.Value) (string, string, error) {
	a, err := vm.StringAt(heap, args[0].Offset())
	if err != nil {
		return "", "", err
	}
	b, err := vm.StringAt(heap, args[1].Offset())
	return a, b, err
}

func length(heap *arena.Heap, args []vm.Value) (vm.Value, error) {
	s, err := vm.StringAt(heap, args[0].Offset())
	if err != nil {
		return 0, err
	}
	return vm.FromLong(int64(len(s))), nil
}

func contains(heap *arena.Heap, args []vm.Value) (vm.Value, error) {
	s, sub, err := strings2(heap, args)
	if err != nil {
		return 0, err
	}
	return vm.FromBool(strings.Contains(s, sub)), nil
}

func prefix(heap *arena.Heap, args []vm.Value) (vm.Value, error) {
	s, p, err := strings2(heap, args)
	if err != nil {
		return 0, err
	}
	return vm.FromBool(strings.HasPrefix(s, p)), nil
}

func lower(heap *arena.Heap, args []vm.Value) (vm.Value, error) {
	s, err := vm.StringAt(heap, args[0].Offset())
	if err != nil {
		return 0, err
	}
	off, err := vm.NewString(heap, strings.ToLower(s))
	if err != nil {
		return 0, err
	}
	return vm.FromOffset(off), nil
}

func main() {}
