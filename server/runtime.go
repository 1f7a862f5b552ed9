package server

import (
	"time"

	"github.com/chazu/jary/arena"
	"github.com/chazu/jary/compiler"
	"github.com/chazu/jary/module"
	"github.com/chazu/jary/store"
	"github.com/chazu/jary/vm"
	"github.com/chazu/jary/vm/dist"
)

// Limits bound every compile and evaluation. Zero fields keep the package
// defaults.
type Limits struct {
	Heap         int
	Code         int
	Stack        int
	Steps        int
	MatchTimeout time.Duration
}

// Runtime is the environment shared by all requests: the functions of the
// loaded native modules, the limits and the optional program cache. Modules
// must be loaded before the runtime is shared.
type Runtime struct {
	Modules *module.Context
	Limits  Limits
	Cache   *store.Cache
}

// NewRuntime creates a runtime without modules.
func NewRuntime() *Runtime {
	return &Runtime{Modules: module.NewContext(arena.NewHeap(arena.Unlimited))}
}

func (rt *Runtime) heapLimit() int {
	if rt.Limits.Heap <= 0 {
		return arena.Unlimited
	}
	return rt.Limits.Heap
}

// CompilerOptions returns the options every compile uses.
func (rt *Runtime) CompilerOptions() []compiler.Option {
	opts := []compiler.Option{compiler.WithHeapLimit(rt.heapLimit())}
	if rt.Limits.Code > 0 {
		opts = append(opts, compiler.WithCodeLimit(rt.Limits.Code))
	}
	if rt.Modules != nil {
		opts = append(opts, compiler.WithFunctions(rt.Modules.Defs, rt.Modules.Heap, rt.Modules.Natives))
	}
	return opts
}

// InterpreterOptions returns the options every evaluation uses.
func (rt *Runtime) InterpreterOptions() []vm.Option {
	var opts []vm.Option
	if rt.Limits.Stack > 0 {
		opts = append(opts, vm.WithStackLimit(rt.Limits.Stack))
	}
	if rt.Limits.Steps > 0 {
		opts = append(opts, vm.WithStepLimit(rt.Limits.Steps))
	}
	if rt.Limits.MatchTimeout > 0 {
		opts = append(opts, vm.WithMatchTimeout(rt.Limits.MatchTimeout))
	}
	return opts
}

// Compile compiles src into an image, through the cache when there is one.
func (rt *Runtime) Compile(name, src string) (img *dist.Image, cached bool, err error) {
	if rt.Cache != nil {
		return rt.Cache.Compile(name, src, rt.CompilerOptions()...)
	}
	prog, err := compiler.CompileSource(name, src, rt.CompilerOptions()...)
	if err != nil {
		return nil, false, err
	}
	img, err = dist.FromProgram(prog)
	return img, false, err
}

// Program rebuilds a runnable program from img against the loaded modules.
func (rt *Runtime) Program(img *dist.Image) (*vm.Program, error) {
	var natives *vm.NativeTable
	if rt.Modules != nil {
		natives = rt.Modules.Natives
	}
	return img.Program(rt.heapLimit(), natives)
}

// Evaluate runs the rules of img: all of them, or only the named one.
func (rt *Runtime) Evaluate(img *dist.Image, rule string) ([]vm.Result, error) {
	prog, err := rt.Program(img)
	if err != nil {
		return nil, err
	}
	if rule == "" {
		return prog.Match(rt.InterpreterOptions()...)
	}
	matched, err := prog.MatchRule(rule, rt.InterpreterOptions()...)
	if err != nil {
		return nil, err
	}
	return []vm.Result{{Rule: rule, Matched: matched}}, nil
}
