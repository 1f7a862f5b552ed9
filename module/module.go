// Package module loads native rule modules. A module is a shared library
// exporting
//
//	func ModuleLoad(*module.Context) int32
//	func ModuleUnload(*module.Context) int32
//
// ModuleLoad registers functions with DefineFunction. Both return 0 on
// success or a status code built with ToError.
package module

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/chazu/jary/arena"
	"github.com/chazu/jary/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("jary.module")

// Symbol names looked up in every module.
const (
	LoadSymbol   = "ModuleLoad"
	UnloadSymbol = "ModuleUnload"
)

// HandleKey is the definition under which a loaded module's handle lives.
const HandleKey = "__handle__"

// ErrClosed is returned by Load after Close.
var ErrClosed = errors.New("module: loader closed")

// loadMu serializes loads and unloads: the OS loader and the dynamic error
// message are process-wide.
var loadMu sync.Mutex

// Context is the state a module populates while loading.
type Context struct {
	Defs    *vm.Defs
	Heap    *arena.Heap
	Natives *vm.NativeTable
}

// NewContext creates a context with empty tables over heap.
func NewContext(heap *arena.Heap) *Context {
	return &Context{Defs: vm.NewDefs(), Heap: heap, Natives: vm.NewNativeTable()}
}

// Library is an opened shared library.
type Library interface {
	Lookup(symbol string) (any, error)
}

// Opener opens shared libraries by path.
type Opener interface {
	Open(path string) (Library, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) (Library, error)

func (f OpenerFunc) Open(path string) (Library, error) { return f(path) }

// Suffix returns the shared library suffix for the running platform.
func Suffix() string {
	switch runtime.GOOS {
	case "darwin":
		return ".dylib"
	case "windows":
		return ".dll"
	default:
		return ".so"
	}
}

// Loader opens modules and tracks their handles. Handles are stored in the
// module's definitions as indexes into the loader.
type Loader struct {
	opener  Opener
	suffix  string
	handles []Library
	names   []string
	scope   *arena.Scope
	closed  bool // guarded by loadMu
}

// Option configures a Loader.
type Option func(*Loader)

// WithOpener replaces the default plugin opener.
func WithOpener(o Opener) Option {
	return func(l *Loader) { l.opener = o }
}

// WithSuffix replaces the platform library suffix.
func WithSuffix(s string) Option {
	return func(l *Loader) { l.suffix = s }
}

// NewLoader creates a loader using Go plugins unless configured otherwise.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		opener: pluginOpener{},
		suffix: Suffix(),
		scope:  arena.NewScope(arena.Unlimited),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Resolve appends the library suffix to path unless it is already there.
func (l *Loader) Resolve(path string) string {
	if strings.HasSuffix(path, l.suffix) {
		return path
	}
	return path + l.suffix
}

// Load opens the module at path and runs its ModuleLoad against ctx.
func (l *Loader) Load(path string, ctx *Context) error {
	loadMu.Lock()
	defer loadMu.Unlock()

	name := filepath.Base(path)
	if l.closed {
		return newError(MsgUnknown, name, ErrClosed)
	}
	lib, err := l.opener.Open(l.Resolve(path))
	if err != nil {
		setDynamic(err.Error())
		return newError(MsgDynamic, name, err)
	}

	sym, err := lib.Lookup(LoadSymbol)
	if err != nil {
		return newError(MsgInvalidModule, name, err)
	}
	load, ok := entryPoint(sym)
	if !ok {
		return newError(MsgInvalidModule, name, fmt.Errorf("%s has type %T", LoadSymbol, sym))
	}

	handle := len(l.handles)
	if err := ctx.Defs.Define(HandleKey, vm.Value(handle), vm.KindHandle); err != nil {
		return newError(MsgUnknown, name, err)
	}
	l.handles = append(l.handles, lib)
	l.names = append(l.names, name)
	l.scope.Defer(func() error { return l.Unload(ctx) })

	if status := load(ctx); status != 0 {
		return newError(MsgLoadFailed, name, fmt.Errorf("%s returned %s", LoadSymbol, Message(status)))
	}
	log.Infof("loaded module %s: %d definitions", name, ctx.Defs.Len())
	return nil
}

// Import loads the module at path into a context of its own that shares
// into's heap and natives, then binds each definition in into.Defs twice:
// as name.def, and as plain def unless an earlier import took that name.
// It returns the module's own context.
func (l *Loader) Import(name, path string, into *Context) (*Context, error) {
	ctx := &Context{Defs: vm.NewDefs(), Heap: into.Heap, Natives: into.Natives}
	if err := l.Load(path, ctx); err != nil {
		return nil, err
	}
	for _, n := range ctx.Defs.Names().All() {
		if n.Text == HandleKey {
			continue
		}
		v, k, _ := ctx.Defs.Find(n.Text)
		if err := into.Defs.Define(name+"."+n.Text, v, k); err != nil {
			return nil, newError(MsgLoadFailed, name, err)
		}
		if _, _, taken := into.Defs.Find(n.Text); taken {
			log.Warningf("module %s: %s already defined, use %s.%s", name, n.Text, name, n.Text)
			continue
		}
		if err := into.Defs.Define(n.Text, v, k); err != nil {
			return nil, newError(MsgLoadFailed, name, err)
		}
	}
	return ctx, nil
}

// Unload runs the module's ModuleUnload, if it has one, and drops its
// handle. Unloading twice is a no-op.
func (l *Loader) Unload(ctx *Context) error {
	loadMu.Lock()
	defer loadMu.Unlock()

	v, k, ok := ctx.Defs.Find(HandleKey)
	if !ok || k != vm.KindHandle || int(v) >= len(l.handles) {
		return newError(MsgUnknown, "?", errors.New("no module loaded into these definitions"))
	}
	lib := l.handles[v]
	if lib == nil {
		return nil
	}
	l.handles[v] = nil
	log.Infof("unloading module %s", l.names[v])

	sym, err := lib.Lookup(UnloadSymbol)
	if err != nil {
		log.Debugf("module %s has no %s: %s", l.names[v], UnloadSymbol, err)
		return nil
	}
	unload, ok := entryPoint(sym)
	if !ok {
		log.Debugf("module %s: %s has type %T, skipped", l.names[v], UnloadSymbol, sym)
		return nil
	}
	if status := unload(ctx); status != 0 {
		return &Error{Code: status, Msg: Message(status), Module: l.names[v], Err: fmt.Errorf("%s failed", UnloadSymbol)}
	}
	return nil
}

// Close unloads every module still loaded, newest first. Later loads fail
// with ErrClosed.
func (l *Loader) Close() error {
	loadMu.Lock()
	l.closed = true
	loadMu.Unlock()
	return l.scope.Release()
}

// entryPoint accepts an exported function or a pointer to a function
// variable.
func entryPoint(sym any) (func(*Context) int32, bool) {
	switch fn := sym.(type) {
	case func(*Context) int32:
		return fn, true
	case *func(*Context) int32:
		if fn != nil && *fn != nil {
			return *fn, true
		}
	}
	return nil, false
}

// DefineFunction allocates a descriptor for fn in ctx.Heap, records fn in
// ctx.Natives and binds name to it in ctx.Defs. It returns 0 or a status
// code, so modules can return its result from ModuleLoad.
func DefineFunction(ctx *Context, name string, ret vm.Kind, params []vm.Kind, fn vm.NativeFunc) int32 {
	if ctx == nil || ctx.Defs == nil || ctx.Heap == nil || ctx.Natives == nil || fn == nil {
		return ToError(MsgUnknown)
	}
	if _, _, exists := ctx.Defs.Find(name); exists {
		return ToError(MsgUnknown)
	}
	native := ctx.Natives.Register(name, fn)
	off, err := vm.NewFunc(ctx.Heap, vm.FuncDesc{Ret: ret, Params: params, Native: native})
	if err != nil {
		log.Warningf("define %s: %s", name, err)
		return ToError(MsgUnknown)
	}
	if err := ctx.Defs.Define(name, vm.FromOffset(off), vm.KindFunc); err != nil {
		return ToError(MsgUnknown)
	}
	return 0
}
