package vm

import (
	"fmt"

	"github.com/chazu/jary/arena"
)

// NativeFunc implements a function exported by a native module. Arguments
// arrive in declaration order; object arguments are offsets into heap.
type NativeFunc func(heap *arena.Heap, args []Value) (Value, error)

// NativeTable holds the Go functions referenced by function descriptors.
type NativeTable struct {
	funcs []NativeFunc
	names []string
}

// NewNativeTable creates an empty table.
func NewNativeTable() *NativeTable {
	return &NativeTable{}
}

// Register appends fn and returns the index stored in its descriptor.
func (t *NativeTable) Register(name string, fn NativeFunc) uint32 {
	t.funcs = append(t.funcs, fn)
	t.names = append(t.names, name)
	return uint32(len(t.funcs) - 1)
}

// Len returns the number of registered functions.
func (t *NativeTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.funcs)
}

// Name returns the registration name of function i.
func (t *NativeTable) Name(i uint32) string {
	if t == nil || int(i) >= len(t.names) {
		return ""
	}
	return t.names[i]
}

// Call invokes function i.
func (t *NativeTable) Call(i uint32, heap *arena.Heap, args []Value) (Value, error) {
	if t == nil || int(i) >= len(t.funcs) {
		return 0, fmt.Errorf("no native function #%d", i)
	}
	return t.funcs[i](heap, args)
}
