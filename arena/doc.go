// Package arena provides the three allocation disciplines shared by the
// compiler and the virtual machine.
//
//   - Scope: a chain of acquired buffers and finalizers that is released as a
//     unit, newest first. Resources acquired later may reference earlier ones,
//     so they are always torn down before them.
//
//   - Heap: a single growable region addressed by offset. Objects are never
//     referenced by address, so growing (and relocating) the backing buffer
//     never invalidates an offset handed out earlier.
//
//   - Buffer: a geometric-growth byte buffer for transient accumulation such as
//     a bytecode chunk under construction.
//
// Every allocator accepts an optional byte limit. Exceeding it returns
// ErrOutOfMemory rather than aborting, and the allocator is left exactly as it
// was before the failed call.
package arena

import "errors"

// ErrOutOfMemory is returned when an allocation would exceed the allocator's
// configured limit.
var ErrOutOfMemory = errors.New("arena: out of memory")

// ErrBadOffset is returned when an offset does not name a live heap object.
var ErrBadOffset = errors.New("arena: offset does not name an object")

// ErrNotLast is returned when Extend targets an object other than the most
// recently allocated one.
var ErrNotLast = errors.New("arena: only the most recent object can be extended")

// Unlimited disables the byte limit of an allocator.
const Unlimited = 0

// grow returns a capacity of at least need, following the (cap+n)*2 growth
// step used by every allocator in this package.
func grow(capacity, need int) int {
	next := capacity * 2
	if next < need {
		next = need * 2
	}
	return next
}
