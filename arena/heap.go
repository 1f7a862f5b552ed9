package arena

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Heap: offset-addressed object arena
// ---------------------------------------------------------------------------

// Offset addresses an object in a Heap. The zero Offset never names an
// object.
type Offset uint32

const (
	headerSize = 4 // little-endian uint32 payload size, stored before the payload
	alignment  = 8 // payloads start on 8-byte boundaries
	maxHeap    = 1<<32 - 1
)

// Heap is a single growable memory region. Allocation hands out offsets, not
// slices, so growth may relocate the backing buffer freely: an offset issued
// earlier always resolves to the same object.
//
// Slices returned by Fetch are borrowed views; they must not be retained
// across a call that can grow the heap (Alloc, Extend).
type Heap struct {
	buf         []byte
	objects     []Offset // ordinal -> payload offset, ascending
	limit       int
	relocations int
}

// NewHeap creates an empty heap capped at limit bytes (Unlimited for none).
func NewHeap(limit int) *Heap {
	return &Heap{limit: limit}
}

// Alloc creates a zeroed object of n bytes and returns its offset. The new
// object's ordinal is Len()-1 after the call.
func (h *Heap) Alloc(n int) (Offset, error) {
	if n < 0 {
		return 0, fmt.Errorf("arena: negative allocation %d", n)
	}
	payload := alignUp(len(h.buf) + headerSize)
	end := payload + n
	if err := h.ensure(end); err != nil {
		return 0, err
	}

	from := len(h.buf)
	h.buf = h.buf[:end]
	clear(h.buf[from:end])
	binary.LittleEndian.PutUint32(h.buf[payload-headerSize:], uint32(n))

	off := Offset(payload)
	h.objects = append(h.objects, off)
	return off, nil
}

// Extend grows the object at off by n zeroed bytes. Only the most recently
// allocated object can be extended; its offset does not change.
func (h *Heap) Extend(off Offset, n int) error {
	if n < 0 {
		return fmt.Errorf("arena: negative extension %d", n)
	}
	if len(h.objects) == 0 || h.objects[len(h.objects)-1] != off {
		if _, ok := h.Ordinal(off); !ok {
			return ErrBadOffset
		}
		return ErrNotLast
	}

	size := h.sizeAt(off)
	end := int(off) + size + n
	if err := h.ensure(end); err != nil {
		return err
	}

	from := len(h.buf)
	h.buf = h.buf[:end]
	clear(h.buf[from:end])
	binary.LittleEndian.PutUint32(h.buf[int(off)-headerSize:], uint32(size+n))
	return nil
}

// Fetch resolves an offset to a borrowed view of the object's bytes.
func (h *Heap) Fetch(off Offset) ([]byte, error) {
	if _, ok := h.Ordinal(off); !ok {
		return nil, fmt.Errorf("%w: %d", ErrBadOffset, off)
	}
	start := int(off)
	end := start + h.sizeAt(off)
	return h.buf[start:end:end], nil
}

// Ordinal returns the creation index of the object at off.
func (h *Heap) Ordinal(off Offset) (int, bool) {
	i := sort.Search(len(h.objects), func(i int) bool { return h.objects[i] >= off })
	if i < len(h.objects) && h.objects[i] == off {
		return i, true
	}
	return 0, false
}

// OffsetOf returns the offset of the object with the given ordinal.
func (h *Heap) OffsetOf(ordinal int) (Offset, error) {
	if ordinal < 0 || ordinal >= len(h.objects) {
		return 0, fmt.Errorf("arena: ordinal %d out of range (%d objects)", ordinal, len(h.objects))
	}
	return h.objects[ordinal], nil
}

// Len returns the number of objects allocated.
func (h *Heap) Len() int {
	return len(h.objects)
}

// Size returns the number of bytes in use, headers and padding included.
func (h *Heap) Size() int {
	return len(h.buf)
}

// Relocations reports how many times the backing buffer has been moved.
func (h *Heap) Relocations() int {
	return h.relocations
}

func (h *Heap) sizeAt(off Offset) int {
	return int(binary.LittleEndian.Uint32(h.buf[int(off)-headerSize:]))
}

// ensure makes room for the buffer to reach end bytes, relocating if needed.
func (h *Heap) ensure(end int) error {
	if end > maxHeap || (h.limit != Unlimited && end > h.limit) {
		return ErrOutOfMemory
	}
	if end <= cap(h.buf) {
		return nil
	}
	capacity := grow(cap(h.buf), end)
	if h.limit != Unlimited && capacity > h.limit {
		capacity = h.limit
	}
	next := make([]byte, len(h.buf), capacity)
	copy(next, h.buf)
	if h.buf != nil {
		h.relocations++
	}
	h.buf = next
	return nil
}

func alignUp(n int) int {
	return (n + alignment - 1) &^ (alignment - 1)
}

// ---------------------------------------------------------------------------
// Images
// ---------------------------------------------------------------------------

// Image is a serializable copy of a heap's contents.
type Image struct {
	Data    []byte   `cbor:"1,keyasint"`
	Objects []Offset `cbor:"2,keyasint"`
}

// Image returns a copy of the heap's bytes and object table.
func (h *Heap) Image() Image {
	img := Image{
		Data:    make([]byte, len(h.buf)),
		Objects: make([]Offset, len(h.objects)),
	}
	copy(img.Data, h.buf)
	copy(img.Objects, h.objects)
	return img
}

// FromImage rebuilds a heap from an Image, validating its object table.
func FromImage(img Image, limit int) (*Heap, error) {
	if limit != Unlimited && len(img.Data) > limit {
		return nil, ErrOutOfMemory
	}
	h := &Heap{
		buf:     append([]byte(nil), img.Data...),
		objects: append([]Offset(nil), img.Objects...),
		limit:   limit,
	}
	prev := 0
	for i, off := range h.objects {
		start := int(off)
		if start < prev+headerSize || start > len(h.buf) {
			return nil, fmt.Errorf("arena: image object %d at %d is out of order or out of range", i, off)
		}
		end := start + h.sizeAt(off)
		if end > len(h.buf) {
			return nil, fmt.Errorf("arena: image object %d overruns the heap (%d > %d)", i, end, len(h.buf))
		}
		prev = end
	}
	return h, nil
}
