package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/chazu/jary/arena"
)

// ErrBadObject reports a heap object whose layout does not match its kind.
var ErrBadObject = errors.New("vm: malformed object")

// Hash returns the FNV-1a hash used for strings and names.
func Hash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// ---------------------------------------------------------------------------
// Strings and regexps: [hash u32][bytes]
// ---------------------------------------------------------------------------

const stringHeader = 4

// NewString allocates a string object. Regexp objects share the layout.
func NewString(heap *arena.Heap, s string) (arena.Offset, error) {
	off, err := heap.Alloc(stringHeader + len(s))
	if err != nil {
		return 0, err
	}
	obj, err := heap.Fetch(off)
	if err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint32(obj, Hash(s))
	copy(obj[stringHeader:], s)
	return off, nil
}

// StringView returns the stored hash and a borrowed view of the bytes of the
// string object at off. The view is invalidated by the next heap growth.
func StringView(heap *arena.Heap, off arena.Offset) (uint32, []byte, error) {
	obj, err := heap.Fetch(off)
	if err != nil {
		return 0, nil, err
	}
	if len(obj) < stringHeader {
		return 0, nil, fmt.Errorf("string @%d: %w", off, ErrBadObject)
	}
	return binary.LittleEndian.Uint32(obj), obj[stringHeader:], nil
}

// StringAt copies the string object at off out of the heap.
func StringAt(heap *arena.Heap, off arena.Offset) (string, error) {
	_, b, err := StringView(heap, off)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ---------------------------------------------------------------------------
// Events: [count u32][kinds, padded to 8][values u64...]
// ---------------------------------------------------------------------------

func eventHeader(count int) int {
	return (4 + count + 7) &^ 7
}

// NewEvent allocates an event object whose field i has kind kinds[i] and
// value values[i].
func NewEvent(heap *arena.Heap, kinds []Kind, values []Value) (arena.Offset, error) {
	if len(kinds) != len(values) {
		return 0, fmt.Errorf("event: %d kinds for %d values", len(kinds), len(values))
	}
	hdr := eventHeader(len(kinds))
	off, err := heap.Alloc(hdr + 8*len(values))
	if err != nil {
		return 0, err
	}
	obj, err := heap.Fetch(off)
	if err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint32(obj, uint32(len(kinds)))
	for i, k := range kinds {
		obj[4+i] = byte(k)
	}
	for i, v := range values {
		binary.LittleEndian.PutUint64(obj[hdr+8*i:], uint64(v))
	}
	return off, nil
}

// EventField returns field slot of the event object at off.
func EventField(heap *arena.Heap, off arena.Offset, slot int) (Value, Kind, error) {
	obj, err := heap.Fetch(off)
	if err != nil {
		return 0, KindUnknown, err
	}
	if len(obj) < 4 {
		return 0, KindUnknown, fmt.Errorf("event @%d: %w", off, ErrBadObject)
	}
	count := int(binary.LittleEndian.Uint32(obj))
	hdr := eventHeader(count)
	if len(obj) < hdr+8*count {
		return 0, KindUnknown, fmt.Errorf("event @%d: %w", off, ErrBadObject)
	}
	if slot < 0 || slot >= count {
		return 0, KindUnknown, fmt.Errorf("event @%d: field %d of %d: %w", off, slot, count, ErrBadObject)
	}
	return Value(binary.LittleEndian.Uint64(obj[hdr+8*slot:])), Kind(obj[4+slot]), nil
}

// ---------------------------------------------------------------------------
// Function descriptors: [ret u8][nparams u8][pad u16][native u32][params...]
// ---------------------------------------------------------------------------

const funcHeader = 8

// FuncDesc describes a native function callable through CALL.
type FuncDesc struct {
	Ret    Kind
	Params []Kind
	Native uint32
}

func (f FuncDesc) String() string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.String()
	}
	return fmt.Sprintf("func(%s) %s #%d", strings.Join(params, ", "), f.Ret, f.Native)
}

// NewFunc allocates a function descriptor. The parameter list is appended by
// extending the freshly allocated header in place.
func NewFunc(heap *arena.Heap, fn FuncDesc) (arena.Offset, error) {
	if len(fn.Params) > 0xff {
		return 0, fmt.Errorf("func: %d params: %w", len(fn.Params), ErrBadObject)
	}
	off, err := heap.Alloc(funcHeader)
	if err != nil {
		return 0, err
	}
	if len(fn.Params) > 0 {
		if err := heap.Extend(off, len(fn.Params)); err != nil {
			return 0, err
		}
	}
	obj, err := heap.Fetch(off)
	if err != nil {
		return 0, err
	}
	obj[0] = byte(fn.Ret)
	obj[1] = byte(len(fn.Params))
	binary.LittleEndian.PutUint32(obj[4:], fn.Native)
	for i, p := range fn.Params {
		obj[funcHeader+i] = byte(p)
	}
	return off, nil
}

// FuncAt decodes the function descriptor at off.
func FuncAt(heap *arena.Heap, off arena.Offset) (FuncDesc, error) {
	obj, err := heap.Fetch(off)
	if err != nil {
		return FuncDesc{}, err
	}
	if len(obj) < funcHeader || len(obj) < funcHeader+int(obj[1]) {
		return FuncDesc{}, fmt.Errorf("func @%d: %w", off, ErrBadObject)
	}
	fn := FuncDesc{
		Ret:    Kind(obj[0]),
		Params: make([]Kind, obj[1]),
		Native: binary.LittleEndian.Uint32(obj[4:]),
	}
	for i := range fn.Params {
		fn.Params[i] = Kind(obj[funcHeader+i])
	}
	return fn, nil
}
