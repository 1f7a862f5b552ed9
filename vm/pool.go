package vm

import (
	"bytes"
	"fmt"

	"github.com/chazu/jary/arena"
)

// ConstantPool is an append-only sequence of (Value, Kind) pairs with stable
// integer ids. Interning a value structurally equal to an existing entry of
// the same kind returns the existing id.
type ConstantPool struct {
	heap   *arena.Heap
	values []Value
	kinds  []Kind
	index  map[poolKey][]int
}

// poolKey buckets entries: scalars by payload, strings by content hash,
// other objects by offset.
type poolKey struct {
	kind Kind
	sum  uint64
}

// NewConstantPool creates an empty pool whose object entries live in heap.
func NewConstantPool(heap *arena.Heap) *ConstantPool {
	return &ConstantPool{heap: heap, index: make(map[poolKey][]int)}
}

// Heap returns the heap holding the pool's objects.
func (p *ConstantPool) Heap() *arena.Heap {
	return p.heap
}

// Len returns the number of entries.
func (p *ConstantPool) Len() int {
	return len(p.values)
}

// At returns entry id.
func (p *ConstantPool) At(id int) (Value, Kind) {
	return p.values[id], p.kinds[id]
}

// Values returns the value column. The slice aliases the pool.
func (p *ConstantPool) Values() []Value {
	return p.values
}

// Kinds returns the kind column. The slice aliases the pool.
func (p *ConstantPool) Kinds() []Kind {
	return p.kinds
}

// Intern inserts (v, k) unless an equal entry exists, and returns its id.
// For string and regexp kinds v must reference a string object in the
// pool's heap; equality then compares hash, length and content.
func (p *ConstantPool) Intern(v Value, k Kind) (int, error) {
	key, content, err := p.key(v, k)
	if err != nil {
		return 0, err
	}
	if id, ok := p.find(key, v, content, isText(k)); ok {
		return id, nil
	}
	return p.add(key, v, k), nil
}

// InternLong interns a long constant.
func (p *ConstantPool) InternLong(n int64) (int, error) {
	return p.Intern(FromLong(n), KindLong)
}

// InternBool interns a bool constant.
func (p *ConstantPool) InternBool(b bool) (int, error) {
	return p.Intern(FromBool(b), KindBool)
}

// InternString interns a string constant, allocating a heap object only when
// no equal string is already pooled.
func (p *ConstantPool) InternString(s string) (int, error) {
	return p.internText(s, KindString)
}

// InternRegexp interns a regexp pattern. Patterns are compared as text.
func (p *ConstantPool) InternRegexp(pattern string) (int, error) {
	return p.internText(pattern, KindRegexp)
}

func (p *ConstantPool) internText(s string, k Kind) (int, error) {
	key := poolKey{kind: k, sum: uint64(Hash(s))}
	if id, ok := p.find(key, 0, []byte(s), true); ok {
		return id, nil
	}
	off, err := NewString(p.heap, s)
	if err != nil {
		return 0, fmt.Errorf("pool: %s constant: %w", k, err)
	}
	return p.add(key, FromOffset(off), k), nil
}

func (p *ConstantPool) key(v Value, k Kind) (poolKey, []byte, error) {
	switch {
	case isText(k):
		h, b, err := StringView(p.heap, v.Offset())
		if err != nil {
			return poolKey{}, nil, fmt.Errorf("pool: %s constant: %w", k, err)
		}
		return poolKey{kind: k, sum: uint64(h)}, bytes.Clone(b), nil
	default:
		return poolKey{kind: k, sum: uint64(v)}, nil, nil
	}
}

// find searches the bucket for key, comparing text kinds by content and the
// rest by payload.
func (p *ConstantPool) find(key poolKey, v Value, content []byte, text bool) (int, bool) {
	for _, id := range p.index[key] {
		if !text {
			if p.values[id] == v {
				return id, true
			}
			continue
		}
		_, b, err := StringView(p.heap, p.values[id].Offset())
		if err == nil && bytes.Equal(b, content) {
			return id, true
		}
	}
	return 0, false
}

func isText(k Kind) bool {
	return k == KindString || k == KindRegexp
}

func (p *ConstantPool) add(key poolKey, v Value, k Kind) int {
	id := len(p.values)
	p.values = append(p.values, v)
	p.kinds = append(p.kinds, k)
	p.index[key] = append(p.index[key], id)
	return id
}

// Restore appends pre-existing entries, as read from a program image. Their
// heap objects must already be present in the pool's heap.
func (p *ConstantPool) Restore(values []Value, kinds []Kind) error {
	if len(values) != len(kinds) {
		return fmt.Errorf("pool: %d values for %d kinds", len(values), len(kinds))
	}
	for i, v := range values {
		key, _, err := p.key(v, kinds[i])
		if err != nil {
			return fmt.Errorf("pool entry %d: %w", i, err)
		}
		p.add(key, v, kinds[i])
	}
	return nil
}
