package vm

import "github.com/chazu/jary/arena"

// DefaultStackLimit bounds the operand stack when no limit is configured.
const DefaultStackLimit = 1 << 16

type slot struct {
	v Value
	k Kind
}

// stack is the operand stack. It grows geometrically up to limit slots.
type stack struct {
	slots []slot
	limit int
}

func (s *stack) push(v Value, k Kind) error {
	if len(s.slots) == cap(s.slots) {
		if s.limit > 0 && len(s.slots) >= s.limit {
			return arena.ErrOutOfMemory
		}
		n := max(2*cap(s.slots), 16)
		if s.limit > 0 {
			n = min(n, s.limit)
		}
		next := make([]slot, len(s.slots), n)
		copy(next, s.slots)
		s.slots = next
	}
	s.slots = append(s.slots, slot{v, k})
	return nil
}

// pop removes the top slot. Popping an empty stack means the bytecode and
// its producer disagree, which is a bug rather than a runtime condition.
func (s *stack) pop() (Value, Kind) {
	n := len(s.slots)
	if n == 0 {
		panic("vm: pop from empty operand stack")
	}
	top := s.slots[n-1]
	s.slots = s.slots[:n-1]
	return top.v, top.k
}

func (s *stack) len() int {
	return len(s.slots)
}

func (s *stack) reset() {
	s.slots = s.slots[:0]
}
