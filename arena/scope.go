package arena

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Scope: reverse-order finalizer chain
// ---------------------------------------------------------------------------

// Finalizer releases one resource held by a Scope.
type Finalizer func() error

type link struct {
	buf    []byte
	expire Finalizer
}

// Scope owns everything acquired through it until Release is called.
// Acquisitions are chained in order; Release runs their finalizers from the
// most recently acquired to the least recently acquired.
//
// A Scope is not safe for concurrent use.
type Scope struct {
	chain    []link
	limit    int
	used     int
	released bool
}

// NewScope creates a scope that may hand out at most limit bytes of buffer
// memory. A limit of Unlimited disables the check.
func NewScope(limit int) *Scope {
	return &Scope{limit: limit}
}

// Alloc returns a zeroed buffer of n bytes owned by the scope.
func (s *Scope) Alloc(n int) ([]byte, error) {
	return s.AllocFunc(n, nil)
}

// AllocFunc returns a zeroed buffer of n bytes and chains expire to run when
// the scope is released. On failure nothing is chained.
func (s *Scope) AllocFunc(n int, expire func([]byte) error) ([]byte, error) {
	if s.released {
		return nil, fmt.Errorf("arena: alloc on released scope")
	}
	if n < 0 {
		return nil, fmt.Errorf("arena: negative allocation %d", n)
	}
	if s.limit != Unlimited && s.used+n > s.limit {
		return nil, ErrOutOfMemory
	}

	buf := make([]byte, n)
	l := link{buf: buf}
	if expire != nil {
		l.expire = func() error { return expire(buf) }
	}
	s.chain = append(s.chain, l)
	s.used += n
	return buf, nil
}

// Defer chains a finalizer for a resource acquired elsewhere (a file, a
// module handle). It runs before every finalizer chained earlier.
func (s *Scope) Defer(expire Finalizer) {
	if expire == nil {
		return
	}
	if s.released {
		// Nothing will ever release it otherwise.
		_ = expire()
		return
	}
	s.chain = append(s.chain, link{expire: expire})
}

// Sprintf formats into a scope-owned buffer and returns it as a string.
func (s *Scope) Sprintf(format string, args ...any) (string, error) {
	str := fmt.Sprintf(format, args...)
	buf, err := s.Alloc(len(str))
	if err != nil {
		return "", err
	}
	copy(buf, str)
	return string(buf), nil
}

// Len returns the number of live links in the chain.
func (s *Scope) Len() int {
	return len(s.chain)
}

// Used returns the number of buffer bytes currently charged to the scope.
func (s *Scope) Used() int {
	return s.used
}

// Release runs every finalizer, newest first, and drops all buffers. All
// finalizers run even if some fail; their errors are joined. Calling Release
// again is a no-op.
func (s *Scope) Release() error {
	if s.released {
		return nil
	}
	s.released = true

	var errs []error
	for i := len(s.chain) - 1; i >= 0; i-- {
		if fin := s.chain[i].expire; fin != nil {
			if err := fin(); err != nil {
				errs = append(errs, err)
			}
		}
		s.chain[i] = link{}
	}
	s.chain = nil
	s.used = 0
	return errors.Join(errs...)
}
