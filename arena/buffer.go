package arena

// ---------------------------------------------------------------------------
// Buffer: geometric-growth byte buffer
// ---------------------------------------------------------------------------

// Buffer accumulates bytes with geometric growth and no per-entry metadata.
type Buffer struct {
	buf   []byte
	limit int
}

// NewBuffer creates a buffer with the given initial capacity and byte limit.
func NewBuffer(capacity, limit int) *Buffer {
	if limit != Unlimited && capacity > limit {
		capacity = limit
	}
	return &Buffer{buf: make([]byte, 0, capacity), limit: limit}
}

// Alloc extends the buffer by n zeroed bytes and returns them for writing.
// The returned slice is only valid until the next growth.
func (b *Buffer) Alloc(n int) ([]byte, error) {
	if err := b.Reserve(n); err != nil {
		return nil, err
	}
	start := len(b.buf)
	b.buf = b.buf[:start+n]
	clear(b.buf[start:])
	return b.buf[start:], nil
}

// Reserve makes room for n more bytes without changing the length.
func (b *Buffer) Reserve(n int) error {
	need := len(b.buf) + n
	if b.limit != Unlimited && need > b.limit {
		return ErrOutOfMemory
	}
	if need <= cap(b.buf) {
		return nil
	}
	capacity := grow(cap(b.buf), need)
	if b.limit != Unlimited && capacity > b.limit {
		capacity = b.limit
	}
	next := make([]byte, len(b.buf), capacity)
	copy(next, b.buf)
	b.buf = next
	return nil
}

// Append copies p onto the end of the buffer.
func (b *Buffer) Append(p ...byte) error {
	dst, err := b.Alloc(len(p))
	if err != nil {
		return err
	}
	copy(dst, p)
	return nil
}

// Bytes returns the accumulated bytes. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

// Len returns the number of bytes accumulated.
func (b *Buffer) Len() int {
	return len(b.buf)
}

// Reset empties the buffer, keeping its capacity.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
}
