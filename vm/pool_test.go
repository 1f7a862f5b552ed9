package vm

import (
	"testing"

	"github.com/chazu/jary/arena"
)

func newTestPool() *ConstantPool {
	return NewConstantPool(arena.NewHeap(arena.Unlimited))
}

func TestInternLongDeduplicates(t *testing.T) {
	p := newTestPool()
	a, err := p.InternLong(5)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.InternLong(5)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("InternLong(5) ids = %d, %d, want equal", a, b)
	}
	if p.Len() != 1 {
		t.Errorf("Len = %d, want 1", p.Len())
	}
	c, _ := p.InternLong(6)
	if c == a {
		t.Errorf("InternLong(6) reused id %d", a)
	}
}

func TestInternKeepsKindsApart(t *testing.T) {
	p := newTestPool()
	long, _ := p.InternLong(1)
	boolean, _ := p.InternBool(true)
	if long == boolean {
		t.Fatalf("long 1 and bool true share id %d", long)
	}
	s, _ := p.InternString("adm")
	re, _ := p.InternRegexp("adm")
	if s == re {
		t.Fatalf("string and regexp with the same text share id %d", s)
	}
	if _, k := p.At(re); k != KindRegexp {
		t.Errorf("kind = %s, want regexp", k)
	}
}

func TestInternStringComparesFullContent(t *testing.T) {
	p := newTestPool()
	heap := p.Heap()

	alpha, _ := p.InternString("alpha")
	apple, _ := p.InternString("apple")
	if alpha == apple {
		t.Fatalf("strings sharing a first character were merged")
	}
	again, _ := p.InternString("alpha")
	if again != alpha {
		t.Errorf("InternString(alpha) = %d, want %d", again, alpha)
	}
	if heap.Len() != 2 {
		t.Errorf("heap objects = %d, want 2 (no allocation for duplicates)", heap.Len())
	}

	empty, err := p.InternString("")
	if err != nil {
		t.Fatal(err)
	}
	if again, _ := p.InternString(""); again != empty {
		t.Errorf("empty string interned twice: %d, %d", empty, again)
	}
}

func TestInternExistingStringObject(t *testing.T) {
	p := newTestPool()
	id, _ := p.InternString("hello")

	off, err := NewString(p.Heap(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Intern(FromOffset(off), KindString)
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Errorf("Intern(copy of hello) = %d, want %d", got, id)
	}
	if p.Len() != 1 {
		t.Errorf("Len = %d, want 1", p.Len())
	}
}

func TestInternRejectsBadObject(t *testing.T) {
	p := newTestPool()
	if _, err := p.Intern(FromOffset(64), KindString); err == nil {
		t.Fatal("expected error for an unresolvable string offset")
	}
}

func TestRestoreKeepsIDs(t *testing.T) {
	src := newTestPool()
	src.InternLong(7)
	src.InternString("x")

	dst := NewConstantPool(src.Heap())
	if err := dst.Restore(src.Values(), src.Kinds()); err != nil {
		t.Fatal(err)
	}
	id, _ := dst.InternString("x")
	if id != 1 {
		t.Errorf("InternString(x) after restore = %d, want 1", id)
	}
	if dst.Len() != 2 {
		t.Errorf("Len = %d, want 2", dst.Len())
	}
}
