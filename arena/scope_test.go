package arena

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestScopeReleasesInReverseOrder(t *testing.T) {
	s := NewScope(Unlimited)
	var order []string

	if _, err := s.AllocFunc(8, func([]byte) error {
		order = append(order, "first")
		return nil
	}); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	s.Defer(func() error {
		order = append(order, "second")
		return nil
	})
	if _, err := s.Alloc(16); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	s.Defer(func() error {
		order = append(order, "third")
		return nil
	})

	if err := s.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	want := []string{"third", "second", "first"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("finalizer order (-want +got):\n%s", diff)
	}
	if s.Len() != 0 || s.Used() != 0 {
		t.Errorf("after release: len=%d used=%d, want 0/0", s.Len(), s.Used())
	}
}

func TestScopeFailedAllocDoesNotLeak(t *testing.T) {
	s := NewScope(32)
	released := 0
	count := func([]byte) error { released++; return nil }

	if _, err := s.AllocFunc(24, count); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if _, err := s.AllocFunc(16, count); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("alloc over limit: err = %v, want ErrOutOfMemory", err)
	}
	if s.Len() != 1 {
		t.Errorf("chain length = %d, want 1", s.Len())
	}

	if err := s.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if released != 1 {
		t.Errorf("finalizers run = %d, want 1", released)
	}
}

func TestScopeReleaseJoinsErrors(t *testing.T) {
	s := NewScope(Unlimited)
	errA := errors.New("a")
	errB := errors.New("b")
	ran := 0
	s.Defer(func() error { ran++; return errA })
	s.Defer(func() error { ran++; return nil })
	s.Defer(func() error { ran++; return errB })

	err := s.Release()
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("release error = %v, want both a and b", err)
	}
	if ran != 3 {
		t.Errorf("finalizers run = %d, want 3", ran)
	}
	if err := s.Release(); err != nil {
		t.Errorf("second release = %v, want nil", err)
	}
}

func TestScopeAllocAfterRelease(t *testing.T) {
	s := NewScope(Unlimited)
	if err := s.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Alloc(1); err == nil {
		t.Error("alloc on released scope succeeded")
	}

	ran := false
	s.Defer(func() error { ran = true; return nil })
	if !ran {
		t.Error("Defer on released scope did not run the finalizer immediately")
	}
}

func TestScopeSprintf(t *testing.T) {
	s := NewScope(10)
	str, err := s.Sprintf("rule %d", 7)
	if err != nil {
		t.Fatalf("sprintf: %v", err)
	}
	if str != "rule 7" {
		t.Errorf("got %q, want %q", str, "rule 7")
	}
	if s.Used() != len("rule 7") {
		t.Errorf("used = %d, want %d", s.Used(), len("rule 7"))
	}
	if _, err := s.Sprintf("too long %s", "for the limit"); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("err = %v, want ErrOutOfMemory", err)
	}
}
