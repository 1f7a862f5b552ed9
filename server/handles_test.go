package server

import (
	"testing"
	"time"
)

func compileImage(t *testing.T, src string) string {
	t.Helper()
	img, _, err := testRuntime.Compile("test.jy", src)
	if err != nil {
		t.Fatal(err)
	}
	store := NewProgramStore()
	return store.Put("test.jy", img)
}

func TestProgramStore(t *testing.T) {
	img, _, err := testRuntime.Compile("test.jy", testSource)
	if err != nil {
		t.Fatal(err)
	}
	s := NewProgramStore()
	id := s.Put("test.jy", img)
	if id != ProgramID(img) {
		t.Errorf("Put id = %q, want %q", id, ProgramID(img))
	}
	if again := s.Put("other.jy", img); again != id || s.Len() != 1 {
		t.Errorf("second Put = %q with %d programs, want %q with 1", again, s.Len(), id)
	}

	got, ok := s.Lookup(id)
	if !ok || got != img {
		t.Errorf("Lookup(%q) = %v, %v", id, got, ok)
	}

	s.Release(id)
	if _, ok := s.Lookup(id); ok {
		t.Error("program still held after Release")
	}
}

func TestProgramStore_Sweep(t *testing.T) {
	img, _, err := testRuntime.Compile("test.jy", testSource)
	if err != nil {
		t.Fatal(err)
	}
	s := NewProgramStore()
	id := s.Put("test.jy", img)

	if n := s.Sweep(time.Hour); n != 0 {
		t.Errorf("Sweep(1h) removed %d, want 0", n)
	}

	s.mu.Lock()
	s.programs[id].lastUsed = time.Now().Add(-2 * time.Hour)
	s.mu.Unlock()

	if n := s.Sweep(time.Hour); n != 1 {
		t.Errorf("Sweep(1h) removed %d, want 1", n)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after sweep", s.Len())
	}
}

func TestProgramStore_Sweeper(t *testing.T) {
	img, _, err := testRuntime.Compile("test.jy", testSource)
	if err != nil {
		t.Fatal(err)
	}
	s := NewProgramStore()
	s.Put("test.jy", img)

	stop := s.StartSweeper(time.Millisecond, time.Nanosecond)
	defer stop()

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not remove the idle program")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestProgramIDDependsOnSource(t *testing.T) {
	a := compileImage(t, testSource)
	b := compileImage(t, "rule only {\n\tmatch:\n\t\t1 == 1\n}\n")
	if a == b {
		t.Error("different sources share a program id")
	}
}
