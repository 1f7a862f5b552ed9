package vm

import "testing"

func TestNameTableDeclare(t *testing.T) {
	nt := NewNameTable()
	a, existed := nt.Declare("login", KindRule)
	if existed || a != 0 {
		t.Fatalf("Declare(login) = %d, %v", a, existed)
	}
	b, _ := nt.Declare("logout", KindRule)
	if b != 1 {
		t.Errorf("Declare(logout) = %d, want 1", b)
	}
	again, existed := nt.Declare("login", KindModule)
	if !existed || again != a {
		t.Errorf("redeclare = %d, %v; want %d, true", again, existed, a)
	}
	if k := nt.At(a).Kind; k != KindRule {
		t.Errorf("kind changed to %s on redeclare", k)
	}
	if id, ok := nt.Lookup("logout"); !ok || id != b {
		t.Errorf("Lookup(logout) = %d, %v", id, ok)
	}
	if _, ok := nt.Lookup("log"); ok {
		t.Error("Lookup(log) found a prefix match")
	}
	if h := nt.At(a).Hash; h != Hash("login") {
		t.Errorf("hash = %#x, want %#x", h, Hash("login"))
	}
}

func TestDefsDefine(t *testing.T) {
	d := NewDefs()
	if err := d.Define("strlen", 16, KindFunc); err != nil {
		t.Fatal(err)
	}
	if err := d.Define("strlen", 24, KindFunc); err == nil {
		t.Error("expected duplicate definition error")
	}
	v, k, ok := d.Find("strlen")
	if !ok || v != 16 || k != KindFunc {
		t.Errorf("Find(strlen) = %d, %s, %v", v, k, ok)
	}
	if _, ok := d.Names().Lookup("strlen"); !ok {
		t.Error("defined name missing from the name table")
	}
	if d.Len() != 1 {
		t.Errorf("Len = %d, want 1", d.Len())
	}
}
