package manifest

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestResolveModules(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "mods", "str.so"), "v1")
	writeFile(t, filepath.Join(dir, "mods", "net.so"), "net")

	m := Default(dir)
	m.Modules = map[string]Module{
		"str": {Path: "mods/str"},
		"net": {Path: "mods/net.so"},
	}

	resolved, changed, err := NewResolver(m, ".so").Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if len(changed) != 0 {
		t.Errorf("changed = %v on first resolve", changed)
	}
	var names, files []string
	for _, rm := range resolved {
		names = append(names, rm.Name)
		files = append(files, rm.File)
	}
	if diff := cmp.Diff([]string{"net", "str"}, names); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
	wantFiles := []string{filepath.Join(dir, "mods", "net.so"), filepath.Join(dir, "mods", "str.so")}
	if diff := cmp.Diff(wantFiles, files); diff != "" {
		t.Errorf("files (-want +got):\n%s", diff)
	}
	if resolved[1].Path != filepath.Join(dir, "mods", "str") {
		t.Errorf("path = %q", resolved[1].Path)
	}

	lock, err := ReadLock(m.LockFilePath())
	if err != nil || lock == nil {
		t.Fatalf("ReadLock = %v, %v", lock, err)
	}
	if l := lock.Find("str"); l == nil || l.Sum != resolved[1].Sum {
		t.Errorf("locked str = %+v", l)
	}

	writeFile(t, filepath.Join(dir, "mods", "str.so"), "v2")
	_, changed, err = NewResolver(m, ".so").Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"str"}, changed); diff != "" {
		t.Errorf("changed (-want +got):\n%s", diff)
	}
}

func TestResolveMissingModule(t *testing.T) {
	dir := t.TempDir()
	m := Default(dir)
	m.Modules = map[string]Module{"gone": {Path: "mods/gone"}}
	if _, _, err := NewResolver(m, ".so").Resolve(); err == nil {
		t.Error("missing library resolved")
	}
	m.Modules = map[string]Module{"empty": {}}
	if _, _, err := NewResolver(m, ".so").Resolve(); err == nil {
		t.Error("module without path resolved")
	}
}

func TestReadLockNotFound(t *testing.T) {
	lf, err := ReadLock("/nonexistent/path/lock.toml")
	if err != nil {
		t.Errorf("ReadLock should return nil,nil for missing file, got err: %v", err)
	}
	if lf != nil {
		t.Errorf("ReadLock should return nil for missing file, got %v", lf)
	}
}
