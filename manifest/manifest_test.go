package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), `
[project]
name = "auth-rules"
version = "0.1.0"

[source]
dirs = ["rules", "shared"]

[modules]
str = { path = "modules/str" }

[limits]
heap = 65536
stack = 128
steps = 10000
match-timeout = "250ms"

[log]
verbosity = 2
path = "jary.log"

[server]
http = ":9000"
grpc = ":9001"
metrics = true

[cache]
enabled = true
max-age = "24h"

[wrap]
output = "gen"

[[wrap.packages]]
import = "strings"
include = ["HasPrefix", "ToLower"]

[[wrap.packages]]
import = "net/url"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "auth-rules" || m.Project.Version != "0.1.0" {
		t.Errorf("project = %+v", m.Project)
	}
	if diff := cmp.Diff([]string{"rules", "shared"}, m.Source.Dirs); diff != "" {
		t.Errorf("source dirs (-want +got):\n%s", diff)
	}
	if m.Source.Ext != ".jy" {
		t.Errorf("source ext = %q, want .jy", m.Source.Ext)
	}
	if m.Modules["str"].Path != "modules/str" {
		t.Errorf("modules = %v", m.Modules)
	}
	want := Limits{Heap: 65536, Stack: 128, Steps: 10000, MatchTimeout: Duration{250 * time.Millisecond}}
	if m.Limits != want {
		t.Errorf("limits = %+v, want %+v", m.Limits, want)
	}
	if m.LogPath() != filepath.Join(m.Dir, "jary.log") || m.Log.Verbosity != 2 {
		t.Errorf("log = %+v", m.Log)
	}
	if m.Server != (Server{HTTP: ":9000", GRPC: ":9001", Metrics: true}) {
		t.Errorf("server = %+v", m.Server)
	}
	if !m.Cache.Enabled || m.Cache.MaxAge.Duration != 24*time.Hour {
		t.Errorf("cache = %+v", m.Cache)
	}
	if m.CachePath() != filepath.Join(m.Dir, ".jary", "cache.db") {
		t.Errorf("cache path = %q", m.CachePath())
	}
	wantWrap := []WrapPackage{
		{Import: "strings", Include: []string{"HasPrefix", "ToLower"}},
		{Import: "net/url"},
	}
	if diff := cmp.Diff(wantWrap, m.Wrap.Packages); diff != "" {
		t.Errorf("wrap packages (-want +got):\n%s", diff)
	}
	if m.WrapOutputDir() != filepath.Join(m.Dir, "gen") {
		t.Errorf("wrap output = %q", m.WrapOutputDir())
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), "[project]\nname = \"minimal\"\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(m.Source.Dirs) != 1 || m.Source.Dirs[0] != "rules" {
		t.Errorf("default source dirs = %v, want [rules]", m.Source.Dirs)
	}
	if m.Server.HTTP != "localhost:8470" {
		t.Errorf("default http = %q", m.Server.HTTP)
	}
	if m.LogPath() != "" {
		t.Errorf("default log path = %q, want stderr", m.LogPath())
	}
	if m.WrapOutputDir() != filepath.Join(m.Dir, ".jary", "wrap") {
		t.Errorf("default wrap output = %q", m.WrapOutputDir())
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := map[string]string{
		"syntax":       "[project\n",
		"duration":     "[limits]\nmatch-timeout = \"soon\"\n",
		"keyword":      "[modules]\nrule = { path = \"x\" }\n",
		"not an ident": "[modules]\n\"a-b\" = { path = \"x\" }\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, FileName), content)
			if _, err := Load(dir); err == nil {
				t.Error("expected an error")
			}
		})
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("missing file loaded")
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, FileName), "[project]\nname = \"found-project\"\n")

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no jary.toml exists")
	}
}

func TestSourceFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "rules", "b.jy"), "")
	writeFile(t, filepath.Join(dir, "rules", "nested", "a.jy"), "")
	writeFile(t, filepath.Join(dir, "rules", "notes.txt"), "")

	m := Default(dir)
	m.Source.Dirs = append(m.Source.Dirs, "missing")
	files, err := m.SourceFiles()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(dir, "rules", "b.jy"),
		filepath.Join(dir, "rules", "nested", "a.jy"),
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("files (-want +got):\n%s", diff)
	}
}

func TestValidModuleName(t *testing.T) {
	for _, name := range []string{"str", "net2", "_x", "Geo"} {
		if err := ValidModuleName(name); err != nil {
			t.Errorf("%q: %v", name, err)
		}
	}
	for _, name := range []string{"", "2net", "a.b", "match", "import"} {
		if err := ValidModuleName(name); err == nil {
			t.Errorf("%q accepted", name)
		}
	}
}
