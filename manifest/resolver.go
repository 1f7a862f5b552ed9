package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// ResolvedModule is a [modules] entry resolved to a library on disk.
type ResolvedModule struct {
	Name string // import name
	Path string // absolute path without the library suffix
	File string // absolute path of the library file
	Sum  string // hex SHA-256 of the library file
}

// LockFile records the library checksums seen by the last resolve.
type LockFile struct {
	Modules []LockedModule `toml:"module"`
}

// LockedModule is one entry of a LockFile.
type LockedModule struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
	Sum  string `toml:"sum"`
}

// Find returns the locked entry for name, or nil.
func (l *LockFile) Find(name string) *LockedModule {
	if l == nil {
		return nil
	}
	for i := range l.Modules {
		if l.Modules[i].Name == name {
			return &l.Modules[i]
		}
	}
	return nil
}

// ReadLock reads a lock file. A missing file yields nil, nil.
func ReadLock(path string) (*LockFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var lf LockFile
	if err := toml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return &lf, nil
}

// WriteLock writes lf to path, creating its directory.
func WriteLock(path string, lf *LockFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(lf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LockFilePath returns the path to .jary/lock.toml.
func (m *Manifest) LockFilePath() string {
	return filepath.Join(m.Dir, ".jary", "lock.toml")
}

// Resolver maps [modules] entries to library files.
type Resolver struct {
	manifest *Manifest
	suffix   string
}

// NewResolver creates a resolver looking for libraries with suffix.
func NewResolver(m *Manifest, suffix string) *Resolver {
	return &Resolver{manifest: m, suffix: suffix}
}

// Resolve resolves every module, sorted by name, and records their
// checksums in the lock file. A module whose library changed since the
// last resolve is reported, not rejected, so rebuilt modules keep working.
func (r *Resolver) Resolve() ([]ResolvedModule, []string, error) {
	lock, err := ReadLock(r.manifest.LockFilePath())
	if err != nil {
		return nil, nil, fmt.Errorf("reading lock file: %w", err)
	}

	names := make([]string, 0, len(r.manifest.Modules))
	for name := range r.manifest.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	var resolved []ResolvedModule
	var changed []string
	next := &LockFile{}
	for _, name := range names {
		rm, err := r.resolveOne(name, r.manifest.Modules[name])
		if err != nil {
			return nil, nil, fmt.Errorf("resolving %s: %w", name, err)
		}
		if old := lock.Find(name); old != nil && old.Sum != rm.Sum {
			changed = append(changed, name)
		}
		resolved = append(resolved, *rm)
		next.Modules = append(next.Modules, LockedModule{Name: name, Path: r.manifest.Modules[name].Path, Sum: rm.Sum})
	}

	if len(resolved) > 0 {
		if err := WriteLock(r.manifest.LockFilePath(), next); err != nil {
			return nil, nil, fmt.Errorf("writing lock file: %w", err)
		}
	}
	return resolved, changed, nil
}

func (r *Resolver) resolveOne(name string, mod Module) (*ResolvedModule, error) {
	if mod.Path == "" {
		return nil, fmt.Errorf("module %q has no path", name)
	}
	path := strings.TrimSuffix(r.manifest.path(mod.Path), r.suffix)
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", mod.Path, err)
	}
	file := path + r.suffix
	sum, err := fileSum(file)
	if err != nil {
		return nil, fmt.Errorf("module %q not found at %s: %w", name, file, err)
	}
	return &ResolvedModule{Name: name, Path: path, File: file, Sum: sum}, nil
}

func fileSum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
