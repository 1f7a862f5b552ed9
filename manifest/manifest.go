// Package manifest handles jary.toml project configuration.
package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "jary.toml"

// Manifest represents a jary.toml project configuration.
type Manifest struct {
	Project Project           `toml:"project"`
	Source  Source            `toml:"source"`
	Modules map[string]Module `toml:"modules"`
	Limits  Limits            `toml:"limits"`
	Log     Log               `toml:"log"`
	Server  Server            `toml:"server"`
	Cache   Cache             `toml:"cache"`
	Wrap    Wrap              `toml:"wrap"`

	// Dir is the directory containing the jary.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures rule file locations.
type Source struct {
	Dirs []string `toml:"dirs"`
	Ext  string   `toml:"ext"`
}

// Module names a native module library. Path is relative to the manifest
// directory and may omit the platform suffix.
type Module struct {
	Path string `toml:"path"`
}

// Limits bound compilation and execution. Zero means the built-in default.
type Limits struct {
	Heap         int      `toml:"heap"`
	Code         int      `toml:"code"`
	Stack        int      `toml:"stack"`
	Steps        int      `toml:"steps"`
	MatchTimeout Duration `toml:"match-timeout"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Server configures the rule service.
type Server struct {
	HTTP    string `toml:"http"`
	GRPC    string `toml:"grpc"`
	Metrics bool   `toml:"metrics"`
}

// Cache configures the compiled program cache.
type Cache struct {
	Enabled bool     `toml:"enabled"`
	Path    string   `toml:"path"`
	MaxAge  Duration `toml:"max-age"`
}

// Wrap configures the generation of native modules from Go packages.
type Wrap struct {
	Output   string        `toml:"output"`
	Packages []WrapPackage `toml:"packages"`
}

// WrapPackage is a Go package to wrap. Include, when set, limits the
// wrapped functions to the named ones.
type WrapPackage struct {
	Import  string   `toml:"import"`
	Include []string `toml:"include"`
}

// Duration is a time.Duration written as a string ("250ms", "24h").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no jary.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"rules"}
	}
	if m.Source.Ext == "" {
		m.Source.Ext = ".jy"
	}
	if m.Server.HTTP == "" {
		m.Server.HTTP = "localhost:8470"
	}
	if m.Cache.Path == "" {
		m.Cache.Path = filepath.Join(".jary", "cache.db")
	}
	if m.Wrap.Output == "" {
		m.Wrap.Output = filepath.Join(".jary", "wrap")
	}
}

// Load parses a jary.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	for name := range m.Modules {
		if err := ValidModuleName(name); err != nil {
			return nil, fmt.Errorf("%s: [modules]: %w", path, err)
		}
	}

	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a jary.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, m.path(d))
	}
	return paths
}

// SourceFiles lists every rule file under the source directories, sorted.
// Missing directories are skipped.
func (m *Manifest) SourceFiles() ([]string, error) {
	var files []string
	for _, dir := range m.SourceDirPaths() {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == dir && os.IsNotExist(err) {
					return fs.SkipDir
				}
				return err
			}
			if !d.IsDir() && filepath.Ext(path) == m.Source.Ext {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", dir, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// CachePath returns the absolute path of the program cache database.
func (m *Manifest) CachePath() string {
	return m.path(m.Cache.Path)
}

// WrapOutputDir returns the absolute directory generated modules go to.
func (m *Manifest) WrapOutputDir() string {
	return m.path(m.Wrap.Output)
}

// LogPath returns the absolute log file path, or "" for stderr.
func (m *Manifest) LogPath() string {
	if m.Log.Path == "" {
		return ""
	}
	return m.path(m.Log.Path)
}

func (m *Manifest) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
