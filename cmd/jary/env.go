package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/jary/compiler"
	"github.com/chazu/jary/manifest"
	"github.com/chazu/jary/module"
	"github.com/chazu/jary/server"
	"github.com/chazu/jary/store"
	"github.com/chazu/jary/vm/dist"
)

var log = commonlog.GetLogger("jary.cli")

// File extensions of rule sources and program images.
const (
	sourceExt = ".jy"
	imageExt  = ".jyc"
)

type options struct {
	dir       string
	verbosity int // negative keeps the manifest setting
	modules   []string
	noCache   bool
}

// environment is everything a command runs against: the project manifest,
// the runtime with its modules and cache, and the loader owning the modules.
type environment struct {
	manifest *manifest.Manifest
	rt       *server.Runtime
	loader   *module.Loader
}

// setup loads jary.toml, configures logging, loads native modules and opens
// the program cache.
func setup(opts options) (*environment, error) {
	m, err := manifest.FindAndLoad(opts.dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		dir, err := filepath.Abs(opts.dir)
		if err != nil {
			return nil, err
		}
		m = manifest.Default(dir)
	}

	verbosity := m.Log.Verbosity
	if opts.verbosity >= 0 {
		verbosity = opts.verbosity
	}
	if path := m.LogPath(); path != "" {
		commonlog.Configure(verbosity, &path)
	} else {
		commonlog.Configure(verbosity, nil)
	}

	env := &environment{
		manifest: m,
		rt:       server.NewRuntime(),
		loader:   module.NewLoader(),
	}
	env.rt.Limits = server.Limits{
		Heap:         m.Limits.Heap,
		Code:         m.Limits.Code,
		Stack:        m.Limits.Stack,
		Steps:        m.Limits.Steps,
		MatchTimeout: m.Limits.MatchTimeout.Duration,
	}

	if err := env.loadModules(opts.modules); err != nil {
		env.Close()
		return nil, err
	}

	if m.Cache.Enabled && !opts.noCache {
		cache, err := store.Open(m.CachePath())
		if err != nil {
			env.Close()
			return nil, err
		}
		env.rt.Cache = cache
		if age := m.Cache.MaxAge.Duration; age > 0 {
			if n, err := cache.Prune(time.Now().Add(-age)); err != nil {
				log.Warningf("pruning cache: %s", err)
			} else if n > 0 {
				log.Infof("pruned %d cached programs", n)
			}
		}
	}
	return env, nil
}

// loadModules imports the [modules] of the manifest, then the modules named
// on the command line.
func (e *environment) loadModules(extra []string) error {
	resolved, changed, err := manifest.NewResolver(e.manifest, module.Suffix()).Resolve()
	if err != nil {
		return err
	}
	for _, name := range changed {
		log.Noticef("module %s changed since the last run", name)
	}
	for _, rm := range resolved {
		if _, err := e.loader.Import(rm.Name, rm.Path, e.rt.Modules); err != nil {
			return err
		}
	}
	for _, path := range extra {
		name := strings.TrimSuffix(filepath.Base(path), module.Suffix())
		if err := manifest.ValidModuleName(name); err != nil {
			return fmt.Errorf("module %s: %w", path, err)
		}
		if _, err := e.loader.Import(name, path, e.rt.Modules); err != nil {
			return err
		}
	}
	return nil
}

// Close unloads the modules and closes the cache.
func (e *environment) Close() error {
	var errs []error
	if e.rt.Cache != nil {
		errs = append(errs, e.rt.Cache.Close())
		e.rt.Cache = nil
	}
	errs = append(errs, e.loader.Close())
	return errors.Join(errs...)
}

// selection picks the dump sections.
type selection struct {
	tokens  bool
	ast     bool
	program bool
}

// process compiles a source file, or loads an image file, and builds its
// report.
func (e *environment) process(file string, sel selection, run bool, rule string, pol *dist.ModulePolicy) (*report, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	r := &report{File: file}
	if filepath.Ext(file) == imageExt {
		if r.image, err = dist.UnmarshalImage(data); err != nil {
			return nil, err
		}
		if err := pol.Check(r.image); err != nil {
			return nil, err
		}
	} else {
		src := string(data)
		if sel.tokens || sel.ast {
			tokens, errs := compiler.Scan(src)
			if sel.tokens {
				r.Tokens = tokenRows(tokens)
			}
			if sel.ast && len(errs) == 0 {
				tree, _ := compiler.Parse(tokens)
				r.AST = tree.Dump(tokens)
			}
		}
		var cached bool
		if r.image, cached, err = e.rt.Compile(file, src); err != nil {
			return nil, err
		}
		if cached {
			log.Debugf("%s: cache hit", file)
		}
	}

	prog, err := e.rt.Program(r.image)
	if err != nil {
		return nil, err
	}
	if sel.program {
		r.addProgram(prog)
	}
	if run {
		results, err := e.rt.Evaluate(r.image, rule)
		if err != nil {
			return nil, err
		}
		r.Results = resultRows(results)
	}
	return r, nil
}

// policy returns the import policy for images: everything, or only allow.
func policy(allow []string) *dist.ModulePolicy {
	if len(allow) == 0 {
		return dist.NewPermissivePolicy()
	}
	return dist.NewRestrictedPolicy(allow)
}

func writeImage(path string, img *dist.Image) error {
	data, err := dist.MarshalImage(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}
	log.Infof("wrote %s (%d bytes)", path, len(data))
	return nil
}
