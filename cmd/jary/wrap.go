package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/jary/gowrap"
	"github.com/chazu/jary/manifest"
)

// handleWrapCommand processes the `jary wrap` subcommand.
// Usage:
//
//	jary wrap                      # all packages from jary.toml
//	jary wrap strings net/url      # packages named on the command line
//	jary wrap -o ./modules strings # custom output dir
func handleWrapCommand(args []string) error {
	fs := flag.NewFlagSet("wrap", flag.ExitOnError)
	outputDir := fs.String("o", "", "Output directory (default: [wrap] output of jary.toml)")
	verbose := fs.Bool("v", false, "Verbose output")
	fs.Parse(args)

	var targets []manifest.WrapPackage
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	if fs.NArg() > 0 {
		for _, pkg := range fs.Args() {
			targets = append(targets, manifest.WrapPackage{Import: pkg})
		}
	} else {
		if m == nil || len(m.Wrap.Packages) == 0 {
			return fmt.Errorf("no packages given and no [[wrap.packages]] in %s", manifest.FileName)
		}
		targets = m.Wrap.Packages
	}

	if *outputDir == "" {
		if m != nil {
			*outputDir = m.WrapOutputDir()
		} else {
			*outputDir = filepath.Join(".jary", "wrap")
		}
	}

	for _, target := range targets {
		if err := wrapPackage(target, *outputDir, *verbose); err != nil {
			return fmt.Errorf("wrapping %s: %w", target.Import, err)
		}
	}
	if *verbose {
		fmt.Printf("Wrapped %d package(s) to %s\n", len(targets), *outputDir)
	}
	return nil
}

// wrapPackage writes <outputDir>/<module>/module.go for target.
func wrapPackage(target manifest.WrapPackage, outputDir string, verbose bool) error {
	if verbose {
		fmt.Printf("Wrapping %s...\n", target.Import)
	}

	var filter map[string]bool
	if len(target.Include) > 0 {
		filter = make(map[string]bool)
		for _, name := range target.Include {
			filter[name] = true
		}
	}

	model, err := gowrap.IntrospectPackage(target.Import, filter)
	if err != nil {
		return fmt.Errorf("introspecting: %w", err)
	}
	if verbose {
		fmt.Printf("  Found %d functions, skipped %d\n", len(model.Functions), len(model.Skipped))
		for _, s := range model.Skipped {
			fmt.Printf("    %s: %s\n", s.Name, s.Reason)
		}
	}

	return writeModule(model, outputDir, verbose)
}

func writeModule(model *gowrap.PackageModel, outputDir string, verbose bool) error {
	code, err := gowrap.GenerateModule(model)
	if err != nil {
		return err
	}

	dir := filepath.Join(outputDir, model.Module)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	path := filepath.Join(dir, "module.go")
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if verbose {
		fmt.Printf("  Wrote %s\n", path)
	}
	return nil
}
