// jary CLI - compiles rule files, dumps compiler stages, evaluates rules and
// serves the rule service and language server.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/chazu/jary/server"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "wrap" {
		if err := handleWrapCommand(os.Args[2:]); err != nil {
			fail(err)
		}
		return
	}

	var modules, allow listFlag
	showTokens := flag.Bool("tokens", false, "Dump the token stream")
	showAST := flag.Bool("ast", false, "Dump the syntax tree")
	showProgram := flag.Bool("program", false, "Dump the constant pool, names, rules and bytecode")
	format := flag.String("format", "text", "Dump format: text or yaml")
	run := flag.Bool("run", false, "Evaluate the rules")
	rule := flag.String("rule", "", "Evaluate only this rule (with -run)")
	output := flag.String("o", "", "Write the compiled program image to this file")
	serveMode := flag.Bool("serve", false, "Start the rule service (Connect HTTP/JSON + gRPC)")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")
	dir := flag.String("C", ".", "Look for jary.toml from this directory upwards")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides jary.toml)")
	noCache := flag.Bool("no-cache", false, "Do not use the program cache")
	flag.Var(&modules, "module", "Load a native module (repeatable); prints its definitions without input files")
	flag.Var(&allow, "allow", "Restrict module imports of .jyc images to these names (repeatable)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jary [options] [files...]\n")
		fmt.Fprintf(os.Stderr, "       jary wrap [-o dir] [packages...]\n\n")
		fmt.Fprintf(os.Stderr, "Compiles rule files (%s) or loads program images (%s).\n", sourceExt, imageExt)
		fmt.Fprintf(os.Stderr, "Without files, the source directories of jary.toml are used.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  jary -tokens -ast rules/admin.jy   # Dump compiler stages\n")
		fmt.Fprintf(os.Stderr, "  jary -run rules/admin.jy           # Evaluate every rule\n")
		fmt.Fprintf(os.Stderr, "  jary -o admin.jyc rules/admin.jy   # Write a program image\n")
		fmt.Fprintf(os.Stderr, "  jary -run -allow str admin.jyc     # Evaluate an image importing only str\n")
		fmt.Fprintf(os.Stderr, "  jary -module ./str                 # List a module's definitions\n")
		fmt.Fprintf(os.Stderr, "  jary -serve                        # Serve on [server] addresses\n")
		fmt.Fprintf(os.Stderr, "  jary wrap strings                  # Generate a module wrapping strings\n")
	}
	flag.Parse()

	if *format != "text" && *format != "yaml" {
		fail(fmt.Errorf("unknown format %q", *format))
	}

	env, err := setup(options{
		dir:       *dir,
		verbosity: *verbosity,
		modules:   modules,
		noCache:   *noCache,
	})
	if err != nil {
		fail(err)
	}
	defer env.Close()

	if *lspMode {
		if err := server.NewLSP(env.rt).Run(); err != nil {
			fail(err)
		}
		return
	}

	if *serveMode {
		srv := server.New(env.rt, server.WithMetrics(env.manifest.Server.Metrics))
		defer srv.Stop()
		if err := srv.ListenAndServe(env.manifest.Server.HTTP, env.manifest.Server.GRPC); err != nil {
			fail(fmt.Errorf("server: %w", err))
		}
		return
	}

	files := flag.Args()
	if len(files) == 0 && len(modules) > 0 {
		write(os.Stdout, *format, &report{Definitions: definitions(env.rt.Modules)})
		return
	}
	if len(files) == 0 {
		if files, err = env.manifest.SourceFiles(); err != nil {
			fail(err)
		}
		if len(files) == 0 {
			flag.Usage()
			os.Exit(2)
		}
	}
	if *output != "" && len(files) != 1 {
		fail(fmt.Errorf("-o needs exactly one input file, got %d", len(files)))
	}

	sel := selection{tokens: *showTokens, ast: *showAST, program: *showProgram}
	if !sel.tokens && !sel.ast && !sel.program && !*run && *output == "" {
		sel = selection{tokens: true, ast: true, program: true}
	}

	status := 0
	for _, file := range files {
		r, err := env.process(file, sel, *run, *rule, policy(allow))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", file, err)
			status = 1
			continue
		}
		if *output != "" {
			if err := writeImage(*output, r.image); err != nil {
				fail(err)
			}
		}
		write(os.Stdout, *format, r)
	}
	env.Close()
	os.Exit(status)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
