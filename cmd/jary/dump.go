package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"gopkg.in/yaml.v3"

	"github.com/chazu/jary/compiler"
	"github.com/chazu/jary/module"
	"github.com/chazu/jary/vm"
	"github.com/chazu/jary/vm/dist"
)

// report is what the CLI prints for one input. Empty sections are omitted.
type report struct {
	File        string          `yaml:"file,omitempty"`
	Hash        string          `yaml:"hash,omitempty"`
	Tokens      []tokenRow      `yaml:"tokens,omitempty"`
	AST         string          `yaml:"ast,omitempty"`
	Constants   []constantRow   `yaml:"constants,omitempty"`
	Names       []nameRow       `yaml:"names,omitempty"`
	Rules       []ruleRow       `yaml:"rules,omitempty"`
	Imports     []string        `yaml:"imports,omitempty"`
	Includes    []string        `yaml:"includes,omitempty"`
	Bytecode    string          `yaml:"bytecode,omitempty"`
	Results     []resultRow     `yaml:"results,omitempty"`
	Definitions []definitionRow `yaml:"definitions,omitempty"`

	image *dist.Image
}

type tokenRow struct {
	Pos    string `yaml:"pos"`
	Type   string `yaml:"type"`
	Lexeme string `yaml:"lexeme"`
}

type constantRow struct {
	ID    int    `yaml:"id"`
	Kind  string `yaml:"kind"`
	Value string `yaml:"value"`
}

type nameRow struct {
	ID   int    `yaml:"id"`
	Kind string `yaml:"kind"`
	Name string `yaml:"name"`
}

type ruleRow struct {
	Name  string `yaml:"name"`
	Start int    `yaml:"start"`
	End   int    `yaml:"end"`
}

type resultRow struct {
	Rule    string `yaml:"rule"`
	Matched bool   `yaml:"matched"`
}

type definitionRow struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	Type string `yaml:"type,omitempty"`
}

func tokenRows(tokens []compiler.Token) []tokenRow {
	rows := make([]tokenRow, 0, len(tokens))
	for _, tok := range tokens {
		rows = append(rows, tokenRow{Pos: tok.Pos.String(), Type: tok.Type.String(), Lexeme: tok.Lexeme})
	}
	return rows
}

// addProgram fills the program sections from prog.
func (r *report) addProgram(prog *vm.Program) {
	if r.image != nil {
		r.Hash = hex.EncodeToString(r.image.Hash[:])
	}
	for i := 0; i < prog.Pool.Len(); i++ {
		v, k := prog.Pool.At(i)
		r.Constants = append(r.Constants, constantRow{ID: i, Kind: k.String(), Value: vm.Format(v, k, prog.Heap)})
	}
	for i, n := range prog.Names.All() {
		r.Names = append(r.Names, nameRow{ID: i, Kind: n.Kind.String(), Name: n.Text})
	}
	for _, rule := range prog.Rules {
		r.Rules = append(r.Rules, ruleRow{Name: rule.Name, Start: rule.Start, End: rule.End})
	}
	r.Imports = prog.Imports
	r.Includes = prog.Includes
	r.Bytecode = prog.Disassemble()
}

func resultRows(results []vm.Result) []resultRow {
	rows := make([]resultRow, 0, len(results))
	for _, res := range results {
		rows = append(rows, resultRow{Rule: res.Rule, Matched: res.Matched})
	}
	return rows
}

// definitions lists what the loaded modules define.
func definitions(ctx *module.Context) []definitionRow {
	var rows []definitionRow
	for _, n := range ctx.Defs.Names().All() {
		row := definitionRow{Name: n.Text, Kind: n.Kind.String()}
		if n.Kind == vm.KindFunc {
			v, _, _ := ctx.Defs.Find(n.Text)
			row.Type = vm.Format(v, n.Kind, ctx.Heap)
		}
		rows = append(rows, row)
	}
	return rows
}

// write prints r as YAML or as text tables.
func write(w io.Writer, format string, r *report) {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		enc.Close()
		return
	}
	t := &textWriter{w: w, color: isTerminal(w)}
	t.report(r)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// textWriter renders reports as aligned tables, with bold headings on a
// terminal.
type textWriter struct {
	w     io.Writer
	color bool
}

func (t *textWriter) heading(s string) {
	if t.color {
		fmt.Fprintf(t.w, "\x1b[1m== %s ==\x1b[0m\n", s)
	} else {
		fmt.Fprintf(t.w, "== %s ==\n", s)
	}
}

// table prints rows under header with columns padded to their display
// width. The last column is not padded.
func (t *textWriter) table(header []string, rows [][]string) {
	widths := make([]int, len(header))
	for _, row := range append([][]string{header}, rows...) {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}
	line := func(row []string) {
		var sb strings.Builder
		for i, cell := range row {
			if i == len(row)-1 {
				sb.WriteString(cell)
				break
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
			sb.WriteString("  ")
		}
		fmt.Fprintln(t.w, sb.String())
	}
	line(header)
	for _, row := range rows {
		line(row)
	}
}

func (t *textWriter) report(r *report) {
	if r.File != "" {
		fmt.Fprintf(t.w, "# %s\n", r.File)
	}
	if len(r.Tokens) > 0 {
		t.heading("tokens")
		rows := make([][]string, len(r.Tokens))
		for i, tok := range r.Tokens {
			rows[i] = []string{tok.Pos, tok.Type, fmt.Sprintf("%q", tok.Lexeme)}
		}
		t.table([]string{"POS", "TYPE", "LEXEME"}, rows)
	}
	if r.AST != "" {
		t.heading("ast")
		fmt.Fprint(t.w, r.AST)
	}
	if r.Hash != "" {
		t.heading("program")
		fmt.Fprintf(t.w, "hash %s\n", r.Hash)
		if len(r.Imports) > 0 {
			fmt.Fprintf(t.w, "imports %s\n", strings.Join(r.Imports, ", "))
		}
		if len(r.Includes) > 0 {
			fmt.Fprintf(t.w, "includes %s\n", strings.Join(r.Includes, ", "))
		}
	}
	if len(r.Constants) > 0 {
		t.heading("constants")
		rows := make([][]string, len(r.Constants))
		for i, c := range r.Constants {
			rows[i] = []string{fmt.Sprint(c.ID), c.Kind, c.Value}
		}
		t.table([]string{"ID", "KIND", "VALUE"}, rows)
	}
	if len(r.Names) > 0 {
		t.heading("names")
		rows := make([][]string, len(r.Names))
		for i, n := range r.Names {
			rows[i] = []string{fmt.Sprint(n.ID), n.Kind, n.Name}
		}
		t.table([]string{"ID", "KIND", "NAME"}, rows)
	}
	if len(r.Rules) > 0 {
		t.heading("rules")
		rows := make([][]string, len(r.Rules))
		for i, rule := range r.Rules {
			rows[i] = []string{rule.Name, fmt.Sprint(rule.Start), fmt.Sprint(rule.End)}
		}
		t.table([]string{"RULE", "START", "END"}, rows)
	}
	if r.Bytecode != "" {
		t.heading("bytecode")
		fmt.Fprint(t.w, r.Bytecode)
	}
	if len(r.Results) > 0 {
		t.heading("results")
		rows := make([][]string, len(r.Results))
		for i, res := range r.Results {
			verdict := "no match"
			if res.Matched {
				verdict = "MATCH"
			}
			rows[i] = []string{res.Rule, verdict}
		}
		t.table([]string{"RULE", "RESULT"}, rows)
	}
	if len(r.Definitions) > 0 {
		t.heading("definitions")
		rows := make([][]string, len(r.Definitions))
		for i, d := range r.Definitions {
			rows[i] = []string{d.Name, d.Kind, d.Type}
		}
		t.table([]string{"NAME", "KIND", "TYPE"}, rows)
	}
}
