package vm

import (
	"fmt"

	"github.com/chazu/jary/arena"
)

// Rule records where a compiled rule's code lives in the chunk.
type Rule struct {
	Name   string
	NameID int
	Start  int
	End    int
}

// Program is the output of the compiler: one bytecode chunk with the pool,
// names and heap it refers to.
type Program struct {
	Pool     *ConstantPool
	Names    *NameTable
	Heap     *arena.Heap
	Code     []byte
	Rules    []Rule
	Imports  []string
	Includes []string

	// Natives backs the CALL instructions in Code. Nil when the program
	// calls no module functions.
	Natives *NativeTable
}

// NewProgram creates an empty program over a fresh heap capped at limit.
func NewProgram(limit int) *Program {
	heap := arena.NewHeap(limit)
	return &Program{
		Pool:  NewConstantPool(heap),
		Names: NewNameTable(),
		Heap:  heap,
	}
}

// Result is the outcome of evaluating one rule.
type Result struct {
	Rule    string
	Matched bool
}

// Rule returns the rule named name.
func (p *Program) Rule(name string) (Rule, bool) {
	for _, r := range p.Rules {
		if r.Name == name {
			return r, true
		}
	}
	return Rule{}, false
}

// RuleCode returns the slice of the chunk belonging to r.
func (p *Program) RuleCode(r Rule) []byte {
	return p.Code[r.Start:r.End]
}

// Match evaluates every rule in declaration order. A rule matches when its
// code leaves the flag set; a rule with no code never matches.
func (p *Program) Match(opts ...Option) ([]Result, error) {
	in := p.interpreter(opts)
	results := make([]Result, 0, len(p.Rules))
	for _, r := range p.Rules {
		matched, err := p.eval(in, r)
		if err != nil {
			return results, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		results = append(results, Result{Rule: r.Name, Matched: matched})
	}
	return results, nil
}

// MatchRule evaluates the single rule named name.
func (p *Program) MatchRule(name string, opts ...Option) (bool, error) {
	r, ok := p.Rule(name)
	if !ok {
		return false, fmt.Errorf("no rule named %q", name)
	}
	matched, err := p.eval(p.interpreter(opts), r)
	if err != nil {
		return false, fmt.Errorf("rule %s: %w", r.Name, err)
	}
	return matched, nil
}

// interpreter builds an interpreter over the program. Options passed by the
// caller override the program's own native table.
func (p *Program) interpreter(opts []Option) *Interpreter {
	if p.Natives != nil {
		opts = append([]Option{WithNatives(p.Natives)}, opts...)
	}
	return NewInterpreter(p.Pool, p.Heap, opts...)
}

func (p *Program) eval(in *Interpreter, r Rule) (bool, error) {
	in.Reset()
	if r.Start == r.End {
		return false, nil
	}
	if err := in.Run(p.RuleCode(r)); err != nil {
		return false, err
	}
	return in.Flag(), nil
}

// Disassemble renders the whole chunk, labelling each rule's first
// instruction.
func (p *Program) Disassemble() string {
	r := NewBytecodeReader(p.Code)
	out := ""
	next := 0
	for r.HasMore() {
		for next < len(p.Rules) && p.Rules[next].Start <= r.Position() {
			if p.Rules[next].Start < p.Rules[next].End {
				out += fmt.Sprintf("; rule %s\n", p.Rules[next].Name)
			}
			next++
		}
		out += DisassembleInstruction(r, p.Pool) + "\n"
	}
	return out
}
