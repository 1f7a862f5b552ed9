package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/jary/arena"
	"github.com/chazu/jary/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("jary.compiler")

// ---------------------------------------------------------------------------
// Codegen: Compile AST to bytecode
// ---------------------------------------------------------------------------

// Compiler lowers a parsed rule file into a vm.Program.
type Compiler struct {
	tree   *Tree
	tokens []Token

	prog    *vm.Program
	builder *vm.BytecodeBuilder
	types   []vm.Kind // kinds of the subexpressions compiled so far

	heapLimit int
	codeLimit int

	defs     *vm.Defs
	defsHeap *arena.Heap
	natives  *vm.NativeTable
	funcs    map[string]int // pool ids of descriptors already copied
}

// Option configures a compile.
type Option func(*Compiler)

// WithHeapLimit caps the program's object heap at n bytes.
func WithHeapLimit(n int) Option {
	return func(c *Compiler) { c.heapLimit = n }
}

// WithCodeLimit caps the bytecode chunk at n bytes.
func WithCodeLimit(n int) Option {
	return func(c *Compiler) { c.codeLimit = n }
}

// WithFunctions makes the functions bound in defs callable. Their
// descriptors live in heap and their implementations in natives, as left by
// a native module load.
func WithFunctions(defs *vm.Defs, heap *arena.Heap, natives *vm.NativeTable) Option {
	return func(c *Compiler) {
		c.defs = defs
		c.defsHeap = heap
		c.natives = natives
	}
}

// compileFunc lowers one node.
type compileFunc func(c *Compiler, id int) error

// dispatch maps every node kind to its routine. It is filled in init because
// the routines recurse through it.
var dispatch [nodeKindCount]compileFunc

func init() {
	for k := range dispatch {
		dispatch[k] = (*Compiler).compileUnsupported
	}
	dispatch[NodeRoot] = (*Compiler).compileRoot
	dispatch[NodeRule] = (*Compiler).compileRule
	for _, k := range []NodeKind{
		NodeRegMatch, NodeEquality, NodeLesser, NodeGreater,
		NodeAnd, NodeOr,
		NodeAddition, NodeSubtract, NodeMultiply, NodeDivide,
	} {
		dispatch[k] = (*Compiler).compileBinary
	}
	dispatch[NodeNot] = (*Compiler).compileNot
	dispatch[NodeCall] = (*Compiler).compileCall
	for _, k := range []NodeKind{NodeRegexp, NodeLong, NodeString, NodeFalse, NodeTrue} {
		dispatch[k] = (*Compiler).compileLiteral
	}
}

// Compile lowers tree, parsed from tokens, into a program. The first failure
// aborts the compile and no program is returned.
func Compile(tree *Tree, tokens []Token, opts ...Option) (*vm.Program, error) {
	c := newCompiler(tree, tokens, opts)
	if tree == nil || len(tree.Nodes) == 0 || tree.Nodes[0].Kind != NodeRoot {
		return nil, &CompileError{Kind: ErrInternal, Msg: "tree is not rooted at a root node"}
	}
	if err := c.compileNode(0); err != nil {
		return nil, err
	}
	c.prog.Code = c.builder.Bytes()
	log.Debugf("compiled %d rules: %d constants, %d bytes of code, %d heap bytes",
		len(c.prog.Rules), c.prog.Pool.Len(), len(c.prog.Code), c.prog.Heap.Size())
	return c.prog, nil
}

func newCompiler(tree *Tree, tokens []Token, opts []Option) *Compiler {
	c := &Compiler{
		tree:      tree,
		tokens:    tokens,
		heapLimit: arena.Unlimited,
		codeLimit: arena.Unlimited,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.prog = vm.NewProgram(c.heapLimit)
	c.funcs = make(map[string]int)
	c.builder = vm.NewBytecodeBuilder(c.codeLimit)
	return c
}

// CompileSource scans, parses and compiles src. name labels errors.
func CompileSource(name, src string, opts ...Option) (*vm.Program, error) {
	tokens, errs := Scan(src)
	tree, perrs := Parse(tokens)
	errs = append(errs, perrs...)
	if len(errs) > 0 {
		return nil, &SourceError{Name: name, Errors: errs}
	}
	prog, err := Compile(tree, tokens, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return prog, nil
}

// CompileExpression compiles a single expression into a program with no
// rules and returns the kind of its result. Comparisons report vm.KindFlag.
func CompileExpression(src string, opts ...Option) (*vm.Program, vm.Kind, error) {
	tokens, errs := Scan(src)
	p := NewParser(tokens)
	root := p.tree.Add(NodeRoot, 0)
	for p.curTokenIs(TokenNewline) {
		p.nextToken()
	}
	expr := p.parseExpression()
	for p.curTokenIs(TokenNewline) {
		p.nextToken()
	}
	if expr >= 0 && !p.curTokenIs(TokenEOF) {
		p.errorf("unexpected %s after expression", p.cur().Type)
	}
	errs = append(errs, p.errors...)
	if len(errs) > 0 {
		return nil, vm.KindUnknown, &SourceError{Name: "expression", Errors: errs}
	}
	p.tree.AddChild(root, expr)

	c := newCompiler(p.tree, p.tokens, opts)
	if err := c.compileNode(expr); err != nil {
		return nil, vm.KindUnknown, err
	}
	k, err := c.popType(expr, 0)
	if err != nil {
		return nil, vm.KindUnknown, err
	}
	c.prog.Code = c.builder.Bytes()
	return c.prog, k, nil
}

// SourceError collects the syntax errors of one source.
type SourceError struct {
	Name   string
	Errors []*SyntaxError
}

func (e *SourceError) Error() string {
	lines := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		lines[i] = e.Name + ":" + err.Error()
	}
	return strings.Join(lines, "\n")
}

// Unwrap exposes the individual syntax errors.
func (e *SourceError) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err
	}
	return out
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (c *Compiler) node(id int) Node {
	return c.tree.Nodes[id]
}

func (c *Compiler) token(id int) Token {
	n := c.tree.Nodes[id]
	if n.Token < 0 || n.Token >= len(c.tokens) {
		return Token{}
	}
	return c.tokens[n.Token]
}

// errorf builds a compile error located at node id.
func (c *Compiler) errorf(kind ErrorKind, id int, format string, args ...any) error {
	return &CompileError{Kind: kind, Token: c.token(id), Msg: fmt.Sprintf(format, args...)}
}

// wrapf builds a compile error carrying an underlying cause.
func (c *Compiler) wrapf(kind ErrorKind, id int, err error, format string, args ...any) error {
	return &CompileError{Kind: kind, Token: c.token(id), Msg: fmt.Sprintf(format, args...), Err: err}
}

func (c *Compiler) compileNode(id int) error {
	if id < 0 || id >= len(c.tree.Nodes) {
		return &CompileError{Kind: ErrInternal, Msg: fmt.Sprintf("node %d out of range", id)}
	}
	kind := c.node(id).Kind
	if kind < 0 || kind >= nodeKindCount {
		return c.errorf(ErrInternal, id, "unknown node kind %d", int(kind))
	}
	return dispatch[kind](c, id)
}

// popType removes the kind left by the subexpression just compiled, which
// must have left exactly one entry above base.
func (c *Compiler) popType(id, base int) (vm.Kind, error) {
	if len(c.types) != base+1 {
		return vm.KindUnknown, c.errorf(ErrInternal, id, "%s left %d types, want 1", c.node(id).Kind, len(c.types)-base)
	}
	k := c.types[base]
	c.types = c.types[:base]
	if k == vm.KindUnknown {
		return k, c.errorf(ErrTypeMismatch, id, "operand has unknown type")
	}
	return k, nil
}

func (c *Compiler) checkBuilder(id int) error {
	if err := c.builder.Err(); err != nil {
		return c.wrapf(ErrInternal, id, err, "emitting bytecode")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// compileRoot records imports and includes, then compiles ingress
// declarations, then rules, each in source order. Imports are declared
// before any rule so calls can be qualified by module name.
func (c *Compiler) compileRoot(id int) error {
	var ingress, rules, imports []int
	for _, child := range c.node(id).Children {
		switch c.node(child).Kind {
		case NodeIngress:
			ingress = append(ingress, child)
		case NodeRule:
			rules = append(rules, child)
		case NodeImport, NodeInclude:
			imports = append(imports, child)
		default:
			return c.errorf(ErrInternal, child, "%s at top level", c.node(child).Kind)
		}
	}

	for _, decl := range imports {
		if err := c.collectImport(decl); err != nil {
			return err
		}
	}
	for _, decl := range ingress {
		if err := c.compileNode(decl); err != nil {
			return err
		}
	}
	for _, decl := range rules {
		if err := c.compileNode(decl); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) collectImport(id int) error {
	lexeme := c.token(id).Lexeme
	if c.node(id).Kind == NodeInclude {
		c.prog.Includes = append(c.prog.Includes, unquote(lexeme, '"'))
		return nil
	}
	nameID, existed := c.prog.Names.Declare(lexeme, vm.KindModule)
	if existed {
		if c.prog.Names.At(nameID).Kind != vm.KindModule {
			return c.errorf(ErrRedeclared, id, "%s is already declared as a %s", lexeme, c.prog.Names.At(nameID).Kind)
		}
		return nil
	}
	c.prog.Imports = append(c.prog.Imports, lexeme)
	return nil
}

// compileRule lowers a rule's match entries into one contiguous code range.
// Entries are conjunctive: every entry but the last branches to the end of
// the rule when its comparison fails.
func (c *Compiler) compileRule(id int) error {
	n := c.node(id)
	name := c.token(id).Lexeme
	for _, section := range n.Children {
		if k := c.node(section).Kind; k != NodeMatch {
			return c.errorf(ErrUnsupported, section, "rule %s: %s section is not supported", name, k)
		}
	}

	nameID, existed := c.prog.Names.Declare(name, vm.KindRule)
	if existed {
		return c.errorf(ErrRedeclared, id, "%s is already declared as a %s", name, c.prog.Names.At(nameID).Kind)
	}

	var entries []int
	for _, section := range n.Children {
		entries = append(entries, c.node(section).Children...)
	}

	start := c.builder.Len()
	end := c.builder.NewLabel()
	for i, entry := range entries {
		if err := c.compileMatchEntry(entry); err != nil {
			return err
		}
		if i < len(entries)-1 {
			c.builder.EmitJump(vm.OpJmpF, end)
		}
	}
	c.builder.Mark(end)
	if err := c.checkBuilder(id); err != nil {
		return err
	}

	c.prog.Rules = append(c.prog.Rules, vm.Rule{Name: name, NameID: nameID, Start: start, End: c.builder.Len()})
	return nil
}

// compileMatchEntry compiles one boolean expression with a fresh type stack.
// It must end in an instruction that sets the flag.
func (c *Compiler) compileMatchEntry(id int) error {
	c.types = c.types[:0]
	if err := c.compileNode(id); err != nil {
		return err
	}
	k, err := c.popType(id, 0)
	if err != nil {
		return err
	}
	last, ok := c.builder.LastOpcode()
	if !ok || k != vm.KindFlag || !(last.IsComparison() || last == vm.OpNot) {
		return c.errorf(ErrNotComparison, id, "match entry is a %s, not a comparison", k)
	}
	return nil
}

func (c *Compiler) compileUnsupported(id int) error {
	return c.errorf(ErrUnsupported, id, "%s is not supported", c.node(id).Kind)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

var arithmeticOps = map[NodeKind]vm.Opcode{
	NodeAddition: vm.OpAdd,
	NodeSubtract: vm.OpSub,
	NodeMultiply: vm.OpMul,
	NodeDivide:   vm.OpDiv,
}

// compileBinary compiles both operands left to right, checks their kinds and
// emits the operator. Logical operators branch around their right operand.
func (c *Compiler) compileBinary(id int) error {
	n := c.node(id)
	if len(n.Children) != 2 {
		return c.errorf(ErrInternal, id, "%s has %d operands", n.Kind, len(n.Children))
	}
	base := len(c.types)

	if err := c.compileNode(n.Children[0]); err != nil {
		return err
	}
	left, err := c.popType(n.Children[0], base)
	if err != nil {
		return err
	}

	var skip *vm.Label
	switch n.Kind {
	case NodeAnd, NodeOr:
		if left != vm.KindFlag {
			return c.errorf(ErrTypeMismatch, id, "left operand of %s is a %s, not a comparison", n.Kind, left)
		}
		skip = c.builder.NewLabel()
		if n.Kind == NodeAnd {
			c.builder.EmitJump(vm.OpJmpF, skip)
		} else {
			c.builder.EmitJump(vm.OpJmpT, skip)
		}
	}

	if err := c.compileNode(n.Children[1]); err != nil {
		return err
	}
	right, err := c.popType(n.Children[1], base)
	if err != nil {
		return err
	}

	result, err := c.emitOperator(id, n.Kind, left, right, skip)
	if err != nil {
		return err
	}
	c.types = append(c.types, result)
	return nil
}

func (c *Compiler) emitOperator(id int, kind NodeKind, left, right vm.Kind, skip *vm.Label) (vm.Kind, error) {
	op := c.token(id).Lexeme
	if kind != NodeAnd && kind != NodeOr && (left == vm.KindFlag || right == vm.KindFlag) {
		return 0, c.errorf(ErrTypeMismatch, id, "comparison result used as an operand of %s", op)
	}

	switch kind {
	case NodeAnd, NodeOr:
		if right != vm.KindFlag {
			return 0, c.errorf(ErrTypeMismatch, id, "right operand of %s is a %s, not a comparison", kind, right)
		}
		c.builder.Mark(skip)
		return vm.KindFlag, nil

	case NodeEquality:
		if left != right {
			return 0, c.errorf(ErrTypeMismatch, id, "%s %s %s", left, op, right)
		}
		switch left {
		case vm.KindLong, vm.KindBool:
			c.builder.Emit(vm.OpCmp)
		case vm.KindString:
			c.builder.Emit(vm.OpCmpStr)
		default:
			return 0, c.errorf(ErrUnsupported, id, "%s values cannot be compared with %s", left, op)
		}
		return vm.KindFlag, nil

	case NodeLesser, NodeGreater:
		if left != right {
			return 0, c.errorf(ErrTypeMismatch, id, "%s %s %s", left, op, right)
		}
		if !left.IsNumeric() {
			return 0, c.errorf(ErrNotNumeric, id, "%s values cannot be ordered", left)
		}
		if kind == NodeLesser {
			c.builder.Emit(vm.OpLT)
		} else {
			c.builder.Emit(vm.OpGT)
		}
		return vm.KindFlag, nil

	case NodeRegMatch:
		if left != vm.KindString || right != vm.KindRegexp {
			return 0, c.errorf(ErrTypeMismatch, id, "%s %s %s, want string %s regexp", left, op, right, op)
		}
		c.builder.Emit(vm.OpRegMatch)
		return vm.KindFlag, nil
	}

	if opcode, ok := arithmeticOps[kind]; ok {
		if left != right {
			return 0, c.errorf(ErrTypeMismatch, id, "%s %s %s", left, op, right)
		}
		if !left.IsNumeric() {
			return 0, c.errorf(ErrNotNumeric, id, "%s values have no %s", left, op)
		}
		c.builder.Emit(opcode)
		return left, nil
	}
	return 0, c.errorf(ErrUnsupported, id, "operator %s", kind)
}

func (c *Compiler) compileNot(id int) error {
	n := c.node(id)
	if len(n.Children) != 1 {
		return c.errorf(ErrInternal, id, "not has %d operands", len(n.Children))
	}
	base := len(c.types)
	if err := c.compileNode(n.Children[0]); err != nil {
		return err
	}
	k, err := c.popType(n.Children[0], base)
	if err != nil {
		return err
	}
	if k != vm.KindFlag {
		return c.errorf(ErrTypeMismatch, id, "not applied to a %s, not a comparison", k)
	}
	c.builder.Emit(vm.OpNot)
	c.types = append(c.types, vm.KindFlag)
	return nil
}

// compileLiteral interns the literal and pushes it by pool id.
func (c *Compiler) compileLiteral(id int) error {
	n := c.node(id)
	lexeme := c.token(id).Lexeme
	pool := c.prog.Pool

	var poolID int
	var kind vm.Kind
	var err error
	switch n.Kind {
	case NodeLong:
		v, perr := strconv.ParseInt(lexeme, 10, 64)
		if perr != nil {
			return c.wrapf(ErrMalformedLiteral, id, perr, "long %q", lexeme)
		}
		poolID, err = pool.InternLong(v)
		kind = vm.KindLong

	case NodeString:
		if len(lexeme) < 2 || lexeme[0] != '"' || lexeme[len(lexeme)-1] != '"' {
			return c.errorf(ErrMalformedLiteral, id, "string %s is not quoted", lexeme)
		}
		poolID, err = pool.InternString(unquote(lexeme, '"'))
		kind = vm.KindString

	case NodeRegexp:
		if len(lexeme) < 2 || lexeme[0] != '/' || lexeme[len(lexeme)-1] != '/' {
			return c.errorf(ErrMalformedLiteral, id, "regexp %s is not delimited", lexeme)
		}
		pattern := unquote(lexeme, '/')
		if _, rerr := vm.CompileRegexp(pattern); rerr != nil {
			return c.wrapf(ErrMalformedLiteral, id, rerr, "regexp %s", lexeme)
		}
		poolID, err = pool.InternRegexp(pattern)
		kind = vm.KindRegexp

	case NodeTrue, NodeFalse:
		poolID, err = pool.InternBool(n.Kind == NodeTrue)
		kind = vm.KindBool

	default:
		return c.errorf(ErrInternal, id, "%s is not a literal", n.Kind)
	}
	if err != nil {
		return c.wrapf(ErrInternal, id, err, "interning %s", lexeme)
	}

	c.builder.EmitPush(uint64(poolID))
	if err := c.checkBuilder(id); err != nil {
		return err
	}
	c.types = append(c.types, kind)
	return nil
}

// unquote strips the delimiters from a string or regexp lexeme. Escapes are
// kept as written.
func unquote(lexeme string, delim byte) string {
	if len(lexeme) >= 2 && lexeme[0] == delim && lexeme[len(lexeme)-1] == delim {
		return lexeme[1 : len(lexeme)-1]
	}
	return lexeme
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// compileCall lowers a call of a module function: arguments left to right,
// then CALL. The descriptor is copied into the program heap so the program
// does not depend on the module's heap.
func (c *Compiler) compileCall(id int) error {
	n := c.node(id)
	if len(n.Children) == 0 {
		return c.errorf(ErrInternal, id, "call without callee")
	}
	callee := n.Children[0]
	name, fn, err := c.resolveFunc(callee)
	if err != nil {
		return err
	}

	args := n.Children[1:]
	if len(args) != len(fn.Params) {
		return c.errorf(ErrTypeMismatch, id, "%s takes %d arguments, got %d", name, len(fn.Params), len(args))
	}
	base := len(c.types)
	for i, arg := range args {
		if err := c.compileNode(arg); err != nil {
			return err
		}
		k, err := c.popType(arg, base)
		if err != nil {
			return err
		}
		if k != fn.Params[i] {
			return c.errorf(ErrTypeMismatch, arg, "%s argument %d is %s, want %s", name, i+1, k, fn.Params[i])
		}
	}

	poolID, ok := c.funcs[name]
	if !ok {
		off, err := vm.NewFunc(c.prog.Heap, fn)
		if err != nil {
			return c.wrapf(ErrInternal, id, err, "copying %s", name)
		}
		poolID, err = c.prog.Pool.Intern(vm.FromOffset(off), vm.KindFunc)
		if err != nil {
			return c.wrapf(ErrInternal, id, err, "interning %s", name)
		}
		c.funcs[name] = poolID
	}
	if poolID > 0xFFFF {
		return c.errorf(ErrInternal, id, "function %s at pool index %d is out of CALL range", name, poolID)
	}
	c.prog.Natives = c.natives
	c.builder.EmitCall(uint16(poolID))
	if err := c.checkBuilder(id); err != nil {
		return err
	}
	c.types = append(c.types, fn.Ret)
	return nil
}

// resolveFunc finds the function a callee names. A dotted callee whose
// first component is an imported module also resolves by its last
// component, so str.len finds len defined by module str.
func (c *Compiler) resolveFunc(callee int) (string, vm.FuncDesc, error) {
	var parts []string
	switch c.node(callee).Kind {
	case NodeName:
		parts = []string{c.token(callee).Lexeme}
	case NodePath:
		for _, child := range c.node(callee).Children {
			parts = append(parts, c.token(child).Lexeme)
		}
	default:
		return "", vm.FuncDesc{}, c.errorf(ErrUnsupported, callee, "cannot call %s", c.node(callee).Kind)
	}
	name := strings.Join(parts, ".")
	if c.defs == nil {
		return name, vm.FuncDesc{}, c.errorf(ErrUndefined, callee, "function %s: no modules loaded", name)
	}

	v, k, ok := c.defs.Find(name)
	if !ok && len(parts) > 1 {
		if mod, found := c.prog.Names.Lookup(parts[0]); found && c.prog.Names.At(mod).Kind == vm.KindModule {
			v, k, ok = c.defs.Find(parts[len(parts)-1])
		}
	}
	if !ok {
		return name, vm.FuncDesc{}, c.errorf(ErrUndefined, callee, "function %s", name)
	}
	if k != vm.KindFunc {
		return name, vm.FuncDesc{}, c.errorf(ErrTypeMismatch, callee, "%s is %s, not func", name, k)
	}
	fn, err := vm.FuncAt(c.defsHeap, v.Offset())
	if err != nil {
		return name, vm.FuncDesc{}, c.wrapf(ErrInternal, callee, err, "function %s", name)
	}
	return name, fn, nil
}
