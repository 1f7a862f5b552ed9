package compiler

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for rule sources
// ---------------------------------------------------------------------------

// Parser builds a Tree from a token stream. Errors are collected and parsing
// resumes at the next line or closing brace.
type Parser struct {
	tokens []Token
	pos    int
	parens int // newlines are insignificant inside parentheses
	tree   *Tree
	errors []*SyntaxError
}

// NewParser creates a parser over tokens as produced by Scan.
func NewParser(tokens []Token) *Parser {
	p := &Parser{tokens: tokens, tree: &Tree{}}
	if len(tokens) == 0 || tokens[len(tokens)-1].Type != TokenEOF {
		var pos Position
		if len(tokens) > 0 {
			pos = tokens[len(tokens)-1].Pos
		}
		p.tokens = append(append([]Token(nil), tokens...), Token{Type: TokenEOF, Pos: pos})
	}
	return p
}

// Parse parses a token stream into a tree rooted at node 0.
func Parse(tokens []Token) (*Tree, []*SyntaxError) {
	p := NewParser(tokens)
	p.ParseFile()
	return p.tree, p.errors
}

func (p *Parser) cur() Token {
	return p.tokens[p.pos]
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	for p.parens > 0 && p.curTokenIs(TokenNewline) && p.pos < len(p.tokens)-1 {
		p.pos++
	}
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.tokens[p.pos].Type == t
}

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, p.cur().Type)
	return false
}

// errorf records a parse error at the current token. Error tokens were
// already reported by the scanner and are not reported twice.
func (p *Parser) errorf(format string, args ...any) {
	tok := p.cur()
	if tok.Type == TokenError {
		return
	}
	p.errors = append(p.errors, newSyntaxError(tok.Pos, format, args...))
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []*SyntaxError {
	return p.errors
}

// syncLine skips to the next newline, closing brace or EOF.
func (p *Parser) syncLine() {
	p.parens = 0
	for !p.curTokenIs(TokenNewline) && !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		p.nextToken()
	}
}

// syncDecl skips the rest of a malformed declaration, including any braced
// body it opened.
func (p *Parser) syncDecl() {
	p.parens = 0
	depth := 0
	for !p.curTokenIs(TokenEOF) {
		switch p.cur().Type {
		case TokenLBrace:
			depth++
		case TokenRBrace:
			depth--
			if depth <= 0 {
				p.nextToken()
				return
			}
		case TokenNewline:
			if depth == 0 {
				return
			}
		}
		p.nextToken()
	}
}

// endOfLine requires a declaration or entry to end here.
func (p *Parser) endOfLine() bool {
	if p.curTokenIs(TokenNewline) || p.curTokenIs(TokenEOF) || p.curTokenIs(TokenRBrace) {
		return true
	}
	p.errorf("expected end of line, got %s", p.cur().Type)
	return false
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// ParseFile parses every declaration in the stream.
func (p *Parser) ParseFile() *Tree {
	root := p.tree.Add(NodeRoot, 0)
	for !p.curTokenIs(TokenEOF) {
		var decl int
		switch p.cur().Type {
		case TokenNewline, TokenError:
			p.nextToken()
			continue
		case TokenImport:
			decl = p.parseNamed(NodeImport, TokenIdentifier)
		case TokenInclude:
			decl = p.parseNamed(NodeInclude, TokenString)
		case TokenRule:
			decl = p.parseBlock(NodeRule)
		case TokenIngress:
			decl = p.parseBlock(NodeIngress)
		default:
			p.errorf("expected declaration, got %s", p.cur().Type)
			decl = -1
		}
		if decl < 0 {
			p.syncDecl()
			continue
		}
		p.tree.AddChild(root, decl)
	}
	return p.tree
}

// parseNamed parses 'import IDENT' and 'include STRING'.
func (p *Parser) parseNamed(kind NodeKind, want TokenType) int {
	p.nextToken()
	if !p.curTokenIs(want) {
		p.errorf("expected %s after %s, got %s", want, kind, p.cur().Type)
		return -1
	}
	id := p.tree.Add(kind, p.pos)
	p.nextToken()
	if !p.endOfLine() {
		return -1
	}
	return id
}

// parseBlock parses a rule or ingress body.
func (p *Parser) parseBlock(kind NodeKind) int {
	p.nextToken()
	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected %s name, got %s", kind, p.cur().Type)
		return -1
	}
	id := p.tree.Add(kind, p.pos)
	p.nextToken()
	for p.curTokenIs(TokenNewline) {
		p.nextToken()
	}
	if !p.expect(TokenLBrace) {
		return -1
	}

	for {
		switch {
		case p.curTokenIs(TokenNewline):
			p.nextToken()
		case p.curTokenIs(TokenRBrace):
			p.nextToken()
			return id
		case p.curTokenIs(TokenEOF):
			p.errorf("unterminated %s body", kind)
			return id
		case p.cur().Type.isSection():
			p.tree.AddChild(id, p.parseSection())
		default:
			p.errorf("expected section, got %s", p.cur().Type)
			p.syncLine()
		}
	}
}

var sectionKinds = map[TokenType]NodeKind{
	TokenTarget:    NodeTarget,
	TokenInput:     NodeInput,
	TokenMatch:     NodeMatch,
	TokenCondition: NodeCondition,
	TokenField:     NodeFields,
}

// parseSection parses 'name:' followed by one entry per line, up to the next
// section or the end of the body.
func (p *Parser) parseSection() int {
	kind := sectionKinds[p.cur().Type]
	id := p.tree.Add(kind, p.pos)
	p.nextToken()
	if !p.expect(TokenColon) {
		p.syncLine()
	}

	for {
		switch {
		case p.curTokenIs(TokenNewline):
			p.nextToken()
			continue
		case p.cur().Type.isSection(), p.curTokenIs(TokenRBrace), p.curTokenIs(TokenEOF):
			return id
		}

		var entry int
		if kind == NodeFields {
			entry = p.parseFieldDecl()
		} else {
			entry = p.parseExpression()
		}
		if entry < 0 || !p.endOfLine() {
			p.syncLine()
			continue
		}
		p.tree.AddChild(id, entry)
	}
}

// parseFieldDecl parses 'IDENT long' or 'IDENT string'.
func (p *Parser) parseFieldDecl() int {
	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected field name, got %s", p.cur().Type)
		return -1
	}
	name := p.pos
	p.nextToken()
	if !p.curTokenIs(TokenLongType) && !p.curTokenIs(TokenStringType) {
		p.errorf("expected field type, got %s", p.cur().Type)
		return -1
	}
	p.nextToken()
	return p.tree.Add(NodeField, name)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// parseExpression parses an expression and returns its node id, or -1.
func (p *Parser) parseExpression() int {
	return p.parseOr()
}

func (p *Parser) parseOr() int {
	left := p.parseAnd()
	for left >= 0 && p.curTokenIs(TokenOr) {
		op := p.pos
		p.nextToken()
		right := p.parseAnd()
		if right < 0 {
			return -1
		}
		left = p.tree.Add(NodeOr, op, left, right)
	}
	return left
}

func (p *Parser) parseAnd() int {
	left := p.parseNot()
	for left >= 0 && p.curTokenIs(TokenAnd) {
		op := p.pos
		p.nextToken()
		right := p.parseNot()
		if right < 0 {
			return -1
		}
		left = p.tree.Add(NodeAnd, op, left, right)
	}
	return left
}

func (p *Parser) parseNot() int {
	if !p.curTokenIs(TokenNot) {
		return p.parseComparison()
	}
	op := p.pos
	p.nextToken()
	operand := p.parseNot()
	if operand < 0 {
		return -1
	}
	return p.tree.Add(NodeNot, op, operand)
}

var comparisonKinds = map[TokenType]NodeKind{
	TokenEqual:   NodeEquality,
	TokenLess:    NodeLesser,
	TokenGreater: NodeGreater,
	TokenTilde:   NodeRegMatch,
}

func (p *Parser) parseComparison() int {
	left := p.parseAdditive()
	kind, ok := comparisonKinds[p.cur().Type]
	if left < 0 || !ok {
		return left
	}
	op := p.pos
	p.nextToken()
	right := p.parseAdditive()
	if right < 0 {
		return -1
	}
	return p.tree.Add(kind, op, left, right)
}

func (p *Parser) parseAdditive() int {
	left := p.parseMultiplicative()
	for left >= 0 && (p.curTokenIs(TokenPlus) || p.curTokenIs(TokenMinus)) {
		kind := NodeAddition
		if p.curTokenIs(TokenMinus) {
			kind = NodeSubtract
		}
		op := p.pos
		p.nextToken()
		right := p.parseMultiplicative()
		if right < 0 {
			return -1
		}
		left = p.tree.Add(kind, op, left, right)
	}
	return left
}

func (p *Parser) parseMultiplicative() int {
	left := p.parsePrimary()
	for left >= 0 && (p.curTokenIs(TokenStar) || p.curTokenIs(TokenSlash)) {
		kind := NodeMultiply
		if p.curTokenIs(TokenSlash) {
			kind = NodeDivide
		}
		op := p.pos
		p.nextToken()
		right := p.parsePrimary()
		if right < 0 {
			return -1
		}
		left = p.tree.Add(kind, op, left, right)
	}
	return left
}

var literalKinds = map[TokenType]NodeKind{
	TokenNumber: NodeLong,
	TokenString: NodeString,
	TokenRegexp: NodeRegexp,
	TokenTrue:   NodeTrue,
	TokenFalse:  NodeFalse,
}

func (p *Parser) parsePrimary() int {
	tok := p.cur()
	if kind, ok := literalKinds[tok.Type]; ok {
		id := p.tree.Add(kind, p.pos)
		p.nextToken()
		return id
	}

	switch tok.Type {
	case TokenLParen:
		p.parens++
		p.nextToken()
		inner := p.parseExpression()
		if inner < 0 {
			return -1
		}
		p.parens--
		if !p.expect(TokenRParen) {
			return -1
		}
		return inner

	case TokenDollar:
		p.nextToken()
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected event name after $, got %s", p.cur().Type)
			return -1
		}
		event := p.tree.Add(NodeEvent, p.pos)
		p.nextToken()
		for p.curTokenIs(TokenDot) {
			p.nextToken()
			if !p.curTokenIs(TokenIdentifier) {
				p.errorf("expected member name, got %s", p.cur().Type)
				return -1
			}
			p.tree.AddChild(event, p.tree.Add(NodeMember, p.pos))
			p.nextToken()
		}
		return event

	case TokenIdentifier:
		return p.parseNameOrCall()

	default:
		p.errorf("expected operand, got %s", tok.Type)
		return -1
	}
}

// parseNameOrCall parses IDENT {'.' IDENT} ['(' args ')'].
func (p *Parser) parseNameOrCall() int {
	callee := p.tree.Add(NodeName, p.pos)
	p.nextToken()
	if p.curTokenIs(TokenDot) {
		callee = p.tree.Add(NodePath, p.tree.Nodes[callee].Token, callee)
		for p.curTokenIs(TokenDot) {
			p.nextToken()
			if !p.curTokenIs(TokenIdentifier) {
				p.errorf("expected name after '.', got %s", p.cur().Type)
				return -1
			}
			p.tree.AddChild(callee, p.tree.Add(NodeName, p.pos))
			p.nextToken()
		}
	}
	if !p.curTokenIs(TokenLParen) {
		return callee
	}

	call := p.tree.Add(NodeCall, p.pos, callee)
	p.parens++
	p.nextToken()
	for !p.curTokenIs(TokenRParen) {
		arg := p.parseExpression()
		if arg < 0 {
			return -1
		}
		p.tree.AddChild(call, arg)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	p.parens--
	if !p.expect(TokenRParen) {
		return -1
	}
	return call
}
