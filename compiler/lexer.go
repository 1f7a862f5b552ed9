package compiler

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for rule sources
// ---------------------------------------------------------------------------

// Lexer tokenizes rule source code.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int  // current line (1-based)
	col     int  // current column (1-based)
	prev    TokenType
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		prev:  TokenNewline,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = len(l.input)
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	tok := l.scan()
	if tok.Type != TokenError {
		l.prev = tok.Type
	}
	return tok
}

func (l *Lexer) scan() Token {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\r' {
		l.readChar()
	}

	pos := l.position()
	if l.atEOF() {
		return Token{Type: TokenEOF, Pos: pos}
	}

	single := func(t TokenType) Token {
		lexeme := l.input[l.pos:l.readPos]
		l.readChar()
		return Token{Type: t, Lexeme: lexeme, Pos: pos}
	}

	switch {
	case l.ch == '\n':
		start := l.pos
		for l.ch == '\n' || l.ch == ' ' || l.ch == '\t' || l.ch == '\r' {
			l.readChar()
		}
		return Token{Type: TokenNewline, Lexeme: l.input[start:l.pos], Pos: pos}
	case l.ch == '(':
		return single(TokenLParen)
	case l.ch == ')':
		return single(TokenRParen)
	case l.ch == '{':
		return single(TokenLBrace)
	case l.ch == '}':
		return single(TokenRBrace)
	case l.ch == '.':
		return single(TokenDot)
	case l.ch == ',':
		return single(TokenComma)
	case l.ch == ':':
		return single(TokenColon)
	case l.ch == '$':
		return single(TokenDollar)
	case l.ch == '~':
		return single(TokenTilde)
	case l.ch == '+':
		return single(TokenPlus)
	case l.ch == '*':
		return single(TokenStar)
	case l.ch == '<':
		return single(TokenLess)
	case l.ch == '>':
		return single(TokenGreater)
	case l.ch == '=':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return Token{Type: TokenEqual, Lexeme: "==", Pos: pos}
		}
		l.readChar()
		return Token{Type: TokenError, Lexeme: "unexpected '=' (use '==')", Pos: pos}
	case l.ch == '-':
		if isDigit(l.peekChar()) && !l.prev.endsOperand() {
			return l.readNumber(pos)
		}
		return single(TokenMinus)
	case l.ch == '/':
		if l.prev.endsOperand() {
			return single(TokenSlash)
		}
		return l.readDelimited(pos, '/', TokenRegexp, "regexp")
	case l.ch == '"':
		return l.readDelimited(pos, '"', TokenString, "string")
	case isDigit(l.ch):
		return l.readNumber(pos)
	case isLetter(l.ch) || l.ch == '_':
		return l.readIdentifierOrKeyword(pos)
	default:
		ch := l.ch
		l.readChar()
		return Token{Type: TokenError, Lexeme: fmt.Sprintf("unexpected character %q", ch), Pos: pos}
	}
}

// readDelimited reads a string or regexp, delimiters included. A backslash
// escapes the next character. Neither may span lines.
func (l *Lexer) readDelimited(pos Position, delim rune, t TokenType, what string) Token {
	start := l.pos
	l.readChar() // opening delimiter
	for {
		switch {
		case l.atEOF() || l.ch == '\n':
			return Token{Type: TokenError, Lexeme: "unterminated " + what, Pos: pos}
		case l.ch == '\\':
			l.readChar()
			if l.atEOF() || l.ch == '\n' {
				continue
			}
		case l.ch == delim:
			l.readChar()
			return Token{Type: t, Lexeme: l.input[start:l.pos], Pos: pos}
		}
		l.readChar()
	}
}

func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	if l.ch == '-' {
		l.readChar()
	}
	for isDigit(l.ch) {
		l.readChar()
	}
	return Token{Type: TokenNumber, Lexeme: l.input[start:l.pos], Pos: pos}
}

func (l *Lexer) readIdentifierOrKeyword(pos Position) Token {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	literal := l.input[start:l.pos]
	if t, ok := keywords[literal]; ok {
		return Token{Type: t, Lexeme: literal, Pos: pos}
	}
	return Token{Type: TokenIdentifier, Lexeme: literal, Pos: pos}
}

func isLetter(r rune) bool {
	return unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Scan tokenizes src. The token stream always ends with EOF; malformed
// input yields error tokens in place, each also reported as a SyntaxError.
func Scan(src string) ([]Token, []*SyntaxError) {
	l := NewLexer(src)
	var tokens []Token
	var errs []*SyntaxError
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenError {
			errs = append(errs, &SyntaxError{Pos: tok.Pos, Msg: tok.Lexeme})
		}
		if tok.Type == TokenEOF {
			return tokens, errs
		}
	}
}
