package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the rule language
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError
	TokenNewline

	// Delimiters
	TokenLParen // (
	TokenRParen // )
	TokenLBrace // {
	TokenRBrace // }
	TokenDot    // .
	TokenComma  // ,
	TokenColon  // :
	TokenDollar // $

	// Declarations
	TokenRule
	TokenImport
	TokenInclude
	TokenIngress

	// Sections
	TokenTarget
	TokenInput
	TokenMatch
	TokenCondition
	TokenField

	// Field types
	TokenLongType
	TokenStringType

	// Operators
	TokenTilde   // ~
	TokenPlus    // +
	TokenMinus   // -
	TokenStar    // *
	TokenSlash   // /
	TokenEqual   // ==
	TokenLess    // <
	TokenGreater // >
	TokenAnd
	TokenOr
	TokenNot
	TokenAny
	TokenAll

	// Literals
	TokenRegexp // /pattern/
	TokenString // "text"
	TokenNumber // 42
	TokenFalse
	TokenTrue

	TokenIdentifier
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenNewline:    "NEWLINE",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBrace:     "{",
	TokenRBrace:     "}",
	TokenDot:        ".",
	TokenComma:      ",",
	TokenColon:      ":",
	TokenDollar:     "$",
	TokenRule:       "rule",
	TokenImport:     "import",
	TokenInclude:    "include",
	TokenIngress:    "ingress",
	TokenTarget:     "target",
	TokenInput:      "input",
	TokenMatch:      "match",
	TokenCondition:  "condition",
	TokenField:      "field",
	TokenLongType:   "long",
	TokenStringType: "string",
	TokenTilde:      "~",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenSlash:      "/",
	TokenEqual:      "==",
	TokenLess:       "<",
	TokenGreater:    ">",
	TokenAnd:        "and",
	TokenOr:         "or",
	TokenNot:        "not",
	TokenAny:        "any",
	TokenAll:        "all",
	TokenRegexp:     "REGEXP",
	TokenString:     "STRING",
	TokenNumber:     "NUMBER",
	TokenFalse:      "false",
	TokenTrue:       "true",
	TokenIdentifier: "IDENTIFIER",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Position is a location in source. Line and Column start at 1.
type Position struct {
	Offset int
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token represents a lexical token.
type Token struct {
	Type   TokenType
	Lexeme string   // the raw text
	Pos    Position // start position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenNewline:
		return "NEWLINE"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Lexeme)
	}
	if len(t.Lexeme) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Lexeme[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Lexeme)
}

// keywords maps reserved words to their token types.
var keywords = map[string]TokenType{
	"all":       TokenAll,
	"and":       TokenAnd,
	"any":       TokenAny,
	"false":     TokenFalse,
	"true":      TokenTrue,
	"or":        TokenOr,
	"not":       TokenNot,
	"input":     TokenInput,
	"rule":      TokenRule,
	"import":    TokenImport,
	"ingress":   TokenIngress,
	"include":   TokenInclude,
	"match":     TokenMatch,
	"target":    TokenTarget,
	"condition": TokenCondition,
	"field":     TokenField,
	"long":      TokenLongType,
	"string":    TokenStringType,
}

// Keywords returns the reserved words in no particular order.
func Keywords() []string {
	out := make([]string, 0, len(keywords))
	for k := range keywords {
		out = append(out, k)
	}
	return out
}

// endsOperand reports whether a token can end an operand, which makes a
// following '/' a division rather than the start of a regexp.
func (t TokenType) endsOperand() bool {
	switch t {
	case TokenNumber, TokenString, TokenRegexp, TokenIdentifier, TokenRParen, TokenTrue, TokenFalse:
		return true
	}
	return false
}

// isSection reports whether t opens a rule section.
func (t TokenType) isSection() bool {
	switch t {
	case TokenTarget, TokenInput, TokenMatch, TokenCondition, TokenField:
		return true
	}
	return false
}
