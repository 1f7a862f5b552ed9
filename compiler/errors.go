package compiler

import "fmt"

// SyntaxError is a scan or parse error.
type SyntaxError struct {
	Pos Position
	Msg string
}

func newSyntaxError(pos Position, format string, args ...any) *SyntaxError {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// ErrorKind classifies compile errors. Each kind is also an error value, so
// errors.Is(err, ErrTypeMismatch) matches any *CompileError of that kind.
type ErrorKind int

const (
	ErrTypeMismatch     ErrorKind = iota + 1 // operand kinds do not fit the operator
	ErrNotNumeric                            // ordering or arithmetic on a non-numeric kind
	ErrUnsupported                           // construct has no lowering
	ErrMalformedLiteral                      // literal text does not parse
	ErrNotComparison                         // match entry does not produce a comparison
	ErrRedeclared                            // name declared twice
	ErrUndefined                             // name not bound by any loaded module
	ErrInternal                              // malformed tree or exhausted resources
)

var errorKindNames = map[ErrorKind]string{
	ErrTypeMismatch:     "type mismatch",
	ErrNotNumeric:       "not numeric",
	ErrUnsupported:      "unsupported",
	ErrMalformedLiteral: "malformed literal",
	ErrNotComparison:    "not a comparison",
	ErrRedeclared:       "redeclared",
	ErrUndefined:        "undefined",
	ErrInternal:         "internal error",
}

func (k ErrorKind) Error() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("compile error %d", int(k))
}

// CompileError reports the first failure of a compile.
type CompileError struct {
	Kind  ErrorKind
	Token Token
	Msg   string
	Err   error
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Token.Pos, e.Kind, e.Msg)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the error's kind.
func (e *CompileError) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

func (e *CompileError) Unwrap() error {
	return e.Err
}
