package vm

import (
	"fmt"

	"github.com/chazu/jary/arena"
)

// Kind is the type tag stored beside every pool entry, name and stack slot.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindLong
	KindBool
	KindString
	KindRegexp
	KindEvent
	KindFunc
	KindModule
	KindHandle
	KindRule
	KindIngress

	// KindFlag is compile-time only: the value lives in the flag register.
	KindFlag
)

var kindNames = [...]string{
	KindUnknown: "unknown",
	KindLong:    "long",
	KindBool:    "bool",
	KindString:  "string",
	KindRegexp:  "regexp",
	KindEvent:   "event",
	KindFunc:    "func",
	KindModule:  "module",
	KindHandle:  "handle",
	KindRule:    "rule",
	KindIngress: "ingress",
	KindFlag:    "flag",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsNumeric reports whether arithmetic and ordering opcodes accept the kind.
func (k Kind) IsNumeric() bool {
	return k == KindLong
}

// IsScalar reports whether values of the kind are stored inline.
func (k Kind) IsScalar() bool {
	return k == KindLong || k == KindBool
}

// IsObject reports whether values of the kind are heap offsets.
func (k Kind) IsObject() bool {
	switch k {
	case KindString, KindRegexp, KindEvent, KindFunc, KindModule:
		return true
	}
	return false
}

// KindByName maps a field type keyword to its kind.
func KindByName(name string) (Kind, bool) {
	switch name {
	case "long":
		return KindLong, true
	case "string":
		return KindString, true
	case "bool":
		return KindBool, true
	}
	return KindUnknown, false
}

// ---------------------------------------------------------------------------
// Value
// ---------------------------------------------------------------------------

// Value is an untagged 64-bit payload. Its kind travels beside it.
type Value uint64

// FromLong encodes a signed integer.
func FromLong(n int64) Value { return Value(uint64(n)) }

// FromBool encodes a boolean as 0 or 1.
func FromBool(b bool) Value {
	if b {
		return 1
	}
	return 0
}

// FromOffset encodes a heap reference.
func FromOffset(off arena.Offset) Value { return Value(off) }

// Long decodes a signed integer.
func (v Value) Long() int64 { return int64(v) }

// Bool decodes a boolean.
func (v Value) Bool() bool { return v != 0 }

// Offset decodes a heap reference.
func (v Value) Offset() arena.Offset { return arena.Offset(v) }

// Format renders v as kind k, resolving object kinds through heap when it is
// not nil.
func Format(v Value, k Kind, heap *arena.Heap) string {
	switch k {
	case KindLong:
		return fmt.Sprintf("%d", v.Long())
	case KindBool:
		return fmt.Sprintf("%t", v.Bool())
	case KindString, KindRegexp:
		if heap == nil {
			break
		}
		s, err := StringAt(heap, v.Offset())
		if err != nil {
			return fmt.Sprintf("<bad %s @%d>", k, v.Offset())
		}
		if k == KindRegexp {
			return "/" + s + "/"
		}
		return fmt.Sprintf("%q", s)
	case KindFunc:
		if heap == nil {
			break
		}
		fn, err := FuncAt(heap, v.Offset())
		if err != nil {
			return fmt.Sprintf("<bad func @%d>", v.Offset())
		}
		return fn.String()
	}
	if k.IsObject() {
		return fmt.Sprintf("<%s @%d>", k, v.Offset())
	}
	return fmt.Sprintf("<%s %d>", k, uint64(v))
}
