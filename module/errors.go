package module

import (
	"errors"
	"fmt"
	"sync"
)

// Status codes are int32 with bit 31 set and a message index in bits 24-30.
// Zero means success.
const (
	MsgUnknown       = 0
	MsgInvalidModule = 1
	MsgLoadFailed    = 2
	MsgDynamic       = messageLimit - 1 // text supplied by the OS loader

	messageLimit = 128
)

var messages = [messageLimit]string{
	MsgUnknown:       "unknown",
	MsgInvalidModule: "module does not exist",
	MsgLoadFailed:    "load failed",
}

var (
	dynamicMu sync.Mutex
	dynamic   string // last loader-provided message
)

// ToError encodes message index i as a status code.
func ToError(i int) int32 {
	return int32(uint32(i&0x7F)<<24 | 0x80000000)
}

// ToIndex extracts the message index from a status code.
func ToIndex(code int32) int {
	return int(uint32(code) & 0x7F000000 >> 24)
}

// Message resolves a status code to its text. Unassigned indexes resolve to
// the unknown message.
func Message(code int32) string {
	i := ToIndex(code)
	if i == MsgDynamic {
		dynamicMu.Lock()
		defer dynamicMu.Unlock()
		if dynamic != "" {
			return dynamic
		}
		return messages[MsgUnknown]
	}
	if messages[i] == "" {
		return messages[MsgUnknown]
	}
	return messages[i]
}

func setDynamic(msg string) {
	dynamicMu.Lock()
	dynamic = msg
	dynamicMu.Unlock()
}

// Error is a failed load or unload. Msg is the resolved text of Code at the
// time of failure.
type Error struct {
	Code   int32
	Msg    string
	Module string
	Err    error
}

func newError(index int, module string, err error) *Error {
	code := ToError(index)
	return &Error{Code: code, Msg: Message(code), Module: module, Err: err}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("module %s: %s", e.Module, e.Msg)
	if e.Err != nil && ToIndex(e.Code) != MsgDynamic {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the status code carried by err, 0 for nil and the unknown
// code for errors from elsewhere.
func Code(err error) int32 {
	if err == nil {
		return 0
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return ToError(MsgUnknown)
}
