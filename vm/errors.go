package vm

import "fmt"

// FaultKind classifies runtime faults.
type FaultKind int

const (
	FaultStack         FaultKind = iota + 1 // operand stack allocation failed
	FaultDivideByZero                       // DIV with a zero divisor
	FaultInvalidOpcode                      // undefined opcode byte
	FaultTruncated                          // operand runs past the chunk
	FaultBadReference                       // pool index or heap offset does not resolve
	FaultType                               // operand kinds do not fit the opcode
	FaultBadJump                            // branch target outside the chunk
	FaultRegex                              // pattern failed to compile or match timed out
	FaultNative                             // native function failed
	FaultStepLimit                          // instruction budget exhausted
)

var faultNames = map[FaultKind]string{
	FaultStack:         "stack allocation failed",
	FaultDivideByZero:  "divide by zero",
	FaultInvalidOpcode: "invalid opcode",
	FaultTruncated:     "truncated instruction",
	FaultBadReference:  "bad reference",
	FaultType:          "type error",
	FaultBadJump:       "jump out of range",
	FaultRegex:         "regexp failure",
	FaultNative:        "native call failed",
	FaultStepLimit:     "step limit exceeded",
}

func (k FaultKind) String() string {
	if s, ok := faultNames[k]; ok {
		return s
	}
	return fmt.Sprintf("fault(%d)", int(k))
}

// RuntimeFault is returned when execution stops abnormally.
type RuntimeFault struct {
	Kind FaultKind
	PC   int
	Op   Opcode
	Err  error
}

func (f *RuntimeFault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("vm: %s at %04d (%s): %v", f.Kind, f.PC, f.Op, f.Err)
	}
	return fmt.Sprintf("vm: %s at %04d (%s)", f.Kind, f.PC, f.Op)
}

func (f *RuntimeFault) Unwrap() error {
	return f.Err
}
