// Package vm holds the value and object model shared by the rule compiler and
// the bytecode interpreter: the constant pool, the name and definitions
// tables, the bytecode format with its builder and disassembler, compiled
// programs, and the interpreter that executes them.
//
// Values are 64-bit payloads. Scalar kinds (long, bool) are stored inline.
// Object kinds (string, regexp, event, function) store an offset into an
// arena.Heap, so references survive heap growth.
//
// None of the types in this package are safe for concurrent mutation.
// Independent programs may be compiled and run on separate goroutines.
package vm
