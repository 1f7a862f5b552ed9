package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/chazu/jary/arena"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction. Zero is never a valid
// opcode, so zeroed memory traps.
type Opcode byte

// Push
const (
	OpPush8  Opcode = 0x01 // push pool entry (8-bit index)
	OpPush16 Opcode = 0x02 // push pool entry (16-bit index)
	OpPush32 Opcode = 0x03 // push pool entry (32-bit index)
	OpPush64 Opcode = 0x04 // push pool entry (64-bit index)
	OpEvent  Opcode = 0x05 // push event field (16-bit field, 16-bit pool index)
)

// Flag and control flow
const (
	OpNot  Opcode = 0x10 // invert flag
	OpJmpF Opcode = 0x11 // jump if flag clear (16-bit signed offset)
	OpJmpT Opcode = 0x12 // jump if flag set (16-bit signed offset)
)

// Comparisons
const (
	OpCmp      Opcode = 0x20 // flag = v1 == v2 (scalars)
	OpCmpStr   Opcode = 0x21 // flag = v1 == v2 (strings)
	OpLT       Opcode = 0x22 // flag = v1 < v2
	OpGT       Opcode = 0x23 // flag = v1 > v2
	OpRegMatch Opcode = 0x24 // flag = regexp v2 matches string v1
)

// Arithmetic
const (
	OpAdd Opcode = 0x30
	OpSub Opcode = 0x31
	OpMul Opcode = 0x32
	OpDiv Opcode = 0x33
)

// Calls
const (
	OpCall Opcode = 0x40 // call native function (16-bit pool index)
	OpEnd  Opcode = 0xFF // halt
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes
	StackEffect  int    // net effect on stack (-1 = variable)
	Comparison   bool   // writes the flag register from two operands
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpPush8:  {"PUSH8", 1, 1, false},
	OpPush16: {"PUSH16", 2, 1, false},
	OpPush32: {"PUSH32", 4, 1, false},
	OpPush64: {"PUSH64", 8, 1, false},
	OpEvent:  {"EVENT", 4, 1, false},

	OpNot:  {"NOT", 0, 0, false},
	OpJmpF: {"JMPF", 2, 0, false},
	OpJmpT: {"JMPT", 2, 0, false},

	OpCmp:      {"CMP", 0, -2, true},
	OpCmpStr:   {"CMPSTR", 0, -2, true},
	OpLT:       {"LT", 0, -2, true},
	OpGT:       {"GT", 0, -2, true},
	OpRegMatch: {"REGMATCH", 0, -2, true},

	OpAdd: {"ADD", 0, -1, false},
	OpSub: {"SUB", 0, -1, false},
	OpMul: {"MUL", 0, -1, false},
	OpDiv: {"DIV", 0, -1, false},

	OpCall: {"CALL", 2, -1, false}, // variable: pops the parameters
	OpEnd:  {"END", 0, 0, false},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

// IsComparison reports whether op leaves a boolean result in the flag.
func (op Opcode) IsComparison() bool {
	return op.Info().Comparison
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// PushOpcode returns the narrowest push instruction able to encode pool id.
func PushOpcode(id uint64) Opcode {
	switch {
	case id <= math.MaxUint8:
		return OpPush8
	case id <= math.MaxUint16:
		return OpPush16
	case id <= math.MaxUint32:
		return OpPush32
	default:
		return OpPush64
	}
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// ErrJumpTooFar reports a branch whose offset does not fit in 16 bits.
var ErrJumpTooFar = errors.New("vm: jump offset exceeds 16 bits")

// BytecodeBuilder appends instructions to an arena buffer. The first failure
// is sticky: later emits are ignored and Err reports it.
type BytecodeBuilder struct {
	buf  *arena.Buffer
	err  error
	last int // position of the most recent opcode, -1 if none
}

// NewBytecodeBuilder creates a builder whose chunk may grow to limit bytes
// (arena.Unlimited for none).
func NewBytecodeBuilder(limit int) *BytecodeBuilder {
	return &BytecodeBuilder{buf: arena.NewBuffer(64, limit), last: -1}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.buf.Bytes()
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return b.buf.Len()
}

// Err returns the first emit failure.
func (b *BytecodeBuilder) Err() error {
	return b.err
}

// LastOpcode returns the most recently emitted opcode.
func (b *BytecodeBuilder) LastOpcode() (Opcode, bool) {
	if b.last < 0 {
		return 0, false
	}
	return Opcode(b.buf.Bytes()[b.last]), true
}

// emit reserves an instruction of op plus n operand bytes and returns the
// operand slice, or nil after a failure.
func (b *BytecodeBuilder) emit(op Opcode, n int) []byte {
	if b.err != nil {
		return nil
	}
	pos := b.buf.Len()
	ins, err := b.buf.Alloc(1 + n)
	if err != nil {
		b.err = fmt.Errorf("bytecode: emit %s: %w", op, err)
		return nil
	}
	ins[0] = byte(op)
	b.last = pos
	return ins[1:]
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.emit(op, 0)
}

// EmitPush appends the narrowest push of pool id and returns the opcode used.
func (b *BytecodeBuilder) EmitPush(id uint64) Opcode {
	op := PushOpcode(id)
	operand := b.emit(op, op.OperandBytes())
	if operand == nil {
		return op
	}
	switch op {
	case OpPush8:
		operand[0] = byte(id)
	case OpPush16:
		binary.LittleEndian.PutUint16(operand, uint16(id))
	case OpPush32:
		binary.LittleEndian.PutUint32(operand, uint32(id))
	default:
		binary.LittleEndian.PutUint64(operand, id)
	}
	return op
}

// EmitEvent appends an EVENT instruction reading field of the event at pool
// index id.
func (b *BytecodeBuilder) EmitEvent(field, id uint16) {
	if operand := b.emit(OpEvent, 4); operand != nil {
		binary.LittleEndian.PutUint16(operand, field)
		binary.LittleEndian.PutUint16(operand[2:], id)
	}
}

// EmitCall appends a CALL of the function descriptor at pool index id.
func (b *BytecodeBuilder) EmitCall(id uint16) {
	if operand := b.emit(OpCall, 2); operand != nil {
		binary.LittleEndian.PutUint16(operand, id)
	}
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a forward reference in bytecode.
type Label struct {
	resolved bool
	position int   // target position once resolved
	refs     []int // operand positions that reference this label
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = b.buf.Len()

	// Patch all forward references
	code := b.buf.Bytes()
	for _, ref := range label.refs {
		b.patch(code[ref:ref+2], label.position-(ref+2))
	}
	label.refs = nil
}

// EmitJump emits a jump instruction with a label. Offsets are relative to
// the following instruction.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	operand := b.emit(op, 2)
	if operand == nil {
		return
	}
	after := b.buf.Len()
	if label.resolved {
		// Backward jump: calculate offset
		b.patch(operand, label.position-after)
	} else {
		// Forward jump: record position for later patching
		label.refs = append(label.refs, after-2)
	}
}

func (b *BytecodeBuilder) patch(operand []byte, offset int) {
	if offset < math.MinInt16 || offset > math.MaxInt16 {
		if b.err == nil {
			b.err = fmt.Errorf("bytecode: offset %d: %w", offset, ErrJumpTooFar)
		}
		return
	}
	binary.LittleEndian.PutUint16(operand, uint16(int16(offset)))
}

// ---------------------------------------------------------------------------
// Bytecode reader for disassembly
// ---------------------------------------------------------------------------

// BytecodeReader reads bytecode for disassembly.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// Remaining returns the number of unread bytes.
func (r *BytecodeReader) Remaining() int {
	return len(r.bytes) - r.pos
}

// ReadOpcode reads and returns the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	op := Opcode(r.bytes[r.pos])
	r.pos++
	return op
}

// ReadOperand reads an unsigned little-endian operand of n bytes.
func (r *BytecodeReader) ReadOperand(n int) uint64 {
	if r.pos+n > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := readOperand(r.bytes[r.pos:], n)
	r.pos += n
	return v
}

// ReadInt16 reads a signed 16-bit operand (little-endian).
func (r *BytecodeReader) ReadInt16() int16 {
	return int16(r.ReadOperand(2))
}

// Skip advances the position by n bytes, stopping at the end.
func (r *BytecodeReader) Skip(n int) {
	r.pos = min(r.pos+n, len(r.bytes))
}

func readOperand(b []byte, n int) uint64 {
	switch n {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	}
	panic(fmt.Sprintf("bad operand width %d", n))
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles a single instruction at the reader's
// position and advances the reader. When pool is not nil, pushed constants
// are rendered beside their index.
func DisassembleInstruction(r *BytecodeReader, pool *ConstantPool) string {
	pos := r.Position()
	op := r.ReadOpcode()
	info := op.Info()

	if r.Remaining() < info.OperandBytes {
		r.Skip(r.Remaining())
		return fmt.Sprintf("%04d  %s <truncated>", pos, info.Name)
	}

	switch op {
	case OpPush8, OpPush16, OpPush32, OpPush64:
		id := r.ReadOperand(info.OperandBytes)
		return fmt.Sprintf("%04d  %s %d%s", pos, info.Name, id, describeConstant(pool, id))

	case OpEvent:
		field := r.ReadOperand(2)
		id := r.ReadOperand(2)
		return fmt.Sprintf("%04d  %s field=%d event=%d", pos, info.Name, field, id)

	case OpJmpF, OpJmpT:
		offset := r.ReadInt16()
		target := r.Position() + int(offset)
		return fmt.Sprintf("%04d  %s %d (-> %04d)", pos, info.Name, offset, target)

	case OpCall:
		id := r.ReadOperand(2)
		return fmt.Sprintf("%04d  %s %d%s", pos, info.Name, id, describeConstant(pool, id))

	default:
		// Skip unknown operands
		r.Skip(info.OperandBytes)
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	}
}

func describeConstant(pool *ConstantPool, id uint64) string {
	if pool == nil || id >= uint64(pool.Len()) {
		return ""
	}
	v, k := pool.At(int(id))
	return fmt.Sprintf(" (%s %s)", k, Format(v, k, pool.Heap()))
}

// Disassemble returns a full disassembly of bytecode.
func Disassemble(bc []byte, pool *ConstantPool) string {
	r := NewBytecodeReader(bc)
	var sb strings.Builder
	for r.HasMore() {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(DisassembleInstruction(r, pool))
	}
	return sb.String()
}
