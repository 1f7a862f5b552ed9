package vm

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/chazu/jary/arena"
	"github.com/dlclark/regexp2"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("jary.vm")

// DefaultMatchTimeout bounds a single REGMATCH.
const DefaultMatchTimeout = time.Second

// Interpreter executes bytecode against a constant pool and object heap.
// It keeps its operand stack and flag between runs until Reset.
type Interpreter struct {
	pool    *ConstantPool
	heap    *arena.Heap
	natives *NativeTable
	stack   stack
	flag    bool

	regexps      map[arena.Offset]*regexp2.Regexp
	matchTimeout time.Duration
	stepLimit    int
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithStackLimit bounds the operand stack to n slots.
func WithStackLimit(n int) Option {
	return func(in *Interpreter) { in.stack.limit = n }
}

// WithNatives supplies the functions CALL dispatches to.
func WithNatives(t *NativeTable) Option {
	return func(in *Interpreter) { in.natives = t }
}

// WithMatchTimeout bounds each regexp match.
func WithMatchTimeout(d time.Duration) Option {
	return func(in *Interpreter) { in.matchTimeout = d }
}

// WithStepLimit stops a run after n instructions. Zero means no limit.
func WithStepLimit(n int) Option {
	return func(in *Interpreter) { in.stepLimit = n }
}

// NewInterpreter creates an interpreter over pool and heap.
func NewInterpreter(pool *ConstantPool, heap *arena.Heap, opts ...Option) *Interpreter {
	in := &Interpreter{
		pool:         pool,
		heap:         heap,
		stack:        stack{limit: DefaultStackLimit},
		regexps:      make(map[arena.Offset]*regexp2.Regexp),
		matchTimeout: DefaultMatchTimeout,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Execute runs code once on a fresh interpreter.
func Execute(pool *ConstantPool, heap *arena.Heap, code []byte) error {
	return NewInterpreter(pool, heap).Run(code)
}

// Flag returns the flag register.
func (in *Interpreter) Flag() bool {
	return in.flag
}

// Stack returns a copy of the operand stack values, bottom first.
func (in *Interpreter) Stack() []Value {
	out := make([]Value, len(in.stack.slots))
	for i, s := range in.stack.slots {
		out[i] = s.v
	}
	return out
}

// Depth returns the operand stack depth.
func (in *Interpreter) Depth() int {
	return in.stack.len()
}

// Pop removes the top of the operand stack. ok is false when it is empty.
func (in *Interpreter) Pop() (v Value, k Kind, ok bool) {
	if in.stack.len() == 0 {
		return 0, KindUnknown, false
	}
	v, k = in.stack.pop()
	return v, k, true
}

// Reset clears the stack and flag.
func (in *Interpreter) Reset() {
	in.stack.reset()
	in.flag = false
}

// Run executes code until its end or an END instruction.
func (in *Interpreter) Run(code []byte) error {
	steps := 0
	pc := 0
	for pc < len(code) {
		op := Opcode(code[pc])
		info, ok := opcodeTable[op]
		if !ok {
			return in.fault(FaultInvalidOpcode, pc, op, nil)
		}
		next := pc + 1 + info.OperandBytes
		if next > len(code) {
			return in.fault(FaultTruncated, pc, op, fmt.Errorf("need %d operand bytes, have %d", info.OperandBytes, len(code)-pc-1))
		}
		if in.stepLimit > 0 {
			if steps++; steps > in.stepLimit {
				return in.fault(FaultStepLimit, pc, op, nil)
			}
		}
		operand := code[pc+1 : next]

		var kind FaultKind
		var err error
		switch op {
		case OpPush8, OpPush16, OpPush32, OpPush64:
			kind, err = in.push(readOperand(operand, len(operand)))

		case OpEvent:
			kind, err = in.event(int(readOperand(operand, 2)), readOperand(operand[2:], 2))

		case OpNot:
			in.flag = !in.flag

		case OpJmpF, OpJmpT:
			if in.flag == (op == OpJmpT) {
				target := next + int(int16(readOperand(operand, 2)))
				if target < 0 || target > len(code) {
					return in.fault(FaultBadJump, pc, op, fmt.Errorf("target %d", target))
				}
				next = target
			}

		case OpCmp:
			v2, k2 := in.stack.pop()
			v1, k1 := in.stack.pop()
			if k1 != k2 || !k1.IsScalar() {
				return in.fault(FaultType, pc, op, mismatch(k1, k2))
			}
			in.flag = v1 == v2

		case OpCmpStr:
			kind, err = in.compareStrings()

		case OpLT, OpGT:
			v2, k2 := in.stack.pop()
			v1, k1 := in.stack.pop()
			if k1 != k2 || !k1.IsNumeric() {
				return in.fault(FaultType, pc, op, mismatch(k1, k2))
			}
			if op == OpLT {
				in.flag = v1.Long() < v2.Long()
			} else {
				in.flag = v1.Long() > v2.Long()
			}

		case OpRegMatch:
			kind, err = in.regmatch()

		case OpAdd, OpSub, OpMul, OpDiv:
			kind, err = in.arith(op)

		case OpCall:
			kind, err = in.call(readOperand(operand, 2))

		case OpEnd:
			return nil
		}
		if err != nil {
			return in.fault(kind, pc, op, err)
		}
		pc = next
	}
	return nil
}

func (in *Interpreter) fault(kind FaultKind, pc int, op Opcode, err error) error {
	f := &RuntimeFault{Kind: kind, PC: pc, Op: op, Err: err}
	log.Debugf("%s", f)
	return f
}

func mismatch(k1, k2 Kind) error {
	return fmt.Errorf("operands %s and %s", k1, k2)
}

func (in *Interpreter) pushSlot(v Value, k Kind) (FaultKind, error) {
	if err := in.stack.push(v, k); err != nil {
		return FaultStack, err
	}
	return 0, nil
}

// push resolves pool entry id. Object references are checked against the
// heap before they reach the stack.
func (in *Interpreter) push(id uint64) (FaultKind, error) {
	if id >= uint64(in.pool.Len()) {
		return FaultBadReference, fmt.Errorf("pool index %d of %d", id, in.pool.Len())
	}
	v, k := in.pool.At(int(id))
	if k.IsObject() {
		if _, err := in.heap.Fetch(v.Offset()); err != nil {
			return FaultBadReference, err
		}
	}
	return in.pushSlot(v, k)
}

func (in *Interpreter) event(field int, id uint64) (FaultKind, error) {
	if id >= uint64(in.pool.Len()) {
		return FaultBadReference, fmt.Errorf("pool index %d of %d", id, in.pool.Len())
	}
	v, k := in.pool.At(int(id))
	if k != KindEvent {
		return FaultType, fmt.Errorf("pool entry %d is %s, not event", id, k)
	}
	fv, fk, err := EventField(in.heap, v.Offset(), field)
	if err != nil {
		return FaultBadReference, err
	}
	return in.pushSlot(fv, fk)
}

func (in *Interpreter) compareStrings() (FaultKind, error) {
	v2, k2 := in.stack.pop()
	v1, k1 := in.stack.pop()
	if k1 != KindString || k2 != KindString {
		return FaultType, mismatch(k1, k2)
	}
	h1, b1, err := StringView(in.heap, v1.Offset())
	if err != nil {
		return FaultBadReference, err
	}
	h2, b2, err := StringView(in.heap, v2.Offset())
	if err != nil {
		return FaultBadReference, err
	}
	in.flag = h1 == h2 && bytes.Equal(b1, b2)
	return 0, nil
}

func (in *Interpreter) regmatch() (FaultKind, error) {
	v2, k2 := in.stack.pop()
	v1, k1 := in.stack.pop()
	if k1 != KindString || k2 != KindRegexp {
		return FaultType, mismatch(k1, k2)
	}
	re, err := in.regexp(v2.Offset())
	if err != nil {
		return FaultRegex, err
	}
	s, err := StringAt(in.heap, v1.Offset())
	if err != nil {
		return FaultBadReference, err
	}
	matched, err := re.MatchString(s)
	if err != nil {
		return FaultRegex, err
	}
	in.flag = matched
	return 0, nil
}

// regexp compiles the pattern object at off once per interpreter.
func (in *Interpreter) regexp(off arena.Offset) (*regexp2.Regexp, error) {
	if re, ok := in.regexps[off]; ok {
		return re, nil
	}
	pattern, err := StringAt(in.heap, off)
	if err != nil {
		return nil, err
	}
	re, err := CompileRegexp(pattern)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = in.matchTimeout
	in.regexps[off] = re
	return re, nil
}

// CompileRegexp compiles a pattern with the syntax REGMATCH uses.
func CompileRegexp(pattern string) (*regexp2.Regexp, error) {
	return regexp2.Compile(pattern, regexp2.RE2)
}

var errDivideByZero = errors.New("division by zero")

func (in *Interpreter) arith(op Opcode) (FaultKind, error) {
	v2, k2 := in.stack.pop()
	v1, k1 := in.stack.pop()
	if k1 != k2 || !k1.IsNumeric() {
		return FaultType, mismatch(k1, k2)
	}
	a, b := v1.Long(), v2.Long()
	var r int64
	switch op {
	case OpAdd:
		r = a + b
	case OpSub:
		r = a - b
	case OpMul:
		r = a * b
	case OpDiv:
		if b == 0 {
			return FaultDivideByZero, errDivideByZero
		}
		r = a / b
	}
	return in.pushSlot(FromLong(r), k1)
}

func (in *Interpreter) call(id uint64) (FaultKind, error) {
	if id >= uint64(in.pool.Len()) {
		return FaultBadReference, fmt.Errorf("pool index %d of %d", id, in.pool.Len())
	}
	v, k := in.pool.At(int(id))
	if k != KindFunc {
		return FaultType, fmt.Errorf("pool entry %d is %s, not func", id, k)
	}
	fn, err := FuncAt(in.heap, v.Offset())
	if err != nil {
		return FaultBadReference, err
	}
	args := make([]Value, len(fn.Params))
	for i := len(args) - 1; i >= 0; i-- {
		av, ak := in.stack.pop()
		if ak != fn.Params[i] {
			return FaultType, fmt.Errorf("%s argument %d is %s, want %s", in.natives.Name(fn.Native), i, ak, fn.Params[i])
		}
		args[i] = av
	}
	ret, err := in.natives.Call(fn.Native, in.heap, args)
	if err != nil {
		return FaultNative, err
	}
	return in.pushSlot(ret, fn.Ret)
}
