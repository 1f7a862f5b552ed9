package vm

import (
	"errors"
	"fmt"
)

// ErrMalformedCode reports bytecode that cannot run to completion without
// breaking the interpreter's stack discipline.
var ErrMalformedCode = errors.New("vm: malformed bytecode")

// VerifyCode checks code that did not come straight from the compiler
// before it runs. Every opcode must be defined with its operands inside the
// chunk, every jump must land on an instruction boundary or the chunk's
// end, CALL must name a function descriptor in pool, and every instruction
// must be reached with one stack depth that covers what it pops.
func VerifyCode(code []byte, pool *ConstantPool) error {
	starts := make([]bool, len(code))
	r := NewBytecodeReader(code)
	for r.HasMore() {
		pc := r.Position()
		op := r.ReadOpcode()
		if !op.Valid() {
			return malformed(pc, op, "undefined opcode")
		}
		n := op.OperandBytes()
		if r.Remaining() < n {
			return malformed(pc, op, fmt.Sprintf("needs %d operand bytes, has %d", n, r.Remaining()))
		}
		r.Skip(n)
		starts[pc] = true
	}

	depth := make([]int, len(code))
	for i := range depth {
		depth[i] = -1
	}
	var work []int
	reach := func(from, pc, d int) error {
		if pc == len(code) {
			return nil
		}
		if pc < 0 || pc > len(code) || !starts[pc] {
			return malformed(from, Opcode(code[from]), fmt.Sprintf("target %d is not an instruction", pc))
		}
		switch depth[pc] {
		case -1:
			depth[pc] = d
			work = append(work, pc)
		case d:
		default:
			return malformed(from, Opcode(code[from]), fmt.Sprintf("reaches %04d with depth %d, elsewhere %d", pc, d, depth[pc]))
		}
		return nil
	}
	if len(code) > 0 {
		depth[0] = 0
		work = append(work, 0)
	}

	for len(work) > 0 {
		pc := work[len(work)-1]
		work = work[:len(work)-1]
		op := Opcode(code[pc])
		next := pc + 1 + op.OperandBytes()
		operand := code[pc+1 : next]

		pops, pushes := 0, 0
		switch op {
		case OpPush8, OpPush16, OpPush32, OpPush64, OpEvent:
			pushes = 1
		case OpCmp, OpCmpStr, OpLT, OpGT, OpRegMatch:
			pops = 2
		case OpAdd, OpSub, OpMul, OpDiv:
			pops, pushes = 2, 1
		case OpCall:
			fn, err := funcOperand(pool, readOperand(operand, 2))
			if err != nil {
				return malformed(pc, op, err.Error())
			}
			pops, pushes = len(fn.Params), 1
		}
		d := depth[pc]
		if d < pops {
			return malformed(pc, op, fmt.Sprintf("pops %d with depth %d", pops, d))
		}
		d += pushes - pops

		switch op {
		case OpEnd:
			continue
		case OpJmpF, OpJmpT:
			if err := reach(pc, next+int(int16(readOperand(operand, 2))), d); err != nil {
				return err
			}
		}
		if err := reach(pc, next, d); err != nil {
			return err
		}
	}
	return nil
}

// Verify runs VerifyCode over each rule's code and checks that the rules
// lie inside the chunk.
func (p *Program) Verify() error {
	for _, r := range p.Rules {
		if r.Start < 0 || r.Start > r.End || r.End > len(p.Code) {
			return fmt.Errorf("rule %s spans %d..%d of %d bytes: %w", r.Name, r.Start, r.End, len(p.Code), ErrMalformedCode)
		}
		if err := VerifyCode(p.RuleCode(r), p.Pool); err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
	}
	return nil
}

func funcOperand(pool *ConstantPool, id uint64) (FuncDesc, error) {
	if pool == nil || id >= uint64(pool.Len()) {
		return FuncDesc{}, fmt.Errorf("pool index %d out of range", id)
	}
	v, k := pool.At(int(id))
	if k != KindFunc {
		return FuncDesc{}, fmt.Errorf("pool entry %d is %s, not func", id, k)
	}
	return FuncAt(pool.Heap(), v.Offset())
}

func malformed(pc int, op Opcode, msg string) error {
	return fmt.Errorf("%w: %04d %s: %s", ErrMalformedCode, pc, op, msg)
}
