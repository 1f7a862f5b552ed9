package vm

import (
	"errors"
	"testing"
)

func TestVerifyCodeAcceptsWellFormedCode(t *testing.T) {
	p := newTestPool()
	heap := p.Heap()
	fn, err := NewFunc(heap, FuncDesc{Ret: KindLong, Params: []Kind{KindLong, KindLong}})
	if err != nil {
		t.Fatal(err)
	}
	fnID, _ := p.Intern(FromOffset(fn), KindFunc)
	one := mustLong(t, p, 1)
	two := mustLong(t, p, 2)

	code := assemble(func(b *BytecodeBuilder) {
		end := b.NewLabel()
		b.EmitPush(one)
		b.EmitPush(two)
		b.Emit(OpAdd)
		b.EmitPush(two)
		b.Emit(OpGT)
		b.EmitJump(OpJmpF, end)
		b.EmitPush(one)
		b.EmitPush(two)
		b.EmitCall(uint16(fnID))
		b.EmitPush(two)
		b.Emit(OpCmp)
		b.Emit(OpNot)
		b.Mark(end)
	})
	if err := VerifyCode(code, p); err != nil {
		t.Errorf("VerifyCode: %v", err)
	}
	if err := VerifyCode(nil, p); err != nil {
		t.Errorf("empty code: %v", err)
	}
	if err := VerifyCode([]byte{byte(OpEnd), byte(OpCmp)}, p); err != nil {
		t.Errorf("code after END is unreachable: %v", err)
	}
}

func TestVerifyCodeRejects(t *testing.T) {
	p := newTestPool()
	one := byte(mustLong(t, p, 1))

	// Both branches meet at the end of the NOT with different depths.
	uneven := assemble(func(b *BytecodeBuilder) {
		skip := b.NewLabel()
		b.EmitJump(OpJmpT, skip)
		b.EmitPush(uint64(one))
		b.Mark(skip)
		b.Emit(OpNot)
	})

	tests := []struct {
		name string
		code []byte
	}{
		{"invalid opcode", []byte{0x00}},
		{"truncated operand", []byte{byte(OpPush16), 0x00}},
		{"compare on empty stack", []byte{byte(OpCmp)}},
		{"arithmetic with one operand", []byte{byte(OpPush8), one, byte(OpSub)}},
		{"jump before start", []byte{byte(OpJmpF), 0xF0, 0xFF}},
		{"jump past end", []byte{byte(OpJmpT), 10, 0}},
		{"jump into an operand", []byte{byte(OpPush8), one, byte(OpJmpF), 0xFC, 0xFF}},
		{"call out of pool", []byte{byte(OpCall), 0x10, 0}},
		{"call of a non-function", []byte{byte(OpCall), one, 0}},
		{"uneven depth at join", uneven},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := VerifyCode(tt.code, p); !errors.Is(err, ErrMalformedCode) {
				t.Errorf("error = %v, want malformed code", err)
			}
		})
	}
}

func TestProgramVerify(t *testing.T) {
	p := buildProgram(t)
	if err := p.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	p.Rules[0].End = len(p.Code) + 1
	if err := p.Verify(); !errors.Is(err, ErrMalformedCode) {
		t.Errorf("out-of-range rule: error = %v, want malformed code", err)
	}

	p = buildProgram(t)
	// Start "differ" at its CMP.
	p.Rules[1].Start = p.Rules[1].End - 1
	if err := p.Verify(); !errors.Is(err, ErrMalformedCode) {
		t.Errorf("truncated rule: error = %v, want malformed code", err)
	}
}
