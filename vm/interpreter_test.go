package vm

import (
	"errors"
	"fmt"
	"testing"
	"unicode/utf8"

	"github.com/chazu/jary/arena"
	"github.com/google/go-cmp/cmp"
)

// assemble builds code with b and returns it.
func assemble(build func(b *BytecodeBuilder)) []byte {
	b := NewBytecodeBuilder(arena.Unlimited)
	build(b)
	if b.Err() != nil {
		panic(b.Err())
	}
	return b.Bytes()
}

func mustLong(t *testing.T, p *ConstantPool, n int64) uint64 {
	t.Helper()
	id, err := p.InternLong(n)
	if err != nil {
		t.Fatal(err)
	}
	return uint64(id)
}

func mustString(t *testing.T, p *ConstantPool, s string) uint64 {
	t.Helper()
	id, err := p.InternString(s)
	if err != nil {
		t.Fatal(err)
	}
	return uint64(id)
}

func wantFault(t *testing.T, err error, kind FaultKind) *RuntimeFault {
	t.Helper()
	var f *RuntimeFault
	if !errors.As(err, &f) {
		t.Fatalf("error = %v, want *RuntimeFault", err)
	}
	if f.Kind != kind {
		t.Fatalf("fault kind = %s, want %s", f.Kind, kind)
	}
	return f
}

func TestExecuteAddition(t *testing.T) {
	p := newTestPool()
	code := assemble(func(b *BytecodeBuilder) {
		b.EmitPush(mustLong(t, p, 5))
		b.EmitPush(mustLong(t, p, 3))
		b.Emit(OpAdd)
	})

	in := NewInterpreter(p, p.Heap())
	if err := in.Run(code); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Value{FromLong(8)}, in.Stack()); diff != "" {
		t.Errorf("stack (-want +got):\n%s", diff)
	}
	if _, k, _ := in.Pop(); k != KindLong {
		t.Errorf("result kind = %s, want long", k)
	}
}

func TestExecuteEquality(t *testing.T) {
	p := newTestPool()
	code := assemble(func(b *BytecodeBuilder) {
		b.EmitPush(mustLong(t, p, 5))
		b.EmitPush(mustLong(t, p, 5))
		b.Emit(OpCmp)
	})
	if p.Len() != 1 {
		t.Fatalf("pool has %d entries, want 1", p.Len())
	}

	in := NewInterpreter(p, p.Heap())
	if err := in.Run(code); err != nil {
		t.Fatal(err)
	}
	if !in.Flag() {
		t.Error("flag = false after 5 == 5")
	}
	if in.Depth() != 0 {
		t.Errorf("stack depth = %d, want 0", in.Depth())
	}
}

func TestExecuteArithmetic(t *testing.T) {
	tests := []struct {
		op   Opcode
		a, b int64
		want int64
	}{
		{OpAdd, -2, 9, 7},
		{OpSub, 5, 8, -3},
		{OpMul, 6, -7, -42},
		{OpDiv, 17, 5, 3},
		{OpDiv, -17, 5, -3},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %d %d", tt.op, tt.a, tt.b), func(t *testing.T) {
			p := newTestPool()
			code := assemble(func(b *BytecodeBuilder) {
				b.EmitPush(mustLong(t, p, tt.a))
				b.EmitPush(mustLong(t, p, tt.b))
				b.Emit(tt.op)
			})
			in := NewInterpreter(p, p.Heap())
			if err := in.Run(code); err != nil {
				t.Fatal(err)
			}
			if v, _, _ := in.Pop(); v.Long() != tt.want {
				t.Errorf("got %d, want %d", v.Long(), tt.want)
			}
		})
	}
}

func TestDivideByZeroFaults(t *testing.T) {
	p := newTestPool()
	code := assemble(func(b *BytecodeBuilder) {
		b.EmitPush(mustLong(t, p, 1))
		b.EmitPush(mustLong(t, p, 0))
		b.Emit(OpDiv)
	})
	f := wantFault(t, Execute(p, p.Heap(), code), FaultDivideByZero)
	if f.PC != 4 || f.Op != OpDiv {
		t.Errorf("fault at %d (%s), want 4 (DIV)", f.PC, f.Op)
	}
}

func TestOrdering(t *testing.T) {
	tests := []struct {
		op   Opcode
		a, b int64
		want bool
	}{
		{OpLT, 1, 2, true},
		{OpLT, 2, 2, false},
		{OpGT, 3, 2, true},
		{OpGT, -3, 2, false},
	}
	for _, tt := range tests {
		p := newTestPool()
		code := assemble(func(b *BytecodeBuilder) {
			b.EmitPush(mustLong(t, p, tt.a))
			b.EmitPush(mustLong(t, p, tt.b))
			b.Emit(tt.op)
		})
		in := NewInterpreter(p, p.Heap())
		if err := in.Run(code); err != nil {
			t.Fatal(err)
		}
		if in.Flag() != tt.want {
			t.Errorf("%d %s %d = %v, want %v", tt.a, tt.op, tt.b, in.Flag(), tt.want)
		}
	}
}

func TestCompareStrings(t *testing.T) {
	p := newTestPool()
	heap := p.Heap()
	a, _ := NewString(heap, "sshd")
	b, _ := NewString(heap, "sshd")
	c, _ := NewString(heap, "sshx")
	// Restore skips deduplication, so the pool holds three distinct objects.
	if err := p.Restore([]Value{FromOffset(a), FromOffset(b), FromOffset(c)}, []Kind{KindString, KindString, KindString}); err != nil {
		t.Fatal(err)
	}

	run := func(x, y uint64) bool {
		code := assemble(func(bb *BytecodeBuilder) {
			bb.EmitPush(x)
			bb.EmitPush(y)
			bb.Emit(OpCmpStr)
		})
		in := NewInterpreter(p, heap)
		if err := in.Run(code); err != nil {
			t.Fatal(err)
		}
		return in.Flag()
	}
	if !run(0, 1) {
		t.Error("equal strings in separate objects compared unequal")
	}
	if run(0, 2) {
		t.Error("sshd == sshx")
	}
}

func TestRegMatch(t *testing.T) {
	tests := []struct {
		subject string
		want    bool
	}{
		{"admin-user", true},
		{"guest", false},
	}
	for _, tt := range tests {
		p := newTestPool()
		re, _ := p.InternRegexp("^adm.*")
		code := assemble(func(b *BytecodeBuilder) {
			b.EmitPush(mustString(t, p, tt.subject))
			b.EmitPush(uint64(re))
			b.Emit(OpRegMatch)
		})
		in := NewInterpreter(p, p.Heap())
		if err := in.Run(code); err != nil {
			t.Fatal(err)
		}
		if in.Flag() != tt.want {
			t.Errorf("%q ~ /^adm.*/ = %v, want %v", tt.subject, in.Flag(), tt.want)
		}
	}
}

func TestRegMatchBadPattern(t *testing.T) {
	p := newTestPool()
	re, _ := p.InternRegexp("(")
	code := assemble(func(b *BytecodeBuilder) {
		b.EmitPush(mustString(t, p, "x"))
		b.EmitPush(uint64(re))
		b.Emit(OpRegMatch)
	})
	wantFault(t, Execute(p, p.Heap(), code), FaultRegex)
}

func TestConditionalJumps(t *testing.T) {
	tests := []struct {
		name string
		jump Opcode
		want bool
	}{
		{"jmpf taken skips not", OpJmpF, false},
		{"jmpt not taken runs not", OpJmpT, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPool()
			code := assemble(func(b *BytecodeBuilder) {
				b.EmitPush(mustLong(t, p, 1))
				b.EmitPush(mustLong(t, p, 2))
				b.Emit(OpCmp)
				end := b.NewLabel()
				b.EmitJump(tt.jump, end)
				b.Emit(OpNot)
				b.Mark(end)
			})
			in := NewInterpreter(p, p.Heap())
			if err := in.Run(code); err != nil {
				t.Fatal(err)
			}
			if in.Flag() != tt.want {
				t.Errorf("flag = %v, want %v", in.Flag(), tt.want)
			}
		})
	}
}

func TestEndHalts(t *testing.T) {
	p := newTestPool()
	in := NewInterpreter(p, p.Heap())
	if err := in.Run([]byte{byte(OpNot), byte(OpEnd), byte(OpNot)}); err != nil {
		t.Fatal(err)
	}
	if !in.Flag() {
		t.Error("instruction after END was executed")
	}
}

func TestMalformedCodeFaults(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		kind FaultKind
	}{
		{"invalid opcode", []byte{0x00}, FaultInvalidOpcode},
		{"truncated operand", []byte{byte(OpPush16), 0x00}, FaultTruncated},
		{"pool index out of range", []byte{byte(OpPush8), 9}, FaultBadReference},
		{"jump past end", []byte{byte(OpJmpF), 10, 0}, FaultBadJump},
		{"jump before start", []byte{byte(OpJmpF), 0xF0, 0xFF}, FaultBadJump},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPool()
			wantFault(t, Execute(p, p.Heap(), tt.code), tt.kind)
		})
	}
}

func TestTypeFault(t *testing.T) {
	p := newTestPool()
	code := assemble(func(b *BytecodeBuilder) {
		b.EmitPush(mustLong(t, p, 5))
		b.EmitPush(mustString(t, p, "x"))
		b.Emit(OpGT)
	})
	wantFault(t, Execute(p, p.Heap(), code), FaultType)
}

func TestStackLimit(t *testing.T) {
	p := newTestPool()
	id := mustLong(t, p, 1)
	code := assemble(func(b *BytecodeBuilder) {
		for i := 0; i < 3; i++ {
			b.EmitPush(id)
		}
	})
	in := NewInterpreter(p, p.Heap(), WithStackLimit(2))
	err := in.Run(code)
	wantFault(t, err, FaultStack)
	if !errors.Is(err, arena.ErrOutOfMemory) {
		t.Errorf("error %v does not wrap ErrOutOfMemory", err)
	}
}

func TestStepLimit(t *testing.T) {
	p := newTestPool()
	// JMPF back onto itself: the flag starts clear, so this never ends.
	code := []byte{byte(OpJmpF), 0xFD, 0xFF}
	in := NewInterpreter(p, p.Heap(), WithStepLimit(100))
	wantFault(t, in.Run(code), FaultStepLimit)
}

func TestEmptyStackPopPanics(t *testing.T) {
	p := newTestPool()
	defer func() {
		if recover() == nil {
			t.Error("ADD on an empty stack did not panic")
		}
	}()
	Execute(p, p.Heap(), []byte{byte(OpAdd)})
}

func TestEventField(t *testing.T) {
	p := newTestPool()
	heap := p.Heap()
	user, _ := NewString(heap, "root")
	ev, err := NewEvent(heap, []Kind{KindLong, KindString}, []Value{FromLong(22), FromOffset(user)})
	if err != nil {
		t.Fatal(err)
	}
	evID, err := p.Intern(FromOffset(ev), KindEvent)
	if err != nil {
		t.Fatal(err)
	}

	code := assemble(func(b *BytecodeBuilder) {
		b.EmitEvent(1, uint16(evID))
		b.EmitPush(mustString(t, p, "root"))
		b.Emit(OpCmpStr)
	})
	in := NewInterpreter(p, heap)
	if err := in.Run(code); err != nil {
		t.Fatal(err)
	}
	if !in.Flag() {
		t.Error("event field 1 != \"root\"")
	}

	bad := assemble(func(b *BytecodeBuilder) { b.EmitEvent(5, uint16(evID)) })
	wantFault(t, Execute(p, heap, bad), FaultBadReference)
}

func TestCallNative(t *testing.T) {
	p := newTestPool()
	heap := p.Heap()
	natives := NewNativeTable()
	idx := natives.Register("strlen", func(heap *arena.Heap, args []Value) (Value, error) {
		s, err := StringAt(heap, args[0].Offset())
		if err != nil {
			return 0, err
		}
		return FromLong(int64(utf8.RuneCountInString(s))), nil
	})
	fn, err := NewFunc(heap, FuncDesc{Ret: KindLong, Params: []Kind{KindString}, Native: idx})
	if err != nil {
		t.Fatal(err)
	}
	fnID, _ := p.Intern(FromOffset(fn), KindFunc)

	code := assemble(func(b *BytecodeBuilder) {
		b.EmitPush(mustString(t, p, "héllo"))
		b.EmitCall(uint16(fnID))
		b.EmitPush(mustLong(t, p, 5))
		b.Emit(OpCmp)
	})
	in := NewInterpreter(p, heap, WithNatives(natives))
	if err := in.Run(code); err != nil {
		t.Fatal(err)
	}
	if !in.Flag() {
		t.Error("strlen(\"héllo\") != 5")
	}

	wrong := assemble(func(b *BytecodeBuilder) {
		b.EmitPush(mustLong(t, p, 5))
		b.EmitCall(uint16(fnID))
	})
	wantFault(t, NewInterpreter(p, heap, WithNatives(natives)).Run(wrong), FaultType)

	missing := assemble(func(b *BytecodeBuilder) {
		b.EmitPush(mustString(t, p, "x"))
		b.EmitCall(uint16(fnID))
	})
	wantFault(t, Execute(p, heap, missing), FaultNative)
}

func TestStackCopyAndReset(t *testing.T) {
	p := newTestPool()
	in := NewInterpreter(p, p.Heap())
	code := assemble(func(b *BytecodeBuilder) { b.EmitPush(mustLong(t, p, 4)) })
	if err := in.Run(code); err != nil {
		t.Fatal(err)
	}
	s := in.Stack()
	s[0] = 99
	if v, _, _ := in.Pop(); v.Long() != 4 {
		t.Errorf("Stack() aliased the operand stack")
	}
	in.Run([]byte{byte(OpNot)})
	in.Reset()
	if in.Flag() || in.Depth() != 0 {
		t.Error("Reset left state behind")
	}
	if _, _, ok := in.Pop(); ok {
		t.Error("Pop on empty stack reported ok")
	}
}
