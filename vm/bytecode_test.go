package vm

import (
	"errors"
	"testing"

	"github.com/chazu/jary/arena"
	"github.com/google/go-cmp/cmp"
)

func TestPushOpcodeWidths(t *testing.T) {
	tests := []struct {
		id   uint64
		want Opcode
	}{
		{0, OpPush8},
		{0xFF, OpPush8},
		{0x100, OpPush16},
		{0xFFFF, OpPush16},
		{0x10000, OpPush32},
		{0xFFFFFFFF, OpPush32},
		{0x100000000, OpPush64},
	}
	for _, tt := range tests {
		if got := PushOpcode(tt.id); got != tt.want {
			t.Errorf("PushOpcode(%#x) = %s, want %s", tt.id, got, tt.want)
		}
	}
}

func TestEmitPushEncoding(t *testing.T) {
	tests := []struct {
		id   uint64
		want []byte
	}{
		{0x12, []byte{byte(OpPush8), 0x12}},
		{0x1234, []byte{byte(OpPush16), 0x34, 0x12}},
		{0x12345678, []byte{byte(OpPush32), 0x78, 0x56, 0x34, 0x12}},
		{0x0102030405, []byte{byte(OpPush64), 0x05, 0x04, 0x03, 0x02, 0x01, 0, 0, 0}},
	}
	for _, tt := range tests {
		b := NewBytecodeBuilder(arena.Unlimited)
		b.EmitPush(tt.id)
		if diff := cmp.Diff(tt.want, b.Bytes()); diff != "" {
			t.Errorf("EmitPush(%#x) (-want +got):\n%s", tt.id, diff)
		}
	}
}

func TestBuilderForwardJump(t *testing.T) {
	b := NewBytecodeBuilder(arena.Unlimited)
	end := b.NewLabel()
	b.EmitJump(OpJmpF, end)
	b.Emit(OpNot)
	b.Mark(end)

	want := []byte{byte(OpJmpF), 1, 0, byte(OpNot)}
	if diff := cmp.Diff(want, b.Bytes()); diff != "" {
		t.Errorf("bytes (-want +got):\n%s", diff)
	}
}

func TestBuilderBackwardJump(t *testing.T) {
	b := NewBytecodeBuilder(arena.Unlimited)
	top := b.NewLabel()
	b.Mark(top)
	b.Emit(OpNot)
	b.EmitJump(OpJmpT, top)

	want := []byte{byte(OpNot), byte(OpJmpT), 0xFC, 0xFF}
	if diff := cmp.Diff(want, b.Bytes()); diff != "" {
		t.Errorf("bytes (-want +got):\n%s", diff)
	}
}

func TestBuilderJumpTooFar(t *testing.T) {
	b := NewBytecodeBuilder(arena.Unlimited)
	end := b.NewLabel()
	b.EmitJump(OpJmpF, end)
	for i := 0; i < 40000; i++ {
		b.Emit(OpNot)
	}
	b.Mark(end)
	if !errors.Is(b.Err(), ErrJumpTooFar) {
		t.Errorf("Err = %v, want ErrJumpTooFar", b.Err())
	}
}

func TestBuilderLimitIsSticky(t *testing.T) {
	b := NewBytecodeBuilder(2)
	b.Emit(OpNot)
	b.EmitPush(1)
	b.Emit(OpNot)
	if !errors.Is(b.Err(), arena.ErrOutOfMemory) {
		t.Fatalf("Err = %v, want ErrOutOfMemory", b.Err())
	}
	if b.Len() != 1 {
		t.Errorf("Len = %d, want 1", b.Len())
	}
	if op, _ := b.LastOpcode(); op != OpNot {
		t.Errorf("LastOpcode = %s, want NOT", op)
	}
}

func TestLastOpcode(t *testing.T) {
	b := NewBytecodeBuilder(arena.Unlimited)
	if _, ok := b.LastOpcode(); ok {
		t.Fatal("LastOpcode on empty builder reported ok")
	}
	b.EmitPush(300)
	if op, _ := b.LastOpcode(); op != OpPush16 {
		t.Errorf("LastOpcode = %s, want PUSH16", op)
	}
	b.Emit(OpCmp)
	if op, _ := b.LastOpcode(); !op.IsComparison() {
		t.Errorf("LastOpcode %s is not a comparison", op)
	}
}

func TestOpcodeClasses(t *testing.T) {
	for _, op := range []Opcode{OpCmp, OpCmpStr, OpLT, OpGT, OpRegMatch} {
		if !op.IsComparison() {
			t.Errorf("%s should be a comparison", op)
		}
	}
	for _, op := range []Opcode{OpAdd, OpSub, OpMul, OpDiv, OpPush8, OpNot, OpJmpF} {
		if op.IsComparison() {
			t.Errorf("%s should not be a comparison", op)
		}
	}
	if Opcode(0).Valid() {
		t.Error("opcode 0 should be invalid")
	}
}

func TestDisassemble(t *testing.T) {
	p := newTestPool()
	five, _ := p.InternLong(5)
	three, _ := p.InternLong(3)

	b := NewBytecodeBuilder(arena.Unlimited)
	b.EmitPush(uint64(five))
	b.EmitPush(uint64(three))
	b.Emit(OpAdd)

	want := "0000  PUSH8 0 (long 5)\n" +
		"0002  PUSH8 1 (long 3)\n" +
		"0004  ADD"
	if got := Disassemble(b.Bytes(), p); got != want {
		t.Errorf("Disassemble =\n%s\nwant\n%s", got, want)
	}
}

func TestDisassembleEdgeCases(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want string
	}{
		{"jump", []byte{byte(OpJmpF), 1, 0, byte(OpNot)}, "0000  JMPF 1 (-> 0004)\n0003  NOT"},
		{"event", []byte{byte(OpEvent), 2, 0, 7, 0}, "0000  EVENT field=2 event=7"},
		{"truncated", []byte{byte(OpPush16), 1}, "0000  PUSH16 <truncated>"},
		{"unknown", []byte{0x00}, "0000  UNKNOWN_00"},
		{"no pool", []byte{byte(OpPush8), 4}, "0000  PUSH8 4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Disassemble(tt.code, nil); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
