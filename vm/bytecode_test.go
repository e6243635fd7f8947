package vm

import (
	"bytes"
	"strings"
	"testing"
)

func TestOpcodeNames(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpNop, "NOP"},
		{OpAssignConst, "ASSIGN_CONST"},
		{OpIfFalse, "IF_FALSE"},
		{OpNextIter, "NEXT_ITER"},
		{Opcode(0xFF), "UNKNOWN_FF"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("%#x.String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestJumpTargets(t *testing.T) {
	in := ZInst{Op: OpIfTrue, V1: 3, V2: 9}
	if in.Target() != 9 {
		t.Errorf("Target() = %d, want 9", in.Target())
	}
	in.SetTarget(4)
	if in.V2 != 4 || in.V1 != 3 {
		t.Errorf("SetTarget rewrote the wrong operand: %+v", in)
	}

	plain := ZInst{Op: OpAssign, V1: 1, V2: 2}
	if plain.Target() != -1 || plain.Op.IsJump() {
		t.Error("ASSIGN is not a jump")
	}
}

func TestCodeBuilderLabels(t *testing.T) {
	b := NewCodeBuilder()
	top := b.NewLabel()
	done := b.NewLabel()

	b.Mark(top)
	b.EmitJump(ZInst{Op: OpIfFalse, V1: 0}, done)
	b.Emit(ZInst{Op: OpNop})
	b.EmitJump(ZInst{Op: OpGoto}, top)
	b.Mark(done)
	b.Emit(ZInst{Op: OpReturnVoid})

	insts := b.Insts()
	if insts[0].Target() != 3 {
		t.Errorf("forward jump target = %d, want 3", insts[0].Target())
	}
	if insts[2].Target() != 0 {
		t.Errorf("backward jump target = %d, want 0", insts[2].Target())
	}
}

func TestCodeBuilderMarkTwicePanics(t *testing.T) {
	b := NewCodeBuilder()
	l := b.NewLabel()
	b.Mark(l)
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	b.Mark(l)
}

func TestDisassemble(t *testing.T) {
	var buf bytes.Buffer
	if err := Disassemble(&buf, sumCode()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"sum: frame=5 params=1",
		"0000  ASSIGN_CONST %4 const=0 :count",
		"0002  NEXT_ITER %1 %2 -> 0006",
		"0005  GOTO -> 0002",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}
