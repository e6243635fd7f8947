package vm

import (
	"fmt"
	"io"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a ZAM instruction. Instructions address frame slots
// directly; there is no operand stack.
type Opcode byte

// Moves
const (
	OpNop         Opcode = 0x00 // no operation
	OpAssignConst Opcode = 0x01 // V1 = C
	OpAssign      Opcode = 0x02 // V1 = V2
	OpInitSlot    Opcode = 0x03 // V1 = zero value of T
)

// Arithmetic and comparison. T is the operand type.
const (
	OpAdd Opcode = 0x10 // V1 = V2 + V3
	OpSub Opcode = 0x11 // V1 = V2 - V3
	OpMul Opcode = 0x12 // V1 = V2 * V3
	OpDiv Opcode = 0x13 // V1 = V2 / V3
	OpMod Opcode = 0x14 // V1 = V2 % V3
	OpLT  Opcode = 0x15 // V1 = V2 < V3
	OpLE  Opcode = 0x16 // V1 = V2 <= V3
	OpEQ  Opcode = 0x17 // V1 = V2 == V3
	OpNE  Opcode = 0x18 // V1 = V2 != V3
	OpNot Opcode = 0x19 // V1 = !V2
)

// Control flow. Jump targets are absolute instruction indexes.
const (
	OpGoto       Opcode = 0x20 // goto V1
	OpIfFalse    Opcode = 0x21 // if !V1 goto V2
	OpIfTrue     Opcode = 0x22 // if V1 goto V2
	OpReturn     Opcode = 0x23 // return V1
	OpReturnVoid Opcode = 0x24 // return
)

// Record access. Field is the field offset, T its declared type.
const (
	OpFieldGet    Opcode = 0x30 // V1 = V2$Field
	OpFieldSet    Opcode = 0x31 // V1$Field = V2
	OpHasField    Opcode = 0x32 // V1 = V2?$Field
	OpFieldDelete Opcode = 0x33 // delete V1$Field
	OpNewRecord   Opcode = 0x34 // V1 = new record of T
)

// Vector access. T is the yield type.
const (
	OpIndexGet  Opcode = 0x40 // V1 = V2[V3]
	OpIndexSet  Opcode = 0x41 // V1[V2] = V3
	OpVecSize   Opcode = 0x42 // V1 = |V2|
	OpVecAppend Opcode = 0x43 // V1 += V2
	OpNewVector Opcode = 0x44 // V1 = new vector of T
	OpInitLoop  Opcode = 0x45 // V1 = iterator over V2
	OpNextIter  Opcode = 0x46 // V2 = next of V1 else goto V3
)

// Calls and output.
const (
	OpCall  Opcode = 0x50 // V1 = Func(Args...), V1 < 0 discards
	OpPrint Opcode = 0x51 // print Args
)

// OpcodeInfo describes an opcode for disassembly.
type OpcodeInfo struct {
	Name  string
	Slots int // number of V operands used
	Jump  int // which V operand is a jump target, 0 if none
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:         {"NOP", 0, 0},
	OpAssignConst: {"ASSIGN_CONST", 1, 0},
	OpAssign:      {"ASSIGN", 2, 0},
	OpInitSlot:    {"INIT_SLOT", 1, 0},

	OpAdd: {"ADD", 3, 0},
	OpSub: {"SUB", 3, 0},
	OpMul: {"MUL", 3, 0},
	OpDiv: {"DIV", 3, 0},
	OpMod: {"MOD", 3, 0},
	OpLT:  {"LT", 3, 0},
	OpLE:  {"LE", 3, 0},
	OpEQ:  {"EQ", 3, 0},
	OpNE:  {"NE", 3, 0},
	OpNot: {"NOT", 2, 0},

	OpGoto:       {"GOTO", 0, 1},
	OpIfFalse:    {"IF_FALSE", 1, 2},
	OpIfTrue:     {"IF_TRUE", 1, 2},
	OpReturn:     {"RETURN", 1, 0},
	OpReturnVoid: {"RETURN_VOID", 0, 0},

	OpFieldGet:    {"FIELD_GET", 2, 0},
	OpFieldSet:    {"FIELD_SET", 2, 0},
	OpHasField:    {"HAS_FIELD", 2, 0},
	OpFieldDelete: {"FIELD_DELETE", 1, 0},
	OpNewRecord:   {"NEW_RECORD", 1, 0},

	OpIndexGet:  {"INDEX_GET", 3, 0},
	OpIndexSet:  {"INDEX_SET", 3, 0},
	OpVecSize:   {"VEC_SIZE", 2, 0},
	OpVecAppend: {"VEC_APPEND", 2, 0},
	OpNewVector: {"NEW_VECTOR", 1, 0},
	OpInitLoop:  {"INIT_LOOP", 2, 0},
	OpNextIter:  {"NEXT_ITER", 2, 3},

	OpCall:  {"CALL", 1, 0},
	OpPrint: {"PRINT", 0, 0},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// IsJump reports whether the opcode transfers control to a target.
func (op Opcode) IsJump() bool {
	return op.Info().Jump != 0
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Instructions and code objects
// ---------------------------------------------------------------------------

// ZInst is one ZAM instruction.
//
// C is a constant operand whose type is T. A managed constant's reference
// belongs to the instruction and is released by (*Code).Release.
type ZInst struct {
	Op    Opcode
	V1    int
	V2    int
	V3    int
	C     ZVal
	T     Type
	Field int
	Func  *FuncVal
	Args  []int
}

// Target returns the jump target of a jump instruction, or -1.
func (in *ZInst) Target() int {
	switch in.Op.Info().Jump {
	case 1:
		return in.V1
	case 2:
		return in.V2
	case 3:
		return in.V3
	}
	return -1
}

// SetTarget rewrites the jump target of a jump instruction.
func (in *ZInst) SetTarget(pc int) {
	switch in.Op.Info().Jump {
	case 1:
		in.V1 = pc
	case 2:
		in.V2 = pc
	case 3:
		in.V3 = pc
	}
}

// Code is a compiled function body.
//
// Frame slots are untyped ZVals; SlotTypes is the parallel type table that
// says how each slot is read, written and torn down. The first NumParams
// slots receive the arguments.
type Code struct {
	Name       string
	Insts      []ZInst
	FrameSize  int
	SlotTypes  []Type
	SlotNames  []string
	NumParams  int
	ResultType Type
}

// Release drops the references held by managed constants.
func (c *Code) Release() {
	for i := range c.Insts {
		in := &c.Insts[i]
		if in.T != nil && IsManagedType(in.T) && in.Op == OpAssignConst {
			DeleteManagedType(&in.C)
		}
		if in.Func != nil {
			in.Func.Unref()
			in.Func = nil
		}
	}
}

// ---------------------------------------------------------------------------
// CodeBuilder: helper for constructing instruction sequences
// ---------------------------------------------------------------------------

// CodeBuilder appends instructions and resolves forward jumps.
type CodeBuilder struct {
	insts []ZInst
}

// NewCodeBuilder creates an empty builder.
func NewCodeBuilder() *CodeBuilder {
	return &CodeBuilder{insts: make([]ZInst, 0, 32)}
}

// Insts returns the instructions built so far.
func (b *CodeBuilder) Insts() []ZInst {
	return b.insts
}

// Len returns the number of instructions emitted.
func (b *CodeBuilder) Len() int {
	return len(b.insts)
}

// Emit appends an instruction and returns its index.
func (b *CodeBuilder) Emit(in ZInst) int {
	b.insts = append(b.insts, in)
	return len(b.insts) - 1
}

// Label represents a jump target that may not be placed yet.
type Label struct {
	resolved bool
	position int
	refs     []int // instructions waiting on this label
}

// NewLabel creates an unresolved label.
func (b *CodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the next instruction index.
func (b *CodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.insts)
	for _, ref := range label.refs {
		b.insts[ref].SetTarget(label.position)
	}
	label.refs = nil
}

// EmitJump appends a jump instruction targeting label.
func (b *CodeBuilder) EmitJump(in ZInst, label *Label) int {
	pc := b.Emit(in)
	if label.resolved {
		b.insts[pc].SetTarget(label.position)
	} else {
		label.refs = append(label.refs, pc)
	}
	return pc
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction renders one instruction.
func DisassembleInstruction(pc int, in *ZInst) string {
	info := in.Op.Info()
	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d  %s", pc, info.Name)

	vs := [3]int{in.V1, in.V2, in.V3}
	for i := 0; i < info.Slots; i++ {
		if i == 0 && in.Op == OpCall && in.V1 < 0 {
			sb.WriteString(" _")
			continue
		}
		fmt.Fprintf(&sb, " %%%d", vs[i])
	}
	if info.Jump != 0 {
		fmt.Fprintf(&sb, " -> %04d", in.Target())
	}

	switch in.Op {
	case OpAssignConst:
		if v := in.C.ToVal(in.T); v != nil {
			fmt.Fprintf(&sb, " const=%s", v.String())
			v.Unref()
		} else {
			sb.WriteString(" const=<nil>")
		}
	case OpFieldGet, OpFieldSet, OpHasField, OpFieldDelete:
		fmt.Fprintf(&sb, " field=%d", in.Field)
	case OpCall:
		if in.Func != nil {
			fmt.Fprintf(&sb, " func=%s", in.Func.Name())
		}
	}
	if len(in.Args) > 0 {
		args := make([]string, len(in.Args))
		for i, a := range in.Args {
			args[i] = fmt.Sprintf("%%%d", a)
		}
		fmt.Fprintf(&sb, " (%s)", strings.Join(args, ", "))
	}
	if in.T != nil {
		fmt.Fprintf(&sb, " :%s", in.T.String())
	}
	return sb.String()
}

// Disassemble writes a listing of code to w.
func Disassemble(w io.Writer, c *Code) error {
	if _, err := fmt.Fprintf(w, "%s: frame=%d params=%d\n", c.Name, c.FrameSize, c.NumParams); err != nil {
		return err
	}
	for i, t := range c.SlotTypes {
		name := ""
		if i < len(c.SlotNames) {
			name = c.SlotNames[i]
		}
		if _, err := fmt.Fprintf(w, "  slot %d %s: %s\n", i, name, t); err != nil {
			return err
		}
	}
	for pc := range c.Insts {
		if _, err := fmt.Fprintln(w, DisassembleInstruction(pc, &c.Insts[pc])); err != nil {
			return err
		}
	}
	return nil
}
