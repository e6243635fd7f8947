package vm

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func testEnv() (*Env, *bytes.Buffer) {
	var buf bytes.Buffer
	env := NewEnv()
	env.Out = &buf
	return env, &buf
}

var (
	countT  = BaseType(TypeCount)
	intT    = BaseType(TypeInt)
	boolT   = BaseType(TypeBool)
	stringT = BaseType(TypeString)
	voidT   = BaseType(TypeVoid)
)

// sumCode adds up the elements of a vector of count.
func sumCode() *Code {
	return &Code{
		Name:       "sum",
		FrameSize:  5,
		SlotTypes:  []Type{NewVectorType(countT), voidT, countT, countT, countT},
		NumParams:  1,
		ResultType: countT,
		Insts: []ZInst{
			{Op: OpAssignConst, V1: 4, C: UintZVal(0), T: countT},
			{Op: OpInitLoop, V1: 1, V2: 0},
			{Op: OpNextIter, V1: 1, V2: 2, V3: 6},
			{Op: OpIndexGet, V1: 3, V2: 0, V3: 2, T: countT},
			{Op: OpAdd, V1: 4, V2: 4, V3: 3, T: countT},
			{Op: OpGoto, V1: 2},
			{Op: OpReturn, V1: 4},
		},
	}
}

// ---------------------------------------------------------------------------
// Basic execution
// ---------------------------------------------------------------------------

func TestExecVectorLoop(t *testing.T) {
	env, _ := testEnv()
	vec := NewVectorVal(NewVectorType(countT))
	for _, n := range []uint64{1, 2, 3, 4} {
		vec.Append(NewCount(n))
	}

	r, err := sumCode().Exec(env, []Val{vec})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if got := r.(*UintVal).Uint(); got != 10 {
		t.Errorf("sum = %d, want 10", got)
	}
	if vec.RefCount() != 1 {
		t.Errorf("argument ref count = %d after call, want 1", vec.RefCount())
	}
}

func TestExecArithmeticAndBranches(t *testing.T) {
	// abs(x): if x < 0 { x = 0 - x }; return x
	code := &Code{
		Name:      "abs",
		FrameSize: 3,
		SlotTypes: []Type{intT, boolT, intT},
		NumParams: 1,
		Insts: []ZInst{
			{Op: OpAssignConst, V1: 2, C: IntZVal(0), T: intT},
			{Op: OpLT, V1: 1, V2: 0, V3: 2, T: intT},
			{Op: OpIfFalse, V1: 1, V2: 4},
			{Op: OpSub, V1: 0, V2: 2, V3: 0, T: intT},
			{Op: OpReturn, V1: 0},
		},
	}
	env, _ := testEnv()
	for _, tt := range []struct{ in, want int64 }{{-5, 5}, {7, 7}, {0, 0}} {
		r, err := code.Exec(env, []Val{NewInt(tt.in)})
		if err != nil {
			t.Fatalf("abs(%d): %v", tt.in, err)
		}
		if got := r.(*IntVal).Int(); got != tt.want {
			t.Errorf("abs(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestExecDivideByZero(t *testing.T) {
	code := &Code{
		Name:      "div",
		FrameSize: 3,
		SlotTypes: []Type{intT, intT, intT},
		NumParams: 2,
		Insts: []ZInst{
			{Op: OpDiv, V1: 2, V2: 0, V3: 1, T: intT},
			{Op: OpReturn, V1: 2},
		},
	}
	env, _ := testEnv()
	_, err := code.Exec(env, []Val{NewInt(1), NewInt(0)})
	if !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("err = %v, want ErrDivideByZero", err)
	}
	var rerr *RuntimeError
	if !errors.As(err, &rerr) || rerr.Inst != 0 || rerr.Func != "div" {
		t.Errorf("unexpected runtime error detail: %v", err)
	}
	if !env.Errors.IsSet() {
		t.Error("runtime error should be recorded in the error flag")
	}
}

func TestExecArgCount(t *testing.T) {
	env, _ := testEnv()
	if _, err := sumCode().Exec(env, nil); !errors.Is(err, ErrArgCount) {
		t.Errorf("err = %v, want ErrArgCount", err)
	}
}

func TestExecStringConcat(t *testing.T) {
	code := &Code{
		Name:      "greet",
		FrameSize: 3,
		SlotTypes: []Type{stringT, stringT, stringT},
		NumParams: 1,
		Insts: []ZInst{
			{Op: OpAssignConst, V1: 1, C: ManagedZVal(NewString("hello, ")), T: stringT},
			{Op: OpAdd, V1: 2, V2: 1, V3: 0, T: stringT},
			{Op: OpReturn, V1: 2},
		},
	}
	env, _ := testEnv()
	arg := NewString("world")
	r, err := code.Exec(env, []Val{arg})
	if err != nil {
		t.Fatal(err)
	}
	if r.String() != "hello, world" {
		t.Errorf("result = %q", r.String())
	}
	if r.RefCount() != 1 {
		t.Errorf("result ref count = %d, want 1 (owned by caller)", r.RefCount())
	}
	if arg.RefCount() != 1 {
		t.Errorf("argument ref count = %d, want 1", arg.RefCount())
	}
	code.Release()
}

// ---------------------------------------------------------------------------
// Managed slots
// ---------------------------------------------------------------------------

func TestExecManagedSlotOwnership(t *testing.T) {
	// y = x; y = x; return y
	code := &Code{
		Name:      "copy",
		FrameSize: 2,
		SlotTypes: []Type{stringT, stringT},
		NumParams: 1,
		Insts: []ZInst{
			{Op: OpAssign, V1: 1, V2: 0},
			{Op: OpAssign, V1: 1, V2: 0},
			{Op: OpReturn, V1: 1},
		},
	}
	env, _ := testEnv()
	s := NewString("s")
	r, err := code.Exec(env, []Val{s})
	if err != nil {
		t.Fatal(err)
	}
	if r != Val(s) {
		t.Fatal("managed copies share the handle")
	}
	if s.RefCount() != 2 {
		t.Errorf("ref count = %d, want 2 (caller + result)", s.RefCount())
	}
	r.Unref()
	if s.RefCount() != 1 {
		t.Errorf("ref count = %d after releasing result, want 1", s.RefCount())
	}
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

func TestExecFieldMissingIsRuntimeError(t *testing.T) {
	rt := connInfoType()
	code := &Code{
		Name:      "hist",
		FrameSize: 2,
		SlotTypes: []Type{rt, stringT},
		NumParams: 1,
		Insts: []ZInst{
			{Op: OpFieldGet, V1: 1, V2: 0, Field: 1, T: stringT},
			{Op: OpReturn, V1: 1},
		},
	}
	env, _ := testEnv()
	rv := NewRecordVal(rt)

	_, err := code.Exec(env, []Val{rv})
	if !errors.Is(err, ErrFieldMissing) {
		t.Fatalf("err = %v, want ErrFieldMissing", err)
	}
	if !env.Errors.IsSet() || !errors.Is(env.Errors.Err(), ErrFieldMissing) {
		t.Error("error flag should carry the field error")
	}

	env.Errors.Reset()
	h := NewString("ShADad")
	rv.Assign(1, h)
	r, err := code.Exec(env, []Val{rv})
	if err != nil {
		t.Fatal(err)
	}
	if r != Val(h) || h.RefCount() != 3 {
		t.Errorf("field get: result %v, ref count %d", r, h.RefCount())
	}
}

func TestExecRecordConstruction(t *testing.T) {
	rt := connInfoType()
	code := &Code{
		Name:       "mk",
		FrameSize:  4,
		SlotTypes:  []Type{stringT, rt, boolT, boolT},
		NumParams:  1,
		ResultType: rt,
		Insts: []ZInst{
			{Op: OpNewRecord, V1: 1, T: rt},
			{Op: OpFieldSet, V1: 1, V2: 0, Field: 2, T: stringT},
			{Op: OpHasField, V1: 2, V2: 1, Field: 2},
			{Op: OpHasField, V1: 3, V2: 1, Field: 1},
			{Op: OpPrint, Args: []int{2, 3}},
			{Op: OpReturn, V1: 1},
		},
	}
	env, out := testEnv()
	svc := NewString("ssh")
	r, err := code.Exec(env, []Val{svc})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != "T, F" {
		t.Errorf("printed %q, want %q", got, "T, F")
	}
	rec := r.(*RecordVal)
	if rec.RefCount() != 1 {
		t.Errorf("record ref count = %d, want 1", rec.RefCount())
	}
	if svc.RefCount() != 2 {
		t.Errorf("service ref count = %d, want 2", svc.RefCount())
	}
	rec.Unref()
	if svc.RefCount() != 1 {
		t.Errorf("service ref count = %d after record release, want 1", svc.RefCount())
	}
}

// ---------------------------------------------------------------------------
// Vector copies
// ---------------------------------------------------------------------------

func copyUnsetCode() *Code {
	vt := NewVectorType(stringT)
	return &Code{
		Name:      "cp",
		FrameSize: 3,
		SlotTypes: []Type{vt, countT, stringT},
		NumParams: 1,
		Insts: []ZInst{
			{Op: OpAssignConst, V1: 1, C: UintZVal(0), T: countT},
			{Op: OpIndexSet, V1: 0, V2: 1, V3: 2, T: stringT},
			{Op: OpReturnVoid},
		},
	}
}

func TestExecCopyFromUnsetLenient(t *testing.T) {
	env, _ := testEnv()
	vec := NewVectorVal(NewVectorType(stringT))
	if _, err := copyUnsetCode().Exec(env, []Val{vec}); err != nil {
		t.Fatalf("lenient copy failed: %v", err)
	}
	if !vec.RawVec().Lookup(0).IsNil(stringT) {
		t.Error("skipped copy should leave the slot unset")
	}
}

func TestExecCopyFromUnsetStrict(t *testing.T) {
	env, _ := testEnv()
	env.StrictCopy = true
	vec := NewVectorVal(NewVectorType(stringT))
	_, err := copyUnsetCode().Exec(env, []Val{vec})
	if !errors.Is(err, ErrUnsetElement) {
		t.Errorf("err = %v, want ErrUnsetElement", err)
	}
}

func TestExecIndexOutOfRange(t *testing.T) {
	code := &Code{
		Name:      "get",
		FrameSize: 3,
		SlotTypes: []Type{NewVectorType(countT), countT, countT},
		NumParams: 2,
		Insts: []ZInst{
			{Op: OpIndexGet, V1: 2, V2: 0, V3: 1, T: countT},
			{Op: OpReturn, V1: 2},
		},
	}
	env, _ := testEnv()
	vec := NewVectorVal(NewVectorType(countT))
	_, err := code.Exec(env, []Val{vec, NewCount(3)})
	if !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("err = %v, want ErrIndexOutOfRange", err)
	}
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func TestExecCall(t *testing.T) {
	ft := NewFuncType([]Type{NewVectorType(countT)}, countT)
	sum := NewFunc("sum", ft, sumCode())

	vt := NewVectorType(countT)
	code := &Code{
		Name:      "main",
		FrameSize: 4,
		SlotTypes: []Type{vt, countT, countT, countT},
		Insts: []ZInst{
			{Op: OpNewVector, V1: 0, T: vt},
			{Op: OpAssignConst, V1: 1, C: UintZVal(20), T: countT},
			{Op: OpVecAppend, V1: 0, V2: 1, T: countT},
			{Op: OpVecAppend, V1: 0, V2: 1, T: countT},
			{Op: OpCall, V1: 2, Func: sum, Args: []int{0}},
			{Op: OpVecSize, V1: 3, V2: 0},
			{Op: OpPrint, Args: []int{2, 3}},
			{Op: OpReturnVoid},
		},
	}
	env, out := testEnv()
	env.Profiler = NewProfiler()
	if _, err := code.Exec(env, nil); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != "40, 2" {
		t.Errorf("printed %q, want %q", got, "40, 2")
	}

	stats := env.Profiler.Stats()
	if stats.TotalBodies != 2 || stats.TotalCalls != 2 {
		t.Errorf("profiler stats = %+v", stats)
	}
}

func TestExecRecursionLimit(t *testing.T) {
	ft := NewFuncType(nil, nil)
	fn := NewFunc("loop", ft, nil)
	code := &Code{
		Name:      "loop",
		FrameSize: 0,
		Insts:     []ZInst{{Op: OpCall, V1: -1, Func: fn}},
	}
	fn.SetImpl(code)
	env, _ := testEnv()
	if _, err := code.Exec(env, nil); !errors.Is(err, ErrCallDepth) {
		t.Errorf("err = %v, want ErrCallDepth", err)
	}
}
