package vm

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrDivideByZero reports integer division or modulo by zero.
	ErrDivideByZero = errors.New("division by zero")

	// ErrCallDepth reports runaway recursion.
	ErrCallDepth = errors.New("call depth exceeded")

	// ErrArgCount reports a call with the wrong number of arguments.
	ErrArgCount = errors.New("wrong number of arguments")

	// ErrBadOperand reports an operation applied to a type it does not
	// support.
	ErrBadOperand = errors.New("unsupported operand type")
)

// frame is one activation of a Code body.
type frame struct {
	code    *Code
	slots   []ZVal
	managed []bool
}

func (c *Code) managedSlots() []bool {
	m := make([]bool, c.FrameSize)
	for i := range m {
		if i < len(c.SlotTypes) && c.SlotTypes[i] != nil {
			m[i] = IsManagedType(c.SlotTypes[i])
		}
	}
	return m
}

// set stores z in slot, releasing a managed previous occupant. z's
// reference, if any, moves into the slot.
func (f *frame) set(slot int, z ZVal) {
	if f.managed[slot] {
		DeleteManagedType(&f.slots[slot])
	}
	f.slots[slot] = z
}

// copyFrom reads slot src for storing elsewhere, adding a reference when
// the slot is managed.
func (f *frame) copyFrom(src int) ZVal {
	z := f.slots[src]
	if f.managed[src] {
		RefManaged(z)
	}
	return z
}

func (f *frame) teardown() {
	for i := range f.slots {
		if f.managed[i] {
			DeleteManagedType(&f.slots[i])
		}
	}
}

// Call makes Code usable as the implementation of a FuncVal.
func (c *Code) Call(env *Env, args []Val) (Val, error) {
	return c.Exec(env, args)
}

// Exec runs the body with args (borrowed) and returns an owned result,
// nil for void. A runtime error is also recorded in env.Errors.
func (c *Code) Exec(env *Env, args []Val) (Val, error) {
	if len(args) != c.NumParams {
		return nil, c.fail(env, -1, fmt.Errorf("%w: want %d, got %d", ErrArgCount, c.NumParams, len(args)))
	}
	if !env.Enter() {
		return nil, c.fail(env, -1, ErrCallDepth)
	}
	defer env.Leave()

	f := &frame{code: c, slots: make([]ZVal, c.FrameSize), managed: c.managedSlots()}
	defer f.teardown()
	for i, a := range args {
		f.slots[i] = NewZVal(a, c.SlotTypes[i])
	}

	if env.Profiler != nil {
		env.Profiler.RecordCall(c)
	}
	return f.run(env)
}

func (c *Code) fail(env *Env, pc int, err error) error {
	rerr := &RuntimeError{Func: c.Name, Inst: pc, Err: err}
	env.Errors.Set(rerr)
	return rerr
}

func (f *frame) run(env *Env) (Val, error) {
	c := f.code
	prof := env.Profiler
	pc := 0

	for pc < len(c.Insts) {
		in := &c.Insts[pc]
		if prof != nil {
			prof.RecordInst(c, pc)
		}

		switch in.Op {
		case OpNop:

		case OpAssignConst:
			z := in.C
			if f.managed[in.V1] {
				RefManaged(z)
			}
			f.set(in.V1, z)

		case OpAssign:
			f.set(in.V1, f.copyFrom(in.V2))

		case OpInitSlot:
			f.set(in.V1, ZVal{})

		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			z, err := Arith(in.Op, in.T, f.slots[in.V2], f.slots[in.V3])
			if err != nil {
				return nil, c.fail(env, pc, err)
			}
			f.set(in.V1, z)

		case OpLT, OpLE, OpEQ, OpNE:
			b, err := Compare(in.Op, in.T, f.slots[in.V2], f.slots[in.V3])
			if err != nil {
				return nil, c.fail(env, pc, err)
			}
			f.set(in.V1, BoolZVal(b))

		case OpNot:
			f.set(in.V1, BoolZVal(!f.slots[in.V2].Bool()))

		case OpGoto:
			pc = in.V1
			continue

		case OpIfFalse:
			if !f.slots[in.V1].Bool() {
				pc = in.V2
				continue
			}

		case OpIfTrue:
			if f.slots[in.V1].Bool() {
				pc = in.V2
				continue
			}

		case OpReturn:
			return f.slots[in.V1].ToVal(c.SlotTypes[in.V1]), nil

		case OpReturnVoid:
			return nil, nil

		case OpFieldGet:
			rec := f.slots[in.V2].RecordVal()
			if rec == nil {
				return nil, c.fail(env, pc, ErrNilValue)
			}
			z, err := rec.RawFields().Lookup(in.Field)
			if err != nil {
				return nil, c.fail(env, pc, err)
			}
			v := *z
			if f.managed[in.V1] {
				RefManaged(v)
			}
			f.set(in.V1, v)

		case OpFieldSet:
			rec := f.slots[in.V1].RecordVal()
			if rec == nil {
				return nil, c.fail(env, pc, ErrNilValue)
			}
			if f.managed[in.V2] && f.slots[in.V2].IsNil(in.T) {
				rec.RawFields().DeleteField(in.Field)
				break
			}
			rec.RawFields().Assign(in.Field, f.copyFrom(in.V2))

		case OpHasField:
			rec := f.slots[in.V2].RecordVal()
			if rec == nil {
				return nil, c.fail(env, pc, ErrNilValue)
			}
			f.set(in.V1, BoolZVal(rec.HasField(in.Field)))

		case OpFieldDelete:
			rec := f.slots[in.V1].RecordVal()
			if rec == nil {
				return nil, c.fail(env, pc, ErrNilValue)
			}
			rec.DeleteField(in.Field)

		case OpNewRecord:
			f.set(in.V1, ManagedZVal(NewRecordVal(in.T.(*RecordType))))

		case OpNewVector:
			f.set(in.V1, ManagedZVal(NewVectorVal(in.T.(*VectorType))))

		case OpIndexGet:
			if err := f.indexGet(in); err != nil {
				return nil, c.fail(env, pc, err)
			}

		case OpIndexSet:
			vec := f.slots[in.V1].VectorVal()
			if vec == nil {
				return nil, c.fail(env, pc, ErrNilValue)
			}
			idx := f.slots[in.V2].Int()
			if idx < 0 {
				return nil, c.fail(env, pc, fmt.Errorf("%w: %d", ErrIndexOutOfRange, idx))
			}
			if err := f.storeElement(env, vec, int(idx), in); err != nil {
				return nil, c.fail(env, pc, err)
			}

		case OpVecAppend:
			vec := f.slots[in.V1].VectorVal()
			if vec == nil {
				return nil, c.fail(env, pc, ErrNilValue)
			}
			app := *in
			app.V3 = in.V2
			if err := f.storeElement(env, vec, vec.Size(), &app); err != nil {
				return nil, c.fail(env, pc, err)
			}

		case OpVecSize:
			vec := f.slots[in.V2].VectorVal()
			if vec == nil {
				return nil, c.fail(env, pc, ErrNilValue)
			}
			f.set(in.V1, UintZVal(uint64(vec.Size())))

		case OpInitLoop:
			f.set(in.V1, IterZVal(&IterInfo{Vec: f.slots[in.V2].VectorVal()}))

		case OpNextIter:
			it := f.slots[in.V1].IterInfo()
			next, ok := it.advance()
			if !ok {
				pc = in.V3
				continue
			}
			f.set(in.V2, UintZVal(uint64(next)))

		case OpCall:
			if err := f.call(env, in); err != nil {
				return nil, c.fail(env, pc, err)
			}

		case OpPrint:
			parts := make([]string, len(in.Args))
			for i, a := range in.Args {
				v := f.slots[a].ToVal(c.SlotTypes[a])
				parts[i] = ValString(v)
				Unref(v)
			}
			if err := env.Print(strings.Join(parts, ", ")); err != nil {
				return nil, c.fail(env, pc, err)
			}

		default:
			return nil, c.fail(env, pc, fmt.Errorf("unknown opcode %s", in.Op))
		}
		pc++
	}
	return nil, nil
}

// advance moves to the next established element. Unset managed
// elements are skipped.
func (it *IterInfo) advance() (int, bool) {
	if it == nil || it.Vec == nil {
		return 0, false
	}
	zv := it.Vec.RawVec()
	for it.Next < zv.Size() {
		i := it.Next
		it.Next++
		if zv.IsManagedYieldType() && zv.Lookup(i).IsNil(zv.YieldType()) {
			continue
		}
		return i, true
	}
	return 0, false
}

func (f *frame) indexGet(in *ZInst) error {
	vec := f.slots[in.V2].VectorVal()
	if vec == nil {
		return ErrNilValue
	}
	idx := f.slots[in.V3].Int()
	if idx < 0 || idx >= int64(vec.Size()) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, idx)
	}

	// A vector of any keeps its refined element type at run time, so the
	// element is boxed for the any-typed slot.
	if in.T.Tag() == TypeAny {
		v := vec.At(int(idx))
		if v == nil {
			return ErrUnsetElement
		}
		f.set(in.V1, ManagedZVal(v))
		return nil
	}

	z := *vec.RawVec().Lookup(int(idx))
	if f.managed[in.V1] {
		if z.IsNil(in.T) {
			return ErrUnsetElement
		}
		RefManaged(z)
	}
	f.set(in.V1, z)
	return nil
}

// storeElement copies slot in.V3 into vec at idx. A copy from an unset
// managed slot is an error under StrictCopy and is otherwise skipped.
func (f *frame) storeElement(env *Env, vec *VectorVal, idx int, in *ZInst) error {
	if in.T.Tag() == TypeAny {
		v := f.slots[in.V3].Managed()
		if v == nil {
			if env.StrictCopy {
				return ErrUnsetElement
			}
			return nil
		}
		vec.Assign(idx, v)
		return nil
	}

	zv := vec.RawVec()
	if zv.YieldType() == nil {
		zv.SetYieldType(in.T)
	}
	if !zv.CopyElement(idx, f.slots[in.V3]) && env.StrictCopy {
		return ErrUnsetElement
	}
	return nil
}

func (f *frame) call(env *Env, in *ZInst) error {
	fn := in.Func
	if fn == nil {
		fn = f.slots[in.V2].FuncVal()
	}
	if fn == nil {
		return ErrNilValue
	}

	args := make([]Val, len(in.Args))
	defer func() {
		for _, a := range args {
			Unref(a)
		}
	}()
	for i, a := range in.Args {
		args[i] = f.slots[a].ToVal(f.code.SlotTypes[a])
	}

	r, err := fn.Call(env, args)
	if err != nil {
		return err
	}
	if in.V1 < 0 {
		Unref(r)
		return nil
	}
	f.set(in.V1, NewZVal(r, f.code.SlotTypes[in.V1]))
	Unref(r)
	return nil
}

// ---------------------------------------------------------------------------
// Typed arithmetic on untyped slots
// ---------------------------------------------------------------------------

// Arith applies an arithmetic opcode to two values of type t.
func Arith(op Opcode, t Type, a, b ZVal) (ZVal, error) {
	switch t.Tag() {
	case TypeInt, TypeEnum:
		x, y := a.Int(), b.Int()
		switch op {
		case OpAdd:
			return IntZVal(x + y), nil
		case OpSub:
			return IntZVal(x - y), nil
		case OpMul:
			return IntZVal(x * y), nil
		case OpDiv, OpMod:
			if y == 0 {
				return ZVal{}, ErrDivideByZero
			}
			if op == OpDiv {
				return IntZVal(x / y), nil
			}
			return IntZVal(x % y), nil
		}

	case TypeCount, TypePort:
		x, y := a.Uint(), b.Uint()
		switch op {
		case OpAdd:
			return UintZVal(x + y), nil
		case OpSub:
			return UintZVal(x - y), nil
		case OpMul:
			return UintZVal(x * y), nil
		case OpDiv, OpMod:
			if y == 0 {
				return ZVal{}, ErrDivideByZero
			}
			if op == OpDiv {
				return UintZVal(x / y), nil
			}
			return UintZVal(x % y), nil
		}

	case TypeDouble, TypeTime, TypeInterval:
		x, y := a.Double(), b.Double()
		switch op {
		case OpAdd:
			return DoubleZVal(x + y), nil
		case OpSub:
			return DoubleZVal(x - y), nil
		case OpMul:
			return DoubleZVal(x * y), nil
		case OpDiv:
			return DoubleZVal(x / y), nil
		case OpMod:
			return DoubleZVal(math.Mod(x, y)), nil
		}

	case TypeString:
		if op == OpAdd {
			x, y := a.StringVal(), b.StringVal()
			if x == nil || y == nil {
				return ZVal{}, ErrNilValue
			}
			return ManagedZVal(NewString(x.Str() + y.Str())), nil
		}
	}
	return ZVal{}, fmt.Errorf("%w: %s %s", ErrBadOperand, op, t)
}

// Compare applies a comparison opcode to two values of type t.
func Compare(op Opcode, t Type, a, b ZVal) (bool, error) {
	var c int
	switch t.Tag() {
	case TypeBool, TypeInt, TypeEnum:
		c = cmp3(a.Int(), b.Int())
	case TypeCount, TypePort:
		c = cmp3(a.Uint(), b.Uint())
	case TypeDouble, TypeTime, TypeInterval:
		c = cmp3(a.Double(), b.Double())
	case TypeString:
		x, y := a.StringVal(), b.StringVal()
		if x == nil || y == nil {
			return false, ErrNilValue
		}
		c = strings.Compare(x.Str(), y.Str())
	default:
		if op != OpEQ && op != OpNE {
			return false, fmt.Errorf("%w: %s %s", ErrBadOperand, op, t)
		}
		eq := ValEqual(a.Managed(), b.Managed())
		return eq == (op == OpEQ), nil
	}

	switch op {
	case OpLT:
		return c < 0, nil
	case OpLE:
		return c <= 0, nil
	case OpEQ:
		return c == 0, nil
	default:
		return c != 0, nil
	}
}

func cmp3[T int64 | uint64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}
