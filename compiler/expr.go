package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/2b45/zeek/vm"
)

var (
	// ErrUnset reports a variable read before any assignment.
	ErrUnset = errors.New("value used but not set")

	// ErrNoSuchIndex reports a vector read outside its elements.
	ErrNoSuchIndex = errors.New("no such index")
)

// Expr is an expression carried by a statement.
type Expr interface {
	Type() vm.Type
	IsPure() bool

	// IsSingleton reports a constant or a variable reference: an operand
	// the compiler can address directly.
	IsSingleton() bool

	// IsReduced reports that every operand is a singleton.
	IsReduced(c *Reducer) bool

	// Reduce returns an equivalent expression whose operands are
	// singletons, plus the statements (possibly nil) that must run first.
	Reduce(c *Reducer) (Expr, Stmt)

	Duplicate() Expr
	Inline(inl Inliner) Expr

	// Eval returns an owned reference to the value.
	Eval(f *Frame) (vm.Val, error)

	Traverse(cb TraversalCallback) TraversalCode
	String() string
}

// ---------------------------------------------------------------------------
// Singletons
// ---------------------------------------------------------------------------

// ConstExpr is a literal. The value lives as long as the tree.
type ConstExpr struct {
	val vm.Val
}

func NewConst(v vm.Val) *ConstExpr { return &ConstExpr{val: v} }

func (e *ConstExpr) Value() vm.Val                { return e.val }
func (e *ConstExpr) Type() vm.Type                { return e.val.Type() }
func (e *ConstExpr) IsPure() bool                 { return true }
func (e *ConstExpr) IsSingleton() bool            { return true }
func (e *ConstExpr) IsReduced(*Reducer) bool      { return true }
func (e *ConstExpr) Reduce(*Reducer) (Expr, Stmt) { return e, nil }
func (e *ConstExpr) Duplicate() Expr              { return NewConst(e.val) }
func (e *ConstExpr) Inline(Inliner) Expr          { return e }

func (e *ConstExpr) Eval(*Frame) (vm.Val, error) {
	e.val.Ref()
	return e.val, nil
}

func (e *ConstExpr) Traverse(cb TraversalCallback) TraversalCode { return traverseExpr(e, cb) }

func (e *ConstExpr) String() string {
	if s, ok := e.val.(*vm.StringVal); ok {
		return strconv.Quote(s.Str())
	}
	return e.val.String()
}

// NameExpr reads a local variable.
type NameExpr struct {
	id *ID
}

func NewName(id *ID) *NameExpr { return &NameExpr{id: id} }

func (e *NameExpr) ID() *ID                 { return e.id }
func (e *NameExpr) Type() vm.Type           { return e.id.Type }
func (e *NameExpr) IsPure() bool            { return true }
func (e *NameExpr) IsSingleton() bool       { return true }
func (e *NameExpr) IsReduced(*Reducer) bool { return true }
func (e *NameExpr) Duplicate() Expr         { return NewName(e.id) }
func (e *NameExpr) Inline(Inliner) Expr     { return e }
func (e *NameExpr) String() string          { return e.id.Name }

func (e *NameExpr) Reduce(c *Reducer) (Expr, Stmt) {
	if id := c.UpdateID(e.id); id != e.id {
		return NewName(id), nil
	}
	return e, nil
}

func (e *NameExpr) Eval(f *Frame) (vm.Val, error) {
	v := f.Get(e.id)
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnset, e.id.Name)
	}
	v.Ref()
	return v, nil
}

func (e *NameExpr) Traverse(cb TraversalCallback) TraversalCode { return traverseExpr(e, cb) }

// ---------------------------------------------------------------------------
// Assignment
// ---------------------------------------------------------------------------

// AssignExpr stores into a local and yields the stored value.
type AssignExpr struct {
	lhs *NameExpr
	rhs Expr
}

func NewAssign(id *ID, rhs Expr) *AssignExpr {
	return &AssignExpr{lhs: NewName(id), rhs: rhs}
}

func (e *AssignExpr) LHS() *NameExpr    { return e.lhs }
func (e *AssignExpr) RHS() Expr         { return e.rhs }
func (e *AssignExpr) Type() vm.Type     { return e.lhs.Type() }
func (e *AssignExpr) IsPure() bool      { return false }
func (e *AssignExpr) IsSingleton() bool { return false }
func (e *AssignExpr) String() string    { return e.lhs.String() + " = " + e.rhs.String() }

func (e *AssignExpr) IsReduced(c *Reducer) bool {
	if _, nested := e.rhs.(*AssignExpr); nested {
		return false
	}
	return e.rhs.IsReduced(c)
}

func (e *AssignExpr) Reduce(c *Reducer) (Expr, Stmt) {
	var pre Stmt
	rhs := e.rhs
	if inner, ok := rhs.(*AssignExpr); ok {
		red, ipre := inner.Reduce(c)
		pre = joinStmts(ipre, NewExprStmt(red))
		rhs = red.(*AssignExpr).lhs
	}
	r, rpre := rhs.Reduce(c)
	lhs := c.UpdateID(e.lhs.id)
	return NewAssign(lhs, r), joinStmts(pre, rpre)
}

func (e *AssignExpr) Duplicate() Expr {
	return NewAssign(e.lhs.id, e.rhs.Duplicate())
}

func (e *AssignExpr) Inline(inl Inliner) Expr {
	e.rhs = e.rhs.Inline(inl)
	return e
}

func (e *AssignExpr) Eval(f *Frame) (vm.Val, error) {
	v, err := e.rhs.Eval(f)
	if err != nil {
		return nil, err
	}
	vm.Ref(v)
	f.Set(e.lhs.id, v)
	return v, nil
}

func (e *AssignExpr) Traverse(cb TraversalCallback) TraversalCode {
	return traverseExpr(e, cb, e.lhs, e.rhs)
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// BinOp is a binary operator.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpLT
	OpLE
	OpEQ
	OpNE
	OpGT
	OpGE
)

var binOpSymbols = [...]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpLT: "<", OpLE: "<=", OpEQ: "==", OpNE: "!=", OpGT: ">", OpGE: ">=",
}

func (op BinOp) String() string { return binOpSymbols[op] }

// IsComparison reports operators yielding bool.
func (op BinOp) IsComparison() bool { return op >= OpLT }

// zop maps op onto a ZAM opcode. Greater-than forms swap their operands.
func (op BinOp) zop() (code vm.Opcode, swap bool) {
	switch op {
	case OpAdd:
		return vm.OpAdd, false
	case OpSub:
		return vm.OpSub, false
	case OpMul:
		return vm.OpMul, false
	case OpDiv:
		return vm.OpDiv, false
	case OpMod:
		return vm.OpMod, false
	case OpLT:
		return vm.OpLT, false
	case OpLE:
		return vm.OpLE, false
	case OpEQ:
		return vm.OpEQ, false
	case OpNE:
		return vm.OpNE, false
	case OpGT:
		return vm.OpLT, true
	default:
		return vm.OpLE, true
	}
}

// BinaryExpr applies an arithmetic or comparison operator.
type BinaryExpr struct {
	op   BinOp
	l, r Expr
}

func NewBinary(op BinOp, l, r Expr) *BinaryExpr { return &BinaryExpr{op: op, l: l, r: r} }

func (e *BinaryExpr) Op() BinOp              { return e.op }
func (e *BinaryExpr) Operands() (Expr, Expr) { return e.l, e.r }
func (e *BinaryExpr) IsPure() bool           { return e.l.IsPure() && e.r.IsPure() }
func (e *BinaryExpr) IsSingleton() bool      { return false }
func (e *BinaryExpr) String() string         { return e.l.String() + " " + e.op.String() + " " + e.r.String() }

func (e *BinaryExpr) Type() vm.Type {
	if e.op.IsComparison() {
		return vm.BaseType(vm.TypeBool)
	}
	return e.l.Type()
}

func (e *BinaryExpr) IsReduced(c *Reducer) bool {
	if c.Optimizing() && isConst(e.l) && isConst(e.r) {
		return false
	}
	return e.l.IsSingleton() && e.r.IsSingleton()
}

func (e *BinaryExpr) Reduce(c *Reducer) (Expr, Stmt) {
	l, lpre := c.ReduceToSingleton(e.l)
	r, rpre := c.ReduceToSingleton(e.r)
	pre := joinStmts(lpre, rpre)

	if c.Optimizing() {
		lc, lok := l.(*ConstExpr)
		rc, rok := r.(*ConstExpr)
		if lok && rok {
			if v, err := evalBinary(e.op, lc.Type(), lc.val, rc.val); err == nil {
				return NewConst(v), pre
			}
		}
	}
	return NewBinary(e.op, l, r), pre
}

func (e *BinaryExpr) Duplicate() Expr {
	return NewBinary(e.op, e.l.Duplicate(), e.r.Duplicate())
}

func (e *BinaryExpr) Inline(inl Inliner) Expr {
	e.l = e.l.Inline(inl)
	e.r = e.r.Inline(inl)
	return e
}

func (e *BinaryExpr) Eval(f *Frame) (vm.Val, error) {
	a, err := e.l.Eval(f)
	if err != nil {
		return nil, err
	}
	defer a.Unref()
	b, err := e.r.Eval(f)
	if err != nil {
		return nil, err
	}
	defer b.Unref()
	return evalBinary(e.op, e.l.Type(), a, b)
}

func (e *BinaryExpr) Traverse(cb TraversalCallback) TraversalCode {
	return traverseExpr(e, cb, e.l, e.r)
}

// evalBinary applies op to boxed operands of type t.
func evalBinary(op BinOp, t vm.Type, a, b vm.Val) (vm.Val, error) {
	code, swap := op.zop()
	if swap {
		a, b = b, a
	}
	za, zb := vm.NewZVal(a, t), vm.NewZVal(b, t)
	defer vm.DeleteManagedType(&za)
	defer vm.DeleteManagedType(&zb)

	if op.IsComparison() {
		res, err := vm.Compare(code, t, za, zb)
		if err != nil {
			return nil, err
		}
		return vm.NewBool(res), nil
	}
	z, err := vm.Arith(code, t, za, zb)
	if err != nil {
		return nil, err
	}
	v := z.ToVal(t)
	vm.DeleteManagedType(&z)
	return v, nil
}

// NotExpr negates a bool.
type NotExpr struct {
	op Expr
}

func NewNot(op Expr) *NotExpr { return &NotExpr{op: op} }

func (e *NotExpr) Operand() Expr     { return e.op }
func (e *NotExpr) Type() vm.Type     { return vm.BaseType(vm.TypeBool) }
func (e *NotExpr) IsPure() bool      { return e.op.IsPure() }
func (e *NotExpr) IsSingleton() bool { return false }
func (e *NotExpr) Duplicate() Expr   { return NewNot(e.op.Duplicate()) }
func (e *NotExpr) String() string    { return "!" + e.op.String() }

func (e *NotExpr) IsReduced(c *Reducer) bool {
	return e.op.IsSingleton() && !(c.Optimizing() && isConst(e.op))
}

func (e *NotExpr) Reduce(c *Reducer) (Expr, Stmt) {
	op, pre := c.ReduceToSingleton(e.op)
	if k, ok := op.(*ConstExpr); ok && c.Optimizing() {
		return NewConst(vm.NewBool(!k.val.(*vm.IntVal).Bool())), pre
	}
	return NewNot(op), pre
}

func (e *NotExpr) Inline(inl Inliner) Expr {
	e.op = e.op.Inline(inl)
	return e
}

func (e *NotExpr) Eval(f *Frame) (vm.Val, error) {
	v, err := e.op.Eval(f)
	if err != nil {
		return nil, err
	}
	defer v.Unref()
	return vm.NewBool(!v.(*vm.IntVal).Bool()), nil
}

func (e *NotExpr) Traverse(cb TraversalCallback) TraversalCode {
	return traverseExpr(e, cb, e.op)
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

func fieldOffset(rec Expr, name string) (*vm.RecordType, int) {
	rt, ok := rec.Type().(*vm.RecordType)
	if !ok {
		panic(fmt.Sprintf("compiler: %s is not a record", rec))
	}
	i := rt.FieldOffset(name)
	if i < 0 {
		panic(fmt.Sprintf("compiler: record %s has no field %q", rt.Name(), name))
	}
	return rt, i
}

func evalRecord(f *Frame, e Expr) (*vm.RecordVal, error) {
	v, err := e.Eval(f)
	if err != nil {
		return nil, err
	}
	return v.(*vm.RecordVal), nil
}

// FieldExpr reads rec$name. An absent field falls back to its default.
type FieldExpr struct {
	rec   Expr
	field int
	rt    *vm.RecordType
}

func NewField(rec Expr, name string) *FieldExpr {
	rt, i := fieldOffset(rec, name)
	return &FieldExpr{rec: rec, field: i, rt: rt}
}

func (e *FieldExpr) Record() Expr            { return e.rec }
func (e *FieldExpr) Field() int              { return e.field }
func (e *FieldExpr) FieldName() string       { return e.rt.Field(e.field).Name }
func (e *FieldExpr) Type() vm.Type           { return e.rt.FieldType(e.field) }
func (e *FieldExpr) IsPure() bool            { return e.rec.IsPure() }
func (e *FieldExpr) IsSingleton() bool       { return false }
func (e *FieldExpr) IsReduced(*Reducer) bool { return e.rec.IsSingleton() }
func (e *FieldExpr) String() string          { return e.rec.String() + "$" + e.FieldName() }

func (e *FieldExpr) Reduce(c *Reducer) (Expr, Stmt) {
	rec, pre := c.ReduceToSingleton(e.rec)
	return &FieldExpr{rec: rec, field: e.field, rt: e.rt}, pre
}

func (e *FieldExpr) Duplicate() Expr {
	return &FieldExpr{rec: e.rec.Duplicate(), field: e.field, rt: e.rt}
}

func (e *FieldExpr) Inline(inl Inliner) Expr {
	e.rec = e.rec.Inline(inl)
	return e
}

func (e *FieldExpr) Eval(f *Frame) (vm.Val, error) {
	rv, err := evalRecord(f, e.rec)
	if err != nil {
		return nil, err
	}
	defer rv.Unref()
	return rv.GetField(e.field)
}

func (e *FieldExpr) Traverse(cb TraversalCallback) TraversalCode {
	return traverseExpr(e, cb, e.rec)
}

// HasFieldExpr tests rec?$name.
type HasFieldExpr struct {
	rec   Expr
	field int
	rt    *vm.RecordType
}

func NewHasField(rec Expr, name string) *HasFieldExpr {
	rt, i := fieldOffset(rec, name)
	return &HasFieldExpr{rec: rec, field: i, rt: rt}
}

func (e *HasFieldExpr) Record() Expr            { return e.rec }
func (e *HasFieldExpr) Field() int              { return e.field }
func (e *HasFieldExpr) Type() vm.Type           { return vm.BaseType(vm.TypeBool) }
func (e *HasFieldExpr) IsPure() bool            { return e.rec.IsPure() }
func (e *HasFieldExpr) IsSingleton() bool       { return false }
func (e *HasFieldExpr) IsReduced(*Reducer) bool { return e.rec.IsSingleton() }
func (e *HasFieldExpr) String() string          { return e.rec.String() + "?$" + e.rt.Field(e.field).Name }

func (e *HasFieldExpr) Reduce(c *Reducer) (Expr, Stmt) {
	rec, pre := c.ReduceToSingleton(e.rec)
	return &HasFieldExpr{rec: rec, field: e.field, rt: e.rt}, pre
}

func (e *HasFieldExpr) Duplicate() Expr {
	return &HasFieldExpr{rec: e.rec.Duplicate(), field: e.field, rt: e.rt}
}

func (e *HasFieldExpr) Inline(inl Inliner) Expr {
	e.rec = e.rec.Inline(inl)
	return e
}

func (e *HasFieldExpr) Eval(f *Frame) (vm.Val, error) {
	rv, err := evalRecord(f, e.rec)
	if err != nil {
		return nil, err
	}
	defer rv.Unref()
	return vm.NewBool(rv.HasField(e.field)), nil
}

func (e *HasFieldExpr) Traverse(cb TraversalCallback) TraversalCode {
	return traverseExpr(e, cb, e.rec)
}

// FieldAssignExpr stores into rec$name and yields the stored value.
type FieldAssignExpr struct {
	rec   Expr
	field int
	rt    *vm.RecordType
	val   Expr
}

func NewFieldAssign(rec Expr, name string, val Expr) *FieldAssignExpr {
	rt, i := fieldOffset(rec, name)
	return &FieldAssignExpr{rec: rec, field: i, rt: rt, val: val}
}

func (e *FieldAssignExpr) Record() Expr      { return e.rec }
func (e *FieldAssignExpr) Field() int        { return e.field }
func (e *FieldAssignExpr) Value() Expr       { return e.val }
func (e *FieldAssignExpr) Type() vm.Type     { return e.rt.FieldType(e.field) }
func (e *FieldAssignExpr) IsPure() bool      { return false }
func (e *FieldAssignExpr) IsSingleton() bool { return false }

func (e *FieldAssignExpr) String() string {
	return e.rec.String() + "$" + e.rt.Field(e.field).Name + " = " + e.val.String()
}

func (e *FieldAssignExpr) IsReduced(*Reducer) bool {
	return e.rec.IsSingleton() && e.val.IsSingleton()
}

func (e *FieldAssignExpr) Reduce(c *Reducer) (Expr, Stmt) {
	rec, rpre := c.ReduceToSingleton(e.rec)
	val, vpre := c.ReduceToSingleton(e.val)
	return &FieldAssignExpr{rec: rec, field: e.field, rt: e.rt, val: val}, joinStmts(rpre, vpre)
}

func (e *FieldAssignExpr) Duplicate() Expr {
	return &FieldAssignExpr{rec: e.rec.Duplicate(), field: e.field, rt: e.rt, val: e.val.Duplicate()}
}

func (e *FieldAssignExpr) Inline(inl Inliner) Expr {
	e.rec = e.rec.Inline(inl)
	e.val = e.val.Inline(inl)
	return e
}

func (e *FieldAssignExpr) Eval(f *Frame) (vm.Val, error) {
	rv, err := evalRecord(f, e.rec)
	if err != nil {
		return nil, err
	}
	defer rv.Unref()
	v, err := e.val.Eval(f)
	if err != nil {
		return nil, err
	}
	rv.Assign(e.field, v)
	return v, nil
}

func (e *FieldAssignExpr) Traverse(cb TraversalCallback) TraversalCode {
	return traverseExpr(e, cb, e.rec, e.val)
}

// ---------------------------------------------------------------------------
// Vectors
// ---------------------------------------------------------------------------

func yieldOf(vec Expr) vm.Type {
	vt, ok := vec.Type().(*vm.VectorType)
	if !ok {
		panic(fmt.Sprintf("compiler: %s is not a vector", vec))
	}
	return vt.Yield()
}

func indexValue(v vm.Val) int {
	switch iv := v.(type) {
	case *vm.UintVal:
		return int(iv.Uint())
	case *vm.IntVal:
		return int(iv.Int())
	}
	return -1
}

// evalIndex evaluates a vector and an index, returning owned vector.
func evalIndex(f *Frame, vec, index Expr) (*vm.VectorVal, int, error) {
	v, err := vec.Eval(f)
	if err != nil {
		return nil, 0, err
	}
	iv, err := index.Eval(f)
	if err != nil {
		v.Unref()
		return nil, 0, err
	}
	i := indexValue(iv)
	iv.Unref()
	return v.(*vm.VectorVal), i, nil
}

// IndexExpr reads vec[index].
type IndexExpr struct {
	vec, index Expr
}

func NewIndex(vec, index Expr) *IndexExpr { return &IndexExpr{vec: vec, index: index} }

func (e *IndexExpr) Operands() (Expr, Expr)  { return e.vec, e.index }
func (e *IndexExpr) Type() vm.Type           { return yieldOf(e.vec) }
func (e *IndexExpr) IsPure() bool            { return e.vec.IsPure() && e.index.IsPure() }
func (e *IndexExpr) IsSingleton() bool       { return false }
func (e *IndexExpr) IsReduced(*Reducer) bool { return e.vec.IsSingleton() && e.index.IsSingleton() }
func (e *IndexExpr) Duplicate() Expr         { return NewIndex(e.vec.Duplicate(), e.index.Duplicate()) }
func (e *IndexExpr) String() string          { return e.vec.String() + "[" + e.index.String() + "]" }

func (e *IndexExpr) Reduce(c *Reducer) (Expr, Stmt) {
	vec, vpre := c.ReduceToSingleton(e.vec)
	idx, ipre := c.ReduceToSingleton(e.index)
	return NewIndex(vec, idx), joinStmts(vpre, ipre)
}

func (e *IndexExpr) Inline(inl Inliner) Expr {
	e.vec = e.vec.Inline(inl)
	e.index = e.index.Inline(inl)
	return e
}

func (e *IndexExpr) Eval(f *Frame) (vm.Val, error) {
	vv, i, err := evalIndex(f, e.vec, e.index)
	if err != nil {
		return nil, err
	}
	defer vv.Unref()
	v := vv.At(i)
	if v == nil {
		return nil, fmt.Errorf("%w: %s[%d]", ErrNoSuchIndex, e.vec, i)
	}
	return v, nil
}

func (e *IndexExpr) Traverse(cb TraversalCallback) TraversalCode {
	return traverseExpr(e, cb, e.vec, e.index)
}

// IndexAssignExpr stores into vec[index], growing the vector as needed.
type IndexAssignExpr struct {
	vec, index, val Expr
}

func NewIndexAssign(vec, index, val Expr) *IndexAssignExpr {
	return &IndexAssignExpr{vec: vec, index: index, val: val}
}

func (e *IndexAssignExpr) Operands() (vec, index, val Expr) { return e.vec, e.index, e.val }
func (e *IndexAssignExpr) Type() vm.Type                    { return e.val.Type() }
func (e *IndexAssignExpr) IsPure() bool                     { return false }
func (e *IndexAssignExpr) IsSingleton() bool                { return false }

func (e *IndexAssignExpr) String() string {
	return e.vec.String() + "[" + e.index.String() + "] = " + e.val.String()
}

func (e *IndexAssignExpr) IsReduced(*Reducer) bool {
	return e.vec.IsSingleton() && e.index.IsSingleton() && e.val.IsSingleton()
}

func (e *IndexAssignExpr) Reduce(c *Reducer) (Expr, Stmt) {
	vec, vpre := c.ReduceToSingleton(e.vec)
	idx, ipre := c.ReduceToSingleton(e.index)
	val, lpre := c.ReduceToSingleton(e.val)
	return NewIndexAssign(vec, idx, val), joinStmts(vpre, ipre, lpre)
}

func (e *IndexAssignExpr) Duplicate() Expr {
	return NewIndexAssign(e.vec.Duplicate(), e.index.Duplicate(), e.val.Duplicate())
}

func (e *IndexAssignExpr) Inline(inl Inliner) Expr {
	e.vec = e.vec.Inline(inl)
	e.index = e.index.Inline(inl)
	e.val = e.val.Inline(inl)
	return e
}

func (e *IndexAssignExpr) Eval(f *Frame) (vm.Val, error) {
	vv, i, err := evalIndex(f, e.vec, e.index)
	if err != nil {
		return nil, err
	}
	defer vv.Unref()
	if i < 0 {
		return nil, fmt.Errorf("%w: %s[%d]", ErrNoSuchIndex, e.vec, i)
	}
	v, err := e.val.Eval(f)
	if err != nil {
		return nil, err
	}
	vv.Assign(i, v)
	return v, nil
}

func (e *IndexAssignExpr) Traverse(cb TraversalCallback) TraversalCode {
	return traverseExpr(e, cb, e.vec, e.index, e.val)
}

// SizeExpr is |vec|.
type SizeExpr struct {
	op Expr
}

func NewSize(op Expr) *SizeExpr { return &SizeExpr{op: op} }

func (e *SizeExpr) Operand() Expr           { return e.op }
func (e *SizeExpr) Type() vm.Type           { return vm.BaseType(vm.TypeCount) }
func (e *SizeExpr) IsPure() bool            { return e.op.IsPure() }
func (e *SizeExpr) IsSingleton() bool       { return false }
func (e *SizeExpr) IsReduced(*Reducer) bool { return e.op.IsSingleton() }
func (e *SizeExpr) Duplicate() Expr         { return NewSize(e.op.Duplicate()) }
func (e *SizeExpr) String() string          { return "|" + e.op.String() + "|" }

func (e *SizeExpr) Reduce(c *Reducer) (Expr, Stmt) {
	op, pre := c.ReduceToSingleton(e.op)
	return NewSize(op), pre
}

func (e *SizeExpr) Inline(inl Inliner) Expr {
	e.op = e.op.Inline(inl)
	return e
}

func (e *SizeExpr) Eval(f *Frame) (vm.Val, error) {
	v, err := e.op.Eval(f)
	if err != nil {
		return nil, err
	}
	defer v.Unref()
	switch x := v.(type) {
	case *vm.VectorVal:
		return vm.NewCount(uint64(x.Size())), nil
	case *vm.StringVal:
		return vm.NewCount(uint64(x.Len())), nil
	case *vm.TableVal:
		return vm.NewCount(uint64(x.Len())), nil
	}
	return nil, fmt.Errorf("size of %s is undefined", v.Type())
}

func (e *SizeExpr) Traverse(cb TraversalCallback) TraversalCode {
	return traverseExpr(e, cb, e.op)
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// CallExpr calls a script function known at compile time.
type CallExpr struct {
	fn   *vm.FuncVal
	args []Expr
}

func NewCall(fn *vm.FuncVal, args ...Expr) *CallExpr { return &CallExpr{fn: fn, args: args} }

func (e *CallExpr) Func() *vm.FuncVal { return e.fn }
func (e *CallExpr) Args() []Expr      { return e.args }
func (e *CallExpr) Type() vm.Type     { return e.fn.FuncType().Yield() }
func (e *CallExpr) IsPure() bool      { return false }
func (e *CallExpr) IsSingleton() bool { return false }

func (e *CallExpr) String() string {
	return e.fn.Name() + "(" + exprList(e.args) + ")"
}

func (e *CallExpr) IsReduced(*Reducer) bool { return allSingletons(e.args) }

func (e *CallExpr) Reduce(c *Reducer) (Expr, Stmt) {
	args, pre := c.reduceArgs(e.args)
	return NewCall(e.fn, args...), pre
}

func (e *CallExpr) Duplicate() Expr { return NewCall(e.fn, duplicateExprs(e.args)...) }

func (e *CallExpr) Inline(inl Inliner) Expr {
	inlineExprs(e.args, inl)
	if inl == nil {
		return e
	}
	return inl.CheckForInlining(e)
}

func (e *CallExpr) Eval(f *Frame) (vm.Val, error) {
	args, err := evalArgs(f, e.args)
	defer releaseAll(args)
	if err != nil {
		return nil, err
	}
	return e.fn.Call(f.Env, args)
}

func (e *CallExpr) Traverse(cb TraversalCallback) TraversalCode {
	return traverseExpr(e, cb, e.args...)
}

// InlineExpr is a call site replaced by a private copy of the callee body.
// Until reduced it runs the copy in its own frame; reduction moves the
// callee's variables into the caller's scope.
type InlineExpr struct {
	callee string
	params []*ID
	vars   []*ID
	args   []Expr
	body   Stmt
	t      vm.Type
}

// NewInline builds an inlined call of callee, whose variables are those of
// scope, with a body already duplicated for this call site.
func NewInline(callee string, scope *Scope, args []Expr, body Stmt, t vm.Type) *InlineExpr {
	return &InlineExpr{
		callee: callee,
		params: append([]*ID(nil), scope.Params()...),
		vars:   append([]*ID(nil), scope.Vars()...),
		args:   args,
		body:   body,
		t:      t,
	}
}

func (e *InlineExpr) Callee() string          { return e.callee }
func (e *InlineExpr) Params() []*ID           { return e.params }
func (e *InlineExpr) Vars() []*ID             { return e.vars }
func (e *InlineExpr) Args() []Expr            { return e.args }
func (e *InlineExpr) Body() Stmt              { return e.body }
func (e *InlineExpr) Type() vm.Type           { return e.t }
func (e *InlineExpr) IsPure() bool            { return false }
func (e *InlineExpr) IsSingleton() bool       { return false }
func (e *InlineExpr) IsReduced(*Reducer) bool { return false }

func (e *InlineExpr) String() string {
	return "inline " + e.callee + "(" + exprList(e.args) + ") { " + e.body.String() + " }"
}

func (e *InlineExpr) Reduce(c *Reducer) (Expr, Stmt) {
	args, pre := c.reduceArgs(e.args)

	remap := c.pushInline(e.callee, e.vars)
	stmts := []Stmt{pre}
	for i, p := range e.params {
		stmts = append(stmts, NewExprStmt(NewAssign(remap[p], args[i])))
	}
	body := Reduce(e.body, c)
	c.popInline()

	var ret *NameExpr
	if e.t != nil && e.t.Tag() != vm.TypeVoid {
		ret = NewName(c.NewTemp(e.t))
	}
	stmts = append(stmts, NewCatchReturnStmt(body, ret))
	if ret == nil {
		return nil, joinStmts(stmts...)
	}
	return ret, joinStmts(stmts...)
}

func (e *InlineExpr) Duplicate() Expr {
	d := *e
	d.args = duplicateExprs(e.args)
	d.body = e.body.Duplicate()
	return &d
}

func (e *InlineExpr) Inline(inl Inliner) Expr {
	inlineExprs(e.args, inl)
	return e
}

func (e *InlineExpr) Eval(f *Frame) (vm.Val, error) {
	args, err := evalArgs(f, e.args)
	if err != nil {
		releaseAll(args)
		return nil, err
	}
	sub := NewFrame(f.Env, len(e.vars))
	defer sub.Release()
	for i, p := range e.params {
		sub.Set(p, args[i])
	}
	if _, err := e.body.Exec(sub); err != nil {
		return nil, err
	}
	return sub.TakeReturn(), nil
}

func (e *InlineExpr) Traverse(cb TraversalCallback) TraversalCode {
	switch tc := cb.PreExpr(e); tc {
	case TCAbortAll:
		return tc
	case TCAbortStmt:
		return TCContinue
	}
	if tc := traverseAll(cb, e.args, e.body); tc == TCAbortAll {
		return tc
	}
	if tc := cb.PostExpr(e); tc == TCAbortAll {
		return tc
	}
	return TCContinue
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func exprList(es []Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

func allSingletons(es []Expr) bool {
	for _, e := range es {
		if !e.IsSingleton() {
			return false
		}
	}
	return true
}

func duplicateExprs(es []Expr) []Expr {
	out := make([]Expr, len(es))
	for i, e := range es {
		out[i] = e.Duplicate()
	}
	return out
}

func inlineExprs(es []Expr, inl Inliner) {
	for i, e := range es {
		es[i] = e.Inline(inl)
	}
}

// evalArgs evaluates es in order. On error the values produced so far are
// still returned for the caller to release.
func evalArgs(f *Frame, es []Expr) ([]vm.Val, error) {
	vals := make([]vm.Val, 0, len(es))
	for _, e := range es {
		v, err := e.Eval(f)
		if err != nil {
			return vals, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

func releaseAll(vals []vm.Val) {
	for _, v := range vals {
		vm.Unref(v)
	}
}
