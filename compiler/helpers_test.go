package compiler

import (
	"bytes"
	"testing"

	"github.com/2b45/zeek/vm"
)

var (
	countT  = vm.BaseType(vm.TypeCount)
	intT    = vm.BaseType(vm.TypeInt)
	boolT   = vm.BaseType(vm.TypeBool)
	stringT = vm.BaseType(vm.TypeString)
)

func testEnv() (*vm.Env, *bytes.Buffer) {
	var buf bytes.Buffer
	env := vm.NewEnv()
	env.Out = &buf
	return env, &buf
}

func cnt(n uint64) *ConstExpr    { return NewConst(vm.NewCount(n)) }
func num(n int64) *ConstExpr     { return NewConst(vm.NewInt(n)) }
func str(s string) *ConstExpr    { return NewConst(vm.NewString(s)) }
func name(id *ID) *NameExpr      { return NewName(id) }
func assign(id *ID, e Expr) Stmt { return NewExprStmt(NewAssign(id, e)) }

type builder func() (*ScriptFunc, *vm.FuncVal)

// sumFunc adds up a vector of count:
//
//	total = 0; for ( i, x in v ) total = total + x; return total
func sumFunc() (*ScriptFunc, *vm.FuncVal) {
	vt := vm.NewVectorType(countT)
	scope := NewScope("sum")
	v := scope.AddParam("v", vt)
	total := scope.Add("total", countT)
	i := scope.Add("i", countT)
	x := scope.Add("x", countT)

	body := NewListStmt(
		assign(total, cnt(0)),
		NewForStmt(i, x, name(v), assign(total, NewBinary(OpAdd, name(total), name(x)))),
		NewReturnStmt(name(total)),
	)
	return NewScriptFunc("sum", vm.NewFuncType([]vm.Type{vt}, countT), scope, body)
}

// absFunc: if ( x < 0 ) return 0 - x; return x
func absFunc() (*ScriptFunc, *vm.FuncVal) {
	scope := NewScope("abs")
	x := scope.AddParam("x", intT)
	body := NewListStmt(
		NewIfStmt(NewBinary(OpLT, name(x), num(0)),
			NewReturnStmt(NewBinary(OpSub, num(0), name(x))), nil),
		NewReturnStmt(name(x)),
	)
	return NewScriptFunc("abs", vm.NewFuncType([]vm.Type{intT}, intT), scope, body)
}

// classifyFunc exercises switch, fallthrough and break:
//
//	r = ""
//	switch ( n ) {
//	case 0: return "zero"
//	case 1, 2: r = "small"; fallthrough
//	case 3: r = r + "!"; break
//	default: return "many"
//	}
//	return r
func classifyFunc() (*ScriptFunc, *vm.FuncVal) {
	scope := NewScope("classify")
	n := scope.AddParam("n", countT)
	r := scope.Add("r", stringT)

	body := NewListStmt(
		assign(r, str("")),
		NewSwitchStmt(name(n),
			&Case{Labels: []*ConstExpr{cnt(0)}, Body: NewReturnStmt(str("zero"))},
			&Case{Labels: []*ConstExpr{cnt(1), cnt(2)}, Body: NewListStmt(
				assign(r, str("small")),
				NewFallthroughStmt(),
			)},
			&Case{Labels: []*ConstExpr{cnt(3)}, Body: NewListStmt(
				assign(r, NewBinary(OpAdd, name(r), str("!"))),
				NewBreakStmt(),
			)},
			&Case{Body: NewReturnStmt(str("many"))},
		),
		NewReturnStmt(name(r)),
	)
	return NewScriptFunc("classify", vm.NewFuncType([]vm.Type{countT}, stringT), scope, body)
}

// countdownFunc exercises while, next and break:
//
//	sum = 0
//	while ( n > 0 ) {
//		n = n - 1
//		if ( n == 5 ) next
//		if ( n == 1 ) break
//		sum = sum + n
//	}
//	return sum
func countdownFunc() (*ScriptFunc, *vm.FuncVal) {
	scope := NewScope("countdown")
	n := scope.AddParam("n", intT)
	sum := scope.Add("sum", intT)

	body := NewListStmt(
		assign(sum, num(0)),
		NewWhileStmt(NewBinary(OpGT, name(n), num(0)), NewListStmt(
			assign(n, NewBinary(OpSub, name(n), num(1))),
			NewIfStmt(NewBinary(OpEQ, name(n), num(5)), NewNextStmt(), nil),
			NewIfStmt(NewBinary(OpEQ, name(n), num(1)), NewBreakStmt(), nil),
			assign(sum, NewBinary(OpAdd, name(sum), name(n))),
		)),
		NewReturnStmt(name(sum)),
	)
	return NewScriptFunc("countdown", vm.NewFuncType([]vm.Type{intT}, intT), scope, body)
}

func connInfoType() *vm.RecordType {
	return vm.NewRecordType("conn_info",
		&vm.FieldDecl{Name: "orig_bytes", Type: countT},
		&vm.FieldDecl{Name: "history", Type: stringT, Optional: true},
		&vm.FieldDecl{Name: "service", Type: stringT, Optional: true, Default: vm.ConstDefault(vm.NewString("-"))},
	)
}

// touchFunc builds and prints a record:
//
//	init r; r$orig_bytes = 5
//	print r?$history, r$orig_bytes, r$service
//	r$history = "S"
//	print r?$history, r$history
func touchFunc() (*ScriptFunc, *vm.FuncVal) {
	rt := connInfoType()
	scope := NewScope("touch")
	r := scope.Add("r", rt)

	body := NewListStmt(
		NewInitStmt(r),
		NewExprStmt(NewFieldAssign(name(r), "orig_bytes", cnt(5))),
		NewPrintStmt(NewHasField(name(r), "history"), NewField(name(r), "orig_bytes"), NewField(name(r), "service")),
		NewExprStmt(NewFieldAssign(name(r), "history", str("S"))),
		NewPrintStmt(NewHasField(name(r), "history"), NewField(name(r), "history")),
	)
	return NewScriptFunc("touch", vm.NewFuncType(nil, nil), scope, body)
}

// fillFunc grows a vector by assignment:
//
//	init v; v[2] = n; x = v[2]; print |v|, x; return v
func fillFunc() (*ScriptFunc, *vm.FuncVal) {
	vt := vm.NewVectorType(countT)
	scope := NewScope("fill")
	n := scope.AddParam("n", countT)
	v := scope.Add("v", vt)
	x := scope.Add("x", countT)

	body := NewListStmt(
		NewInitStmt(v),
		NewExprStmt(NewIndexAssign(name(v), cnt(2), name(n))),
		assign(x, NewIndex(name(v), cnt(2))),
		NewPrintStmt(NewSize(name(v)), name(x)),
		NewReturnStmt(name(v)),
	)
	return NewScriptFunc("fill", vm.NewFuncType([]vm.Type{countT}, vt), scope, body)
}

// call runs fv and returns its result and output as text.
func call(t *testing.T, fv *vm.FuncVal, args ...vm.Val) string {
	t.Helper()
	env, out := testEnv()
	r, err := fv.Call(env, args)
	if err != nil {
		t.Fatalf("%s: %v", fv.Name(), err)
	}
	defer vm.Unref(r)
	return vm.ValString(r) + "|" + out.String()
}

// compile replaces fn's body with its compiled form.
func compile(t *testing.T, fn *ScriptFunc, noOpt bool) *vm.Code {
	t.Helper()
	code, err := CompileFunc(fn, noOpt)
	if err != nil {
		t.Fatalf("compile %s: %v", fn.Name, err)
	}
	fn.Body = NewZBody(code, fn.Body)
	return code
}

// collect returns every statement of a tree in traversal order.
func collect(s Stmt) []Stmt {
	var c stmtCollector
	s.Traverse(&c)
	return c.stmts
}

type stmtCollector struct {
	BaseCallback
	stmts []Stmt
}

func (c *stmtCollector) PreStmt(s Stmt) TraversalCode {
	c.stmts = append(c.stmts, s)
	return TCContinue
}

func hasTag(s Stmt, tag StmtTag) bool {
	for _, st := range collect(s) {
		if st.Tag() == tag {
			return true
		}
	}
	return false
}
