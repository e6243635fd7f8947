package analysis

import (
	"bytes"
	"strings"
	"testing"

	"github.com/2b45/zeek/compiler"
	"github.com/2b45/zeek/vm"
)

// ----------------------------------------------------------------------------
// Profiles
// ----------------------------------------------------------------------------

func TestProfileFunc(t *testing.T) {
	_, dv := doubleFunc()
	quad, _ := quadFunc(dv)

	pf := NewProfileFunc(quad.Scope, quad.Body)
	tv := quad.Scope.Lookup("t")
	y := quad.Scope.Lookup("y")

	if pf.Calls[dv] != 2 {
		t.Errorf("Calls[double] = %d, want 2", pf.Calls[dv])
	}
	if !pf.Assignees[tv] || !pf.Uses[tv] || !pf.Locals[tv] {
		t.Errorf("t: assigned=%v used=%v local=%v", pf.Assignees[tv], pf.Uses[tv], pf.Locals[tv])
	}
	if !pf.IsParam(y) || pf.Locals[y] {
		t.Errorf("y should be a parameter, not a local")
	}
	if !pf.Uses[y] {
		t.Errorf("y should be used")
	}
	if got := pf.Callees(); len(got) != 1 || got[0] != dv {
		t.Errorf("Callees() = %v", got)
	}
	if pf.NumStmts != 3 {
		t.Errorf("NumStmts = %d, want 3", pf.NumStmts)
	}
}

func TestFuncInfoProfileInvalidation(t *testing.T) {
	fn, fv := doubleFunc()
	fi := NewFuncInfo(fn, fv)

	pf := fi.Profile()
	if fi.Profile() != pf {
		t.Fatal("profile should be cached")
	}
	fi.SetBody(compiler.NewReturnStmt(num(0)))
	if fi.Profile() == pf {
		t.Fatal("SetBody should drop the cached profile")
	}
	if len(fi.Profile().Uses) != 0 {
		t.Errorf("new body uses nothing, got %v", fi.Profile().Uses)
	}
	if fn.Body == fi.Body {
		t.Error("function body changed before Install")
	}
	fi.Install()
	if got := callInt(t, fv, 5); got != 0 {
		t.Errorf("after Install: %d, want 0", got)
	}
}

// ----------------------------------------------------------------------------
// Reaching definitions
// ----------------------------------------------------------------------------

func TestRDBranches(t *testing.T) {
	scope, p, _ := intFunc("f", "a")
	x := scope.Add("x", intT)
	def := assign(x, num(1))
	use := compiler.NewPrintStmt(name(x))
	body := compiler.NewListStmt(
		compiler.NewIfStmt(compiler.NewBinary(compiler.OpLT, name(p[0]), num(1)), def, nil),
		use,
	)

	rd := ComputeRDs(scope, body)
	if rd.MinDefined(use, x) {
		t.Error("x is not defined on the else path")
	}
	if got := rd.MaxDefs(use, x); len(got) != 1 || got[0] != def {
		t.Errorf("MaxDefs(x) = %v, want [%s]", got, def)
	}
	if !rd.MinDefined(use, p[0]) {
		t.Error("parameters are defined at entry")
	}
	if got := rd.MaxDefs(use, p[0]); len(got) != 1 || got[0] != nil {
		t.Errorf("MaxDefs(a) = %v, want [<entry>]", got)
	}
}

func TestRDBothBranches(t *testing.T) {
	scope, p, _ := intFunc("f", "a")
	x := scope.Add("x", intT)
	d1, d2 := assign(x, num(1)), assign(x, num(2))
	use := compiler.NewPrintStmt(name(x))
	body := compiler.NewListStmt(
		compiler.NewIfStmt(name(p[0]), d1, d2),
		use,
	)

	rd := ComputeRDs(scope, body)
	if !rd.MinDefined(use, x) {
		t.Error("x is defined on both paths")
	}
	got := rd.MaxDefs(use, x)
	if len(got) != 2 || got[0] != d1 || got[1] != d2 {
		t.Errorf("MaxDefs(x) = %v, want both assignments in order", got)
	}
}

func TestRDLoop(t *testing.T) {
	scope, _, _ := intFunc("f")
	x := scope.Add("x", intT)
	d0 := assign(x, num(0))
	d1 := assign(x, add(name(x), num(1)))
	loop := compiler.NewWhileStmt(compiler.NewBinary(compiler.OpLT, name(x), num(10)), d1)
	body := compiler.NewListStmt(d0, loop)

	rd := ComputeRDs(scope, body)
	got := rd.MaxDefs(d1, x)
	if len(got) != 2 || got[0] != d0 || got[1] != d1 {
		t.Errorf("in loop MaxDefs(x) = %v, want [%s %s]", got, d0, d1)
	}
	if !rd.MinDefined(d1, x) {
		t.Error("x is defined before the loop")
	}
}

func TestRDForDefinesIndex(t *testing.T) {
	scope, _, _ := intFunc("f")
	vt := vm.NewVectorType(intT)
	v := scope.Add("v", vt)
	i := scope.Add("i", vm.BaseType(vm.TypeCount))
	use := compiler.NewPrintStmt(name(i))
	loop := compiler.NewForStmt(i, nil, name(v), use)
	after := compiler.NewPrintStmt(name(i))
	body := compiler.NewListStmt(compiler.NewInitStmt(v), loop, after)

	rd := ComputeRDs(scope, body)
	if !rd.MinDefined(use, i) {
		t.Error("index is defined in the body")
	}
	if rd.MinDefined(after, i) {
		t.Error("index is undefined after a loop that may not run")
	}
	if got := rd.MaxDefs(after, i); len(got) != 1 || got[0] != loop {
		t.Errorf("after loop MaxDefs(i) = %v", got)
	}
}

func TestRDSwitchFallthrough(t *testing.T) {
	scope, p, _ := intFunc("f", "a")
	x := scope.Add("x", intT)
	def := assign(x, num(1))
	use := compiler.NewPrintStmt(name(x))
	sw := compiler.NewSwitchStmt(name(p[0]),
		&compiler.Case{Labels: []*compiler.ConstExpr{num(1)}, Body: compiler.NewListStmt(def, compiler.NewFallthroughStmt())},
		&compiler.Case{Labels: []*compiler.ConstExpr{num(2)}, Body: compiler.NewListStmt(use)},
	)

	rd := ComputeRDs(scope, sw)
	if got := rd.MaxDefs(use, x); len(got) != 1 || got[0] != def {
		t.Errorf("MaxDefs(x) = %v, want the fallen-through assignment", got)
	}
	if rd.MinDefined(use, x) {
		t.Error("case 2 can be entered directly")
	}
}

func TestRDUnreachable(t *testing.T) {
	scope, _, _ := intFunc("f")
	dead := compiler.NewPrintStmt(num(1))
	body := compiler.NewListStmt(compiler.NewReturnStmt(num(0)), dead)

	rd := ComputeRDs(scope, body)
	if rd.Reached(dead) {
		t.Error("statement after return is reachable")
	}

	var buf bytes.Buffer
	rd.Trace(&buf, true, false)
	if !strings.Contains(buf.String(), "unreachable: print 1\n") {
		t.Errorf("trace:\n%s", buf.String())
	}
}

func TestRDTraceAndUseDefs(t *testing.T) {
	scope, p, _ := intFunc("f", "a")
	x := scope.Add("x", intT)
	body := compiler.NewListStmt(
		compiler.NewIfStmt(name(p[0]), assign(x, num(1)), nil),
		compiler.NewPrintStmt(name(x), name(p[0])),
	)
	rd := ComputeRDs(scope, body)

	var buf bytes.Buffer
	rd.Trace(&buf, true, true)
	trace := buf.String()
	for _, want := range []string{
		"min RDs before print x, a: {a}\n",
		"max RDs before print x, a: {a, x}\n",
	} {
		if !strings.Contains(trace, want) {
			t.Errorf("trace missing %q:\n%s", want, trace)
		}
	}

	buf.Reset()
	rd.DumpUseDefs(&buf)
	want := "print x, a\n\tx: x = 1\n\ta: <entry>\n"
	if !strings.Contains(buf.String(), want) {
		t.Errorf("use-defs:\n%s\nwant to contain:\n%s", buf.String(), want)
	}
}
