package compiler

import (
	"testing"

	"github.com/2b45/zeek/vm"
)

func TestStmtTagNames(t *testing.T) {
	tests := []struct {
		tag  StmtTag
		want string
	}{
		{StmtList, "list"},
		{StmtCatchReturn, "catch-return"},
		{StmtCompiled, "compiled"},
		{StmtTag(99), "StmtTag(99)"},
	}
	for _, tt := range tests {
		if got := tt.tag.String(); got != tt.want {
			t.Errorf("StmtTag(%d).String() = %q, want %q", int(tt.tag), got, tt.want)
		}
	}
}

// ----------------------------------------------------------------------------
// Provenance
// ----------------------------------------------------------------------------

func TestOriginalOfSourceNodeIsItself(t *testing.T) {
	fn, _ := sumFunc()
	for _, s := range collect(fn.Body) {
		if s.Original() != s {
			t.Errorf("%s: Original() of an untransformed node should be the node", s.Tag())
		}
	}
}

func TestReducePreservesOriginal(t *testing.T) {
	scope := NewScope("f")
	a := scope.AddParam("a", intT)
	b := scope.AddParam("b", intT)
	y := scope.Add("y", intT)

	// y = (a + b) * a needs a temporary for a + b.
	src := assign(y, NewBinary(OpMul, NewBinary(OpAdd, name(a), name(b)), name(a)))
	c := NewReducer(scope, false)

	r1 := Reduce(src, c)
	if r1 == Stmt(src) {
		t.Fatal("statement with a nested operand should be rebuilt")
	}
	if r1.Original() != src {
		t.Errorf("Reduce(n).Original() = %v, want n", r1.Original())
	}
	if r1.Tag() != StmtList || len(r1.(*ListStmt).Stmts()) != 2 {
		t.Fatalf("reduced form = %s, want temporary assignment plus assignment", r1)
	}
	if last := r1.(*ListStmt).Stmts()[1]; last.Original() != src {
		t.Errorf("rebuilt statement should lead back to the source")
	}

	// A second pass over reduced code changes nothing.
	r2 := Reduce(r1, c)
	if r2 != r1 {
		t.Errorf("reduced statement was rebuilt: %s", r2)
	}
	if r2.Original() != src.Original() {
		t.Error("provenance changed across passes")
	}

	// Provenance survives a duplicate followed by another reduction.
	r3 := Reduce(r1.Duplicate(), NewReducer(scope, true))
	if r3.Original() != src {
		t.Errorf("duplicate-then-reduce lost provenance: got %v", r3.Original())
	}
}

func TestReduceOmittedStatement(t *testing.T) {
	scope := NewScope("f")
	a := scope.AddParam("a", intT)
	pure := NewExprStmt(NewBinary(OpAdd, name(a), num(1)))

	if got := Reduce(pure, NewReducer(scope, false)); got.Tag() != StmtExpr {
		t.Errorf("without optimization a pure statement stays, got %s", got.Tag())
	}

	got := Reduce(pure, NewReducer(scope, true))
	if got.Tag() != StmtNull {
		t.Fatalf("optimized pure statement = %s, want null", got.Tag())
	}
	if got.Original() != pure {
		t.Error("null replacement should lead back to the dropped statement")
	}

	c := NewReducer(scope, false)
	p := NewPrintStmt(name(a))
	c.Omit(p)
	if got := Reduce(p, c); got.Tag() != StmtNull || got.Original() != p {
		t.Errorf("explicitly omitted statement = %s", got)
	}
}

func TestDuplicateFreshIdentities(t *testing.T) {
	fn, _ := countdownFunc()
	dup := fn.Body.Duplicate()

	orig := collect(fn.Body)
	copies := collect(dup)
	if len(orig) != len(copies) {
		t.Fatalf("duplicate has %d statements, original %d", len(copies), len(orig))
	}
	seen := make(map[Stmt]bool, len(orig))
	for _, s := range orig {
		seen[s] = true
	}
	for i, s := range copies {
		if seen[s] {
			t.Errorf("statement %d (%s) shared between copies", i, s.Tag())
		}
		if s.Tag() != orig[i].Tag() {
			t.Errorf("statement %d: tag %s, want %s", i, s.Tag(), orig[i].Tag())
		}
		if s.Original() != orig[i] {
			t.Errorf("statement %d: copy should lead back to its source", i)
		}
	}
	if dup.String() != fn.Body.String() {
		t.Errorf("duplicate prints as %q, want %q", dup, fn.Body)
	}

	// Duplicating a duplicate still leads to the source node.
	if dup.Duplicate().Original() != fn.Body {
		t.Error("second-generation duplicate lost provenance")
	}
}

// ----------------------------------------------------------------------------
// Reduction results
// ----------------------------------------------------------------------------

func TestConstantFolding(t *testing.T) {
	scope := NewScope("f")
	x := scope.Add("x", intT)
	b := scope.Add("b", boolT)

	tests := []struct {
		name string
		in   Stmt
		want string
	}{
		{"add", assign(x, NewBinary(OpAdd, num(2), num(3))), "x = 5"},
		{"nested", assign(x, NewBinary(OpMul, NewBinary(OpAdd, num(1), num(1)), num(4))), "x = 8"},
		{"greater", assign(b, NewBinary(OpGT, num(2), num(3))), "b = F"},
		{"not", assign(b, NewNot(NewConst(vm.NewBool(false)))), "b = T"},
		{"div by zero stays", assign(x, NewBinary(OpDiv, num(1), num(0))), "x = 1 / 0"},
		{"concat", assign(x, NewBinary(OpAdd, str("a"), str("b"))), `x = "ab"`},
	}
	for _, tt := range tests {
		got := Reduce(tt.in, NewReducer(scope, true))
		if got.String() != tt.want {
			t.Errorf("%s: reduced to %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestConstantConditionSelectsBranch(t *testing.T) {
	scope := NewScope("f")
	x := scope.Add("x", intT)
	then := assign(x, num(1))
	els := assign(x, num(2))
	src := NewIfStmt(NewConst(vm.NewBool(false)), then, els)

	got := Reduce(src, NewReducer(scope, true))
	list, ok := got.(*ListStmt)
	if !ok || len(list.Stmts()) != 1 || list.Stmts()[0] != els {
		t.Fatalf("reduced to %s, want the else branch alone", got)
	}
	if got.Original() != src || els.Original() != els {
		t.Error("branch selection mixed up provenance")
	}

	// Without optimization the branch is kept.
	if got := Reduce(src, NewReducer(scope, false)); got.Tag() != StmtIf {
		t.Errorf("unoptimized reduction = %s", got.Tag())
	}
}

func TestDeadCodeAfterReturnRemoved(t *testing.T) {
	scope := NewScope("f")
	x := scope.AddParam("x", intT)
	list := NewListStmt(
		NewReturnStmt(name(x)),
		NewPrintStmt(name(x)),
		NewListStmt(NewNullStmt(), NewPrintStmt(name(x))),
	)

	got := Reduce(list, NewReducer(scope, true)).(*ListStmt)
	if n := len(got.Stmts()); n != 1 {
		t.Errorf("kept %d statements, want 1: %s", n, got)
	}

	flat := Reduce(list, NewReducer(scope, false)).(*ListStmt)
	if n := len(flat.Stmts()); n != 3 {
		t.Errorf("unoptimized: kept %d statements, want 3 (flattened): %s", n, flat)
	}
}

func TestReducedFormUsesSingletons(t *testing.T) {
	fn, _ := countdownFunc()
	c := NewReducer(fn.Scope, false)
	red := Reduce(fn.Body, c)

	for _, s := range collect(red) {
		if !s.IsReduced(c) {
			t.Errorf("%s not reduced: %s", s.Tag(), s)
		}
	}
	w := red.(*ListStmt).Stmts()[1].(*WhileStmt)
	if !w.Cond().IsSingleton() || w.CondPred() == nil {
		t.Errorf("loop condition should be computed in the condition predicate: %s", w)
	}

	// Reduced code behaves the same, interpreted and compiled.
	fn.Body = red
	_, fv := NewScriptFunc(fn.Name, fn.Type, fn.Scope, red)
	arg := vm.NewInt(8)
	defer arg.Unref()
	if got := call(t, fv, arg); got != "22|" {
		t.Errorf("reduced interpreted = %q", got)
	}
	compile(t, fn, false)
	if got := call(t, vm.NewFunc(fn.Name, fn.Type, fn), arg); got != "22|" {
		t.Errorf("reduced compiled = %q", got)
	}
}

// ----------------------------------------------------------------------------
// Flow
// ----------------------------------------------------------------------------

func TestNoFlowAfter(t *testing.T) {
	ret := func() Stmt { return NewReturnStmt(nil) }
	tests := []struct {
		name        string
		s           Stmt
		ignoreBreak bool
		want        bool
	}{
		{"return", ret(), false, true},
		{"next", NewNextStmt(), false, true},
		{"break", NewBreakStmt(), false, true},
		{"break in switch", NewBreakStmt(), true, false},
		{"fallthrough", NewFallthroughStmt(), false, false},
		{"print", NewPrintStmt(num(1)), false, false},
		{"if both return", NewIfStmt(NewConst(vm.NewBool(true)), ret(), ret()), false, true},
		{"if without else", NewIfStmt(NewConst(vm.NewBool(true)), ret(), nil), false, false},
		{"list with return", NewListStmt(NewPrintStmt(num(1)), ret()), false, true},
		{"catch-return", NewCatchReturnStmt(ret(), nil), false, false},
		{"switch all return", NewSwitchStmt(num(1),
			&Case{Labels: []*ConstExpr{num(1)}, Body: ret()},
			&Case{Body: ret()}), false, true},
		{"switch without default", NewSwitchStmt(num(1),
			&Case{Labels: []*ConstExpr{num(1)}, Body: ret()}), false, false},
		{"switch case breaks", NewSwitchStmt(num(1),
			&Case{Labels: []*ConstExpr{num(1)}, Body: NewBreakStmt()},
			&Case{Body: ret()}), false, false},
	}
	for _, tt := range tests {
		if got := tt.s.NoFlowAfter(tt.ignoreBreak); got != tt.want {
			t.Errorf("%s: NoFlowAfter(%v) = %v, want %v", tt.name, tt.ignoreBreak, got, tt.want)
		}
	}
}

// ----------------------------------------------------------------------------
// Access statistics and breakpoints
// ----------------------------------------------------------------------------

func TestAccessStats(t *testing.T) {
	fn, fv := sumFunc()
	env, _ := testEnv()
	now := 0.0
	env.NetworkTime = func() float64 { return now }

	vec := countVec(1, 2, 3)
	defer vec.Unref()
	for _, ts := range []float64{10.5, 12.25} {
		now = ts
		r, err := fv.Call(env, []vm.Val{vec})
		if err != nil {
			t.Fatal(err)
		}
		r.Unref()
	}

	body := fn.Body.(*ListStmt)
	loop := body.Stmts()[1].(*ForStmt)
	tests := []struct {
		name  string
		s     Stmt
		count uint32
	}{
		{"body", body, 2},
		{"loop", loop, 2},
		{"loop body", loop.Body(), 6},
	}
	for _, tt := range tests {
		if got := tt.s.AccessCount(); got != tt.count {
			t.Errorf("%s: AccessCount() = %d, want %d", tt.name, got, tt.count)
		}
		if got := tt.s.LastAccess(); got != 12.25 {
			t.Errorf("%s: LastAccess() = %v, want 12.25", tt.name, got)
		}
	}
	if got := AccessStats(body); got != "(12.250000/2)" {
		t.Errorf("AccessStats = %q", got)
	}
}

func TestBreakpointCount(t *testing.T) {
	s := NewNullStmt()
	s.IncrBPCount()
	s.IncrBPCount()
	s.DecrBPCount()
	if s.BPCount() != 1 {
		t.Errorf("BPCount() = %d, want 1", s.BPCount())
	}
	s.DecrBPCount()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on underflow")
		}
	}()
	s.DecrBPCount()
}

// ----------------------------------------------------------------------------
// Traversal
// ----------------------------------------------------------------------------

type nameCounter struct {
	BaseCallback
	names    int
	stopAt   int
	skipIfs  bool
	postStmt int
}

func (c *nameCounter) PreStmt(s Stmt) TraversalCode {
	if c.skipIfs && s.Tag() == StmtIf {
		return TCAbortStmt
	}
	return TCContinue
}

func (c *nameCounter) PostStmt(Stmt) TraversalCode {
	c.postStmt++
	return TCContinue
}

func (c *nameCounter) PreExpr(e Expr) TraversalCode {
	if _, ok := e.(*NameExpr); ok {
		c.names++
		if c.names == c.stopAt {
			return TCAbortAll
		}
	}
	return TCContinue
}

func TestTraverse(t *testing.T) {
	fn, _ := countdownFunc()

	var all nameCounter
	if tc := fn.Body.Traverse(&all); tc != TCContinue {
		t.Errorf("full traversal returned %v", tc)
	}
	// sum; n; n, n; n; n; sum, sum, n; sum
	if all.names != 10 {
		t.Errorf("counted %d names, want 10", all.names)
	}
	if n := len(collect(fn.Body)); all.postStmt != n {
		t.Errorf("PostStmt called %d times for %d statements", all.postStmt, n)
	}

	stop := nameCounter{stopAt: 3}
	if tc := fn.Body.Traverse(&stop); tc != TCAbortAll {
		t.Errorf("aborted traversal returned %v", tc)
	}
	if stop.names != 3 {
		t.Errorf("traversal continued after abort: %d names", stop.names)
	}

	skip := nameCounter{skipIfs: true}
	fn.Body.Traverse(&skip)
	if skip.names != 8 {
		t.Errorf("skipping ifs counted %d names, want 8", skip.names)
	}
}
