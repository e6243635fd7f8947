package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/2b45/zeek/vm"
)

// ErrNotBool reports a condition that did not evaluate to a bool.
var ErrNotBool = errors.New("condition is not a bool")

func evalBool(f *Frame, e Expr) (bool, error) {
	v, err := e.Eval(f)
	if err != nil {
		return false, err
	}
	defer vm.Unref(v)
	b, ok := v.(*vm.IntVal)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotBool, e)
	}
	return b.Bool(), nil
}

func dupOrNil(s Stmt) Stmt {
	if s == nil {
		return nil
	}
	return s.Duplicate()
}

func isConst(e Expr) bool {
	_, ok := e.(*ConstExpr)
	return ok
}

// flattenInto appends s to out, splicing lists and dropping null
// statements.
func flattenInto(out []Stmt, s Stmt) []Stmt {
	switch st := s.(type) {
	case nil:
	case *NullStmt:
	case *ListStmt:
		for _, c := range st.stmts {
			out = flattenInto(out, c)
		}
	default:
		out = append(out, s)
	}
	return out
}

// joinStmts combines statements into one: nil for none, the statement
// itself for one, and a new list otherwise.
func joinStmts(stmts ...Stmt) Stmt {
	var out []Stmt
	for _, s := range stmts {
		out = flattenInto(out, s)
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return NewListStmt(out...)
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

// ListStmt runs statements in sequence.
type ListStmt struct {
	stmtBase
	stmts []Stmt
}

func NewListStmt(stmts ...Stmt) *ListStmt {
	return &ListStmt{stmtBase: newBase(StmtList), stmts: stmts}
}

func (s *ListStmt) Stmts() []Stmt  { return s.stmts }
func (s *ListStmt) Original() Stmt { return s.originOr(s) }

func (s *ListStmt) Exec(f *Frame) (Flow, error) {
	s.RegisterAccess(f.now())
	for _, st := range s.stmts {
		flow, err := st.Exec(f)
		if err != nil || flow != FlowNext {
			return flow, err
		}
	}
	return FlowNext, nil
}

func (s *ListStmt) IsPure() bool {
	for _, st := range s.stmts {
		if !st.IsPure() {
			return false
		}
	}
	return true
}

func (s *ListStmt) IsReduced(c *Reducer) bool {
	for i, st := range s.stmts {
		switch st.(type) {
		case *ListStmt, *NullStmt:
			return false
		}
		if !st.IsReduced(c) {
			return false
		}
		if c.Optimizing() && i < len(s.stmts)-1 && st.NoFlowAfter(false) {
			return false
		}
	}
	return true
}

func (s *ListStmt) DoReduce(c *Reducer) Stmt {
	var out []Stmt
	for _, st := range s.stmts {
		out = flattenInto(out, Reduce(st, c))
	}
	if c.Optimizing() {
		for i, st := range out {
			if st.NoFlowAfter(false) {
				out = out[:i+1]
				break
			}
		}
	}
	return NewListStmt(out...)
}

func (s *ListStmt) NoFlowAfter(ignoreBreak bool) bool {
	for _, st := range s.stmts {
		if st.NoFlowAfter(ignoreBreak) {
			return true
		}
	}
	return false
}

func (s *ListStmt) Duplicate() Stmt {
	stmts := make([]Stmt, len(s.stmts))
	for i, st := range s.stmts {
		stmts[i] = st.Duplicate()
	}
	return duplicated(NewListStmt(stmts...), s)
}

func (s *ListStmt) Inline(inl Inliner) {
	for _, st := range s.stmts {
		st.Inline(inl)
	}
}

func (s *ListStmt) Traverse(cb TraversalCallback) TraversalCode {
	return traverseStmt(s, cb, func() TraversalCode {
		return traverseAll(cb, nil, s.stmts...)
	})
}

func (s *ListStmt) String() string {
	parts := make([]string, len(s.stmts))
	for i, st := range s.stmts {
		parts[i] = st.String()
	}
	return "{ " + strings.Join(parts, "; ") + " }"
}

// ---------------------------------------------------------------------------
// Expression statement
// ---------------------------------------------------------------------------

// ExprStmt evaluates an expression for its side effects.
type ExprStmt struct {
	stmtBase
	e Expr
}

func NewExprStmt(e Expr) *ExprStmt {
	return &ExprStmt{stmtBase: newBase(StmtExpr), e: e}
}

func (s *ExprStmt) Expr() Expr     { return s.e }
func (s *ExprStmt) Original() Stmt { return s.originOr(s) }
func (s *ExprStmt) IsPure() bool   { return s.e.IsPure() }
func (s *ExprStmt) String() string { return s.e.String() }

func (s *ExprStmt) Exec(f *Frame) (Flow, error) {
	s.RegisterAccess(f.now())
	v, err := s.e.Eval(f)
	vm.Unref(v)
	return FlowNext, err
}

func (s *ExprStmt) IsReduced(c *Reducer) bool { return s.e.IsReduced(c) }

func (s *ExprStmt) DoReduce(c *Reducer) Stmt {
	e, pre := s.e.Reduce(c)
	if e == nil {
		if pre == nil {
			return NewNullStmt()
		}
		return NewListStmt(flattenInto(nil, pre)...)
	}
	return joinStmts(pre, TransformMe(NewExprStmt(e), s))
}

func (s *ExprStmt) NoFlowAfter(bool) bool { return false }

func (s *ExprStmt) Duplicate() Stmt {
	return duplicated(NewExprStmt(s.e.Duplicate()), s)
}

func (s *ExprStmt) Inline(inl Inliner) { s.e = s.e.Inline(inl) }

func (s *ExprStmt) Traverse(cb TraversalCallback) TraversalCode {
	return traverseStmt(s, cb, func() TraversalCode {
		return traverseAll(cb, []Expr{s.e})
	})
}

// ---------------------------------------------------------------------------
// Conditionals and loops
// ---------------------------------------------------------------------------

// IfStmt is a two-way branch. The else branch is optional.
type IfStmt struct {
	stmtBase
	cond Expr
	then Stmt
	els  Stmt
}

func NewIfStmt(cond Expr, then, els Stmt) *IfStmt {
	return &IfStmt{stmtBase: newBase(StmtIf), cond: cond, then: then, els: els}
}

func (s *IfStmt) Cond() Expr     { return s.cond }
func (s *IfStmt) Then() Stmt     { return s.then }
func (s *IfStmt) Else() Stmt     { return s.els }
func (s *IfStmt) Original() Stmt { return s.originOr(s) }

func (s *IfStmt) Exec(f *Frame) (Flow, error) {
	s.RegisterAccess(f.now())
	b, err := evalBool(f, s.cond)
	if err != nil {
		return FlowNext, err
	}
	if b {
		return s.then.Exec(f)
	}
	if s.els != nil {
		return s.els.Exec(f)
	}
	return FlowNext, nil
}

func (s *IfStmt) IsPure() bool {
	return s.cond.IsPure() && s.then.IsPure() && (s.els == nil || s.els.IsPure())
}

func (s *IfStmt) IsReduced(c *Reducer) bool {
	if !s.cond.IsSingleton() || (c.Optimizing() && isConst(s.cond)) {
		return false
	}
	return s.then.IsReduced(c) && (s.els == nil || s.els.IsReduced(c))
}

func (s *IfStmt) DoReduce(c *Reducer) Stmt {
	cond, pre := c.ReduceToSingleton(s.cond)

	if k, ok := cond.(*ConstExpr); ok && c.Optimizing() {
		branch := s.els
		if k.val.(*vm.IntVal).Bool() {
			branch = s.then
		}
		out := flattenInto(nil, pre)
		if branch != nil {
			out = flattenInto(out, Reduce(branch, c))
		}
		return NewListStmt(out...)
	}

	then := Reduce(s.then, c)
	var els Stmt
	if s.els != nil {
		els = Reduce(s.els, c)
	}
	return joinStmts(pre, TransformMe(NewIfStmt(cond, then, els), s))
}

func (s *IfStmt) NoFlowAfter(ignoreBreak bool) bool {
	return s.els != nil && s.then.NoFlowAfter(ignoreBreak) && s.els.NoFlowAfter(ignoreBreak)
}

func (s *IfStmt) Duplicate() Stmt {
	return duplicated(NewIfStmt(s.cond.Duplicate(), s.then.Duplicate(), dupOrNil(s.els)), s)
}

func (s *IfStmt) Inline(inl Inliner) {
	s.cond = s.cond.Inline(inl)
	s.then.Inline(inl)
	if s.els != nil {
		s.els.Inline(inl)
	}
}

func (s *IfStmt) Traverse(cb TraversalCallback) TraversalCode {
	return traverseStmt(s, cb, func() TraversalCode {
		return traverseAll(cb, []Expr{s.cond}, s.then, s.els)
	})
}

func (s *IfStmt) String() string {
	out := "if ( " + s.cond.String() + " ) " + s.then.String()
	if s.els != nil {
		out += " else " + s.els.String()
	}
	return out
}

// WhileStmt loops while its condition holds. CondPred, if any, runs
// before every test of the condition; reduction moves the work needed to
// compute the condition there.
type WhileStmt struct {
	stmtBase
	cond     Expr
	condPred Stmt
	body     Stmt
}

func NewWhileStmt(cond Expr, body Stmt) *WhileStmt {
	return &WhileStmt{stmtBase: newBase(StmtWhile), cond: cond, body: body}
}

func (s *WhileStmt) Cond() Expr     { return s.cond }
func (s *WhileStmt) CondPred() Stmt { return s.condPred }
func (s *WhileStmt) Body() Stmt     { return s.body }
func (s *WhileStmt) Original() Stmt { return s.originOr(s) }
func (s *WhileStmt) IsPure() bool   { return false }

func (s *WhileStmt) Exec(f *Frame) (Flow, error) {
	s.RegisterAccess(f.now())
	for {
		if s.condPred != nil {
			if flow, err := s.condPred.Exec(f); err != nil || flow == FlowReturn {
				return flow, err
			}
		}
		b, err := evalBool(f, s.cond)
		if err != nil || !b {
			return FlowNext, err
		}
		flow, err := s.body.Exec(f)
		if err != nil {
			return flow, err
		}
		switch flow {
		case FlowBreak:
			return FlowNext, nil
		case FlowReturn:
			return flow, nil
		}
	}
}

func (s *WhileStmt) IsReduced(c *Reducer) bool {
	if !s.cond.IsSingleton() {
		return false
	}
	if s.condPred != nil && !s.condPred.IsReduced(c) {
		return false
	}
	return s.body.IsReduced(c)
}

func (s *WhileStmt) DoReduce(c *Reducer) Stmt {
	var pred Stmt
	if s.condPred != nil {
		pred = Reduce(s.condPred, c)
	}
	cond, pre := c.ReduceToSingleton(s.cond)
	w := NewWhileStmt(cond, Reduce(s.body, c))
	w.condPred = joinStmts(pred, pre)
	return w
}

func (s *WhileStmt) NoFlowAfter(bool) bool { return false }

func (s *WhileStmt) Duplicate() Stmt {
	w := NewWhileStmt(s.cond.Duplicate(), s.body.Duplicate())
	w.condPred = dupOrNil(s.condPred)
	return duplicated(w, s)
}

func (s *WhileStmt) Inline(inl Inliner) {
	s.cond = s.cond.Inline(inl)
	if s.condPred != nil {
		s.condPred.Inline(inl)
	}
	s.body.Inline(inl)
}

func (s *WhileStmt) Traverse(cb TraversalCallback) TraversalCode {
	return traverseStmt(s, cb, func() TraversalCode {
		if s.condPred != nil {
			if tc := s.condPred.Traverse(cb); tc == TCAbortAll {
				return tc
			}
		}
		return traverseAll(cb, []Expr{s.cond}, s.body)
	})
}

func (s *WhileStmt) String() string {
	return "while ( " + s.cond.String() + " ) " + s.body.String()
}

// ForStmt iterates over the established elements of a vector, binding the
// index and, optionally, the element.
type ForStmt struct {
	stmtBase
	index *ID
	value *ID
	vec   Expr
	body  Stmt
}

// NewForStmt creates "for ( index, value in vec )". value may be nil.
func NewForStmt(index, value *ID, vec Expr, body Stmt) *ForStmt {
	return &ForStmt{stmtBase: newBase(StmtFor), index: index, value: value, vec: vec, body: body}
}

func (s *ForStmt) Index() *ID     { return s.index }
func (s *ForStmt) Value() *ID     { return s.value }
func (s *ForStmt) Vec() Expr      { return s.vec }
func (s *ForStmt) Body() Stmt     { return s.body }
func (s *ForStmt) Original() Stmt { return s.originOr(s) }
func (s *ForStmt) IsPure() bool   { return false }

func (s *ForStmt) Exec(f *Frame) (Flow, error) {
	s.RegisterAccess(f.now())
	v, err := s.vec.Eval(f)
	if err != nil {
		return FlowNext, err
	}
	defer vm.Unref(v)
	vv, ok := v.(*vm.VectorVal)
	if !ok {
		return FlowNext, fmt.Errorf("cannot iterate over %s", v.Type())
	}

	for i := 0; i < vv.Size(); i++ {
		elem := vv.At(i)
		if elem == nil {
			continue
		}
		f.Set(s.index, vm.NewCount(uint64(i)))
		if s.value != nil {
			f.Set(s.value, elem)
		} else {
			elem.Unref()
		}

		flow, err := s.body.Exec(f)
		if err != nil {
			return flow, err
		}
		switch flow {
		case FlowBreak:
			return FlowNext, nil
		case FlowReturn:
			return flow, nil
		}
	}
	return FlowNext, nil
}

func (s *ForStmt) IsReduced(c *Reducer) bool {
	return s.vec.IsSingleton() && s.body.IsReduced(c)
}

func (s *ForStmt) DoReduce(c *Reducer) Stmt {
	vec, pre := c.ReduceToSingleton(s.vec)
	var value *ID
	if s.value != nil {
		value = c.UpdateID(s.value)
	}
	loop := NewForStmt(c.UpdateID(s.index), value, vec, Reduce(s.body, c))
	return joinStmts(pre, TransformMe(loop, s))
}

func (s *ForStmt) NoFlowAfter(bool) bool { return false }

func (s *ForStmt) Duplicate() Stmt {
	return duplicated(NewForStmt(s.index, s.value, s.vec.Duplicate(), s.body.Duplicate()), s)
}

func (s *ForStmt) Inline(inl Inliner) {
	s.vec = s.vec.Inline(inl)
	s.body.Inline(inl)
}

func (s *ForStmt) Traverse(cb TraversalCallback) TraversalCode {
	return traverseStmt(s, cb, func() TraversalCode {
		return traverseAll(cb, []Expr{s.vec}, s.body)
	})
}

func (s *ForStmt) String() string {
	vars := s.index.Name
	if s.value != nil {
		vars += ", " + s.value.Name
	}
	return "for ( " + vars + " in " + s.vec.String() + " ) " + s.body.String()
}

// ---------------------------------------------------------------------------
// Switch
// ---------------------------------------------------------------------------

// Case is one arm of a switch. A case without labels is the default.
type Case struct {
	Labels []*ConstExpr
	Body   Stmt
}

func (c *Case) duplicate() *Case {
	labels := make([]*ConstExpr, len(c.Labels))
	for i, l := range c.Labels {
		labels[i] = NewConst(l.val)
	}
	return &Case{Labels: labels, Body: c.Body.Duplicate()}
}

// SwitchStmt selects the first case with a label equal to the value.
// A case body ends the switch unless it falls through.
type SwitchStmt struct {
	stmtBase
	value Expr
	cases []*Case
}

func NewSwitchStmt(value Expr, cases ...*Case) *SwitchStmt {
	return &SwitchStmt{stmtBase: newBase(StmtSwitch), value: value, cases: cases}
}

func (s *SwitchStmt) Value() Expr    { return s.value }
func (s *SwitchStmt) Cases() []*Case { return s.cases }
func (s *SwitchStmt) Original() Stmt { return s.originOr(s) }
func (s *SwitchStmt) IsPure() bool   { return false }

// DefaultCase returns the index of the default case, or -1.
func (s *SwitchStmt) DefaultCase() int {
	for i, c := range s.cases {
		if len(c.Labels) == 0 {
			return i
		}
	}
	return -1
}

func (s *SwitchStmt) match(v vm.Val) int {
	for i, c := range s.cases {
		for _, l := range c.Labels {
			if vm.ValEqual(l.val, v) {
				return i
			}
		}
	}
	return s.DefaultCase()
}

func (s *SwitchStmt) Exec(f *Frame) (Flow, error) {
	s.RegisterAccess(f.now())
	v, err := s.value.Eval(f)
	if err != nil {
		return FlowNext, err
	}
	start := s.match(v)
	vm.Unref(v)
	if start < 0 {
		return FlowNext, nil
	}

	for i := start; i < len(s.cases); i++ {
		flow, err := s.cases[i].Body.Exec(f)
		if err != nil {
			return flow, err
		}
		switch flow {
		case FlowFallthrough:
			continue
		case FlowNext, FlowBreak:
			return FlowNext, nil
		default:
			return flow, nil
		}
	}
	return FlowNext, nil
}

func (s *SwitchStmt) IsReduced(c *Reducer) bool {
	if !s.value.IsSingleton() {
		return false
	}
	for _, cs := range s.cases {
		if !cs.Body.IsReduced(c) {
			return false
		}
	}
	return true
}

func (s *SwitchStmt) DoReduce(c *Reducer) Stmt {
	value, pre := c.ReduceToSingleton(s.value)
	cases := make([]*Case, len(s.cases))
	for i, cs := range s.cases {
		cases[i] = &Case{Labels: cs.Labels, Body: Reduce(cs.Body, c)}
	}
	return joinStmts(pre, TransformMe(NewSwitchStmt(value, cases...), s))
}

func (s *SwitchStmt) NoFlowAfter(bool) bool {
	if s.DefaultCase() < 0 {
		return false
	}
	for _, cs := range s.cases {
		if !cs.Body.NoFlowAfter(true) {
			return false
		}
	}
	return true
}

func (s *SwitchStmt) Duplicate() Stmt {
	cases := make([]*Case, len(s.cases))
	for i, cs := range s.cases {
		cases[i] = cs.duplicate()
	}
	return duplicated(NewSwitchStmt(s.value.Duplicate(), cases...), s)
}

func (s *SwitchStmt) Inline(inl Inliner) {
	s.value = s.value.Inline(inl)
	for _, cs := range s.cases {
		cs.Body.Inline(inl)
	}
}

func (s *SwitchStmt) Traverse(cb TraversalCallback) TraversalCode {
	return traverseStmt(s, cb, func() TraversalCode {
		if tc := s.value.Traverse(cb); tc == TCAbortAll {
			return tc
		}
		for _, cs := range s.cases {
			labels := make([]Expr, len(cs.Labels))
			for i, l := range cs.Labels {
				labels[i] = l
			}
			if tc := traverseAll(cb, labels, cs.Body); tc == TCAbortAll {
				return tc
			}
		}
		return TCContinue
	})
}

func (s *SwitchStmt) String() string {
	var b strings.Builder
	b.WriteString("switch ( " + s.value.String() + " ) {")
	for _, cs := range s.cases {
		if len(cs.Labels) == 0 {
			b.WriteString(" default: ")
		} else {
			labels := make([]Expr, len(cs.Labels))
			for i, l := range cs.Labels {
				labels[i] = l
			}
			b.WriteString(" case " + exprList(labels) + ": ")
		}
		b.WriteString(cs.Body.String())
	}
	b.WriteString(" }")
	return b.String()
}

// ---------------------------------------------------------------------------
// Jumps
// ---------------------------------------------------------------------------

// NextStmt continues with the next iteration of the enclosing loop.
type NextStmt struct{ stmtBase }

func NewNextStmt() *NextStmt { return &NextStmt{stmtBase: newBase(StmtNext)} }

func (s *NextStmt) Original() Stmt          { return s.originOr(s) }
func (s *NextStmt) IsPure() bool            { return false }
func (s *NextStmt) IsReduced(*Reducer) bool { return true }
func (s *NextStmt) DoReduce(*Reducer) Stmt  { return s }
func (s *NextStmt) NoFlowAfter(bool) bool   { return true }
func (s *NextStmt) Duplicate() Stmt         { return duplicated(NewNextStmt(), s) }
func (s *NextStmt) Inline(Inliner)           {}
func (s *NextStmt) String() string           { return "next" }

func (s *NextStmt) Exec(f *Frame) (Flow, error) {
	s.RegisterAccess(f.now())
	return FlowLoop, nil
}

func (s *NextStmt) Traverse(cb TraversalCallback) TraversalCode {
	return traverseStmt(s, cb, nil)
}

// BreakStmt leaves the enclosing loop or switch.
type BreakStmt struct{ stmtBase }

func NewBreakStmt() *BreakStmt { return &BreakStmt{stmtBase: newBase(StmtBreak)} }

func (s *BreakStmt) Original() Stmt                    { return s.originOr(s) }
func (s *BreakStmt) IsPure() bool                      { return false }
func (s *BreakStmt) IsReduced(*Reducer) bool           { return true }
func (s *BreakStmt) DoReduce(*Reducer) Stmt            { return s }
func (s *BreakStmt) NoFlowAfter(ignoreBreak bool) bool { return !ignoreBreak }
func (s *BreakStmt) Duplicate() Stmt                   { return duplicated(NewBreakStmt(), s) }
func (s *BreakStmt) Inline(Inliner)                    {}
func (s *BreakStmt) String() string                    { return "break" }

func (s *BreakStmt) Exec(f *Frame) (Flow, error) {
	s.RegisterAccess(f.now())
	return FlowBreak, nil
}

func (s *BreakStmt) Traverse(cb TraversalCallback) TraversalCode {
	return traverseStmt(s, cb, nil)
}

// FallthroughStmt continues into the next case of a switch.
type FallthroughStmt struct{ stmtBase }

func NewFallthroughStmt() *FallthroughStmt {
	return &FallthroughStmt{stmtBase: newBase(StmtFallthrough)}
}

func (s *FallthroughStmt) Original() Stmt          { return s.originOr(s) }
func (s *FallthroughStmt) IsPure() bool            { return false }
func (s *FallthroughStmt) IsReduced(*Reducer) bool { return true }
func (s *FallthroughStmt) DoReduce(*Reducer) Stmt  { return s }
func (s *FallthroughStmt) NoFlowAfter(bool) bool   { return false }
func (s *FallthroughStmt) Duplicate() Stmt         { return duplicated(NewFallthroughStmt(), s) }
func (s *FallthroughStmt) Inline(Inliner)          {}
func (s *FallthroughStmt) String() string          { return "fallthrough" }

func (s *FallthroughStmt) Exec(f *Frame) (Flow, error) {
	s.RegisterAccess(f.now())
	return FlowFallthrough, nil
}

func (s *FallthroughStmt) Traverse(cb TraversalCallback) TraversalCode {
	return traverseStmt(s, cb, nil)
}

// ReturnStmt leaves the function, optionally with a value.
type ReturnStmt struct {
	stmtBase
	e Expr
}

func NewReturnStmt(e Expr) *ReturnStmt {
	return &ReturnStmt{stmtBase: newBase(StmtReturn), e: e}
}

func (s *ReturnStmt) Expr() Expr            { return s.e }
func (s *ReturnStmt) Original() Stmt        { return s.originOr(s) }
func (s *ReturnStmt) IsPure() bool          { return false }
func (s *ReturnStmt) NoFlowAfter(bool) bool { return true }

func (s *ReturnStmt) Exec(f *Frame) (Flow, error) {
	s.RegisterAccess(f.now())
	if s.e != nil {
		v, err := s.e.Eval(f)
		if err != nil {
			return FlowNext, err
		}
		f.SetReturn(v)
	}
	return FlowReturn, nil
}

func (s *ReturnStmt) IsReduced(*Reducer) bool { return s.e == nil || s.e.IsSingleton() }

func (s *ReturnStmt) DoReduce(c *Reducer) Stmt {
	if s.e == nil {
		return NewReturnStmt(nil)
	}
	e, pre := c.ReduceToSingleton(s.e)
	return joinStmts(pre, TransformMe(NewReturnStmt(e), s))
}

func (s *ReturnStmt) Duplicate() Stmt {
	var e Expr
	if s.e != nil {
		e = s.e.Duplicate()
	}
	return duplicated(NewReturnStmt(e), s)
}

func (s *ReturnStmt) Inline(inl Inliner) {
	if s.e != nil {
		s.e = s.e.Inline(inl)
	}
}

func (s *ReturnStmt) Traverse(cb TraversalCallback) TraversalCode {
	return traverseStmt(s, cb, func() TraversalCode {
		return traverseAll(cb, []Expr{s.e})
	})
}

func (s *ReturnStmt) String() string {
	if s.e == nil {
		return "return"
	}
	return "return " + s.e.String()
}

// CatchReturnStmt runs an inlined body, turning its returns into an
// assignment to RetVar (if any) and continuing after the block.
type CatchReturnStmt struct {
	stmtBase
	block  Stmt
	retVar *NameExpr
}

func NewCatchReturnStmt(block Stmt, retVar *NameExpr) *CatchReturnStmt {
	return &CatchReturnStmt{stmtBase: newBase(StmtCatchReturn), block: block, retVar: retVar}
}

func (s *CatchReturnStmt) Block() Stmt               { return s.block }
func (s *CatchReturnStmt) RetVar() *NameExpr         { return s.retVar }
func (s *CatchReturnStmt) Original() Stmt            { return s.originOr(s) }
func (s *CatchReturnStmt) IsPure() bool              { return s.block.IsPure() }
func (s *CatchReturnStmt) NoFlowAfter(bool) bool     { return false }
func (s *CatchReturnStmt) IsReduced(c *Reducer) bool { return s.block.IsReduced(c) }

func (s *CatchReturnStmt) Exec(f *Frame) (Flow, error) {
	s.RegisterAccess(f.now())
	flow, err := s.block.Exec(f)
	if err != nil {
		return flow, err
	}
	if flow == FlowReturn {
		v := f.TakeReturn()
		if s.retVar != nil {
			f.Set(s.retVar.id, v)
		} else {
			vm.Unref(v)
		}
	}
	return FlowNext, nil
}

func (s *CatchReturnStmt) DoReduce(c *Reducer) Stmt {
	var ret *NameExpr
	if s.retVar != nil {
		ret = NewName(c.UpdateID(s.retVar.id))
	}
	return NewCatchReturnStmt(Reduce(s.block, c), ret)
}

func (s *CatchReturnStmt) Duplicate() Stmt {
	return duplicated(NewCatchReturnStmt(s.block.Duplicate(), s.retVar), s)
}

func (s *CatchReturnStmt) Inline(inl Inliner) { s.block.Inline(inl) }

func (s *CatchReturnStmt) Traverse(cb TraversalCallback) TraversalCode {
	return traverseStmt(s, cb, func() TraversalCode {
		var exprs []Expr
		if s.retVar != nil {
			exprs = append(exprs, s.retVar)
		}
		return traverseAll(cb, exprs, s.block)
	})
}

func (s *CatchReturnStmt) String() string {
	if s.retVar == nil {
		return "catch-return " + s.block.String()
	}
	return s.retVar.String() + " = catch-return " + s.block.String()
}

// ---------------------------------------------------------------------------
// Output, initialization, no-op
// ---------------------------------------------------------------------------

// PrintStmt writes its arguments, comma separated, to the environment's
// output.
type PrintStmt struct {
	stmtBase
	args []Expr
}

func NewPrintStmt(args ...Expr) *PrintStmt {
	return &PrintStmt{stmtBase: newBase(StmtPrint), args: args}
}

func (s *PrintStmt) Args() []Expr            { return s.args }
func (s *PrintStmt) Original() Stmt          { return s.originOr(s) }
func (s *PrintStmt) IsPure() bool            { return false }
func (s *PrintStmt) NoFlowAfter(bool) bool   { return false }
func (s *PrintStmt) IsReduced(*Reducer) bool { return allSingletons(s.args) }
func (s *PrintStmt) String() string          { return "print " + exprList(s.args) }

func (s *PrintStmt) Exec(f *Frame) (Flow, error) {
	s.RegisterAccess(f.now())
	vals, err := evalArgs(f, s.args)
	defer releaseAll(vals)
	if err != nil {
		return FlowNext, err
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = vm.ValString(v)
	}
	env := f.Env
	if env == nil {
		env = vm.NewEnv()
	}
	return FlowNext, env.Print(strings.Join(parts, ", "))
}

func (s *PrintStmt) DoReduce(c *Reducer) Stmt {
	args, pre := c.reduceArgs(s.args)
	return joinStmts(pre, TransformMe(NewPrintStmt(args...), s))
}

func (s *PrintStmt) Duplicate() Stmt {
	return duplicated(NewPrintStmt(duplicateExprs(s.args)...), s)
}

func (s *PrintStmt) Inline(inl Inliner) { inlineExprs(s.args, inl) }

func (s *PrintStmt) Traverse(cb TraversalCallback) TraversalCode {
	return traverseStmt(s, cb, func() TraversalCode {
		return traverseAll(cb, s.args)
	})
}

// InitStmt gives locals their initial value: empty aggregates, and no
// value at all for everything else.
type InitStmt struct {
	stmtBase
	ids []*ID
}

func NewInitStmt(ids ...*ID) *InitStmt {
	return &InitStmt{stmtBase: newBase(StmtInit), ids: ids}
}

func (s *InitStmt) IDs() []*ID              { return s.ids }
func (s *InitStmt) Original() Stmt          { return s.originOr(s) }
func (s *InitStmt) IsPure() bool            { return false }
func (s *InitStmt) IsReduced(*Reducer) bool { return true }
func (s *InitStmt) NoFlowAfter(bool) bool   { return false }
func (s *InitStmt) Inline(Inliner)          {}

func (s *InitStmt) Exec(f *Frame) (Flow, error) {
	s.RegisterAccess(f.now())
	for _, id := range s.ids {
		f.Set(id, newAggregate(id.Type))
	}
	return FlowNext, nil
}

func newAggregate(t vm.Type) vm.Val {
	switch at := t.(type) {
	case *vm.RecordType:
		return vm.NewRecordVal(at)
	case *vm.VectorType:
		return vm.NewVectorVal(at)
	case *vm.TableType:
		return vm.NewTable(at)
	}
	return nil
}

func (s *InitStmt) DoReduce(c *Reducer) Stmt {
	ids := make([]*ID, len(s.ids))
	for i, id := range s.ids {
		ids[i] = c.UpdateID(id)
	}
	return NewInitStmt(ids...)
}

func (s *InitStmt) Duplicate() Stmt {
	return duplicated(NewInitStmt(append([]*ID(nil), s.ids...)...), s)
}

func (s *InitStmt) Traverse(cb TraversalCallback) TraversalCode {
	return traverseStmt(s, cb, nil)
}

func (s *InitStmt) String() string {
	names := make([]string, len(s.ids))
	for i, id := range s.ids {
		names[i] = id.Name
	}
	return "init " + strings.Join(names, ", ")
}

// NullStmt does nothing. Reduction uses it for dropped statements.
type NullStmt struct{ stmtBase }

func NewNullStmt() *NullStmt { return &NullStmt{stmtBase: newBase(StmtNull)} }

func (s *NullStmt) Original() Stmt          { return s.originOr(s) }
func (s *NullStmt) IsPure() bool            { return true }
func (s *NullStmt) IsReduced(*Reducer) bool { return true }
func (s *NullStmt) DoReduce(*Reducer) Stmt  { return s }
func (s *NullStmt) NoFlowAfter(bool) bool   { return false }
func (s *NullStmt) Duplicate() Stmt         { return duplicated(NewNullStmt(), s) }
func (s *NullStmt) Inline(Inliner)          {}
func (s *NullStmt) String() string          { return "null" }

func (s *NullStmt) Exec(f *Frame) (Flow, error) {
	s.RegisterAccess(f.now())
	return FlowNext, nil
}

func (s *NullStmt) Traverse(cb TraversalCallback) TraversalCode {
	return traverseStmt(s, cb, nil)
}
