package analysis

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/2b45/zeek/compiler"
)

// rdState is the set of definitions reaching one program point. min holds
// the variables defined on every path; max maps each variable to the
// statements whose definitions reach on some path. A nil statement stands
// for the function entry.
type rdState struct {
	dead bool
	min  map[*compiler.ID]bool
	max  map[*compiler.ID]map[compiler.Stmt]bool
}

func newRDState() *rdState {
	return &rdState{min: make(map[*compiler.ID]bool), max: make(map[*compiler.ID]map[compiler.Stmt]bool)}
}

func deadRDState() *rdState { return &rdState{dead: true} }

func (s *rdState) clone() *rdState {
	if s.dead {
		return deadRDState()
	}
	c := newRDState()
	for id := range s.min {
		c.min[id] = true
	}
	for id, defs := range s.max {
		m := make(map[compiler.Stmt]bool, len(defs))
		for d := range defs {
			m[d] = true
		}
		c.max[id] = m
	}
	return c
}

// define kills every other definition of id.
func (s *rdState) define(id *compiler.ID, at compiler.Stmt) {
	if s.dead {
		return
	}
	s.min[id] = true
	s.max[id] = map[compiler.Stmt]bool{at: true}
}

// joinRD merges the states of two paths into a new state.
func joinRD(a, b *rdState) *rdState {
	if a.dead {
		return b.clone()
	}
	if b.dead {
		return a.clone()
	}
	out := a.clone()
	for id := range out.min {
		if !b.min[id] {
			delete(out.min, id)
		}
	}
	for id, defs := range b.max {
		m := out.max[id]
		if m == nil {
			m = make(map[compiler.Stmt]bool, len(defs))
			out.max[id] = m
		}
		for d := range defs {
			m[d] = true
		}
	}
	return out
}

func (s *rdState) equal(o *rdState) bool {
	if s.dead || o.dead {
		return s.dead == o.dead
	}
	if len(s.min) != len(o.min) || len(s.max) != len(o.max) {
		return false
	}
	for id := range s.min {
		if !o.min[id] {
			return false
		}
	}
	for id, defs := range s.max {
		od := o.max[id]
		if len(od) != len(defs) {
			return false
		}
		for d := range defs {
			if !od[d] {
				return false
			}
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// ReachingDefs
// ---------------------------------------------------------------------------

// ReachingDefs holds, for each statement of a body, the minimal and
// maximal definitions reaching its start. Statements are keyed by node
// identity, so duplicated subtrees get results of their own.
type ReachingDefs struct {
	pre   map[compiler.Stmt]*rdState
	order []compiler.Stmt
}

// Reached reports whether s can execute.
func (rd *ReachingDefs) Reached(s compiler.Stmt) bool {
	st, ok := rd.pre[s]
	return ok && !st.dead
}

// MinDefined reports whether id is defined on every path to s.
func (rd *ReachingDefs) MinDefined(s compiler.Stmt, id *compiler.ID) bool {
	st := rd.pre[s]
	return st != nil && !st.dead && st.min[id]
}

// MaxDefs returns the definitions of id that may reach s, in statement
// order. A nil entry is the function entry.
func (rd *ReachingDefs) MaxDefs(s compiler.Stmt, id *compiler.ID) []compiler.Stmt {
	st := rd.pre[s]
	if st == nil || st.dead {
		return nil
	}
	defs := st.max[id]
	out := make([]compiler.Stmt, 0, len(defs))
	if defs[nil] {
		out = append(out, nil)
	}
	for _, d := range rd.order {
		if defs[d] {
			out = append(out, d)
		}
	}
	return out
}

// Stmts returns the analyzed statements in the order first visited.
func (rd *ReachingDefs) Stmts() []compiler.Stmt { return rd.order }

// ComputeRDs computes the reaching definitions of body. Parameters are
// defined at entry.
func ComputeRDs(scope *compiler.Scope, body compiler.Stmt) *ReachingDefs {
	w := &rdWalker{rd: &ReachingDefs{pre: make(map[compiler.Stmt]*rdState)}}
	entry := newRDState()
	for _, p := range scope.Params() {
		entry.define(p, nil)
	}
	if body != nil {
		w.walk(body, entry)
	}
	return w.rd
}

// jumpCtx collects the states at jumps out of a loop, switch or inlined
// body.
type jumpCtx struct {
	kind    compiler.StmtTag
	breaks  *rdState
	nexts   *rdState
	falls   *rdState
	returns *rdState
}

func newJumpCtx(kind compiler.StmtTag) *jumpCtx {
	return &jumpCtx{kind: kind, breaks: deadRDState(), nexts: deadRDState(), falls: deadRDState(), returns: deadRDState()}
}

type rdWalker struct {
	rd   *ReachingDefs
	ctxs []*jumpCtx
}

func (w *rdWalker) push(kind compiler.StmtTag) *jumpCtx {
	c := newJumpCtx(kind)
	w.ctxs = append(w.ctxs, c)
	return c
}

func (w *rdWalker) pop() { w.ctxs = w.ctxs[:len(w.ctxs)-1] }

// innermost finds the nearest context accepting a jump. Inlined bodies
// are never left by break, next or fallthrough.
func (w *rdWalker) innermost(accept func(compiler.StmtTag) bool) *jumpCtx {
	for i := len(w.ctxs) - 1; i >= 0; i-- {
		c := w.ctxs[i]
		if accept(c.kind) {
			return c
		}
		if c.kind == compiler.StmtCatchReturn {
			return nil
		}
	}
	return nil
}

func isLoop(k compiler.StmtTag) bool      { return k == compiler.StmtWhile || k == compiler.StmtFor }
func isBreakable(k compiler.StmtTag) bool { return isLoop(k) || k == compiler.StmtSwitch }

func (w *rdWalker) record(s compiler.Stmt, in *rdState) {
	if _, seen := w.rd.pre[s]; !seen {
		w.rd.order = append(w.rd.order, s)
	}
	w.rd.pre[s] = in.clone()
}

// applyExprs adds the definitions made by assignments inside es.
func applyExprs(st *rdState, at compiler.Stmt, es ...compiler.Expr) *rdState {
	for _, e := range es {
		for _, id := range exprDefs(e) {
			st.define(id, at)
		}
	}
	return st
}

func (w *rdWalker) walk(s compiler.Stmt, in *rdState) *rdState {
	w.record(s, in)

	switch st := s.(type) {
	case *compiler.ListStmt:
		cur := in
		for _, c := range st.Stmts() {
			cur = w.walk(c, cur)
		}
		return cur

	case *compiler.IfStmt:
		cur := applyExprs(in.clone(), s, st.Cond())
		then := w.walk(st.Then(), cur.clone())
		els := cur
		if st.Else() != nil {
			els = w.walk(st.Else(), cur.clone())
		}
		return joinRD(then, els)

	case *compiler.WhileStmt:
		head := in.clone()
		for {
			h := head.clone()
			if st.CondPred() != nil {
				h = w.walk(st.CondPred(), h)
			}
			h = applyExprs(h, s, st.Cond())
			ctx := w.push(compiler.StmtWhile)
			body := w.walk(st.Body(), h.clone())
			w.pop()
			next := joinRD(in, joinRD(body, ctx.nexts))
			if next.equal(head) {
				return joinRD(h, ctx.breaks)
			}
			head = next
		}

	case *compiler.ForStmt:
		head := applyExprs(in.clone(), s, st.Vec())
		for {
			entry := head.clone()
			if st.Index() != nil {
				entry.define(st.Index(), s)
			}
			if st.Value() != nil {
				entry.define(st.Value(), s)
			}
			ctx := w.push(compiler.StmtFor)
			body := w.walk(st.Body(), entry)
			w.pop()
			next := joinRD(head, joinRD(body, ctx.nexts))
			if next.equal(head) {
				return joinRD(head, ctx.breaks)
			}
			head = next
		}

	case *compiler.SwitchStmt:
		cur := applyExprs(in.clone(), s, st.Value())
		ctx := w.push(compiler.StmtSwitch)
		exits := deadRDState()
		falls := deadRDState()
		for _, c := range st.Cases() {
			entry := joinRD(cur, falls)
			ctx.falls = deadRDState()
			out := entry
			if c.Body != nil {
				out = w.walk(c.Body, entry)
			}
			exits = joinRD(exits, out)
			falls = ctx.falls
		}
		w.pop()
		if st.DefaultCase() < 0 {
			exits = joinRD(exits, cur)
		}
		return joinRD(exits, ctx.breaks)

	case *compiler.NextStmt:
		if c := w.innermost(isLoop); c != nil {
			c.nexts = joinRD(c.nexts, in)
		}
		return deadRDState()

	case *compiler.BreakStmt:
		if c := w.innermost(isBreakable); c != nil {
			c.breaks = joinRD(c.breaks, in)
		}
		return deadRDState()

	case *compiler.FallthroughStmt:
		if c := w.innermost(func(k compiler.StmtTag) bool { return k == compiler.StmtSwitch }); c != nil {
			c.falls = joinRD(c.falls, in)
		}
		return deadRDState()

	case *compiler.ReturnStmt:
		out := applyExprs(in.clone(), s, st.Expr())
		for i := len(w.ctxs) - 1; i >= 0; i-- {
			if c := w.ctxs[i]; c.kind == compiler.StmtCatchReturn {
				c.returns = joinRD(c.returns, out)
				break
			}
		}
		return deadRDState()

	case *compiler.CatchReturnStmt:
		ctx := w.push(compiler.StmtCatchReturn)
		body := w.walk(st.Block(), in.clone())
		w.pop()
		out := joinRD(body, ctx.returns)
		if rv := st.RetVar(); rv != nil {
			out.define(rv.ID(), s)
		}
		return out

	case *compiler.InitStmt:
		out := in.clone()
		for _, id := range st.IDs() {
			out.define(id, s)
		}
		return out

	default:
		return applyExprs(in.clone(), s, ownExprs(s)...)
	}
}

// ---------------------------------------------------------------------------
// Per-statement uses and definitions
// ---------------------------------------------------------------------------

// ownExprs returns the expressions a statement evaluates itself, not those
// of nested statements.
func ownExprs(s compiler.Stmt) []compiler.Expr {
	var es []compiler.Expr
	switch st := s.(type) {
	case *compiler.ExprStmt:
		es = []compiler.Expr{st.Expr()}
	case *compiler.IfStmt:
		es = []compiler.Expr{st.Cond()}
	case *compiler.WhileStmt:
		es = []compiler.Expr{st.Cond()}
	case *compiler.ForStmt:
		es = []compiler.Expr{st.Vec()}
	case *compiler.SwitchStmt:
		es = []compiler.Expr{st.Value()}
	case *compiler.ReturnStmt:
		es = []compiler.Expr{st.Expr()}
	case *compiler.PrintStmt:
		es = st.Args()
	}
	out := es[:0:0]
	for _, e := range es {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// exprWalker collects the variables an expression reads and assigns.
// Inlined bodies use the callee's variables and are skipped.
type exprWalker struct {
	compiler.BaseCallback
	uses    []*compiler.ID
	defs    []*compiler.ID
	fields  []*compiler.FieldExpr
	targets map[*compiler.NameExpr]bool
}

func (w *exprWalker) PreExpr(e compiler.Expr) compiler.TraversalCode {
	switch ex := e.(type) {
	case *compiler.AssignExpr:
		w.targets[ex.LHS()] = true
	case *compiler.NameExpr:
		if !w.targets[ex] {
			w.uses = append(w.uses, ex.ID())
		}
	case *compiler.FieldExpr:
		w.fields = append(w.fields, ex)
	case *compiler.InlineExpr:
		for _, a := range ex.Args() {
			a.Traverse(w)
		}
		return compiler.TCAbortStmt
	}
	return compiler.TCContinue
}

func (w *exprWalker) PostExpr(e compiler.Expr) compiler.TraversalCode {
	if a, ok := e.(*compiler.AssignExpr); ok {
		w.defs = append(w.defs, a.LHS().ID())
	}
	return compiler.TCContinue
}

func walkExprs(es ...compiler.Expr) *exprWalker {
	w := &exprWalker{targets: make(map[*compiler.NameExpr]bool)}
	for _, e := range es {
		if e != nil {
			e.Traverse(w)
		}
	}
	return w
}

func exprDefs(e compiler.Expr) []*compiler.ID {
	if e == nil {
		return nil
	}
	return walkExprs(e).defs
}

// ---------------------------------------------------------------------------
// Dumps
// ---------------------------------------------------------------------------

// Trace writes the minimal and/or maximal definitions reaching each
// statement.
func (rd *ReachingDefs) Trace(w io.Writer, wantMin, wantMax bool) {
	for _, s := range rd.order {
		st := rd.pre[s]
		if st.dead {
			fmt.Fprintf(w, "unreachable: %s\n", firstLine(s))
			continue
		}
		if wantMin {
			fmt.Fprintf(w, "min RDs before %s: %s\n", firstLine(s), idNames(st.min))
		}
		if wantMax {
			ids := make(map[*compiler.ID]bool, len(st.max))
			for id := range st.max {
				ids[id] = true
			}
			fmt.Fprintf(w, "max RDs before %s: %s\n", firstLine(s), idNames(ids))
		}
	}
}

// DumpUseDefs writes, for each statement, the definitions that may reach
// each variable it reads.
func (rd *ReachingDefs) DumpUseDefs(w io.Writer) {
	for _, s := range rd.order {
		uses := walkExprs(ownExprs(s)...).uses
		if len(uses) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s\n", firstLine(s))
		seen := make(map[*compiler.ID]bool)
		for _, id := range uses {
			if seen[id] {
				continue
			}
			seen[id] = true
			var defs []string
			for _, d := range rd.MaxDefs(s, id) {
				if d == nil {
					defs = append(defs, "<entry>")
				} else {
					defs = append(defs, firstLine(d))
				}
			}
			if len(defs) == 0 {
				defs = []string{"<none>"}
			}
			fmt.Fprintf(w, "\t%s: %s\n", id.Name, strings.Join(defs, "; "))
		}
	}
}

func idNames(ids map[*compiler.ID]bool) string {
	names := make([]string, 0, len(ids))
	for id := range ids {
		names = append(names, id.Name)
	}
	sort.Strings(names)
	return "{" + strings.Join(names, ", ") + "}"
}

func firstLine(s compiler.Stmt) string {
	text := s.String()
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i] + " ..."
	}
	return text
}
