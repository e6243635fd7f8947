package compiler

import (
	"fmt"

	"github.com/2b45/zeek/vm"
)

// Reducer carries the state of one reduction pass over a function body.
type Reducer struct {
	scope    *Scope
	optimize bool
	omit     map[Stmt]bool

	// remaps holds, per inlined body being reduced, the caller-side
	// replacement of each callee variable. Only the innermost applies.
	remaps []map[*ID]*ID
	sites  int
}

// NewReducer creates a reducer that adds its temporaries to scope. With
// optimize set it also folds constants, drops pure expression statements
// and removes unreachable code.
func NewReducer(scope *Scope, optimize bool) *Reducer {
	return &Reducer{scope: scope, optimize: optimize, omit: make(map[Stmt]bool)}
}

func (c *Reducer) Scope() *Scope    { return c.scope }
func (c *Reducer) Optimizing() bool { return c.optimize }
func (c *Reducer) remapping() bool  { return len(c.remaps) > 0 }

// Omit marks s to be replaced by a null statement when reduced.
func (c *Reducer) Omit(s Stmt) { c.omit[s] = true }

// ShouldOmit reports whether Reduce drops s.
func (c *Reducer) ShouldOmit(s Stmt) bool {
	if c.omit[s] {
		return true
	}
	if !c.optimize {
		return false
	}
	es, ok := s.(*ExprStmt)
	return ok && es.e.IsPure()
}

// NewTemp creates a temporary in the function scope.
func (c *Reducer) NewTemp(t vm.Type) *ID { return c.scope.NewTemp(t) }

// UpdateID maps a callee variable to its caller-side copy while an inlined
// body is being reduced. Other IDs are returned unchanged.
func (c *Reducer) UpdateID(id *ID) *ID {
	if n := len(c.remaps); n > 0 {
		if to, ok := c.remaps[n-1][id]; ok {
			return to
		}
	}
	return id
}

// ReduceToSingleton reduces e and, unless the result is already a
// constant or a name, assigns it to a new temporary.
func (c *Reducer) ReduceToSingleton(e Expr) (Expr, Stmt) {
	red, pre := e.Reduce(c)
	if red == nil {
		panic(fmt.Sprintf("compiler: %s has no value", e))
	}
	if red.IsSingleton() {
		return red, pre
	}
	tmp := c.NewTemp(red.Type())
	return NewName(tmp), joinStmts(pre, NewExprStmt(NewAssign(tmp, red)))
}

func (c *Reducer) reduceArgs(args []Expr) ([]Expr, Stmt) {
	out := make([]Expr, len(args))
	var pre []Stmt
	for i, a := range args {
		r, p := c.ReduceToSingleton(a)
		out[i] = r
		pre = append(pre, p)
	}
	return out, joinStmts(pre...)
}

// pushInline starts reducing one inlined copy of callee, giving each of
// its variables a fresh caller-side local.
func (c *Reducer) pushInline(callee string, vars []*ID) map[*ID]*ID {
	c.sites++
	m := make(map[*ID]*ID, len(vars))
	for _, v := range vars {
		m[v] = c.scope.NewInlineLocal(callee, c.sites, v)
	}
	c.remaps = append(c.remaps, m)
	return m
}

func (c *Reducer) popInline() {
	c.remaps = c.remaps[:len(c.remaps)-1]
}
