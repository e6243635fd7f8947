package analysis

import (
	"github.com/2b45/zeek/compiler"
	"github.com/2b45/zeek/vm"
)

// ProfileFunc summarizes what a function body touches.
type ProfileFunc struct {
	compiler.BaseCallback

	Params    []*compiler.ID
	Locals    map[*compiler.ID]bool // non-parameters referenced
	Assignees map[*compiler.ID]bool
	Inits     map[*compiler.ID]bool
	Uses      map[*compiler.ID]bool

	// Calls counts call sites per callee.
	Calls map[*vm.FuncVal]int

	// FieldAssigns records, per record variable, the fields stored to
	// through it.
	FieldAssigns map[*compiler.ID]map[int]bool

	NumStmts   int
	NumExprs   int
	NumInlined int

	params  map[*compiler.ID]bool
	targets map[*compiler.NameExpr]bool
}

// NewProfileFunc profiles body, whose variables belong to scope.
func NewProfileFunc(scope *compiler.Scope, body compiler.Stmt) *ProfileFunc {
	pf := &ProfileFunc{
		Params:       scope.Params(),
		Locals:       make(map[*compiler.ID]bool),
		Assignees:    make(map[*compiler.ID]bool),
		Inits:        make(map[*compiler.ID]bool),
		Uses:         make(map[*compiler.ID]bool),
		Calls:        make(map[*vm.FuncVal]int),
		FieldAssigns: make(map[*compiler.ID]map[int]bool),
		params:       make(map[*compiler.ID]bool),
		targets:      make(map[*compiler.NameExpr]bool),
	}
	for _, p := range pf.Params {
		pf.params[p] = true
	}
	if body != nil {
		body.Traverse(pf)
	}
	return pf
}

func (pf *ProfileFunc) local(id *compiler.ID) {
	if id != nil && !pf.params[id] {
		pf.Locals[id] = true
	}
}

func (pf *ProfileFunc) assign(id *compiler.ID) {
	if id == nil {
		return
	}
	pf.local(id)
	pf.Assignees[id] = true
}

func (pf *ProfileFunc) PreStmt(s compiler.Stmt) compiler.TraversalCode {
	pf.NumStmts++
	switch st := s.(type) {
	case *compiler.InitStmt:
		for _, id := range st.IDs() {
			pf.local(id)
			pf.Inits[id] = true
		}
	case *compiler.ForStmt:
		pf.assign(st.Index())
		pf.assign(st.Value())
	case *compiler.CatchReturnStmt:
		if rv := st.RetVar(); rv != nil {
			pf.assign(rv.ID())
			pf.targets[rv] = true
		}
	}
	return compiler.TCContinue
}

func (pf *ProfileFunc) PreExpr(e compiler.Expr) compiler.TraversalCode {
	pf.NumExprs++
	switch ex := e.(type) {
	case *compiler.AssignExpr:
		pf.assign(ex.LHS().ID())
		pf.targets[ex.LHS()] = true
	case *compiler.NameExpr:
		if !pf.targets[ex] {
			pf.local(ex.ID())
			pf.Uses[ex.ID()] = true
		}
	case *compiler.FieldAssignExpr:
		if n, ok := ex.Record().(*compiler.NameExpr); ok {
			m := pf.FieldAssigns[n.ID()]
			if m == nil {
				m = make(map[int]bool)
				pf.FieldAssigns[n.ID()] = m
			}
			m[ex.Field()] = true
		}
	case *compiler.CallExpr:
		pf.Calls[ex.Func()]++
	case *compiler.InlineExpr:
		pf.NumInlined++
		// The callee's variables are not ours until reduction.
		for _, a := range ex.Args() {
			a.Traverse(pf)
		}
		return compiler.TCAbortStmt
	}
	return compiler.TCContinue
}

// IsParam reports whether id is one of the function's parameters.
func (pf *ProfileFunc) IsParam(id *compiler.ID) bool { return pf.params[id] }

// Callees returns the called functions, each once.
func (pf *ProfileFunc) Callees() []*vm.FuncVal {
	out := make([]*vm.FuncVal, 0, len(pf.Calls))
	for fv := range pf.Calls {
		out = append(out, fv)
	}
	return out
}
