package analysis

import (
	"fmt"
	"io"
	"sort"

	"github.com/2b45/zeek/compiler"
	"github.com/2b45/zeek/vm"
)

// Inliner replaces calls to non-recursive script functions with copies of
// their bodies.
type Inliner struct {
	funcs     []*FuncInfo
	byVal     map[*vm.FuncVal]*FuncInfo
	recursive map[*vm.FuncVal]bool
	direct    map[*vm.FuncVal]bool

	// bodies holds each callee's body as it was before any inlining, so
	// every call site copies the same source.
	bodies map[*vm.FuncVal]compiler.Stmt
	sites  int
}

// NewInliner builds the call graph of funcs and finds which of them are
// recursive.
func NewInliner(funcs []*FuncInfo) *Inliner {
	inl := &Inliner{
		funcs:     funcs,
		byVal:     make(map[*vm.FuncVal]*FuncInfo, len(funcs)),
		recursive: make(map[*vm.FuncVal]bool),
		direct:    make(map[*vm.FuncVal]bool),
		bodies:    make(map[*vm.FuncVal]compiler.Stmt, len(funcs)),
	}
	for _, fi := range funcs {
		inl.byVal[fi.FuncVal] = fi
	}
	inl.findRecursion()
	return inl
}

// findRecursion marks every function that can reach itself through calls
// to known script functions.
func (inl *Inliner) findRecursion() {
	for _, fi := range inl.funcs {
		root := fi.FuncVal
		if fi.Profile().Calls[root] > 0 {
			inl.direct[root] = true
			inl.recursive[root] = true
			continue
		}
		seen := map[*vm.FuncVal]bool{}
		stack := fi.Profile().Callees()
		for len(stack) > 0 {
			fv := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if fv == root {
				inl.recursive[root] = true
				break
			}
			callee, ok := inl.byVal[fv]
			if !ok || seen[fv] {
				continue
			}
			seen[fv] = true
			stack = append(stack, callee.Profile().Callees()...)
		}
	}
}

// NonRecursive returns the functions known not to be recursive.
func (inl *Inliner) NonRecursive() FuncSet {
	out := make(FuncSet, len(inl.funcs))
	for _, fi := range inl.funcs {
		if !inl.recursive[fi.FuncVal] {
			out[fi.FuncVal] = true
		}
	}
	return out
}

// IsRecursive reports whether fv can call itself.
func (inl *Inliner) IsRecursive(fv *vm.FuncVal) bool { return inl.recursive[fv] }

// ReportRecursive writes the recursive functions, sorted by name.
func (inl *Inliner) ReportRecursive(w io.Writer) {
	var names []string
	for _, fi := range inl.funcs {
		switch {
		case inl.direct[fi.FuncVal]:
			names = append(names, fi.Name()+" is directly recursive")
		case inl.recursive[fi.FuncVal]:
			names = append(names, fi.Name()+" is indirectly recursive")
		}
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
}

// InlineAll inlines eligible call sites in every function body and
// returns the number of sites inlined.
func (inl *Inliner) InlineAll() int {
	for _, fi := range inl.funcs {
		if !inl.recursive[fi.FuncVal] && !fi.IsCompiled() {
			inl.bodies[fi.FuncVal] = fi.Body.Duplicate()
		}
	}
	for _, fi := range inl.funcs {
		if fi.IsCompiled() {
			continue
		}
		before := inl.sites
		fi.Body.Inline(inl)
		if inl.sites != before {
			fi.SetBody(fi.Body)
			log.Debugf("inlined %d call(s) into %s", inl.sites-before, fi.Name())
		}
	}
	return inl.sites
}

// CheckForInlining implements compiler.Inliner.
func (inl *Inliner) CheckForInlining(call *compiler.CallExpr) compiler.Expr {
	body, ok := inl.bodies[call.Func()]
	if !ok {
		return call
	}
	fi := inl.byVal[call.Func()]
	inl.sites++

	dup := body.Duplicate()
	dup.Inline(inl)
	return compiler.NewInline(fi.Name(), fi.Scope, call.Args(), dup, fi.Func.ResultType())
}
