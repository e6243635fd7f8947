package analysis

import (
	"github.com/2b45/zeek/compiler"
	"github.com/2b45/zeek/vm"
)

// FuncInfo tracks one script function through the analysis passes.
type FuncInfo struct {
	Func    *compiler.ScriptFunc
	FuncVal *vm.FuncVal
	Scope   *compiler.Scope
	Body    compiler.Stmt

	// SaveFile is the cache file the compiled body was loaded from or
	// saved to, if any.
	SaveFile string

	pf *ProfileFunc
}

// NewFuncInfo registers fn, called through fv, with its current body.
func NewFuncInfo(fn *compiler.ScriptFunc, fv *vm.FuncVal) *FuncInfo {
	return &FuncInfo{Func: fn, FuncVal: fv, Scope: fn.Scope, Body: fn.Body}
}

// Name returns the function name.
func (fi *FuncInfo) Name() string { return fi.Func.Name }

// Profile returns the profile of the current body, computing it on first
// use.
func (fi *FuncInfo) Profile() *ProfileFunc {
	if fi.pf == nil {
		fi.pf = NewProfileFunc(fi.Scope, fi.Body)
	}
	return fi.pf
}

// SetBody replaces the tracked body and drops its stale profile. The
// function itself keeps running its old body until Install.
func (fi *FuncInfo) SetBody(body compiler.Stmt) {
	fi.Body = body
	fi.pf = nil
}

// Install makes the function run the tracked body.
func (fi *FuncInfo) Install() { fi.Func.Body = fi.Body }

// IsCompiled reports whether the tracked body is bytecode.
func (fi *FuncInfo) IsCompiled() bool {
	_, ok := fi.Body.(*compiler.ZBody)
	return ok
}

// FuncSet is a set of functions keyed by the value that calls them.
type FuncSet map[*vm.FuncVal]bool

// Has reports whether fv is in the set. A nil set has no members.
func (s FuncSet) Has(fv *vm.FuncVal) bool { return s[fv] }
