package compiler

import (
	"errors"
	"fmt"

	"github.com/2b45/zeek/vm"
)

// ScriptFunc is a function defined by a script: its scope and current
// body. It implements vm.Callable, running the body interpreted unless the
// body has been replaced by a ZBody.
type ScriptFunc struct {
	Name  string
	Type  *vm.FuncType
	Scope *Scope
	Body  Stmt
}

// NewScriptFunc creates fn and the FuncVal that calls it.
func NewScriptFunc(name string, t *vm.FuncType, scope *Scope, body Stmt) (*ScriptFunc, *vm.FuncVal) {
	fn := &ScriptFunc{Name: name, Type: t, Scope: scope, Body: body}
	return fn, vm.NewFunc(name, t, fn)
}

// ResultType returns the declared result type, nil for none.
func (fn *ScriptFunc) ResultType() vm.Type {
	if fn.Type == nil {
		return nil
	}
	return fn.Type.Yield()
}

// Call runs the function with borrowed args and returns an owned result.
func (fn *ScriptFunc) Call(env *vm.Env, args []vm.Val) (vm.Val, error) {
	if z, ok := fn.Body.(*ZBody); ok {
		return z.code.Exec(env, args)
	}

	params := fn.Scope.Params()
	if len(args) != len(params) {
		return nil, fn.fail(env, fmt.Errorf("%w: want %d, got %d", vm.ErrArgCount, len(params), len(args)))
	}
	if !env.Enter() {
		return nil, fn.fail(env, vm.ErrCallDepth)
	}
	defer env.Leave()

	f := NewFrame(env, fn.Scope.FrameSize())
	defer f.Release()
	for i, p := range params {
		vm.Ref(args[i])
		f.Set(p, args[i])
	}
	if _, err := fn.Body.Exec(f); err != nil {
		return nil, fn.fail(env, err)
	}
	return f.TakeReturn(), nil
}

// fail records err in env unless a callee already did.
func (fn *ScriptFunc) fail(env *vm.Env, err error) error {
	var rerr *vm.RuntimeError
	if errors.As(err, &rerr) {
		return err
	}
	rerr = &vm.RuntimeError{Func: fn.Name, Inst: -1, Err: err}
	env.Errors.Set(rerr)
	return rerr
}

// ---------------------------------------------------------------------------
// ZBody
// ---------------------------------------------------------------------------

// ZBody is a function body replaced by its compiled form. Executions are
// counted by the profiler, not by statement access statistics.
type ZBody struct {
	stmtBase
	code *vm.Code
}

// NewZBody wraps code compiled from body.
func NewZBody(code *vm.Code, body Stmt) *ZBody {
	z := &ZBody{stmtBase: newBase(StmtCompiled), code: code}
	z.setOriginal(body)
	return z
}

func (z *ZBody) Code() *vm.Code          { return z.code }
func (z *ZBody) Original() Stmt          { return z.originOr(z) }
func (z *ZBody) IsPure() bool            { return false }
func (z *ZBody) IsReduced(*Reducer) bool { return true }
func (z *ZBody) DoReduce(*Reducer) Stmt  { return z }
func (z *ZBody) NoFlowAfter(bool) bool   { return true }
func (z *ZBody) Inline(Inliner)          {}
func (z *ZBody) String() string          { return "compiled " + z.code.Name }

// Exec runs the code with the frame's parameters as arguments.
func (z *ZBody) Exec(f *Frame) (Flow, error) {
	n := z.code.NumParams
	args := make([]vm.Val, n)
	for i := 0; i < n && i < len(f.vals); i++ {
		args[i] = f.vals[i]
	}
	env := f.Env
	if env == nil {
		env = vm.NewEnv()
	}
	r, err := z.code.Exec(env, args)
	if err != nil {
		return FlowNext, err
	}
	if r == nil {
		return FlowNext, nil
	}
	f.SetReturn(r)
	return FlowReturn, nil
}

func (z *ZBody) Duplicate() Stmt {
	return duplicated(&ZBody{stmtBase: newBase(StmtCompiled), code: z.code}, z)
}

func (z *ZBody) Compile(c *Compiler) CompiledStmt {
	c.errorf("body of %s is already compiled", z.code.Name)
	return NoStmt
}

func (z *ZBody) Traverse(cb TraversalCallback) TraversalCode {
	return traverseStmt(z, cb, nil)
}
