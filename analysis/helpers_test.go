package analysis

import (
	"bytes"
	"testing"

	"github.com/2b45/zeek/compiler"
	"github.com/2b45/zeek/vm"
)

var (
	intT    = vm.BaseType(vm.TypeInt)
	stringT = vm.BaseType(vm.TypeString)
)

func num(n int64) *compiler.ConstExpr         { return compiler.NewConst(vm.NewInt(n)) }
func name(id *compiler.ID) *compiler.NameExpr { return compiler.NewName(id) }
func add(l, r compiler.Expr) compiler.Expr    { return compiler.NewBinary(compiler.OpAdd, l, r) }

func assign(id *compiler.ID, e compiler.Expr) compiler.Stmt {
	return compiler.NewExprStmt(compiler.NewAssign(id, e))
}

func intFunc(fname string, params ...string) (*compiler.Scope, []*compiler.ID, *vm.FuncType) {
	scope := compiler.NewScope(fname)
	ids := make([]*compiler.ID, len(params))
	types := make([]vm.Type, len(params))
	for i, p := range params {
		ids[i] = scope.AddParam(p, intT)
		types[i] = intT
	}
	return scope, ids, vm.NewFuncType(types, intT)
}

// doubleFunc: double(x) { return x + x }
func doubleFunc() (*compiler.ScriptFunc, *vm.FuncVal) {
	scope, p, ft := intFunc("double", "x")
	return compiler.NewScriptFunc("double", ft, scope, compiler.NewReturnStmt(add(name(p[0]), name(p[0]))))
}

// quadFunc: quad(y) { local t = double(y); return double(t) }
func quadFunc(double *vm.FuncVal) (*compiler.ScriptFunc, *vm.FuncVal) {
	scope, p, ft := intFunc("quad", "y")
	t := scope.Add("t", intT)
	body := compiler.NewListStmt(
		assign(t, compiler.NewCall(double, name(p[0]))),
		compiler.NewReturnStmt(compiler.NewCall(double, name(t))),
	)
	return compiler.NewScriptFunc("quad", ft, scope, body)
}

// factFunc: fact(n) { if ( n < 2 ) return 1; return n * fact(n - 1) }
func factFunc() (*compiler.ScriptFunc, *vm.FuncVal) {
	scope, p, ft := intFunc("fact", "n")
	fn, fv := compiler.NewScriptFunc("fact", ft, scope, nil)
	n := p[0]
	fn.Body = compiler.NewListStmt(
		compiler.NewIfStmt(compiler.NewBinary(compiler.OpLT, name(n), num(2)), compiler.NewReturnStmt(num(1)), nil),
		compiler.NewReturnStmt(compiler.NewBinary(compiler.OpMul, name(n),
			compiler.NewCall(fv, compiler.NewBinary(compiler.OpSub, name(n), num(1))))),
	)
	return fn, fv
}

// pingPong builds ping and pong, each calling the other.
func pingPong() (ping, pong *compiler.ScriptFunc, pingV, pongV *vm.FuncVal) {
	s1, p1, ft := intFunc("ping", "n")
	s2, p2, _ := intFunc("pong", "n")
	ping, pingV = compiler.NewScriptFunc("ping", ft, s1, nil)
	pong, pongV = compiler.NewScriptFunc("pong", ft, s2, nil)
	ping.Body = compiler.NewReturnStmt(compiler.NewCall(pongV, name(p1[0])))
	pong.Body = compiler.NewListStmt(
		compiler.NewIfStmt(compiler.NewBinary(compiler.OpLE, name(p2[0]), num(0)), compiler.NewReturnStmt(num(0)), nil),
		compiler.NewReturnStmt(compiler.NewCall(pingV, compiler.NewBinary(compiler.OpSub, name(p2[0]), num(1)))),
	)
	return
}

func callInt(t *testing.T, fv *vm.FuncVal, n int64) int64 {
	t.Helper()
	env := vm.NewEnv()
	env.Out = &bytes.Buffer{}
	arg := vm.NewInt(n)
	defer arg.Unref()
	r, err := fv.Call(env, []vm.Val{arg})
	if err != nil {
		t.Fatalf("%s(%d): %v", fv.Name(), n, err)
	}
	defer vm.Unref(r)
	return r.(*vm.IntVal).Int()
}

// memCache is an in-memory CodeCache.
type memCache struct {
	entries map[string]*vm.Code
	loads   int
	saves   int
	deletes int
	saveErr error
}

func newMemCache() *memCache { return &memCache{entries: make(map[string]*vm.Code)} }

func (c *memCache) Load(fn, hash string) (*vm.Code, string, error) {
	c.loads++
	code, ok := c.entries[fn+"/"+hash]
	if !ok {
		return nil, "", nil
	}
	return code, fn + "-" + hash[:8] + ".zam", nil
}

func (c *memCache) Save(fn, hash string, code *vm.Code) (string, error) {
	c.saves++
	if c.saveErr != nil {
		return "", c.saveErr
	}
	c.entries[fn+"/"+hash] = code
	return fn + "-" + hash[:8] + ".zam", nil
}

func (c *memCache) Delete(fn, hash string) error {
	c.deletes++
	delete(c.entries, fn+"/"+hash)
	return nil
}
