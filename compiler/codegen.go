package compiler

import (
	"errors"
	"fmt"

	"github.com/2b45/zeek/vm"
)

// ---------------------------------------------------------------------------
// Codegen: compile statement trees to ZAM code
// ---------------------------------------------------------------------------

// Compiler translates one function body into ZAM code. Frame slots start
// with the function's variables, in scope order; constants, scratch values
// and loop iterators get slots after them.
type Compiler struct {
	name      string
	scope     *Scope
	builder   *vm.CodeBuilder
	slotTypes []vm.Type
	slotNames []string
	noOpt     bool
	errors    []error

	// Jump targets of the enclosing constructs, innermost last.
	breaks  []*vm.Label
	nexts   []*vm.Label
	falls   []*vm.Label
	catches []catchContext
}

// catchContext is an enclosing catch-return: returns store into ret (if
// any) and jump to end.
type catchContext struct {
	ret int
	end *vm.Label
}

// NewCompiler creates a compiler for a function with the given scope.
// noOpt disables the peephole pass.
func NewCompiler(name string, scope *Scope, noOpt bool) *Compiler {
	c := &Compiler{name: name, scope: scope, builder: vm.NewCodeBuilder(), noOpt: noOpt}
	for _, id := range scope.Vars() {
		c.slotTypes = append(c.slotTypes, id.Type)
		c.slotNames = append(c.slotNames, id.Name)
	}
	return c
}

// Errors returns accumulated compilation errors.
func (c *Compiler) Errors() []error {
	return c.errors
}

// errorf records a compilation error.
func (c *Compiler) errorf(format string, args ...any) {
	c.errors = append(c.errors, fmt.Errorf(format, args...))
}

// CompileFunc compiles fn's body. A body that uses constructs ZAM does not
// support yields an error; it keeps running interpreted.
func CompileFunc(fn *ScriptFunc, noOpt bool) (*vm.Code, error) {
	c := NewCompiler(fn.Name, fn.Scope, noOpt)
	return c.CompileBody(fn.Body, fn.ResultType())
}

// CompileBody compiles body and returns the finished code.
func (c *Compiler) CompileBody(body Stmt, result vm.Type) (*vm.Code, error) {
	body.Compile(c)
	c.emit(vm.ZInst{Op: vm.OpReturnVoid})

	code := &vm.Code{
		Name:       c.name,
		Insts:      c.builder.Insts(),
		FrameSize:  len(c.slotTypes),
		SlotTypes:  c.slotTypes,
		SlotNames:  c.slotNames,
		NumParams:  len(c.scope.Params()),
		ResultType: result,
	}
	if len(c.errors) > 0 {
		code.Release()
		return nil, fmt.Errorf("compiling %s: %w", c.name, errors.Join(c.errors...))
	}
	if !c.noOpt {
		code.Insts = peephole(code.Insts)
	}
	return code, nil
}

// ---------------------------------------------------------------------------
// Slots and emission
// ---------------------------------------------------------------------------

func (c *Compiler) emit(in vm.ZInst) int {
	return c.builder.Emit(in)
}

func (c *Compiler) here() int {
	return c.builder.Len()
}

// handle returns the statement handle for code emitted since start.
func (c *Compiler) handle(start int) CompiledStmt {
	if c.builder.Len() == start {
		return NoStmt
	}
	return CompiledStmt{pc: start}
}

func (c *Compiler) newSlot(name string, t vm.Type) int {
	c.slotTypes = append(c.slotTypes, t)
	c.slotNames = append(c.slotNames, name)
	return len(c.slotTypes) - 1
}

// emitConst loads v into slot. The instruction owns its reference.
func (c *Compiler) emitConst(slot int, v vm.Val) {
	t := c.slotTypes[slot]
	c.emit(vm.ZInst{Op: vm.OpAssignConst, V1: slot, C: vm.NewZVal(v, t), T: t})
}

// exprSlot returns a slot holding e's value, computing it if needed.
func (c *Compiler) exprSlot(e Expr) int {
	switch e := e.(type) {
	case *NameExpr:
		return e.id.Offset
	case *ConstExpr:
		slot := c.newSlot("$const", e.Type())
		c.emitConst(slot, e.val)
		return slot
	}
	slot := c.newSlot("$tmp", e.Type())
	c.compileExpr(e, slot)
	return slot
}

func (c *Compiler) exprSlots(es []Expr) []int {
	slots := make([]int, len(es))
	for i, e := range es {
		slots[i] = c.exprSlot(e)
	}
	return slots
}

// dest returns dst, or a scratch slot for e if the value is discarded.
func (c *Compiler) dest(dst int, e Expr) int {
	if dst >= 0 {
		return dst
	}
	return c.newSlot("$tmp", e.Type())
}

func (c *Compiler) assign(dst, src int) {
	if dst >= 0 && dst != src {
		c.emit(vm.ZInst{Op: vm.OpAssign, V1: dst, V2: src})
	}
}

// compileExpr evaluates e into dst. dst < 0 discards the value.
func (c *Compiler) compileExpr(e Expr, dst int) {
	switch e := e.(type) {
	case *ConstExpr:
		if dst >= 0 {
			c.emitConst(dst, e.val)
		}

	case *NameExpr:
		c.assign(dst, e.id.Offset)

	case *AssignExpr:
		lhs := e.lhs.id.Offset
		c.compileExpr(e.rhs, lhs)
		c.assign(dst, lhs)

	case *BinaryExpr:
		dst = c.dest(dst, e)
		l, r := c.exprSlot(e.l), c.exprSlot(e.r)
		op, swap := e.op.zop()
		if swap {
			l, r = r, l
		}
		c.emit(vm.ZInst{Op: op, V1: dst, V2: l, V3: r, T: e.l.Type()})

	case *NotExpr:
		dst = c.dest(dst, e)
		c.emit(vm.ZInst{Op: vm.OpNot, V1: dst, V2: c.exprSlot(e.op)})

	case *FieldExpr:
		dst = c.dest(dst, e)
		c.emit(vm.ZInst{Op: vm.OpFieldGet, V1: dst, V2: c.exprSlot(e.rec), Field: e.field, T: e.Type()})

	case *HasFieldExpr:
		dst = c.dest(dst, e)
		c.emit(vm.ZInst{Op: vm.OpHasField, V1: dst, V2: c.exprSlot(e.rec), Field: e.field, T: e.Type()})

	case *FieldAssignExpr:
		rec, val := c.exprSlot(e.rec), c.exprSlot(e.val)
		c.emit(vm.ZInst{Op: vm.OpFieldSet, V1: rec, V2: val, Field: e.field, T: e.Type()})
		c.assign(dst, val)

	case *IndexExpr:
		dst = c.dest(dst, e)
		vec, idx := c.exprSlot(e.vec), c.exprSlot(e.index)
		c.emit(vm.ZInst{Op: vm.OpIndexGet, V1: dst, V2: vec, V3: idx, T: yieldOf(e.vec)})

	case *IndexAssignExpr:
		vec, idx, val := c.exprSlot(e.vec), c.exprSlot(e.index), c.exprSlot(e.val)
		c.emit(vm.ZInst{Op: vm.OpIndexSet, V1: vec, V2: idx, V3: val, T: yieldOf(e.vec)})
		c.assign(dst, val)

	case *SizeExpr:
		if _, ok := e.op.Type().(*vm.VectorType); !ok {
			c.errorf("size of %s is not supported in compiled code", e.op.Type())
			return
		}
		dst = c.dest(dst, e)
		c.emit(vm.ZInst{Op: vm.OpVecSize, V1: dst, V2: c.exprSlot(e.op)})

	case *CallExpr:
		args := c.exprSlots(e.args)
		if t := e.Type(); t == nil || t.Tag() == vm.TypeVoid {
			dst = -1
		}
		e.fn.Ref()
		c.emit(vm.ZInst{Op: vm.OpCall, V1: dst, Func: e.fn, Args: args})

	case *InlineExpr:
		c.errorf("inlined call to %s must be reduced before compiling", e.callee)

	default:
		c.errorf("cannot compile %T", e)
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (s *ListStmt) Compile(c *Compiler) CompiledStmt {
	start := c.here()
	for _, st := range s.stmts {
		st.Compile(c)
	}
	return c.handle(start)
}

func (s *ExprStmt) Compile(c *Compiler) CompiledStmt {
	start := c.here()
	c.compileExpr(s.e, -1)
	return c.handle(start)
}

func (s *IfStmt) Compile(c *Compiler) CompiledStmt {
	start := c.here()
	if k, ok := s.cond.(*ConstExpr); ok {
		if k.val.(*vm.IntVal).Bool() {
			s.then.Compile(c)
		} else if s.els != nil {
			s.els.Compile(c)
		}
		return c.handle(start)
	}

	b := c.builder
	elseLabel := b.NewLabel()
	b.EmitJump(vm.ZInst{Op: vm.OpIfFalse, V1: c.exprSlot(s.cond)}, elseLabel)
	s.then.Compile(c)
	if s.els == nil {
		b.Mark(elseLabel)
		return c.handle(start)
	}
	end := b.NewLabel()
	b.EmitJump(vm.ZInst{Op: vm.OpGoto}, end)
	b.Mark(elseLabel)
	s.els.Compile(c)
	b.Mark(end)
	return c.handle(start)
}

func (c *Compiler) pushLoop(brk, next *vm.Label) {
	c.breaks = append(c.breaks, brk)
	c.nexts = append(c.nexts, next)
}

func (c *Compiler) popLoop() {
	c.breaks = c.breaks[:len(c.breaks)-1]
	c.nexts = c.nexts[:len(c.nexts)-1]
}

func (s *WhileStmt) Compile(c *Compiler) CompiledStmt {
	b := c.builder
	start := c.here()
	top, done := b.NewLabel(), b.NewLabel()

	b.Mark(top)
	if s.condPred != nil {
		s.condPred.Compile(c)
	}
	if k, ok := s.cond.(*ConstExpr); ok {
		if !k.val.(*vm.IntVal).Bool() {
			b.EmitJump(vm.ZInst{Op: vm.OpGoto}, done)
		}
	} else {
		b.EmitJump(vm.ZInst{Op: vm.OpIfFalse, V1: c.exprSlot(s.cond)}, done)
	}

	c.pushLoop(done, top)
	s.body.Compile(c)
	c.popLoop()

	b.EmitJump(vm.ZInst{Op: vm.OpGoto}, top)
	b.Mark(done)
	return c.handle(start)
}

func (s *ForStmt) Compile(c *Compiler) CompiledStmt {
	b := c.builder
	start := c.here()
	vec := c.exprSlot(s.vec)
	iter := c.newSlot("$iter", vm.BaseType(vm.TypeVoid))
	c.emit(vm.ZInst{Op: vm.OpInitLoop, V1: iter, V2: vec})

	top, done := b.NewLabel(), b.NewLabel()
	b.Mark(top)
	b.EmitJump(vm.ZInst{Op: vm.OpNextIter, V1: iter, V2: s.index.Offset}, done)
	if s.value != nil {
		c.emit(vm.ZInst{Op: vm.OpIndexGet, V1: s.value.Offset, V2: vec, V3: s.index.Offset, T: yieldOf(s.vec)})
	}

	c.pushLoop(done, top)
	s.body.Compile(c)
	c.popLoop()

	b.EmitJump(vm.ZInst{Op: vm.OpGoto}, top)
	b.Mark(done)
	return c.handle(start)
}

func (s *SwitchStmt) Compile(c *Compiler) CompiledStmt {
	b := c.builder
	start := c.here()
	t := s.value.Type()
	v := c.exprSlot(s.value)
	end := b.NewLabel()

	bodies := make([]*vm.Label, len(s.cases))
	for i, cs := range s.cases {
		bodies[i] = b.NewLabel()
		for _, l := range cs.Labels {
			k := c.newSlot("$const", t)
			c.emitConst(k, l.val)
			eq := c.newSlot("$tmp", vm.BaseType(vm.TypeBool))
			c.emit(vm.ZInst{Op: vm.OpEQ, V1: eq, V2: v, V3: k, T: t})
			b.EmitJump(vm.ZInst{Op: vm.OpIfTrue, V1: eq}, bodies[i])
		}
	}
	if def := s.DefaultCase(); def >= 0 {
		b.EmitJump(vm.ZInst{Op: vm.OpGoto}, bodies[def])
	} else {
		b.EmitJump(vm.ZInst{Op: vm.OpGoto}, end)
	}

	for i, cs := range s.cases {
		b.Mark(bodies[i])
		next := end
		if i+1 < len(bodies) {
			next = bodies[i+1]
		}
		c.breaks = append(c.breaks, end)
		c.falls = append(c.falls, next)
		cs.Body.Compile(c)
		c.breaks = c.breaks[:len(c.breaks)-1]
		c.falls = c.falls[:len(c.falls)-1]
		b.EmitJump(vm.ZInst{Op: vm.OpGoto}, end)
	}
	b.Mark(end)
	return c.handle(start)
}

// jumpTo emits a goto to the innermost label of stack.
func (c *Compiler) jumpTo(stack []*vm.Label, what string) CompiledStmt {
	if len(stack) == 0 {
		c.errorf("%q outside of a loop or switch", what)
		return NoStmt
	}
	return CompiledStmt{pc: c.builder.EmitJump(vm.ZInst{Op: vm.OpGoto}, stack[len(stack)-1])}
}

func (s *NextStmt) Compile(c *Compiler) CompiledStmt        { return c.jumpTo(c.nexts, "next") }
func (s *BreakStmt) Compile(c *Compiler) CompiledStmt       { return c.jumpTo(c.breaks, "break") }
func (s *FallthroughStmt) Compile(c *Compiler) CompiledStmt { return c.jumpTo(c.falls, "fallthrough") }

func (s *ReturnStmt) Compile(c *Compiler) CompiledStmt {
	start := c.here()
	if n := len(c.catches); n > 0 {
		ctx := c.catches[n-1]
		if s.e != nil && ctx.ret >= 0 {
			c.compileExpr(s.e, ctx.ret)
		}
		c.builder.EmitJump(vm.ZInst{Op: vm.OpGoto}, ctx.end)
		return c.handle(start)
	}
	if s.e == nil {
		c.emit(vm.ZInst{Op: vm.OpReturnVoid})
	} else {
		c.emit(vm.ZInst{Op: vm.OpReturn, V1: c.exprSlot(s.e)})
	}
	return c.handle(start)
}

func (s *CatchReturnStmt) Compile(c *Compiler) CompiledStmt {
	start := c.here()
	ctx := catchContext{ret: -1, end: c.builder.NewLabel()}
	if s.retVar != nil {
		ctx.ret = s.retVar.id.Offset
	}
	c.catches = append(c.catches, ctx)
	s.block.Compile(c)
	c.catches = c.catches[:len(c.catches)-1]
	c.builder.Mark(ctx.end)
	return c.handle(start)
}

func (s *PrintStmt) Compile(c *Compiler) CompiledStmt {
	start := c.here()
	c.emit(vm.ZInst{Op: vm.OpPrint, Args: c.exprSlots(s.args)})
	return c.handle(start)
}

func (s *InitStmt) Compile(c *Compiler) CompiledStmt {
	start := c.here()
	for _, id := range s.ids {
		switch t := id.Type.(type) {
		case *vm.RecordType:
			c.emit(vm.ZInst{Op: vm.OpNewRecord, V1: id.Offset, T: t})
		case *vm.VectorType:
			c.emit(vm.ZInst{Op: vm.OpNewVector, V1: id.Offset, T: t})
		case *vm.TableType:
			c.errorf("table %s is not supported in compiled code", id.Name)
		default:
			c.emit(vm.ZInst{Op: vm.OpInitSlot, V1: id.Offset, T: t})
		}
	}
	return c.handle(start)
}

func (s *NullStmt) Compile(*Compiler) CompiledStmt { return NoStmt }

// ---------------------------------------------------------------------------
// Peephole optimization
// ---------------------------------------------------------------------------

// peephole threads jumps through gotos, drops jumps to the following
// instruction and removes the resulting no-ops, until nothing changes.
func peephole(insts []vm.ZInst) []vm.ZInst {
	for changed := true; changed; {
		changed = false

		for i := range insts {
			in := &insts[i]
			t := in.Target()
			if t < 0 {
				continue
			}
			if final := threadJump(insts, t); final != t {
				in.SetTarget(final)
				changed = true
			}
		}

		for i := range insts {
			in := &insts[i]
			switch in.Op {
			case vm.OpGoto, vm.OpIfFalse, vm.OpIfTrue:
				if in.Target() == i+1 {
					*in = vm.ZInst{Op: vm.OpNop}
					changed = true
				}
			}
		}

		if out := removeNops(insts); len(out) != len(insts) {
			insts = out
			changed = true
		}
	}
	return insts
}

// threadJump follows a chain of gotos from t, stopping at a cycle.
func threadJump(insts []vm.ZInst, t int) int {
	seen := map[int]bool{t: true}
	for t < len(insts) && insts[t].Op == vm.OpGoto {
		next := insts[t].V1
		if seen[next] {
			break
		}
		seen[next] = true
		t = next
	}
	return t
}

func removeNops(insts []vm.ZInst) []vm.ZInst {
	newPC := make([]int, len(insts)+1)
	n := 0
	for i, in := range insts {
		newPC[i] = n
		if in.Op != vm.OpNop {
			n++
		}
	}
	newPC[len(insts)] = n
	if n == len(insts) {
		return insts
	}

	out := make([]vm.ZInst, 0, n)
	for _, in := range insts {
		if in.Op == vm.OpNop {
			continue
		}
		if t := in.Target(); t >= 0 {
			in.SetTarget(newPC[t])
		}
		out = append(out, in)
	}
	return out
}
