package hash

import (
	"github.com/2b45/zeek/compiler"
	"github.com/2b45/zeek/vm"
)

// ---------------------------------------------------------------------------
// Normalization: compiler statement tree → frozen hashing tree
//
// Walks a function body and produces the hashing tree with frame slots for
// locals and names for called functions. A compiled body is normalized
// through the source body it was compiled from.
// ---------------------------------------------------------------------------

// normalizer holds state for the normalization walk.
type normalizer struct {
	scopes []map[*compiler.ID]uint16 // [0]=function, then one per unreduced inline
}

// NormalizeFunc transforms a script function into a frozen HFunc.
func NormalizeFunc(fn *compiler.ScriptFunc) *HFunc {
	n := &normalizer{}
	n.push(fn.Scope.Vars())

	params := fn.Scope.Params()
	hf := &HFunc{
		Name:   fn.Name,
		Params: make([]string, len(params)),
		Result: typeName(fn.ResultType()),
	}
	for i, p := range params {
		hf.Params[i] = typeName(p.Type)
	}

	body := fn.Body
	if z, ok := body.(*compiler.ZBody); ok {
		body = z.Original()
	}
	hf.Body = n.normalizeStmt(body)
	return hf
}

func (n *normalizer) push(vars []*compiler.ID) {
	m := make(map[*compiler.ID]uint16, len(vars))
	for _, id := range vars {
		m[id] = uint16(id.Offset)
	}
	n.scopes = append(n.scopes, m)
}

func (n *normalizer) pop() {
	n.scopes = n.scopes[:len(n.scopes)-1]
}

// ---------------------------------------------------------------------------
// Statement normalization
// ---------------------------------------------------------------------------

func (n *normalizer) normalizeStmt(stmt compiler.Stmt) HNode {
	switch s := stmt.(type) {
	case nil:
		return nil
	case *compiler.ListStmt:
		return &HList{Stmts: n.normalizeStmts(s.Stmts())}
	case *compiler.ExprStmt:
		return &HExprStmt{Expr: n.normalizeExpr(s.Expr())}
	case *compiler.IfStmt:
		return &HIf{
			Cond: n.normalizeExpr(s.Cond()),
			Then: n.normalizeStmt(s.Then()),
			Else: n.normalizeStmt(s.Else()),
		}
	case *compiler.WhileStmt:
		return &HWhile{
			CondPred: n.normalizeStmt(s.CondPred()),
			Cond:     n.normalizeExpr(s.Cond()),
			Body:     n.normalizeStmt(s.Body()),
		}
	case *compiler.ForStmt:
		return &HFor{
			Index:  n.resolveLocal(s.Index()),
			Value:  n.resolveLocal(s.Value()),
			Vector: n.normalizeExpr(s.Vec()),
			Body:   n.normalizeStmt(s.Body()),
		}
	case *compiler.SwitchStmt:
		cases := make([]*HCase, len(s.Cases()))
		for i, c := range s.Cases() {
			labels := make([]HNode, len(c.Labels))
			for j, l := range c.Labels {
				labels[j] = n.normalizeExpr(l)
			}
			cases[i] = &HCase{Labels: labels, Body: n.normalizeStmt(c.Body)}
		}
		return &HSwitch{Value: n.normalizeExpr(s.Value()), Cases: cases}
	case *compiler.NextStmt:
		return &HJump{Tag: TagNext}
	case *compiler.BreakStmt:
		return &HJump{Tag: TagBreak}
	case *compiler.FallthroughStmt:
		return &HJump{Tag: TagFallthrough}
	case *compiler.ReturnStmt:
		return &HReturn{Value: n.normalizeExpr(s.Expr())}
	case *compiler.CatchReturnStmt:
		hc := &HCatchReturn{Block: n.normalizeStmt(s.Block())}
		if rv := s.RetVar(); rv != nil {
			hc.RetVar = n.resolveLocal(rv.ID())
		}
		return hc
	case *compiler.PrintStmt:
		return &HPrint{Args: n.normalizeExprs(s.Args())}
	case *compiler.InitStmt:
		targets := make([]*HLocalRef, len(s.IDs()))
		for i, id := range s.IDs() {
			targets[i] = n.resolveLocal(id)
		}
		return &HInit{Targets: targets}
	case *compiler.ZBody:
		return n.normalizeStmt(s.Original())
	default:
		return &HNull{}
	}
}

func (n *normalizer) normalizeStmts(stmts []compiler.Stmt) []HNode {
	out := make([]HNode, len(stmts))
	for i, s := range stmts {
		out[i] = n.normalizeStmt(s)
	}
	return out
}

// ---------------------------------------------------------------------------
// Expression normalization
// ---------------------------------------------------------------------------

func (n *normalizer) normalizeExpr(expr compiler.Expr) HNode {
	switch e := expr.(type) {
	case nil:
		return nil
	case *compiler.ConstExpr:
		return normalizeConst(e.Value())
	case *compiler.NameExpr:
		return n.resolveLocal(e.ID())
	case *compiler.AssignExpr:
		return &HAssign{
			Target: n.resolveLocal(e.LHS().ID()),
			Value:  n.normalizeExpr(e.RHS()),
		}
	case *compiler.BinaryExpr:
		l, r := e.Operands()
		return &HBinary{Op: e.Op().String(), Left: n.normalizeExpr(l), Right: n.normalizeExpr(r)}
	case *compiler.NotExpr:
		return &HNot{Operand: n.normalizeExpr(e.Operand())}
	case *compiler.FieldExpr:
		return &HField{Tag: TagField, Record: n.normalizeExpr(e.Record()), Field: uint16(e.Field())}
	case *compiler.HasFieldExpr:
		return &HField{Tag: TagHasField, Record: n.normalizeExpr(e.Record()), Field: uint16(e.Field())}
	case *compiler.FieldAssignExpr:
		return &HField{
			Tag:    TagFieldAssign,
			Record: n.normalizeExpr(e.Record()),
			Field:  uint16(e.Field()),
			Value:  n.normalizeExpr(e.Value()),
		}
	case *compiler.IndexExpr:
		vec, idx := e.Operands()
		return &HIndex{Tag: TagIndex, Vector: n.normalizeExpr(vec), Index: n.normalizeExpr(idx)}
	case *compiler.IndexAssignExpr:
		vec, idx, val := e.Operands()
		return &HIndex{
			Tag:    TagIndexAssign,
			Vector: n.normalizeExpr(vec),
			Index:  n.normalizeExpr(idx),
			Value:  n.normalizeExpr(val),
		}
	case *compiler.SizeExpr:
		return &HSize{Operand: n.normalizeExpr(e.Operand())}
	case *compiler.CallExpr:
		return &HCall{Func: &HFuncRef{Name: e.Func().Name()}, Args: n.normalizeExprs(e.Args())}
	case *compiler.InlineExpr:
		return n.normalizeInline(e)
	default:
		return &HOtherConst{Type: "expr", Text: expr.String()}
	}
}

func (n *normalizer) normalizeExprs(exprs []compiler.Expr) []HNode {
	out := make([]HNode, len(exprs))
	for i, e := range exprs {
		out[i] = n.normalizeExpr(e)
	}
	return out
}

// normalizeInline opens a scope for the callee's variables while its body
// is walked. Arguments belong to the caller.
func (n *normalizer) normalizeInline(e *compiler.InlineExpr) *HInline {
	hi := &HInline{
		Callee:    e.Callee(),
		NumParams: len(e.Params()),
		NumVars:   len(e.Vars()),
		Args:      n.normalizeExprs(e.Args()),
	}
	n.push(e.Vars())
	hi.Body = n.normalizeStmt(e.Body())
	n.pop()
	return hi
}

func normalizeConst(v vm.Val) HNode {
	switch c := v.(type) {
	case *vm.IntVal:
		if c.Type().Tag() == vm.TypeBool {
			return &HBoolConst{Value: c.Bool()}
		}
		return &HIntConst{Type: typeName(c.Type()), Value: c.Int()}
	case *vm.UintVal:
		return &HCountConst{Type: typeName(c.Type()), Value: c.Uint()}
	case *vm.DoubleVal:
		return &HDoubleConst{Type: typeName(c.Type()), Value: c.Double()}
	case *vm.StringVal:
		return &HStringConst{Value: c.Str()}
	case nil:
		return &HOtherConst{}
	default:
		return &HOtherConst{Type: typeName(v.Type()), Text: v.String()}
	}
}

// ---------------------------------------------------------------------------
// Variable resolution → frame slots
// ---------------------------------------------------------------------------

// resolveLocal finds id in the innermost scope that declares it. An ID no
// scope declares keeps its own offset at a depth past the outermost scope.
func (n *normalizer) resolveLocal(id *compiler.ID) *HLocalRef {
	if id == nil {
		return nil
	}
	for depth := len(n.scopes) - 1; depth >= 0; depth-- {
		if slot, ok := n.scopes[depth][id]; ok {
			return &HLocalRef{
				Depth: uint16(len(n.scopes) - 1 - depth),
				Slot:  slot,
				Type:  typeName(id.Type),
			}
		}
	}
	return &HLocalRef{Depth: uint16(len(n.scopes)), Slot: uint16(id.Offset), Type: typeName(id.Type)}
}

func typeName(t vm.Type) string {
	if t == nil {
		return "void"
	}
	return t.String()
}
