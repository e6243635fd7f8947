package compiler

import (
	"fmt"

	"github.com/2b45/zeek/vm"
)

// ---------------------------------------------------------------------------
// Statement tags
// ---------------------------------------------------------------------------

// StmtTag identifies a statement kind.
type StmtTag int

const (
	StmtList StmtTag = iota
	StmtExpr
	StmtIf
	StmtWhile
	StmtFor
	StmtSwitch
	StmtNext
	StmtBreak
	StmtFallthrough
	StmtReturn
	StmtCatchReturn
	StmtPrint
	StmtInit
	StmtNull
	StmtCompiled
)

var stmtTagNames = [...]string{
	StmtList:        "list",
	StmtExpr:        "expr",
	StmtIf:          "if",
	StmtWhile:       "while",
	StmtFor:         "for",
	StmtSwitch:      "switch",
	StmtNext:        "next",
	StmtBreak:       "break",
	StmtFallthrough: "fallthrough",
	StmtReturn:      "return",
	StmtCatchReturn: "catch-return",
	StmtPrint:       "print",
	StmtInit:        "init",
	StmtNull:        "null",
	StmtCompiled:    "compiled",
}

func (t StmtTag) String() string {
	if t >= 0 && int(t) < len(stmtTagNames) {
		return stmtTagNames[t]
	}
	return fmt.Sprintf("StmtTag(%d)", int(t))
}

// Flow says where control goes after a statement executes.
type Flow int

const (
	FlowNext Flow = iota
	FlowLoop // "next": continue with the enclosing loop
	FlowBreak
	FlowFallthrough
	FlowReturn
)

// ---------------------------------------------------------------------------
// Stmt
// ---------------------------------------------------------------------------

// Stmt is a node of a function body.
//
// A body moves through transformation stages: as parsed, reduced (by
// Reduce), inlined (call sites replaced by copies of callee bodies) and,
// optionally, compiled. Every node produced by a transformation records the
// source node it came from; Original follows that link.
type Stmt interface {
	Tag() StmtTag

	// Exec interprets the statement. Compiled bodies run through their
	// ZAM code instead.
	Exec(f *Frame) (Flow, error)

	// IsPure reports the absence of side effects.
	IsPure() bool

	// IsReduced reports whether the statement is already in canonical
	// form. DoReduce builds the canonical form; callers use Reduce.
	IsReduced(c *Reducer) bool
	DoReduce(c *Reducer) Stmt

	// NoFlowAfter reports that control never continues past the
	// statement. With ignoreBreak, "break" counts as continuing, as it
	// does inside a switch case.
	NoFlowAfter(ignoreBreak bool) bool

	// Duplicate returns a deep copy with fresh identities, so analysis
	// results attached per node are not shared between copies.
	Duplicate() Stmt

	// Inline replaces eligible call sites in place.
	Inline(inl Inliner)

	// Compile emits ZAM instructions for the statement.
	Compile(c *Compiler) CompiledStmt

	Traverse(cb TraversalCallback) TraversalCode

	// Original returns the source node this one was derived from, or the
	// node itself.
	Original() Stmt

	RegisterAccess(now float64)
	AccessCount() uint32
	LastAccess() float64

	IncrBPCount()
	DecrBPCount()
	BPCount() int

	String() string

	base() *stmtBase
}

// stmtBase holds what every statement carries regardless of kind.
type stmtBase struct {
	tag StmtTag

	// origin is the source node, already resolved through any chain. It
	// is written once when the node is created by a transformation.
	origin Stmt

	bpCount     int
	lastAccess  float64
	accessCount uint32
}

func newBase(tag StmtTag) stmtBase { return stmtBase{tag: tag} }

func (b *stmtBase) base() *stmtBase     { return b }
func (b *stmtBase) Tag() StmtTag        { return b.tag }
func (b *stmtBase) AccessCount() uint32 { return b.accessCount }
func (b *stmtBase) LastAccess() float64 { return b.lastAccess }
func (b *stmtBase) IncrBPCount()        { b.bpCount++ }
func (b *stmtBase) BPCount() int        { return b.bpCount }

func (b *stmtBase) DecrBPCount() {
	if b.bpCount == 0 {
		panic("compiler: breakpoint count underflow")
	}
	b.bpCount--
}

// RegisterAccess records an interpreted execution at logical time now.
func (b *stmtBase) RegisterAccess(now float64) {
	b.lastAccess = now
	b.accessCount++
}

// AccessStats formats the access statistics the way profile reports show
// them.
func AccessStats(s Stmt) string {
	return fmt.Sprintf("(%.06f/%d)", s.LastAccess(), s.AccessCount())
}

func (b *stmtBase) originOr(self Stmt) Stmt {
	if b.origin != nil {
		return b.origin
	}
	return self
}

// setOriginal links a new node to its source. Only the first link is
// kept.
func (b *stmtBase) setOriginal(from Stmt) {
	if b.origin == nil {
		b.origin = from.Original()
	}
}

// TransformMe links a node produced by reducing from back to from's
// provenance and returns it.
func TransformMe(to, from Stmt) Stmt {
	if to != from {
		to.base().setOriginal(from)
	}
	return to
}

// duplicated links a copy to the source's provenance.
func duplicated[S Stmt](dup S, src Stmt) S {
	dup.base().setOriginal(src)
	return dup
}

// Reduce returns s in canonical form: s itself if already reduced, a null
// statement if the reducer drops it, or a rebuilt replacement.
func Reduce(s Stmt, c *Reducer) Stmt {
	if c.ShouldOmit(s) {
		return TransformMe(NewNullStmt(), s)
	}
	if !c.remapping() && s.IsReduced(c) {
		return s
	}
	return TransformMe(s.DoReduce(c), s)
}

// CompiledStmt is the handle Compile returns: the index of the first
// instruction emitted for the statement.
type CompiledStmt struct {
	pc int
}

// NoStmt is the handle for statements that emitted nothing.
var NoStmt = CompiledStmt{pc: -1}

func (cs CompiledStmt) PC() int     { return cs.pc }
func (cs CompiledStmt) Valid() bool { return cs.pc >= 0 }

// ---------------------------------------------------------------------------
// Traversal
// ---------------------------------------------------------------------------

// TraversalCode steers a traversal.
type TraversalCode int

const (
	TCContinue  TraversalCode = iota
	TCAbortAll                // stop the whole traversal
	TCAbortStmt               // skip the current node's children
)

// TraversalCallback is invoked around every node of a traversal.
type TraversalCallback interface {
	PreStmt(s Stmt) TraversalCode
	PostStmt(s Stmt) TraversalCode
	PreExpr(e Expr) TraversalCode
	PostExpr(e Expr) TraversalCode
}

// BaseCallback continues everywhere. Embed it and override what you need.
type BaseCallback struct{}

func (BaseCallback) PreStmt(Stmt) TraversalCode  { return TCContinue }
func (BaseCallback) PostStmt(Stmt) TraversalCode { return TCContinue }
func (BaseCallback) PreExpr(Expr) TraversalCode  { return TCContinue }
func (BaseCallback) PostExpr(Expr) TraversalCode { return TCContinue }

// traverseStmt runs the pre/children/post protocol for a statement.
func traverseStmt(s Stmt, cb TraversalCallback, children func() TraversalCode) TraversalCode {
	switch tc := cb.PreStmt(s); tc {
	case TCAbortAll:
		return tc
	case TCAbortStmt:
		return TCContinue
	}
	if children != nil {
		if tc := children(); tc == TCAbortAll {
			return tc
		}
	}
	if tc := cb.PostStmt(s); tc == TCAbortAll {
		return tc
	}
	return TCContinue
}

func traverseExpr(e Expr, cb TraversalCallback, children ...Expr) TraversalCode {
	switch tc := cb.PreExpr(e); tc {
	case TCAbortAll:
		return tc
	case TCAbortStmt:
		return TCContinue
	}
	for _, c := range children {
		if c == nil {
			continue
		}
		if tc := c.Traverse(cb); tc == TCAbortAll {
			return tc
		}
	}
	if tc := cb.PostExpr(e); tc == TCAbortAll {
		return tc
	}
	return TCContinue
}

// traverseAll visits expressions then statements in order.
func traverseAll(cb TraversalCallback, exprs []Expr, stmts ...Stmt) TraversalCode {
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if tc := e.Traverse(cb); tc == TCAbortAll {
			return tc
		}
	}
	for _, s := range stmts {
		if s == nil {
			continue
		}
		if tc := s.Traverse(cb); tc == TCAbortAll {
			return tc
		}
	}
	return TCContinue
}

// ---------------------------------------------------------------------------
// Inlining hook
// ---------------------------------------------------------------------------

// Inliner decides, per call site, whether to substitute the callee body.
// It returns the replacement expression or the call itself.
type Inliner interface {
	CheckForInlining(call *CallExpr) Expr
}

// ---------------------------------------------------------------------------
// Frames for tree interpretation
// ---------------------------------------------------------------------------

// Frame holds the local variables of one interpreted activation. Every
// value in it is an owned reference.
type Frame struct {
	Env  *vm.Env
	vals []vm.Val
	ret  vm.Val
}

// NewFrame creates a frame with size empty slots.
func NewFrame(env *vm.Env, size int) *Frame {
	return &Frame{Env: env, vals: make([]vm.Val, size)}
}

// Get returns a borrowed reference to id's value, or nil if unset.
func (f *Frame) Get(id *ID) vm.Val {
	if id.Offset >= len(f.vals) {
		return nil
	}
	return f.vals[id.Offset]
}

// Set stores v, taking over its reference, and releases the old value.
func (f *Frame) Set(id *ID, v vm.Val) {
	for id.Offset >= len(f.vals) {
		f.vals = append(f.vals, nil)
	}
	vm.Unref(f.vals[id.Offset])
	f.vals[id.Offset] = v
}

// SetReturn records a return value, taking over its reference.
func (f *Frame) SetReturn(v vm.Val) {
	vm.Unref(f.ret)
	f.ret = v
}

// TakeReturn hands the return value to the caller.
func (f *Frame) TakeReturn() vm.Val {
	v := f.ret
	f.ret = nil
	return v
}

// Release drops every value the frame holds.
func (f *Frame) Release() {
	for i, v := range f.vals {
		vm.Unref(v)
		f.vals[i] = nil
	}
	vm.Unref(f.ret)
	f.ret = nil
}

func (f *Frame) now() float64 {
	if f.Env == nil {
		return 0
	}
	return f.Env.Now()
}
