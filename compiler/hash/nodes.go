package hash

// ---------------------------------------------------------------------------
// Frozen hashing tree types.
//
// These are stripped-down parallels of the compiler's statement and
// expression nodes, with no provenance or access statistics and with frame
// slots instead of variable names. Two bodies that differ only in the names
// of their locals produce identical hashing trees.
// ---------------------------------------------------------------------------

// HNode is the interface implemented by all hashing tree nodes.
type HNode interface {
	hnode() // marker method
}

// ---------------------------------------------------------------------------
// Constant nodes
// ---------------------------------------------------------------------------

// Numeric constants carry their type so that enums and ports hash apart
// from plain integers.
type HBoolConst struct{ Value bool }
type HIntConst struct {
	Type  string
	Value int64
}
type HCountConst struct {
	Type  string
	Value uint64
}
type HDoubleConst struct {
	Type  string
	Value float64
}
type HStringConst struct{ Value string }

// HOtherConst is any other constant, by type and printed form.
type HOtherConst struct {
	Type string
	Text string
}

func (*HBoolConst) hnode()   {}
func (*HIntConst) hnode()    {}
func (*HCountConst) hnode()  {}
func (*HDoubleConst) hnode() {}
func (*HStringConst) hnode() {}
func (*HOtherConst) hnode()  {}

// ---------------------------------------------------------------------------
// Reference nodes
// ---------------------------------------------------------------------------

// HLocalRef references a frame slot. Depth 0 is the innermost function
// body; inlined bodies that have not been reduced open a new level.
type HLocalRef struct {
	Depth uint16
	Slot  uint16
	Type  string
}

// HFuncRef references a called function by name.
type HFuncRef struct {
	Name string
}

func (*HLocalRef) hnode() {}
func (*HFuncRef) hnode()  {}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

type HAssign struct {
	Target *HLocalRef
	Value  HNode
}

type HBinary struct {
	Op    string
	Left  HNode
	Right HNode
}

type HNot struct {
	Operand HNode
}

// HField covers rec$f, rec?$f and rec$f = v, told apart by Tag.
type HField struct {
	Tag    byte
	Record HNode
	Field  uint16
	Value  HNode // TagFieldAssign only
}

// HIndex covers v[i] and v[i] = x, told apart by Tag.
type HIndex struct {
	Tag    byte
	Vector HNode
	Index  HNode
	Value  HNode // TagIndexAssign only
}

type HSize struct {
	Operand HNode
}

type HCall struct {
	Func HNode
	Args []HNode
}

// HInline is a call site whose callee body has been copied in but not yet
// reduced into the caller.
type HInline struct {
	Callee    string
	NumParams int
	NumVars   int
	Args      []HNode
	Body      HNode
}

func (*HAssign) hnode() {}
func (*HBinary) hnode() {}
func (*HNot) hnode()    {}
func (*HField) hnode()  {}
func (*HIndex) hnode()  {}
func (*HSize) hnode()   {}
func (*HCall) hnode()   {}
func (*HInline) hnode() {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

type HList struct{ Stmts []HNode }
type HExprStmt struct{ Expr HNode }

type HIf struct {
	Cond HNode
	Then HNode
	Else HNode
}

type HWhile struct {
	CondPred HNode
	Cond     HNode
	Body     HNode
}

type HFor struct {
	Index  *HLocalRef
	Value  *HLocalRef
	Vector HNode
	Body   HNode
}

type HCase struct {
	Labels []HNode
	Body   HNode
}

type HSwitch struct {
	Value HNode
	Cases []*HCase
}

// HJump is next, break or fallthrough, by Tag.
type HJump struct{ Tag byte }

// HReturn has a nil Value for a bare return.
type HReturn struct{ Value HNode }

type HCatchReturn struct {
	Block  HNode
	RetVar *HLocalRef
}

type HPrint struct{ Args []HNode }
type HInit struct{ Targets []*HLocalRef }
type HNull struct{}

func (*HList) hnode()        {}
func (*HExprStmt) hnode()    {}
func (*HIf) hnode()          {}
func (*HWhile) hnode()       {}
func (*HFor) hnode()         {}
func (*HCase) hnode()        {}
func (*HSwitch) hnode()      {}
func (*HJump) hnode()        {}
func (*HReturn) hnode()      {}
func (*HCatchReturn) hnode() {}
func (*HPrint) hnode()       {}
func (*HInit) hnode()        {}
func (*HNull) hnode()        {}

// ---------------------------------------------------------------------------
// Top-level node
// ---------------------------------------------------------------------------

// HFunc is the top-level hashing node for a function body.
type HFunc struct {
	Name   string
	Params []string
	Result string
	Body   HNode
}

func (*HFunc) hnode() {}
