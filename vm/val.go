package vm

import (
	"fmt"
	"io"
	"math"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
)

// Val is a boxed script value: reference counted and aware of its type.
type Val interface {
	Managed
	Type() Type
	String() string
}

// Callable is the implementation behind a FuncVal. args are borrowed; the
// result is an owned reference (nil for functions without a result).
type Callable interface {
	Call(env *Env, args []Val) (Val, error)
}

// ---------------------------------------------------------------------------
// Scalars
// ---------------------------------------------------------------------------

// IntVal holds bool, int and enum values.
type IntVal struct {
	Obj
	t Type
	n int64
}

func NewBool(b bool) *IntVal {
	var n int64
	if b {
		n = 1
	}
	return &IntVal{Obj: newObj(), t: BaseType(TypeBool), n: n}
}

func NewInt(n int64) *IntVal { return &IntVal{Obj: newObj(), t: BaseType(TypeInt), n: n} }

// NewIntOfType boxes n as t, which must be bool, int or enum.
func NewIntOfType(n int64, t Type) *IntVal { return &IntVal{Obj: newObj(), t: t, n: n} }

func (v *IntVal) Type() Type { return v.t }
func (v *IntVal) Int() int64 { return v.n }
func (v *IntVal) Bool() bool { return v.n != 0 }

func (v *IntVal) String() string {
	if v.t.Tag() == TypeBool {
		if v.n != 0 {
			return "T"
		}
		return "F"
	}
	return strconv.FormatInt(v.n, 10)
}

// UintVal holds count and port values.
type UintVal struct {
	Obj
	t Type
	n uint64
}

func NewCount(n uint64) *UintVal { return &UintVal{Obj: newObj(), t: BaseType(TypeCount), n: n} }

// NewUintOfType boxes n as t, which must be count or port.
func NewUintOfType(n uint64, t Type) *UintVal { return &UintVal{Obj: newObj(), t: t, n: n} }

func (v *UintVal) Type() Type     { return v.t }
func (v *UintVal) Uint() uint64   { return v.n }
func (v *UintVal) String() string { return strconv.FormatUint(v.n, 10) }

// DoubleVal holds double, time and interval values.
type DoubleVal struct {
	Obj
	t Type
	d float64
}

func NewDouble(d float64) *DoubleVal { return &DoubleVal{Obj: newObj(), t: BaseType(TypeDouble), d: d} }

// NewDoubleOfType boxes d as t, which must be double, time or interval.
func NewDoubleOfType(d float64, t Type) *DoubleVal { return &DoubleVal{Obj: newObj(), t: t, d: d} }

func (v *DoubleVal) Type() Type      { return v.t }
func (v *DoubleVal) Double() float64 { return v.d }

func (v *DoubleVal) String() string {
	if v.d == math.Trunc(v.d) && math.Abs(v.d) < 1e15 {
		return strconv.FormatFloat(v.d, 'f', 1, 64)
	}
	return strconv.FormatFloat(v.d, 'g', -1, 64)
}

// TypeVal wraps a type as a value. ZVals hold the Type itself, unmanaged.
type TypeVal struct {
	Obj
	t Type
}

func NewTypeVal(t Type) *TypeVal { return &TypeVal{Obj: newObj(), t: t} }

func (v *TypeVal) Type() Type     { return BaseType(TypeType) }
func (v *TypeVal) Value() Type    { return v.t }
func (v *TypeVal) String() string { return v.t.String() }

// ---------------------------------------------------------------------------
// Managed leaf values
// ---------------------------------------------------------------------------

type StringVal struct {
	Obj
	s string
}

func NewString(s string) *StringVal { return &StringVal{Obj: newObj(), s: s} }

func (v *StringVal) Type() Type     { return BaseType(TypeString) }
func (v *StringVal) Str() string    { return v.s }
func (v *StringVal) Len() int       { return len(v.s) }
func (v *StringVal) String() string { return v.s }

type AddrVal struct {
	Obj
	a netip.Addr
}

func NewAddr(a netip.Addr) *AddrVal { return &AddrVal{Obj: newObj(), a: a} }

// ParseAddr parses a textual IPv4 or IPv6 address.
func ParseAddr(s string) (*AddrVal, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return nil, fmt.Errorf("bad address %q: %w", s, err)
	}
	return NewAddr(a), nil
}

func (v *AddrVal) Type() Type       { return BaseType(TypeAddr) }
func (v *AddrVal) Addr() netip.Addr { return v.a }
func (v *AddrVal) String() string   { return v.a.String() }

type SubNetVal struct {
	Obj
	p netip.Prefix
}

func NewSubNet(p netip.Prefix) *SubNetVal { return &SubNetVal{Obj: newObj(), p: p.Masked()} }

// ParseSubNet parses CIDR notation.
func ParseSubNet(s string) (*SubNetVal, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return nil, fmt.Errorf("bad subnet %q: %w", s, err)
	}
	return NewSubNet(p), nil
}

func (v *SubNetVal) Type() Type               { return BaseType(TypeSubNet) }
func (v *SubNetVal) Prefix() netip.Prefix     { return v.p }
func (v *SubNetVal) Contains(a *AddrVal) bool { return v.p.Contains(a.a) }
func (v *SubNetVal) String() string           { return v.p.String() }

// PatternVal is a compiled regular expression.
type PatternVal struct {
	Obj
	src   string
	re    *regexp2.Regexp
	exact *regexp2.Regexp
}

// NewPattern compiles src. Matching uses .NET-style semantics from regexp2.
func NewPattern(src string) (*PatternVal, error) {
	re, err := regexp2.Compile(src, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("bad pattern /%s/: %w", src, err)
	}
	exact, err := regexp2.Compile(`^(?:`+src+`)$`, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("bad pattern /%s/: %w", src, err)
	}
	return &PatternVal{Obj: newObj(), src: src, re: re, exact: exact}, nil
}

func (v *PatternVal) Type() Type     { return BaseType(TypePattern) }
func (v *PatternVal) Source() string { return v.src }
func (v *PatternVal) String() string { return "/" + v.src + "/" }

// MatchExactly reports whether the whole of s matches.
func (v *PatternVal) MatchExactly(s string) bool {
	ok, err := v.exact.MatchString(s)
	return err == nil && ok
}

// Search reports whether s contains a match.
func (v *PatternVal) Search(s string) bool {
	ok, err := v.re.MatchString(s)
	return err == nil && ok
}

// FileVal is an output sink.
type FileVal struct {
	Obj
	name string
	w    io.Writer
}

func NewFile(name string, w io.Writer) *FileVal { return &FileVal{Obj: newObj(), name: name, w: w} }

func (v *FileVal) Type() Type     { return BaseType(TypeFile) }
func (v *FileVal) Name() string   { return v.name }
func (v *FileVal) String() string { return v.name }

func (v *FileVal) Write(s string) error {
	if v.w == nil {
		return fmt.Errorf("file %s: not open for writing", v.name)
	}
	_, err := io.WriteString(v.w, s)
	return err
}

// FuncVal is a function value. Its implementation can be swapped when a
// body is replaced by compiled code.
type FuncVal struct {
	Obj
	name string
	t    *FuncType
	impl Callable
}

func NewFunc(name string, t *FuncType, impl Callable) *FuncVal {
	return &FuncVal{Obj: newObj(), name: name, t: t, impl: impl}
}

func (v *FuncVal) Type() Type          { return v.t }
func (v *FuncVal) FuncType() *FuncType { return v.t }
func (v *FuncVal) Name() string        { return v.name }
func (v *FuncVal) Impl() Callable      { return v.impl }
func (v *FuncVal) SetImpl(c Callable)  { v.impl = c }
func (v *FuncVal) String() string      { return v.name }

// Call invokes the function. args are borrowed.
func (v *FuncVal) Call(env *Env, args []Val) (Val, error) {
	if v.impl == nil {
		return nil, fmt.Errorf("function %s has no body", v.name)
	}
	return v.impl.Call(env, args)
}

// OpaqueVal carries host data the script cannot look inside.
type OpaqueVal struct {
	Obj
	kind string
	Data any
}

func NewOpaque(kind string, data any) *OpaqueVal {
	return &OpaqueVal{Obj: newObj(), kind: kind, Data: data}
}

func (v *OpaqueVal) Type() Type     { return BaseType(TypeOpaque) }
func (v *OpaqueVal) Kind() string   { return v.kind }
func (v *OpaqueVal) String() string { return "<opaque of " + v.kind + ">" }

// ---------------------------------------------------------------------------
// Lists and tables
// ---------------------------------------------------------------------------

// ListVal owns an ordered list of values.
type ListVal struct {
	Obj
	vals []Val
}

func NewList() *ListVal { return &ListVal{Obj: newObj()} }

func (v *ListVal) Type() Type    { return BaseType(TypeList) }
func (v *ListVal) Len() int      { return len(v.vals) }
func (v *ListVal) Idx(i int) Val { return v.vals[i] }

// Append takes ownership of e.
func (v *ListVal) Append(e Val) { v.vals = append(v.vals, e) }

func (v *ListVal) Unref() {
	if v.release() {
		for _, e := range v.vals {
			Unref(e)
		}
		v.vals = nil
	}
}

func (v *ListVal) String() string {
	parts := make([]string, len(v.vals))
	for i, e := range v.vals {
		parts[i] = ValString(e)
	}
	return strings.Join(parts, ", ")
}

type tableEntry struct {
	key Val
	val Val
}

// TableVal maps single-valued keys to values (or to nothing, for sets).
type TableVal struct {
	Obj
	t       *TableType
	entries map[string]*tableEntry
}

func NewTable(t *TableType) *TableVal {
	return &TableVal{Obj: newObj(), t: t, entries: make(map[string]*tableEntry)}
}

func (v *TableVal) Type() Type { return v.t }
func (v *TableVal) Len() int   { return len(v.entries) }

func tableKey(k Val) string { return k.Type().Tag().String() + ":" + k.String() }

// Assign stores val under key. key is borrowed; val's reference is taken
// over (it may be nil for sets).
func (v *TableVal) Assign(key, val Val) {
	hk := tableKey(key)
	if old, ok := v.entries[hk]; ok {
		Unref(old.val)
		old.val = val
		return
	}
	key.Ref()
	v.entries[hk] = &tableEntry{key: key, val: val}
}

// Lookup returns a borrowed reference to the value for key.
func (v *TableVal) Lookup(key Val) (Val, bool) {
	e, ok := v.entries[tableKey(key)]
	if !ok {
		return nil, false
	}
	return e.val, true
}

// Remove deletes key, reporting whether it was present.
func (v *TableVal) Remove(key Val) bool {
	hk := tableKey(key)
	e, ok := v.entries[hk]
	if !ok {
		return false
	}
	delete(v.entries, hk)
	e.key.Unref()
	Unref(e.val)
	return true
}

func (v *TableVal) Unref() {
	if v.release() {
		for hk, e := range v.entries {
			e.key.Unref()
			Unref(e.val)
			delete(v.entries, hk)
		}
	}
}

func (v *TableVal) String() string {
	keys := make([]string, 0, len(v.entries))
	for hk := range v.entries {
		keys = append(keys, hk)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, hk := range keys {
		e := v.entries[hk]
		if e.val == nil {
			parts[i] = e.key.String()
		} else {
			parts[i] = "[" + e.key.String() + "] = " + ValString(e.val)
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// ValString formats v for printing. An unset value prints as
// <uninitialized>.
func ValString(v Val) string {
	if v == nil {
		return "<uninitialized>"
	}
	return v.String()
}

// ValEqual compares two values of compatible types by content. Records,
// vectors, tables, files and opaques compare by identity.
func ValEqual(a, b Val) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case *IntVal:
		bv, ok := b.(*IntVal)
		return ok && av.n == bv.n
	case *UintVal:
		bv, ok := b.(*UintVal)
		return ok && av.n == bv.n
	case *DoubleVal:
		bv, ok := b.(*DoubleVal)
		return ok && av.d == bv.d
	case *StringVal:
		bv, ok := b.(*StringVal)
		return ok && av.s == bv.s
	case *AddrVal:
		bv, ok := b.(*AddrVal)
		return ok && av.a == bv.a
	case *SubNetVal:
		bv, ok := b.(*SubNetVal)
		return ok && av.p == bv.p
	case *PatternVal:
		bv, ok := b.(*PatternVal)
		return ok && av.src == bv.src
	case *TypeVal:
		bv, ok := b.(*TypeVal)
		return ok && SameType(av.t, bv.t)
	case *FuncVal:
		bv, ok := b.(*FuncVal)
		return ok && av == bv
	}
	return a == b
}
