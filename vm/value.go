package vm

import (
	"math"
)

// ZVal is the untyped value representation used in ZAM frames and in the
// record and vector containers.
//
// A ZVal does not know its own type. Every operation takes the expected
// type from surrounding context: a record's field types, a vector's yield
// type, or the static type of a compiled instruction.
//
// Layout:
//   - n: int, count/port (as uint64 bits), or double (IEEE 754 bits)
//   - h: the managed handle (a Val), a raw Type, or a compiler payload
//     (*ValVec, *IterInfo)
//
// Managed handles are reference counted by hand. A bare ZVal never
// releases anything on its own; the containers and the executor do so
// when their type information says it is required.
type ZVal struct {
	n uint64
	h any
}

// ValVec is a compiler-owned list of boxed values. Its memory management
// is explicit in the instructions that use it.
type ValVec []Val

// IterInfo is loop state for compiled "for" statements over vectors.
type IterInfo struct {
	Vec  *VectorVal
	Next int
}

// NewZVal extracts the representation of v interpreted as t. Managed
// handles gain a reference, owned by the returned ZVal.
func NewZVal(v Val, t Type) ZVal {
	var z ZVal
	if v == nil {
		return z
	}
	switch t.Tag() {
	case TypeBool, TypeInt, TypeEnum:
		z.n = uint64(v.(*IntVal).n)
	case TypeCount, TypePort:
		z.n = v.(*UintVal).n
	case TypeDouble, TypeTime, TypeInterval:
		z.n = math.Float64bits(v.(*DoubleVal).d)
	case TypeType:
		z.h = v.(*TypeVal).t
	case TypeVoid:
	default:
		v.Ref()
		z.h = v
	}
	return z
}

// IntZVal builds a ZVal holding a bool, int or enum.
func IntZVal(n int64) ZVal { return ZVal{n: uint64(n)} }

// UintZVal builds a ZVal holding a count or port.
func UintZVal(n uint64) ZVal { return ZVal{n: n} }

// DoubleZVal builds a ZVal holding a double, time or interval.
func DoubleZVal(d float64) ZVal { return ZVal{n: math.Float64bits(d)} }

// BoolZVal builds a ZVal holding a bool.
func BoolZVal(b bool) ZVal {
	if b {
		return ZVal{n: 1}
	}
	return ZVal{}
}

// ManagedZVal wraps an already-owned handle. No reference is added: the
// caller's reference moves into the ZVal.
func ManagedZVal(v Val) ZVal {
	if v == nil {
		return ZVal{}
	}
	return ZVal{h: v}
}

// TypeZVal holds a raw type.
func TypeZVal(t Type) ZVal { return ZVal{h: t} }

// ValVecZVal holds a compiler value vector.
func ValVecZVal(vv *ValVec) ZVal { return ZVal{h: vv} }

// IterZVal holds loop iteration state.
func IterZVal(it *IterInfo) ZVal { return ZVal{h: it} }

func (z ZVal) Int() int64      { return int64(z.n) }
func (z ZVal) Uint() uint64    { return z.n }
func (z ZVal) Double() float64 { return math.Float64frombits(z.n) }
func (z ZVal) Bool() bool      { return z.n != 0 }

// Managed returns the handle as a value, or nil.
func (z ZVal) Managed() Val {
	v, _ := z.h.(Val)
	return v
}

func (z ZVal) StringVal() *StringVal {
	v, _ := z.h.(*StringVal)
	return v
}

func (z ZVal) AddrVal() *AddrVal {
	v, _ := z.h.(*AddrVal)
	return v
}

func (z ZVal) SubNetVal() *SubNetVal {
	v, _ := z.h.(*SubNetVal)
	return v
}

func (z ZVal) FileVal() *FileVal {
	v, _ := z.h.(*FileVal)
	return v
}

func (z ZVal) FuncVal() *FuncVal {
	v, _ := z.h.(*FuncVal)
	return v
}

func (z ZVal) ListVal() *ListVal {
	v, _ := z.h.(*ListVal)
	return v
}

func (z ZVal) OpaqueVal() *OpaqueVal {
	v, _ := z.h.(*OpaqueVal)
	return v
}

func (z ZVal) PatternVal() *PatternVal {
	v, _ := z.h.(*PatternVal)
	return v
}

func (z ZVal) TableVal() *TableVal {
	v, _ := z.h.(*TableVal)
	return v
}

func (z ZVal) RecordVal() *RecordVal {
	v, _ := z.h.(*RecordVal)
	return v
}

func (z ZVal) VectorVal() *VectorVal {
	v, _ := z.h.(*VectorVal)
	return v
}

func (z ZVal) TypeVal() Type {
	t, _ := z.h.(Type)
	return t
}

func (z ZVal) AnyVal() Val { return z.Managed() }

func (z ZVal) ValVec() *ValVec {
	v, _ := z.h.(*ValVec)
	return v
}

func (z ZVal) IterInfo() *IterInfo {
	v, _ := z.h.(*IterInfo)
	return v
}

// IsNil reports whether, read as t, the value is a nil managed handle.
// The answer is meaningless for scalar types; callers must not ask.
func (z ZVal) IsNil(t Type) bool {
	return z.h == nil
}

// ToVal boxes the value as t. The result is a fresh owning reference: a
// new box for scalars, an extra reference for managed handles. Nil handles
// and void yield nil.
func (z ZVal) ToVal(t Type) Val {
	switch t.Tag() {
	case TypeBool, TypeInt, TypeEnum:
		return NewIntOfType(int64(z.n), t)
	case TypeCount, TypePort:
		return NewUintOfType(z.n, t)
	case TypeDouble, TypeTime, TypeInterval:
		return NewDoubleOfType(math.Float64frombits(z.n), t)
	case TypeType:
		if tt, ok := z.h.(Type); ok {
			return NewTypeVal(tt)
		}
		return nil
	case TypeVoid:
		return nil
	}
	v := z.Managed()
	if v == nil {
		return nil
	}
	v.Ref()
	return v
}

// DeleteManagedType releases the managed handle, if any, and clears it.
func DeleteManagedType(z *ZVal) {
	if m, ok := z.h.(Managed); ok {
		m.Unref()
	}
	z.h = nil
}

// RefManaged adds a reference to the handle, if any.
func RefManaged(z ZVal) {
	if m, ok := z.h.(Managed); ok {
		m.Ref()
	}
}
