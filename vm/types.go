package vm

import (
	"fmt"
	"strings"
)

// TypeTag identifies the kind of a script type.
type TypeTag int

const (
	TypeVoid TypeTag = iota
	TypeBool
	TypeInt
	TypeCount
	TypeDouble
	TypeTime
	TypeInterval
	TypePort
	TypeEnum
	TypeString
	TypePattern
	TypeAddr
	TypeSubNet
	TypeFile
	TypeFunc
	TypeList
	TypeOpaque
	TypeTable
	TypeRecord
	TypeVector
	TypeType
	TypeAny
)

var typeTagNames = [...]string{
	TypeVoid:     "void",
	TypeBool:     "bool",
	TypeInt:      "int",
	TypeCount:    "count",
	TypeDouble:   "double",
	TypeTime:     "time",
	TypeInterval: "interval",
	TypePort:     "port",
	TypeEnum:     "enum",
	TypeString:   "string",
	TypePattern:  "pattern",
	TypeAddr:     "addr",
	TypeSubNet:   "subnet",
	TypeFile:     "file",
	TypeFunc:     "func",
	TypeList:     "list",
	TypeOpaque:   "opaque",
	TypeTable:    "table",
	TypeRecord:   "record",
	TypeVector:   "vector",
	TypeType:     "type",
	TypeAny:      "any",
}

// String returns the script-level name of the tag.
func (t TypeTag) String() string {
	if t >= 0 && int(t) < len(typeTagNames) {
		return typeTagNames[t]
	}
	return fmt.Sprintf("TypeTag(%d)", int(t))
}

// Type is implemented by every script type. Types are immutable once
// published, except for RecordType schema evolution through AddFields.
type Type interface {
	Tag() TypeTag
	String() string
}

// ---------------------------------------------------------------------------
// Base types
// ---------------------------------------------------------------------------

type baseType struct {
	tag TypeTag
}

func (b *baseType) Tag() TypeTag   { return b.tag }
func (b *baseType) String() string { return b.tag.String() }

// baseTypes is built by its initializer so that package-level vars calling
// BaseType see it filled in.
var baseTypes = func() (b [TypeAny + 1]*baseType) {
	for i := range b {
		b[i] = &baseType{tag: TypeTag(i)}
	}
	return b
}()

// BaseType returns the shared instance for a tag that needs no further
// description (scalars, string, addr, subnet, pattern, file, list, opaque,
// type, any, void). Composite tags must use their own constructors.
func BaseType(tag TypeTag) Type {
	switch tag {
	case TypeTable, TypeRecord, TypeVector, TypeFunc:
		panic("vm.BaseType: composite tag " + tag.String())
	}
	return baseTypes[tag]
}

// ---------------------------------------------------------------------------
// Vectors, tables, functions
// ---------------------------------------------------------------------------

// VectorType is vector of Yield.
type VectorType struct {
	yield Type
}

// NewVectorType returns the type vector of yield.
func NewVectorType(yield Type) *VectorType {
	return &VectorType{yield: yield}
}

func (v *VectorType) Tag() TypeTag   { return TypeVector }
func (v *VectorType) Yield() Type    { return v.yield }
func (v *VectorType) String() string { return "vector of " + v.yield.String() }

// TableType is table[Index] of Yield. A nil Yield makes it a set.
type TableType struct {
	Index []Type
	yield Type
}

// NewTableType builds a table (or set, when yield is nil) type.
func NewTableType(index []Type, yield Type) *TableType {
	return &TableType{Index: index, yield: yield}
}

func (t *TableType) Tag() TypeTag { return TypeTable }
func (t *TableType) Yield() Type  { return t.yield }
func (t *TableType) IsSet() bool  { return t.yield == nil }

func (t *TableType) String() string {
	idx := make([]string, len(t.Index))
	for i, it := range t.Index {
		idx[i] = it.String()
	}
	if t.yield == nil {
		return "set[" + strings.Join(idx, ",") + "]"
	}
	return "table[" + strings.Join(idx, ",") + "] of " + t.yield.String()
}

// FuncType describes a script function's signature.
type FuncType struct {
	Params []Type
	yield  Type
}

// NewFuncType builds a function type. A nil yield means the function
// returns nothing.
func NewFuncType(params []Type, yield Type) *FuncType {
	if yield == nil {
		yield = BaseType(TypeVoid)
	}
	return &FuncType{Params: params, yield: yield}
}

func (f *FuncType) Tag() TypeTag { return TypeFunc }
func (f *FuncType) Yield() Type  { return f.yield }

func (f *FuncType) String() string {
	ps := make([]string, len(f.Params))
	for i, p := range f.Params {
		ps[i] = p.String()
	}
	s := "function(" + strings.Join(ps, ", ") + ")"
	if f.yield.Tag() != TypeVoid {
		s += ": " + f.yield.String()
	}
	return s
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// DefaultFunc computes a field's default value. It returns an owned
// reference; callers release it once they have stored what they need.
type DefaultFunc func() (Val, error)

// ConstDefault returns a DefaultFunc handing out v each time. Aggregate
// defaults should use a constructor instead so instances do not share state.
func ConstDefault(v Val) DefaultFunc {
	return func() (Val, error) {
		v.Ref()
		return v, nil
	}
}

// FieldDecl declares one record field.
type FieldDecl struct {
	Name     string
	Type     Type
	Optional bool
	Default  DefaultFunc
}

// RecordType is a named schema of ordered fields. The managed bitmap is
// owned here and shared by reference with every ZRecord of the schema.
type RecordType struct {
	name    string
	fields  []*FieldDecl
	byName  map[string]int
	managed []bool
}

// NewRecordType builds a schema. Field names must be unique.
func NewRecordType(name string, fields ...*FieldDecl) *RecordType {
	rt := &RecordType{name: name, byName: make(map[string]int, len(fields))}
	rt.addFields(fields)
	return rt
}

func (rt *RecordType) addFields(fields []*FieldDecl) {
	for _, fd := range fields {
		if _, dup := rt.byName[fd.Name]; dup {
			panic(fmt.Sprintf("vm.RecordType %s: duplicate field %q", rt.name, fd.Name))
		}
		rt.byName[fd.Name] = len(rt.fields)
		rt.fields = append(rt.fields, fd)
		rt.managed = append(rt.managed, IsManagedType(fd.Type))
	}
}

// AddFields extends the schema. New fields must be optional or carry a
// default, since instances created earlier have no value for them.
func (rt *RecordType) AddFields(fields ...*FieldDecl) error {
	for _, fd := range fields {
		if !fd.Optional && fd.Default == nil {
			return fmt.Errorf("record %s: added field %q needs &optional or &default", rt.name, fd.Name)
		}
	}
	rt.addFields(fields)
	return nil
}

func (rt *RecordType) Tag() TypeTag { return TypeRecord }
func (rt *RecordType) Name() string { return rt.name }

// NumFields returns the current number of fields.
func (rt *RecordType) NumFields() int { return len(rt.fields) }

// Field returns the declaration of field i.
func (rt *RecordType) Field(i int) *FieldDecl { return rt.fields[i] }

// FieldType returns field i's declared type.
func (rt *RecordType) FieldType(i int) Type { return rt.fields[i].Type }

// FieldOffset returns the index of the named field, or -1.
func (rt *RecordType) FieldOffset(name string) int {
	if i, ok := rt.byName[name]; ok {
		return i
	}
	return -1
}

// ManagedFields exposes the schema-wide management bitmap. The slice must
// be treated as read-only.
func (rt *RecordType) ManagedFields() []bool { return rt.managed }

func (rt *RecordType) String() string {
	if rt.name != "" {
		return rt.name
	}
	fs := make([]string, len(rt.fields))
	for i, f := range rt.fields {
		fs[i] = f.Name + ": " + f.Type.String()
	}
	return "record { " + strings.Join(fs, "; ") + " }"
}

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

// IsManagedType reports whether values of t are held as reference-counted
// handles in a ZVal. Type values are held raw and are not managed.
func IsManagedType(t Type) bool {
	if t == nil {
		return false
	}
	switch t.Tag() {
	case TypeString, TypeAddr, TypeSubNet, TypeFile, TypeFunc, TypeList,
		TypeOpaque, TypePattern, TypeTable, TypeRecord, TypeVector, TypeAny:
		return true
	default:
		return false
	}
}

// IsAggregate reports whether t is a container type that InitStmt-style
// initialization creates empty rather than leaving nil.
func IsAggregate(t Type) bool {
	switch t.Tag() {
	case TypeRecord, TypeVector, TypeTable:
		return true
	}
	return false
}

// SameType reports structural equality, with records compared by identity.
func SameType(a, b Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Tag() != b.Tag() {
		return false
	}
	switch at := a.(type) {
	case *VectorType:
		return SameType(at.yield, b.(*VectorType).yield)
	case *RecordType:
		return at == b
	case *TableType:
		bt := b.(*TableType)
		if len(at.Index) != len(bt.Index) || !SameType(at.yield, bt.yield) {
			return false
		}
		for i := range at.Index {
			if !SameType(at.Index[i], bt.Index[i]) {
				return false
			}
		}
		return true
	case *FuncType:
		bt := b.(*FuncType)
		if len(at.Params) != len(bt.Params) || !SameType(at.yield, bt.yield) {
			return false
		}
		for i := range at.Params {
			if !SameType(at.Params[i], bt.Params[i]) {
				return false
			}
		}
		return true
	}
	return true
}
