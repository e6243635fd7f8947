package vm

import (
	"fmt"
	"strings"
)

// ZRecord is the field store behind a RecordVal.
//
// present distinguishes an unset optional field from one set to nil. The
// management bitmap belongs to the schema and is read through rt, never
// copied or written here.
type ZRecord struct {
	zvec    []ZVal
	host    *RecordVal
	rt      *RecordType
	present []bool
}

// NewZRecord sizes a store to the schema's current field count. All fields
// start absent.
func NewZRecord(host *RecordVal, rt *RecordType) *ZRecord {
	n := rt.NumFields()
	return &ZRecord{
		zvec:    make([]ZVal, n),
		host:    host,
		rt:      rt,
		present: make([]bool, n),
	}
}

func (zr *ZRecord) Host() *RecordVal { return zr.host }
func (zr *ZRecord) Size() int        { return len(zr.zvec) }

// Assign stores v in field, taking over v's reference. A present managed
// occupant is released first.
func (zr *ZRecord) Assign(field int, v ZVal) {
	if zr.present[field] && zr.IsManaged(field) {
		DeleteManagedType(&zr.zvec[field])
	}
	zr.zvec[field] = v
	zr.present[field] = true
}

// SetField marks field present and returns its slot. The caller handles
// reference counting for whatever it writes there.
func (zr *ZRecord) SetField(field int) *ZVal {
	zr.present[field] = true
	return &zr.zvec[field]
}

// RefField adds a reference to field's managed handle for a caller taking
// a second owning reference.
func (zr *ZRecord) RefField(field int) { RefManaged(zr.zvec[field]) }

// Lookup returns field's slot, installing the declared default if the
// field is absent. If there is no default the returned error wraps
// ErrFieldMissing and the slot content is undefined.
func (zr *ZRecord) Lookup(field int) (*ZVal, error) {
	if !zr.present[field] {
		if err := zr.SetToDefault(field); err != nil {
			return &zr.zvec[field], err
		}
	}
	return &zr.zvec[field], nil
}

// NthField boxes field as its declared type. It returns nil when the field
// is absent and has no default, or is a nil managed value.
func (zr *ZRecord) NthField(field int) Val {
	z, err := zr.Lookup(field)
	if err != nil {
		return nil
	}
	return z.ToVal(zr.rt.FieldType(field))
}

// DeleteField releases field if managed and marks it absent.
func (zr *ZRecord) DeleteField(field int) {
	if zr.present[field] && zr.IsManaged(field) {
		DeleteManagedType(&zr.zvec[field])
	}
	zr.zvec[field] = ZVal{}
	zr.present[field] = false
}

// HasField reports whether field holds a value.
func (zr *ZRecord) HasField(field int) bool { return zr.present[field] }

// IsManaged reports whether field's type is reference counted. The answer
// comes from the schema and is shared by all its instances.
func (zr *ZRecord) IsManaged(field int) bool { return zr.rt.managed[field] }

// FieldType returns field's declared type.
func (zr *ZRecord) FieldType(field int) Type { return zr.rt.FieldType(field) }

// SetToDefault installs field's declared default. It leaves the field
// absent and returns an error if the schema declares none or the default
// cannot be computed.
func (zr *ZRecord) SetToDefault(field int) error {
	fd := zr.rt.Field(field)
	if fd.Default == nil {
		return &FieldError{Record: zr.rt.Name(), Field: fd.Name}
	}
	v, err := fd.Default()
	if err != nil {
		return &FieldError{Record: zr.rt.Name(), Field: fd.Name, Err: err}
	}
	zr.zvec[field] = NewZVal(v, fd.Type)
	Unref(v)
	zr.present[field] = true
	return nil
}

// Grow extends storage after the schema gained fields. New fields start
// absent.
func (zr *ZRecord) Grow(newSize int) {
	for len(zr.zvec) < newSize {
		zr.zvec = append(zr.zvec, ZVal{})
		zr.present = append(zr.present, false)
	}
}

func (zr *ZRecord) deleteManagedMembers() {
	for i := range zr.zvec {
		if zr.present[i] && zr.IsManaged(i) {
			DeleteManagedType(&zr.zvec[i])
		}
	}
}

// ---------------------------------------------------------------------------
// RecordVal
// ---------------------------------------------------------------------------

// RecordVal is the script-level record. Its fields live in a ZRecord.
type RecordVal struct {
	Obj
	rt  *RecordType
	rec *ZRecord
}

// NewRecordVal creates a record with every field absent.
func NewRecordVal(rt *RecordType) *RecordVal {
	rv := &RecordVal{Obj: newObj(), rt: rt}
	rv.rec = NewZRecord(rv, rt)
	return rv
}

func (rv *RecordVal) Type() Type              { return rv.rt }
func (rv *RecordVal) RecordType() *RecordType { return rv.rt }
func (rv *RecordVal) RawFields() *ZRecord     { return rv.rec }
func (rv *RecordVal) NumFields() int          { return rv.rec.Size() }

// SyncSchema grows the field store to match the schema after AddFields.
func (rv *RecordVal) SyncSchema() {
	if n := rv.rt.NumFields(); n > rv.rec.Size() {
		rv.rec.Grow(n)
	}
}

// Assign stores v (borrowed) in field i. A nil v deletes the field.
func (rv *RecordVal) Assign(i int, v Val) {
	if v == nil {
		rv.rec.DeleteField(i)
		return
	}
	rv.rec.Assign(i, NewZVal(v, rv.rt.FieldType(i)))
}

// AssignByName is Assign addressed by field name.
func (rv *RecordVal) AssignByName(name string, v Val) error {
	i := rv.rt.FieldOffset(name)
	if i < 0 {
		return fmt.Errorf("record %s has no field %q", rv.rt.Name(), name)
	}
	rv.Assign(i, v)
	return nil
}

// GetField returns an owned reference to field i, applying defaults.
func (rv *RecordVal) GetField(i int) (Val, error) {
	z, err := rv.rec.Lookup(i)
	if err != nil {
		return nil, err
	}
	return z.ToVal(rv.rt.FieldType(i)), nil
}

// GetFieldByName is GetField addressed by field name.
func (rv *RecordVal) GetFieldByName(name string) (Val, error) {
	i := rv.rt.FieldOffset(name)
	if i < 0 {
		return nil, fmt.Errorf("record %s has no field %q", rv.rt.Name(), name)
	}
	return rv.GetField(i)
}

func (rv *RecordVal) HasField(i int) bool { return rv.rec.HasField(i) }
func (rv *RecordVal) DeleteField(i int)   { rv.rec.DeleteField(i) }

func (rv *RecordVal) Unref() {
	if rv.release() {
		rv.rec.deleteManagedMembers()
	}
}

func (rv *RecordVal) String() string {
	parts := make([]string, 0, rv.rec.Size())
	for i := 0; i < rv.rec.Size(); i++ {
		if !rv.rec.HasField(i) {
			continue
		}
		name := rv.rt.Field(i).Name
		v := rv.rec.zvec[i].ToVal(rv.rt.FieldType(i))
		if v == nil {
			parts = append(parts, name+"=<uninitialized>")
			continue
		}
		parts = append(parts, name+"="+v.String())
		v.Unref()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
