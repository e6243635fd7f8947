package vm

import (
	"errors"
	"testing"
)

func connInfoType() *RecordType {
	return NewRecordType("conn_info",
		&FieldDecl{Name: "orig_bytes", Type: BaseType(TypeCount)},
		&FieldDecl{Name: "history", Type: BaseType(TypeString), Optional: true},
		&FieldDecl{Name: "service", Type: BaseType(TypeString), Optional: true},
	)
}

// ---------------------------------------------------------------------------
// Presence and lookup
// ---------------------------------------------------------------------------

func TestRecordMissingFieldScenario(t *testing.T) {
	rt := connInfoType()
	rv := NewRecordVal(rt)
	for i := 0; i < rt.NumFields(); i++ {
		if rv.HasField(i) {
			t.Fatalf("field %d present after construction", i)
		}
	}

	n := NewCount(1200)
	rv.Assign(0, n)
	n.Unref()
	svc := NewString("http")
	rv.Assign(2, svc)
	if svc.RefCount() != 2 {
		t.Fatalf("service ref count = %d, want 2", svc.RefCount())
	}

	if rv.HasField(1) {
		t.Error("HasField(1) = true, want false")
	}
	_, err := rv.RawFields().Lookup(1)
	if err == nil {
		t.Fatal("Lookup(1) should fail without a default")
	}
	if !errors.Is(err, ErrFieldMissing) {
		t.Errorf("error %v does not wrap ErrFieldMissing", err)
	}
	var fe *FieldError
	if !errors.As(err, &fe) || fe.Field != "history" || fe.Record != "conn_info" {
		t.Errorf("unexpected error detail: %v", err)
	}
	if rv.HasField(1) {
		t.Error("failed Lookup must not mark the field present")
	}

	rv.DeleteField(2)
	if svc.RefCount() != 1 {
		t.Errorf("service ref count after DeleteField = %d, want 1", svc.RefCount())
	}
	if rv.HasField(2) {
		t.Error("HasField(2) = true after DeleteField")
	}

	got, err := rv.GetField(0)
	if err != nil || got.(*UintVal).Uint() != 1200 {
		t.Errorf("GetField(0) = %v, %v", got, err)
	}
}

func TestRecordDefaults(t *testing.T) {
	dflt := NewString("-")
	rt := NewRecordType("r",
		&FieldDecl{Name: "a", Type: BaseType(TypeString), Optional: true, Default: ConstDefault(dflt)},
		&FieldDecl{Name: "b", Type: BaseType(TypeInt), Default: ConstDefault(NewInt(7))},
	)
	rv := NewRecordVal(rt)

	z, err := rv.RawFields().Lookup(0)
	if err != nil {
		t.Fatalf("Lookup(0): %v", err)
	}
	if z.StringVal() != dflt {
		t.Error("default not installed")
	}
	if !rv.HasField(0) {
		t.Error("default installation should mark the field present")
	}
	if dflt.RefCount() != 2 {
		t.Errorf("default ref count = %d, want 2", dflt.RefCount())
	}

	v := rv.RawFields().NthField(1)
	if v == nil || v.(*IntVal).Int() != 7 {
		t.Errorf("NthField(1) = %v, want 7", v)
	}

	rv.Unref()
	if dflt.RefCount() != 1 {
		t.Errorf("default ref count after release = %d, want 1", dflt.RefCount())
	}
}

func TestRecordDefaultFailure(t *testing.T) {
	errBoom := errors.New("boom")
	rt := NewRecordType("r", &FieldDecl{
		Name:    "a",
		Type:    BaseType(TypeString),
		Default: func() (Val, error) { return nil, errBoom },
	})
	rv := NewRecordVal(rt)

	_, err := rv.GetField(0)
	if !errors.Is(err, errBoom) || !errors.Is(err, ErrFieldMissing) {
		t.Errorf("GetField error = %v, want boom and ErrFieldMissing", err)
	}
	if rv.HasField(0) {
		t.Error("failed default must leave the field absent")
	}
	if rv.RawFields().NthField(0) != nil {
		t.Error("NthField should be nil when no value can be produced")
	}
}

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

func TestRecordAssignReleasesPrevious(t *testing.T) {
	rv := NewRecordVal(connInfoType())
	a := NewString("a")
	b := NewString("b")
	rv.Assign(1, a)
	rv.Assign(1, b)
	if a.RefCount() != 1 {
		t.Errorf("a ref count = %d, want 1", a.RefCount())
	}
	rv.Assign(1, nil)
	if b.RefCount() != 1 || rv.HasField(1) {
		t.Errorf("assigning nil should delete: ref count %d", b.RefCount())
	}
}

func TestRecordReleaseDropsManagedFields(t *testing.T) {
	inner := NewRecordVal(connInfoType())
	outerT := NewRecordType("outer",
		&FieldDecl{Name: "c", Type: inner.RecordType(), Optional: true},
	)
	outer := NewRecordVal(outerT)
	outer.Assign(0, inner)
	if inner.RefCount() != 2 {
		t.Fatalf("inner ref count = %d, want 2", inner.RefCount())
	}
	outer.Unref()
	if inner.RefCount() != 1 {
		t.Errorf("inner ref count = %d after outer release, want 1", inner.RefCount())
	}
}

func TestRecordManagedBitmapIsShared(t *testing.T) {
	rt := connInfoType()
	r1 := NewRecordVal(rt).RawFields()
	r2 := NewRecordVal(rt).RawFields()
	for i := 0; i < rt.NumFields(); i++ {
		if r1.IsManaged(i) != r2.IsManaged(i) {
			t.Errorf("field %d classified differently across instances", i)
		}
	}
	if r1.IsManaged(0) || !r1.IsManaged(1) {
		t.Error("wrong management classification")
	}
}

// ---------------------------------------------------------------------------
// Schema evolution
// ---------------------------------------------------------------------------

func TestRecordSchemaGrowth(t *testing.T) {
	rt := connInfoType()
	rv := NewRecordVal(rt)

	if err := rt.AddFields(&FieldDecl{Name: "required", Type: BaseType(TypeInt)}); err == nil {
		t.Error("adding a required field should fail")
	}
	if err := rt.AddFields(&FieldDecl{Name: "tags", Type: BaseType(TypeString), Optional: true}); err != nil {
		t.Fatalf("AddFields: %v", err)
	}

	rv.SyncSchema()
	if rv.NumFields() != 4 {
		t.Fatalf("NumFields() = %d, want 4", rv.NumFields())
	}
	if rv.HasField(3) {
		t.Error("added field should start absent")
	}
	if !rv.RawFields().IsManaged(3) {
		t.Error("schema bitmap growth should be visible through instances")
	}
	if err := rv.AssignByName("tags", NewString("x")); err != nil {
		t.Fatal(err)
	}
	v, err := rv.GetFieldByName("tags")
	if err != nil || v.String() != "x" {
		t.Errorf("GetFieldByName = %v, %v", v, err)
	}
	if _, err := rv.GetFieldByName("nope"); err == nil {
		t.Error("unknown field should fail")
	}
}

func TestRecordString(t *testing.T) {
	rv := NewRecordVal(connInfoType())
	rv.Assign(0, NewCount(3))
	rv.Assign(2, NewString("dns"))
	if got := rv.String(); got != "[orig_bytes=3, service=dns]" {
		t.Errorf("String() = %q", got)
	}
}
