package vm

// Managed is implemented by reference-counted objects a ZVal can hold as
// a handle. Ref and Unref are explicit; nothing is released automatically
// when a bare ZVal goes out of scope.
type Managed interface {
	Ref()
	Unref()
	RefCount() int
}

// Obj is the reference count embedded in every boxed value. A new object
// starts with one reference owned by its creator.
//
// Types that own other values shadow Unref to release their contents when
// the count reaches zero.
type Obj struct {
	refs int32
}

func newObj() Obj { return Obj{refs: 1} }

// Ref takes an additional reference.
func (o *Obj) Ref() { o.refs++ }

// Unref drops a reference.
func (o *Obj) Unref() { o.release() }

// RefCount returns the current number of references.
func (o *Obj) RefCount() int { return int(o.refs) }

// release drops a reference and reports whether it was the last one.
// Dropping below zero is a double release and panics.
func (o *Obj) release() bool {
	o.refs--
	if o.refs < 0 {
		panic("vm: reference count underflow")
	}
	return o.refs == 0
}

// Ref is a nil-safe helper for optional handles.
func Ref(m Managed) {
	if m != nil {
		m.Ref()
	}
}

// Unref is a nil-safe helper for optional handles.
func Unref(m Managed) {
	if m != nil {
		m.Unref()
	}
}
