package vm

import "strings"

// ZVector is the element store behind a VectorVal.
//
// It keeps two yield types. generalYT is the element type once known.
// managedYT equals generalYT when that type needs reference counting and
// is nil otherwise; when it is nil no release logic runs on teardown,
// growth, overwrite or removal.
//
// host is a back-reference to the owning VectorVal. The vector owns the
// ZVector; the ZVector never takes a reference on the vector.
type ZVector struct {
	zvec      []ZVal
	host      *VectorVal
	managedYT Type
	generalYT Type
}

// NewZVector creates a store with n zeroed elements. yt may be nil for
// vectors whose element type is not yet known.
func NewZVector(host *VectorVal, yt Type, n int) *ZVector {
	zv := &ZVector{zvec: make([]ZVal, n), host: host}
	if yt != nil {
		zv.generalYT = yt
		if IsManagedType(yt) {
			zv.managedYT = yt
		}
	}
	return zv
}

// Host returns the vector value this store belongs to.
func (zv *ZVector) Host() *VectorVal { return zv.host }

// YieldType returns the element type, or nil if not yet established.
func (zv *ZVector) YieldType() Type { return zv.generalYT }

// SetYieldType refines the element type. Only an absent, any or void
// yield type can be refined; a concrete one is kept.
func (zv *ZVector) SetYieldType(yt Type) {
	if zv.generalYT != nil {
		switch zv.generalYT.Tag() {
		case TypeAny, TypeVoid:
		default:
			return
		}
	}
	zv.generalYT = yt
	if IsManagedType(yt) {
		zv.managedYT = yt
	} else {
		zv.managedYT = nil
	}
}

// IsManagedYieldType reports whether elements are reference counted.
func (zv *ZVector) IsManagedYieldType() bool { return zv.managedYT != nil }

func (zv *ZVector) Size() int { return len(zv.zvec) }

// ConstVec exposes the elements for reading.
func (zv *ZVector) ConstVec() []ZVal { return zv.zvec }

// InitVec resizes to n and returns the backing slice for initialization.
func (zv *ZVector) InitVec(n int) []ZVal {
	zv.Resize(n)
	return zv.zvec
}

// Lookup returns the slot at n. Bounds are the caller's obligation.
func (zv *ZVector) Lookup(n int) *ZVal { return &zv.zvec[n] }

// SetElement stores v at n, growing as needed. v's reference is taken
// over; the previous occupant is released if elements are managed.
func (zv *ZVector) SetElement(n int, v ZVal) {
	if len(zv.zvec) <= n {
		zv.grow(n + 1)
	}
	if zv.managedYT != nil {
		DeleteManagedType(&zv.zvec[n])
	}
	zv.zvec[n] = v
}

// CopyElement stores a copy of v at n, adding a reference for managed
// elements. It returns false, leaving the slot unchanged, when elements
// are managed and v holds no value.
func (zv *ZVector) CopyElement(n int, v ZVal) bool {
	if len(zv.zvec) <= n {
		zv.grow(n + 1)
	}
	if zv.managedYT != nil {
		return zv.setManagedElement(n, v)
	}
	zv.zvec[n] = v
	return true
}

func (zv *ZVector) setManagedElement(n int, v ZVal) bool {
	if v.h == nil {
		return false
	}
	RefManaged(v)
	DeleteManagedType(&zv.zvec[n])
	zv.zvec[n] = v
	return true
}

// Insert places v before index, shifting later elements up. v's reference
// is taken over. An index at or past the end appends.
func (zv *ZVector) Insert(index int, v ZVal) {
	if index >= len(zv.zvec) {
		zv.zvec = append(zv.zvec, v)
		return
	}
	zv.zvec = append(zv.zvec, ZVal{})
	copy(zv.zvec[index+1:], zv.zvec[index:])
	zv.zvec[index] = v
}

// Remove deletes the element at index, releasing it if managed.
func (zv *ZVector) Remove(index int) {
	if zv.managedYT != nil {
		DeleteManagedType(&zv.zvec[index])
	}
	copy(zv.zvec[index:], zv.zvec[index+1:])
	zv.zvec[len(zv.zvec)-1] = ZVal{}
	zv.zvec = zv.zvec[:len(zv.zvec)-1]
}

// Resize truncates or zero-extends. Truncated managed elements are
// released. New elements are zeroed and not yet valid for their type.
func (zv *ZVector) Resize(n int) {
	if n < len(zv.zvec) {
		if zv.managedYT != nil {
			for i := n; i < len(zv.zvec); i++ {
				DeleteManagedType(&zv.zvec[i])
			}
		}
		clear(zv.zvec[n:])
		zv.zvec = zv.zvec[:n]
		return
	}
	zv.grow(n)
}

func (zv *ZVector) grow(size int) {
	if size <= cap(zv.zvec) {
		zv.zvec = zv.zvec[:size]
		return
	}
	nz := make([]ZVal, size, max(size, 2*cap(zv.zvec)))
	copy(nz, zv.zvec)
	zv.zvec = nz
}

func (zv *ZVector) deleteMembers() {
	for i := range zv.zvec {
		DeleteManagedType(&zv.zvec[i])
	}
}

func (zv *ZVector) destroy() {
	if zv.managedYT != nil {
		zv.deleteMembers()
	}
	zv.zvec = nil
}

// ---------------------------------------------------------------------------
// VectorVal
// ---------------------------------------------------------------------------

// VectorVal is the script-level vector. Its elements live in a ZVector.
type VectorVal struct {
	Obj
	t   *VectorType
	vec *ZVector
}

// NewVectorVal creates an empty vector. A vector of any starts without an
// established element type; the first assignment refines it.
func NewVectorVal(t *VectorType) *VectorVal {
	vv := &VectorVal{Obj: newObj(), t: t}
	yt := t.Yield()
	if yt != nil && (yt.Tag() == TypeAny || yt.Tag() == TypeVoid) {
		yt = nil
	}
	vv.vec = NewZVector(vv, yt, 0)
	return vv
}

func (vv *VectorVal) Type() Type              { return vv.t }
func (vv *VectorVal) VectorType() *VectorType { return vv.t }
func (vv *VectorVal) RawVec() *ZVector        { return vv.vec }
func (vv *VectorVal) Size() int               { return vv.vec.Size() }

// elemType is the type elements are read and written as.
func (vv *VectorVal) elemType(v Val) Type {
	if yt := vv.vec.YieldType(); yt != nil {
		return yt
	}
	if v != nil {
		vv.vec.SetYieldType(v.Type())
		return v.Type()
	}
	return BaseType(TypeAny)
}

// Assign stores v (borrowed) at index i, growing the vector as needed.
func (vv *VectorVal) Assign(i int, v Val) {
	t := vv.elemType(v)
	vv.vec.SetElement(i, NewZVal(v, t))
}

// Append stores v (borrowed) after the last element.
func (vv *VectorVal) Append(v Val) { vv.Assign(vv.Size(), v) }

// Insert places v (borrowed) before index i.
func (vv *VectorVal) Insert(i int, v Val) {
	t := vv.elemType(v)
	vv.vec.Insert(i, NewZVal(v, t))
}

// Remove deletes element i. It reports false if i is out of range.
func (vv *VectorVal) Remove(i int) bool {
	if i < 0 || i >= vv.Size() {
		return false
	}
	vv.vec.Remove(i)
	return true
}

// Resize truncates or zero-extends the vector.
func (vv *VectorVal) Resize(n int) { vv.vec.Resize(n) }

// At returns an owned reference to element i, or nil if i is out of range
// or the element is unset.
func (vv *VectorVal) At(i int) Val {
	if i < 0 || i >= vv.Size() {
		return nil
	}
	yt := vv.vec.YieldType()
	if yt == nil {
		return nil
	}
	return vv.vec.Lookup(i).ToVal(yt)
}

func (vv *VectorVal) Unref() {
	if vv.release() {
		vv.vec.destroy()
	}
}

func (vv *VectorVal) String() string {
	yt := vv.vec.YieldType()
	parts := make([]string, vv.Size())
	for i := range parts {
		if yt == nil {
			parts[i] = "<uninitialized>"
			continue
		}
		z := vv.vec.Lookup(i)
		if IsManagedType(yt) && z.IsNil(yt) {
			parts[i] = "<uninitialized>"
			continue
		}
		v := z.ToVal(yt)
		parts[i] = v.String()
		v.Unref()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
