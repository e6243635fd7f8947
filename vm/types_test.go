package vm

import "testing"

// Package-level vars are initialized before init functions run.
var pkgCountT = BaseType(TypeCount)

func TestBaseTypeAtPackageInit(t *testing.T) {
	if pkgCountT.Tag() != TypeCount {
		t.Errorf("Tag() = %v, want %v", pkgCountT.Tag(), TypeCount)
	}
	if pkgCountT != BaseType(TypeCount) {
		t.Error("BaseType should return a shared instance")
	}
}

func TestBaseTypeTags(t *testing.T) {
	for _, tag := range []TypeTag{TypeVoid, TypeBool, TypeInt, TypeString, TypeAddr, TypePattern, TypeAny} {
		if got := BaseType(tag).Tag(); got != tag {
			t.Errorf("BaseType(%v).Tag() = %v", tag, got)
		}
	}
}
