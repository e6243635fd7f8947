package cache

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"

	"github.com/2b45/zeek/vm"
	"github.com/fxamacker/cbor/v2"
)

var (
	intT    = vm.BaseType(vm.TypeInt)
	doubleT = vm.BaseType(vm.TypeDouble)
	stringT = vm.BaseType(vm.TypeString)
	subnetT = vm.BaseType(vm.TypeSubNet)
	voidT   = vm.BaseType(vm.TypeVoid)
)

// names is a Resolver over fixed maps.
type names struct {
	funcs map[string]*vm.FuncVal
	recs  map[string]*vm.RecordType
}

func (n *names) Func(name string) (*vm.FuncVal, bool) {
	fv, ok := n.funcs[name]
	return fv, ok
}

func (n *names) RecordType(name string) (*vm.RecordType, bool) {
	rt, ok := n.recs[name]
	return rt, ok
}

func listing(t *testing.T, c *vm.Code) string {
	t.Helper()
	var buf bytes.Buffer
	if err := vm.Disassemble(&buf, c); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

// sampleCode builds a body touching every kind of operand the encoding
// handles.
func sampleCode() (*vm.Code, *names) {
	rt := vm.NewRecordType("conn_id",
		&vm.FieldDecl{Name: "orig_h", Type: vm.BaseType(vm.TypeAddr)},
		&vm.FieldDecl{Name: "resp_p", Type: vm.BaseType(vm.TypePort)},
	)
	helper := vm.NewFunc("Log::helper", vm.NewFuncType([]vm.Type{intT}, nil), nil)
	tbl := vm.NewTableType([]vm.Type{stringT}, intT)
	set := vm.NewTableType([]vm.Type{intT, stringT}, nil)

	str := vm.NewString("hello")
	defer str.Unref()
	sn := vm.NewSubNet(netip.MustParsePrefix("10.0.0.0/8"))
	defer sn.Unref()

	helper.Ref()
	code := &vm.Code{
		Name: "sample",
		Insts: []vm.ZInst{
			{Op: vm.OpAssignConst, V1: 0, C: vm.NewZVal(str, stringT), T: stringT},
			{Op: vm.OpAssignConst, V1: 1, C: vm.IntZVal(-7), T: intT},
			{Op: vm.OpAssignConst, V1: 2, C: vm.DoubleZVal(2.5), T: doubleT},
			{Op: vm.OpNewRecord, V1: 3, T: rt},
			{Op: vm.OpNewVector, V1: 4, T: vm.NewVectorType(stringT)},
			{Op: vm.OpFieldGet, V1: 6, V2: 3, Field: 1, T: vm.BaseType(vm.TypePort)},
			{Op: vm.OpCall, V1: -1, Func: helper, Args: []int{1}},
			{Op: vm.OpIfFalse, V1: 1, V2: 9},
			{Op: vm.OpAssignConst, V1: 5, C: vm.NewZVal(sn, subnetT), T: subnetT},
			{Op: vm.OpReturnVoid},
		},
		FrameSize: 9,
		SlotTypes: []vm.Type{stringT, intT, doubleT, rt, vm.NewVectorType(stringT), subnetT,
			vm.BaseType(vm.TypePort), tbl, set},
		SlotNames:  []string{"s", "n", "d", "r", "v", "net", "p", "t", "u"},
		NumParams:  1,
		ResultType: voidT,
	}
	return code, &names{
		funcs: map[string]*vm.FuncVal{helper.Name(): helper},
		recs:  map[string]*vm.RecordType{rt.Name(): rt},
	}
}

// ----------------------------------------------------------------------------
// Round trips
// ----------------------------------------------------------------------------

func TestCodeRoundTrip(t *testing.T) {
	code, r := sampleCode()
	defer code.Release()

	data, err := MarshalCode(code)
	if err != nil {
		t.Fatalf("MarshalCode: %v", err)
	}
	got, err := UnmarshalCode(data, r)
	if err != nil {
		t.Fatalf("UnmarshalCode: %v", err)
	}
	defer got.Release()

	if want, have := listing(t, code), listing(t, got); want != have {
		t.Errorf("listing changed:\n%s\nwant:\n%s", have, want)
	}
	if got.Insts[3].T != r.recs["conn_id"] {
		t.Error("record type should resolve to the program's schema")
	}
	if got.Insts[6].Func != r.funcs["Log::helper"] {
		t.Error("callee should resolve to the program's function")
	}
	if !vm.SameType(got.SlotTypes[7], code.SlotTypes[7]) || !vm.SameType(got.SlotTypes[8], code.SlotTypes[8]) {
		t.Errorf("table types: %s %s", got.SlotTypes[7], got.SlotTypes[8])
	}
}

func TestMarshalDeterministic(t *testing.T) {
	code, _ := sampleCode()
	defer code.Release()

	a, err := MarshalCode(code)
	if err != nil {
		t.Fatal(err)
	}
	b, err := MarshalCode(code)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encoding is not deterministic")
	}
}

func TestUnmarshalTakesReferences(t *testing.T) {
	code, r := sampleCode()
	defer code.Release()
	helper := r.funcs["Log::helper"]

	data, err := MarshalCode(code)
	if err != nil {
		t.Fatal(err)
	}
	before := helper.RefCount()
	got, err := UnmarshalCode(data, r)
	if err != nil {
		t.Fatal(err)
	}
	if helper.RefCount() != before+1 {
		t.Errorf("RefCount = %d, want %d", helper.RefCount(), before+1)
	}
	got.Release()
	if helper.RefCount() != before {
		t.Errorf("after Release RefCount = %d, want %d", helper.RefCount(), before)
	}
}

// ----------------------------------------------------------------------------
// Failures
// ----------------------------------------------------------------------------

func TestMarshalUnsupported(t *testing.T) {
	anon := vm.NewRecordType("", &vm.FieldDecl{Name: "a", Type: intT})
	tests := []struct {
		name string
		code *vm.Code
	}{
		{"anonymous record", &vm.Code{Name: "f", FrameSize: 1, SlotTypes: []vm.Type{anon}}},
		{"aggregate constant", &vm.Code{Name: "f", FrameSize: 1, SlotTypes: []vm.Type{intT},
			Insts: []vm.ZInst{{Op: vm.OpAssignConst, V1: 0, T: vm.NewVectorType(intT), C: vm.ManagedZVal(vm.NewList())}}}},
	}
	for _, tt := range tests {
		if _, err := MarshalCode(tt.code); !errors.Is(err, ErrUnsupported) {
			t.Errorf("%s: err = %v, want ErrUnsupported", tt.name, err)
		}
	}
}

func TestUnmarshalErrors(t *testing.T) {
	code, r := sampleCode()
	defer code.Release()
	data, err := MarshalCode(code)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := UnmarshalCode(data, &names{recs: r.recs}); !errors.Is(err, ErrUnresolved) {
		t.Errorf("missing function: err = %v", err)
	}
	if _, err := UnmarshalCode(data, &names{funcs: r.funcs}); !errors.Is(err, ErrUnresolved) {
		t.Errorf("missing record: err = %v", err)
	}
	if _, err := UnmarshalCode([]byte{0xff, 0x00}, r); err == nil {
		t.Error("garbage should not decode")
	}

	old, err := cborEncMode.Marshal(&wireCode{Version: FormatVersion + 1, Name: "f"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnmarshalCode(old, r); !errors.Is(err, ErrVersion) {
		t.Errorf("other version: err = %v", err)
	}
}

func TestUnmarshalRejectsBadOperands(t *testing.T) {
	tests := []struct {
		name string
		w    wireCode
	}{
		{"slot", wireCode{FrameSize: 1, SlotTypes: []wireType{{Tag: int(vm.TypeInt)}},
			Insts: []wireInst{{Op: byte(vm.OpAssign), V: [3]int{0, 4, 0}}}}},
		{"jump", wireCode{Insts: []wireInst{{Op: byte(vm.OpGoto), V: [3]int{7, 0, 0}}}}},
		{"opcode", wireCode{Insts: []wireInst{{Op: 0xEE}}}},
		{"frame", wireCode{FrameSize: 2, SlotTypes: []wireType{{Tag: int(vm.TypeInt)}}}},
		{"type tag", wireCode{FrameSize: 1, SlotTypes: []wireType{{Tag: 99}}}},
	}
	for _, tt := range tests {
		tt.w.Version = FormatVersion
		tt.w.Name = tt.name
		data, err := cbor.Marshal(&tt.w)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := UnmarshalCode(data, &names{}); err == nil {
			t.Errorf("%s: bad operand accepted", tt.name)
		}
	}
}
