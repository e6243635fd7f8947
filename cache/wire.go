package cache

import (
	"errors"
	"fmt"

	"github.com/2b45/zeek/vm"
	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is bumped whenever the encoding of a compiled body
// changes. Entries written with another version are treated as misses.
const FormatVersion = 1

var (
	// ErrUnsupported is returned when a body holds something that cannot
	// be persisted, such as a constant of an aggregate type or an
	// anonymous record type.
	ErrUnsupported = errors.New("cache: unsupported")

	// ErrUnresolved is returned when a persisted body names a function
	// or record type the current program does not define.
	ErrUnresolved = errors.New("cache: unresolved name")

	// ErrVersion is returned for data written by another format version.
	ErrVersion = errors.New("cache: format version mismatch")
)

// Resolver maps the names stored in a persisted body back to the
// program's functions and record types.
type Resolver interface {
	Func(name string) (*vm.FuncVal, bool)
	RecordType(name string) (*vm.RecordType, bool)
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cache: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type wireType struct {
	Tag    int        `cbor:"1,keyasint"`
	Name   string     `cbor:"2,keyasint,omitempty"`
	Yield  *wireType  `cbor:"3,keyasint,omitempty"`
	Index  []wireType `cbor:"4,keyasint,omitempty"`
	Params []wireType `cbor:"5,keyasint,omitempty"`
}

type wireConst struct {
	N    uint64    `cbor:"1,keyasint,omitempty"`
	S    string    `cbor:"2,keyasint,omitempty"`
	Type *wireType `cbor:"3,keyasint,omitempty"`
	Nil  bool      `cbor:"4,keyasint,omitempty"`
}

type wireInst struct {
	Op    byte       `cbor:"1,keyasint"`
	V     [3]int     `cbor:"2,keyasint"`
	Field int        `cbor:"3,keyasint,omitempty"`
	C     *wireConst `cbor:"4,keyasint,omitempty"`
	T     *wireType  `cbor:"5,keyasint,omitempty"`
	Func  string     `cbor:"6,keyasint,omitempty"`
	Args  []int      `cbor:"7,keyasint,omitempty"`
}

type wireCode struct {
	Version   int        `cbor:"1,keyasint"`
	Name      string     `cbor:"2,keyasint"`
	Insts     []wireInst `cbor:"3,keyasint"`
	FrameSize int        `cbor:"4,keyasint"`
	SlotTypes []wireType `cbor:"5,keyasint"`
	SlotNames []string   `cbor:"6,keyasint"`
	NumParams int        `cbor:"7,keyasint"`
	Result    *wireType  `cbor:"8,keyasint,omitempty"`
}

// MarshalCode serializes a compiled body to canonical CBOR. Functions and
// record types are written by name.
func MarshalCode(c *vm.Code) ([]byte, error) {
	w := wireCode{
		Version:   FormatVersion,
		Name:      c.Name,
		Insts:     make([]wireInst, len(c.Insts)),
		FrameSize: c.FrameSize,
		SlotTypes: make([]wireType, len(c.SlotTypes)),
		SlotNames: c.SlotNames,
		NumParams: c.NumParams,
	}
	for i, t := range c.SlotTypes {
		wt, err := encodeType(t)
		if err != nil {
			return nil, fmt.Errorf("%s: slot %d: %w", c.Name, i, err)
		}
		w.SlotTypes[i] = *wt
	}
	if c.ResultType != nil {
		wt, err := encodeType(c.ResultType)
		if err != nil {
			return nil, fmt.Errorf("%s: result: %w", c.Name, err)
		}
		w.Result = wt
	}
	for pc := range c.Insts {
		wi, err := encodeInst(&c.Insts[pc])
		if err != nil {
			return nil, fmt.Errorf("%s: %04d: %w", c.Name, pc, err)
		}
		w.Insts[pc] = wi
	}
	return cborEncMode.Marshal(&w)
}

// UnmarshalCode rebuilds a compiled body, resolving names through r. The
// returned code holds its own references to constants and callees.
func UnmarshalCode(data []byte, r Resolver) (*vm.Code, error) {
	var w wireCode
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("cache: unmarshal code: %w", err)
	}
	if w.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d, want %d", ErrVersion, w.Version, FormatVersion)
	}

	c := &vm.Code{
		Name:      w.Name,
		Insts:     make([]vm.ZInst, 0, len(w.Insts)),
		FrameSize: w.FrameSize,
		SlotTypes: make([]vm.Type, len(w.SlotTypes)),
		SlotNames: w.SlotNames,
		NumParams: w.NumParams,
	}
	if len(c.SlotTypes) != c.FrameSize || c.NumParams > c.FrameSize {
		return nil, fmt.Errorf("cache: %s: inconsistent frame layout", w.Name)
	}
	for i := range w.SlotTypes {
		t, err := decodeType(&w.SlotTypes[i], r)
		if err != nil {
			return nil, fmt.Errorf("%s: slot %d: %w", w.Name, i, err)
		}
		c.SlotTypes[i] = t
	}
	if w.Result != nil {
		t, err := decodeType(w.Result, r)
		if err != nil {
			return nil, fmt.Errorf("%s: result: %w", w.Name, err)
		}
		c.ResultType = t
	}
	for pc := range w.Insts {
		in, err := decodeInst(&w.Insts[pc], r)
		if err != nil {
			c.Release()
			return nil, fmt.Errorf("%s: %04d: %w", w.Name, pc, err)
		}
		c.Insts = append(c.Insts, in)
	}
	if err := checkCode(c); err != nil {
		c.Release()
		return nil, err
	}
	return c, nil
}

// checkCode rejects slot references and jump targets outside the body.
func checkCode(c *vm.Code) error {
	for pc := range c.Insts {
		in := &c.Insts[pc]
		info := in.Op.Info()
		vs := [3]int{in.V1, in.V2, in.V3}
		for i := 0; i < 3; i++ {
			v := vs[i]
			switch {
			case info.Jump == i+1:
				if v < 0 || v > len(c.Insts) {
					return fmt.Errorf("cache: %s: %04d: jump target %d out of range", c.Name, pc, v)
				}
			case i < info.Slots:
				if in.Op == vm.OpCall && i == 0 && v < 0 {
					continue
				}
				if v < 0 || v >= c.FrameSize {
					return fmt.Errorf("cache: %s: %04d: slot %d out of range", c.Name, pc, v)
				}
			}
		}
		for _, a := range in.Args {
			if a < 0 || a >= c.FrameSize {
				return fmt.Errorf("cache: %s: %04d: argument slot %d out of range", c.Name, pc, a)
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

func encodeInst(in *vm.ZInst) (wireInst, error) {
	wi := wireInst{
		Op:    byte(in.Op),
		V:     [3]int{in.V1, in.V2, in.V3},
		Field: in.Field,
		Args:  in.Args,
	}
	if in.T != nil {
		wt, err := encodeType(in.T)
		if err != nil {
			return wi, err
		}
		wi.T = wt
	}
	if in.Func != nil {
		wi.Func = in.Func.Name()
	}
	if in.Op == vm.OpAssignConst {
		wc, err := encodeConst(in.C, in.T)
		if err != nil {
			return wi, err
		}
		wi.C = wc
	}
	return wi, nil
}

func decodeInst(wi *wireInst, r Resolver) (vm.ZInst, error) {
	op := vm.Opcode(wi.Op)
	if !op.Valid() {
		return vm.ZInst{}, fmt.Errorf("%w: opcode %#02x", ErrUnsupported, wi.Op)
	}
	in := vm.ZInst{
		Op:    op,
		V1:    wi.V[0],
		V2:    wi.V[1],
		V3:    wi.V[2],
		Field: wi.Field,
		Args:  wi.Args,
	}
	if wi.T != nil {
		t, err := decodeType(wi.T, r)
		if err != nil {
			return in, err
		}
		in.T = t
	}
	if wi.Func != "" {
		fv, ok := r.Func(wi.Func)
		if !ok {
			return in, fmt.Errorf("%w: function %s", ErrUnresolved, wi.Func)
		}
		fv.Ref()
		in.Func = fv
	}
	if op == vm.OpAssignConst {
		if wi.C == nil || in.T == nil {
			return in, fmt.Errorf("%w: constant without value or type", ErrUnsupported)
		}
		z, err := decodeConst(wi.C, in.T, r)
		if err != nil {
			if in.Func != nil {
				in.Func.Unref()
			}
			return in, err
		}
		in.C = z
	}
	return in, nil
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

func isScalar(tag vm.TypeTag) bool {
	switch tag {
	case vm.TypeBool, vm.TypeInt, vm.TypeEnum, vm.TypeCount, vm.TypePort,
		vm.TypeDouble, vm.TypeTime, vm.TypeInterval:
		return true
	}
	return false
}

func encodeConst(z vm.ZVal, t vm.Type) (*wireConst, error) {
	tag := t.Tag()
	if isScalar(tag) {
		return &wireConst{N: z.Uint()}, nil
	}
	switch tag {
	case vm.TypeVoid:
		return &wireConst{}, nil
	case vm.TypeType:
		tt := z.TypeVal()
		if tt == nil {
			return &wireConst{Nil: true}, nil
		}
		wt, err := encodeType(tt)
		if err != nil {
			return nil, err
		}
		return &wireConst{Type: wt}, nil
	}
	if z.Managed() == nil {
		return &wireConst{Nil: true}, nil
	}
	switch tag {
	case vm.TypeString:
		return &wireConst{S: z.StringVal().Str()}, nil
	case vm.TypePattern:
		return &wireConst{S: z.PatternVal().Source()}, nil
	case vm.TypeAddr:
		return &wireConst{S: z.AddrVal().String()}, nil
	case vm.TypeSubNet:
		return &wireConst{S: z.SubNetVal().String()}, nil
	case vm.TypeFunc:
		return &wireConst{S: z.FuncVal().Name()}, nil
	}
	return nil, fmt.Errorf("%w: constant of type %s", ErrUnsupported, t)
}

func decodeConst(wc *wireConst, t vm.Type, r Resolver) (vm.ZVal, error) {
	tag := t.Tag()
	if isScalar(tag) {
		return vm.UintZVal(wc.N), nil
	}
	if wc.Nil || tag == vm.TypeVoid {
		return vm.ZVal{}, nil
	}

	var v vm.Val
	switch tag {
	case vm.TypeType:
		if wc.Type == nil {
			return vm.ZVal{}, fmt.Errorf("%w: type constant without a type", ErrUnsupported)
		}
		tt, err := decodeType(wc.Type, r)
		if err != nil {
			return vm.ZVal{}, err
		}
		return vm.TypeZVal(tt), nil
	case vm.TypeString:
		v = vm.NewString(wc.S)
	case vm.TypePattern:
		p, err := vm.NewPattern(wc.S)
		if err != nil {
			return vm.ZVal{}, err
		}
		v = p
	case vm.TypeAddr:
		a, err := vm.ParseAddr(wc.S)
		if err != nil {
			return vm.ZVal{}, err
		}
		v = a
	case vm.TypeSubNet:
		s, err := vm.ParseSubNet(wc.S)
		if err != nil {
			return vm.ZVal{}, err
		}
		v = s
	case vm.TypeFunc:
		fv, ok := r.Func(wc.S)
		if !ok {
			return vm.ZVal{}, fmt.Errorf("%w: function %s", ErrUnresolved, wc.S)
		}
		// NewZVal adds the reference the code owns.
		return vm.NewZVal(fv, t), nil
	default:
		return vm.ZVal{}, fmt.Errorf("%w: constant of type %s", ErrUnsupported, t)
	}
	z := vm.NewZVal(v, t)
	v.Unref()
	return z, nil
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

func encodeType(t vm.Type) (*wireType, error) {
	wt := &wireType{Tag: int(t.Tag())}
	switch tt := t.(type) {
	case *vm.RecordType:
		if tt.Name() == "" {
			return nil, fmt.Errorf("%w: anonymous record type", ErrUnsupported)
		}
		wt.Name = tt.Name()
	case *vm.VectorType:
		y, err := encodeType(tt.Yield())
		if err != nil {
			return nil, err
		}
		wt.Yield = y
	case *vm.TableType:
		idx, err := encodeTypes(tt.Index)
		if err != nil {
			return nil, err
		}
		wt.Index = idx
		if !tt.IsSet() {
			y, err := encodeType(tt.Yield())
			if err != nil {
				return nil, err
			}
			wt.Yield = y
		}
	case *vm.FuncType:
		ps, err := encodeTypes(tt.Params)
		if err != nil {
			return nil, err
		}
		wt.Params = ps
		y, err := encodeType(tt.Yield())
		if err != nil {
			return nil, err
		}
		wt.Yield = y
	}
	return wt, nil
}

func encodeTypes(ts []vm.Type) ([]wireType, error) {
	out := make([]wireType, len(ts))
	for i, t := range ts {
		wt, err := encodeType(t)
		if err != nil {
			return nil, err
		}
		out[i] = *wt
	}
	return out, nil
}

func decodeType(wt *wireType, r Resolver) (vm.Type, error) {
	tag := vm.TypeTag(wt.Tag)
	if tag < vm.TypeVoid || tag > vm.TypeAny {
		return nil, fmt.Errorf("%w: type tag %d", ErrUnsupported, wt.Tag)
	}
	switch tag {
	case vm.TypeRecord:
		rt, ok := r.RecordType(wt.Name)
		if !ok {
			return nil, fmt.Errorf("%w: record type %s", ErrUnresolved, wt.Name)
		}
		return rt, nil
	case vm.TypeVector:
		if wt.Yield == nil {
			return nil, fmt.Errorf("%w: vector without yield", ErrUnsupported)
		}
		y, err := decodeType(wt.Yield, r)
		if err != nil {
			return nil, err
		}
		return vm.NewVectorType(y), nil
	case vm.TypeTable:
		idx, err := decodeTypes(wt.Index, r)
		if err != nil {
			return nil, err
		}
		var y vm.Type
		if wt.Yield != nil {
			if y, err = decodeType(wt.Yield, r); err != nil {
				return nil, err
			}
		}
		return vm.NewTableType(idx, y), nil
	case vm.TypeFunc:
		ps, err := decodeTypes(wt.Params, r)
		if err != nil {
			return nil, err
		}
		var y vm.Type
		if wt.Yield != nil {
			if y, err = decodeType(wt.Yield, r); err != nil {
				return nil, err
			}
		}
		return vm.NewFuncType(ps, y), nil
	}
	return vm.BaseType(tag), nil
}

func decodeTypes(ws []wireType, r Resolver) ([]vm.Type, error) {
	if len(ws) == 0 {
		return nil, nil
	}
	out := make([]vm.Type, len(ws))
	for i := range ws {
		t, err := decodeType(&ws[i], r)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}
