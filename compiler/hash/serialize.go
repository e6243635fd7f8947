package hash

import (
	"encoding/binary"
	"math"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of the frozen hashing tree.
//
// Encoding conventions:
//   - First byte: HashVersion (0x01)
//   - Integers: big-endian fixed-width (int64/uint64=8B, uint16=2B)
//   - Floats: IEEE 754 big-endian 8B
//   - Strings: uint32 big-endian length + UTF-8 bytes
//   - Booleans: single byte (0/1)
//   - Optional children: presence byte (0/1), then the child
//   - Child nodes: serialized inline (flat)
// ---------------------------------------------------------------------------

// Serialize produces a deterministic byte serialization of an HNode tree.
// The returned bytes are suitable for hashing with SHA-256.
func Serialize(node HNode) []byte {
	s := &serializer{buf: make([]byte, 0, 256)}
	s.writeByte(HashVersion)
	s.serializeNode(node)
	return s.buf
}

type serializer struct {
	buf []byte
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeBool(v bool) {
	if v {
		s.writeByte(1)
	} else {
		s.writeByte(0)
	}
}

func (s *serializer) writeUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeInt64(v int64) {
	s.writeUint64(uint64(v))
}

func (s *serializer) writeFloat64(v float64) {
	s.writeUint64(math.Float64bits(v))
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) writeInt(v int) {
	s.writeInt64(int64(v))
}

func (s *serializer) writeNodes(nodes []HNode) {
	s.writeUint32(uint32(len(nodes)))
	for _, n := range nodes {
		s.serializeNode(n)
	}
}

// writeOptional writes a presence byte followed by node if it is set.
func (s *serializer) writeOptional(node HNode) {
	if node == nil {
		s.writeByte(0)
		return
	}
	s.writeByte(1)
	s.serializeNode(node)
}

// writeRef writes an optional local reference. A nil *HLocalRef would
// otherwise reach writeOptional as a non-nil interface.
func (s *serializer) writeRef(ref *HLocalRef) {
	if ref == nil {
		s.writeByte(0)
		return
	}
	s.writeByte(1)
	s.serializeNode(ref)
}

func (s *serializer) serializeNode(node HNode) {
	switch n := node.(type) {
	case *HBoolConst:
		s.writeByte(TagBoolConst)
		s.writeBool(n.Value)

	case *HIntConst:
		s.writeByte(TagIntConst)
		s.writeString(n.Type)
		s.writeInt64(n.Value)

	case *HCountConst:
		s.writeByte(TagCountConst)
		s.writeString(n.Type)
		s.writeUint64(n.Value)

	case *HDoubleConst:
		s.writeByte(TagDoubleConst)
		s.writeString(n.Type)
		s.writeFloat64(n.Value)

	case *HStringConst:
		s.writeByte(TagStringConst)
		s.writeString(n.Value)

	case *HOtherConst:
		s.writeByte(TagOtherConst)
		s.writeString(n.Type)
		s.writeString(n.Text)

	case *HLocalRef:
		s.writeByte(TagLocalRef)
		s.writeUint16(n.Depth)
		s.writeUint16(n.Slot)
		s.writeString(n.Type)

	case *HFuncRef:
		s.writeByte(TagFuncRef)
		s.writeString(n.Name)

	case *HAssign:
		s.writeByte(TagAssign)
		s.writeRef(n.Target)
		s.serializeNode(n.Value)

	case *HBinary:
		s.writeByte(TagBinary)
		s.writeString(n.Op)
		s.serializeNode(n.Left)
		s.serializeNode(n.Right)

	case *HNot:
		s.writeByte(TagNot)
		s.serializeNode(n.Operand)

	case *HField:
		s.writeByte(n.Tag)
		s.serializeNode(n.Record)
		s.writeUint16(n.Field)
		if n.Tag == TagFieldAssign {
			s.serializeNode(n.Value)
		}

	case *HIndex:
		s.writeByte(n.Tag)
		s.serializeNode(n.Vector)
		s.serializeNode(n.Index)
		if n.Tag == TagIndexAssign {
			s.serializeNode(n.Value)
		}

	case *HSize:
		s.writeByte(TagSize)
		s.serializeNode(n.Operand)

	case *HCall:
		s.writeByte(TagCall)
		s.serializeNode(n.Func)
		s.writeNodes(n.Args)

	case *HInline:
		s.writeByte(TagInline)
		s.writeString(n.Callee)
		s.writeInt(n.NumParams)
		s.writeInt(n.NumVars)
		s.writeNodes(n.Args)
		s.serializeNode(n.Body)

	case *HList:
		s.writeByte(TagList)
		s.writeNodes(n.Stmts)

	case *HExprStmt:
		s.writeByte(TagExprStmt)
		s.serializeNode(n.Expr)

	case *HIf:
		s.writeByte(TagIf)
		s.serializeNode(n.Cond)
		s.writeOptional(n.Then)
		s.writeOptional(n.Else)

	case *HWhile:
		s.writeByte(TagWhile)
		s.writeOptional(n.CondPred)
		s.serializeNode(n.Cond)
		s.serializeNode(n.Body)

	case *HFor:
		s.writeByte(TagFor)
		s.writeRef(n.Index)
		s.writeRef(n.Value)
		s.serializeNode(n.Vector)
		s.serializeNode(n.Body)

	case *HSwitch:
		s.writeByte(TagSwitch)
		s.serializeNode(n.Value)
		s.writeUint32(uint32(len(n.Cases)))
		for _, c := range n.Cases {
			s.serializeNode(c)
		}

	case *HCase:
		s.writeByte(TagCase)
		s.writeNodes(n.Labels)
		s.writeOptional(n.Body)

	case *HJump:
		s.writeByte(n.Tag)

	case *HReturn:
		s.writeByte(TagReturn)
		s.writeOptional(n.Value)

	case *HCatchReturn:
		s.writeByte(TagCatchReturn)
		s.serializeNode(n.Block)
		s.writeRef(n.RetVar)

	case *HPrint:
		s.writeByte(TagPrint)
		s.writeNodes(n.Args)

	case *HInit:
		s.writeByte(TagInit)
		s.writeUint32(uint32(len(n.Targets)))
		for _, t := range n.Targets {
			s.writeRef(t)
		}

	case *HNull:
		s.writeByte(TagNull)

	case *HFunc:
		s.writeByte(TagFunc)
		s.writeString(n.Name)
		s.writeUint32(uint32(len(n.Params)))
		for _, p := range n.Params {
			s.writeString(p)
		}
		s.writeString(n.Result)
		s.writeOptional(n.Body)
	}
}
