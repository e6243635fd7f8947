package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the body hashing serialization format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// every cached compiled body.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing body hashes.
const HashVersion byte = 1

// Node type tags. Each tag uniquely identifies a node kind in the
// serialized byte stream.
const (
	TagReservedZero byte = 0x00 // version prefix / reserved

	// Constants
	TagBoolConst   byte = 0x01
	TagIntConst    byte = 0x02
	TagCountConst  byte = 0x03
	TagDoubleConst byte = 0x04
	TagStringConst byte = 0x05
	TagOtherConst  byte = 0x06

	// References
	TagLocalRef byte = 0x0B
	TagFuncRef  byte = 0x0D

	// Expressions
	TagAssign      byte = 0x10
	TagBinary      byte = 0x11
	TagNot         byte = 0x12
	TagField       byte = 0x13
	TagHasField    byte = 0x14
	TagFieldAssign byte = 0x15
	TagIndex       byte = 0x16
	TagIndexAssign byte = 0x17
	TagSize        byte = 0x18
	TagCall        byte = 0x19
	TagInline      byte = 0x1A

	// Statements
	TagList        byte = 0x30
	TagExprStmt    byte = 0x31
	TagIf          byte = 0x32
	TagWhile       byte = 0x33
	TagFor         byte = 0x34
	TagSwitch      byte = 0x35
	TagCase        byte = 0x36
	TagNext        byte = 0x37
	TagBreak       byte = 0x38
	TagFallthrough byte = 0x39
	TagReturn      byte = 0x3A
	TagCatchReturn byte = 0x3B
	TagPrint       byte = 0x3C
	TagInit        byte = 0x3D
	TagNull        byte = 0x3E

	// Top level
	TagFunc byte = 0x40

	// Reserved 0xFE-0xFF
)

// allTags lists every defined tag for uniqueness verification in tests.
var allTags = []byte{
	TagReservedZero,
	TagBoolConst, TagIntConst, TagCountConst, TagDoubleConst, TagStringConst, TagOtherConst,
	TagLocalRef, TagFuncRef,
	TagAssign, TagBinary, TagNot, TagField, TagHasField, TagFieldAssign,
	TagIndex, TagIndexAssign, TagSize, TagCall, TagInline,
	TagList, TagExprStmt, TagIf, TagWhile, TagFor, TagSwitch, TagCase,
	TagNext, TagBreak, TagFallthrough, TagReturn, TagCatchReturn,
	TagPrint, TagInit, TagNull,
	TagFunc,
}
