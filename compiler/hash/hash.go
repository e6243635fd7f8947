package hash

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/2b45/zeek/compiler"
)

// HashFunc computes the SHA-256 content hash of a function body.
//
// The hash is computed over a deterministic serialization of the body's
// normalized tree with frame slots in place of variable names. Two
// functions with the same name, signature and body, ignoring the names of
// locals, produce the same hash. A compiled body hashes like the source it
// was compiled from.
func HashFunc(fn *compiler.ScriptFunc) [32]byte {
	return sha256.Sum256(Serialize(NormalizeFunc(fn)))
}

// HashFuncHex returns HashFunc as a lowercase hex string.
func HashFuncHex(fn *compiler.ScriptFunc) string {
	h := HashFunc(fn)
	return hex.EncodeToString(h[:])
}
