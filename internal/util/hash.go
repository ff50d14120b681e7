package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex fingerprints uploaded bytes so duplicate uploads can be spotted.
func SHA256Hex(b []byte) string {
	x := sha256.Sum256(b)
	return hex.EncodeToString(x[:])
}
