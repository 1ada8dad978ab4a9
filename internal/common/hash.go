package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest hashes parts, NUL separated so ("ab","c") and ("a","bc") differ,
// and returns lowercase hex. Used for Redis keys derived from untrusted input.
func Digest(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
