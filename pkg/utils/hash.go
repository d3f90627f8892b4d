package utils

import (
	"crypto/md5"
	"encoding/hex"
)

// ContentKey hashes the parts with a separator so that ("ab","c") and
// ("a","bc") produce different keys.
func ContentKey(parts ...string) string {
	h := md5.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
