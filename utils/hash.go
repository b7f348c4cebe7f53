package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// CacheKey builds a deterministic cache key from its parts. Parts are hashed
// so arbitrary user text never leaks into key space or exceeds key limits.
func CacheKey(prefix string, parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return prefix + ":" + hex.EncodeToString(h[:])
}
