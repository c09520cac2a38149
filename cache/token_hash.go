package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken hashes a token value for use as a store key, so raw bearer tokens
// never sit in memory or Redis as keys.
func HashToken(token string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))
	return hex.EncodeToString(hasher.Sum(nil))
}
