package mongodb

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashToken mirrors cache.HashToken so lookups by raw token work against the
// hashed index without leaking bearer tokens into the datastore.
func hashToken(token string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))
	return hex.EncodeToString(hasher.Sum(nil))
}
