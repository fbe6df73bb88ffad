package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashTenantKey returns a path-safe identifier for a tenant ID.
func HashTenantKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
