package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashCredential hashes a one-time code with a per-credential salt and the
// service-wide pepper. Only this digest is ever stored.
func HashCredential(plain, salt, pepper string) string {
	h := sha256.Sum256([]byte(salt + ":" + plain + ":" + pepper))
	return hex.EncodeToString(h[:])
}

// ConstantTimeEquals compares two digests without leaking a timing signal.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
