package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"go-receipt-verification-service/internal/domain"
)

const (
	digitAlphabet = "0123456789"
	denseAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// GenerateCode produces a one-time code shaped for the role: buyers and
// vendors get a 6-digit numeric code they can type into a chat window,
// executives get a 10-character dense code for approval sign-off.
func GenerateCode(role domain.Role) (string, error) {
	switch role {
	case domain.RoleBuyer, domain.RoleVendor:
		return randomFromAlphabet(digitAlphabet, 6)
	case domain.RoleExecutive:
		return randomFromAlphabet(denseAlphabet, 10)
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
}

// randomFromAlphabet draws uniformly via rejection sampling; plain modulo
// would bias toward the low end of the alphabet.
func randomFromAlphabet(alphabet string, length int) (string, error) {
	out := make([]byte, 0, length)
	// The bound stays an int: for a 32-char alphabet it is exactly 256 and
	// a byte-typed bound would wrap to 0, rejecting every draw.
	limit := 256 - (256 % len(alphabet))
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// NewRandomSalt returns a per-credential salt.
func NewRandomSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
