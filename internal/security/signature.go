package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ComputeWebhookSignature returns the hex HMAC-SHA256 of the exact raw
// request body under the shared platform secret.
func ComputeWebhookSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature recomputes the body HMAC and compares it to the
// presented header value in constant time. A "sha256=" prefix on the header
// is tolerated since several platforms send one.
func VerifyWebhookSignature(secret string, body []byte, presented string) bool {
	presented = strings.TrimPrefix(strings.TrimSpace(presented), "sha256=")
	expected := ComputeWebhookSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(presented)))
}
