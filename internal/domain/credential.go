package domain

import "time"

type Role string

const (
	RoleBuyer     Role = "buyer"
	RoleVendor    Role = "vendor"
	RoleExecutive Role = "executive"
)

// Credential is the stored shape of a one-time code. It lives in the
// credential store (redis hash) for the credential TTL plus a short grace
// window and is never written to the database. The plaintext code exists
// only in the issuance response handed to the out-of-band channel.
type Credential struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Role      Role      `json:"role"`
	Hash      string    `json:"-"`
	Salt      string    `json:"-"`
	Scope     string    `json:"scope,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
	Locked    bool      `json:"locked"`
}

func (c *Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

type VerifyReason string

const (
	VerifyOK        VerifyReason = "ok"
	VerifyNotFound  VerifyReason = "not_found"
	VerifyExpired   VerifyReason = "expired"
	VerifyMismatch  VerifyReason = "mismatch"
	VerifyLockedOut VerifyReason = "locked_out"
)

type VerifyResult struct {
	OK           bool
	Reason       VerifyReason
	CredentialID string
	// Scope carries the purpose the credential was bound to at issuance,
	// only populated on a successful verification.
	Scope string
}

type AdmitReason string

const (
	AdmitOK               AdmitReason = "ok"
	AdmitInvalidSignature AdmitReason = "invalid_signature"
	AdmitStale            AdmitReason = "stale"
	AdmitDuplicate        AdmitReason = "duplicate"
	AdmitUntrustedOrigin  AdmitReason = "untrusted_origin"
)

type AdmitResult struct {
	OK     bool
	Reason AdmitReason
}
