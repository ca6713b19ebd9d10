package domain

import "time"

type AuditOutcome string

const (
	AuditOK     AuditOutcome = "ok"
	AuditDenied AuditOutcome = "denied"
	AuditError  AuditOutcome = "error"
)

// AuditEntry is append-only. Nothing in this service updates or deletes a
// row once written; forensic replay depends on that.
type AuditEntry struct {
	ID        string       `gorm:"primaryKey;size:36" json:"id"`
	Actor     string       `gorm:"size:128;index;not null" json:"actor"`
	Action    string       `gorm:"size:64;index;not null" json:"action"`
	Resource  string       `gorm:"size:256" json:"resource"`
	Outcome   AuditOutcome `gorm:"size:16;not null" json:"outcome"`
	Detail    string       `gorm:"size:512" json:"detail,omitempty"`
	CreatedAt time.Time    `gorm:"index" json:"created_at"`
}

const (
	AuditActionCredentialIssued   = "credential_issued"
	AuditActionCredentialVerified = "credential_verified"
	AuditActionWebhookAdmitted    = "webhook_admitted"
	AuditActionWebhookRejected    = "webhook_rejected"
	AuditActionReceiptDecided     = "receipt_decided"
	AuditActionReceiptReviewed    = "receipt_reviewed"
	AuditActionEscalationOpened   = "escalation_opened"
	AuditActionEscalationResolved = "escalation_resolved"
	AuditActionEscalationDenied   = "escalation_denied"
)
