package domain

import "time"

type EscalationReason string

const (
	EscalationValueThreshold EscalationReason = "value_threshold"
	EscalationLowConfidence  EscalationReason = "low_confidence"
	EscalationManualFlag     EscalationReason = "manual_flag"
)

type EscalationResolution string

const (
	ResolutionApproved EscalationResolution = "approved"
	ResolutionRejected EscalationResolution = "rejected"
)

// EscalationRequest gates a high-value or low-confidence submission behind a
// fresh credential. Resolution fields stay NULL until the request is closed;
// a request is closed exactly once.
type EscalationRequest struct {
	ID           string `gorm:"primaryKey;size:36" json:"id"`
	SubmissionID string `gorm:"size:36;index;not null" json:"submission_id"`
	// OpenKey mirrors SubmissionID while the request is open and is nulled on
	// resolution. The unique index on it is what makes Escalate idempotent
	// under concurrent callers: at most one open request per submission.
	OpenKey       *string              `gorm:"size:36;uniqueIndex" json:"-"`
	Reason        EscalationReason     `gorm:"size:32;not null" json:"reason"`
	RequestedAt   time.Time            `gorm:"not null" json:"requested_at"`
	ResolvedBy    *string              `gorm:"size:128" json:"resolved_by,omitempty"`
	Resolution    EscalationResolution `gorm:"size:16" json:"resolution,omitempty"`
	ResolvedAt    *time.Time           `json:"resolved_at,omitempty"`
	CredentialRef *string              `gorm:"size:64" json:"credential_ref,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func (e *EscalationRequest) Open() bool {
	return e.ResolvedAt == nil
}
