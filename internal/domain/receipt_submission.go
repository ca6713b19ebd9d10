package domain

import "time"

type SubmissionStatus string

const (
	StatusSubmitted    SubmissionStatus = "submitted"
	StatusAutoApproved SubmissionStatus = "auto_approved"
	StatusFlagged      SubmissionStatus = "flagged"
	StatusEscalated    SubmissionStatus = "escalated"
	StatusApproved     SubmissionStatus = "approved"
	StatusRejected     SubmissionStatus = "rejected"
	StatusCEOApproved  SubmissionStatus = "ceo_approved"
	StatusCEORejected  SubmissionStatus = "ceo_rejected"
)

type DecisionReason string

const (
	ReasonHighValue            DecisionReason = "high_value"
	ReasonManualReviewRequired DecisionReason = "manual_review_required"
	ReasonLowConfidence        DecisionReason = "low_confidence"
	ReasonAmountMismatch       DecisionReason = "amount_mismatch"
	ReasonOCRMalformed         DecisionReason = "ocr_malformed"
	ReasonManualFlag           DecisionReason = "manual_flag"
)

// ReceiptSubmission is one payment-receipt upload tied to an order. A new
// payment attempt always creates a new row; terminal rows are never reopened.
type ReceiptSubmission struct {
	ID           string `gorm:"primaryKey;size:36" json:"id"`
	OrderID      string `gorm:"size:64;index;not null" json:"order_id"`
	BuyerSubject string `gorm:"size:128;index;not null" json:"buyer_subject"`
	AmountCents  int64  `gorm:"not null" json:"amount_cents"`
	// OrderAmountCents is the order's value at submission time. The
	// high-value gate keys on it, both at decision time and again at review,
	// so it is persisted rather than re-fetched from a mutable order record.
	OrderAmountCents int64            `gorm:"not null" json:"order_amount_cents"`
	Currency         string           `gorm:"size:8;not null" json:"currency"`
	StorageKey       string           `gorm:"size:256" json:"storage_key"`
	Status           SubmissionStatus `gorm:"size:32;index;not null" json:"status"`
	Reason           DecisionReason   `gorm:"size:64" json:"reason,omitempty"`
	OCRAmount        *int64           `json:"ocr_amount_cents,omitempty"`
	OCRParty         *string          `gorm:"size:256" json:"ocr_counterparty,omitempty"`
	OCRConfidence    *int             `json:"ocr_confidence,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

var submissionTransitions = map[SubmissionStatus][]SubmissionStatus{
	StatusSubmitted: {StatusAutoApproved, StatusFlagged, StatusEscalated},
	StatusFlagged:   {StatusApproved, StatusRejected, StatusEscalated},
	StatusEscalated: {StatusCEOApproved, StatusCEORejected},
}

// CanTransition reports whether the status machine permits from -> to.
// Terminal states have no outgoing edges.
func CanTransition(from, to SubmissionStatus) bool {
	for _, next := range submissionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s SubmissionStatus) Terminal() bool {
	return len(submissionTransitions[s]) == 0 && s != ""
}
