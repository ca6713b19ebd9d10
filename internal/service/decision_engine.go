package service

import (
	"go-receipt-verification-service/internal/domain"
)

// OCRExtraction is what the OCR collaborator read off a receipt artifact.
// A nil extraction means OCR was unavailable or disabled; Malformed marks a
// response that arrived but could not be interpreted.
type OCRExtraction struct {
	AmountCents  int64
	Counterparty string
	Confidence   int
	Malformed    bool
}

// DecisionPolicy is the engine's tunable thresholds, resolved from config
// once at construction.
type DecisionPolicy struct {
	HighValueThresholdCents int64
	MinConfidence           int
	ToleranceBP             int64
}

type Decision struct {
	Status domain.SubmissionStatus
	Reason domain.DecisionReason
}

// Decide classifies a fresh submission against the order it claims to pay.
// Pure function; every side effect (persistence, transition, audit) belongs
// to the caller.
//
// Every rule keys on the order's value, never on the buyer's claimed amount,
// so an understated claim cannot route a large order around the gate. The
// high-value rule fires before anything else and is not overridable: a
// perfect OCR read on an order above the threshold still escalates.
// Everything that cannot be positively verified fails closed into review.
func Decide(orderAmountCents int64, ocr *OCRExtraction, policy DecisionPolicy) Decision {
	if orderAmountCents >= policy.HighValueThresholdCents {
		return Decision{Status: domain.StatusEscalated, Reason: domain.ReasonHighValue}
	}
	if ocr == nil {
		return Decision{Status: domain.StatusFlagged, Reason: domain.ReasonManualReviewRequired}
	}
	if ocr.Malformed {
		return Decision{Status: domain.StatusFlagged, Reason: domain.ReasonOCRMalformed}
	}
	if ocr.Confidence < policy.MinConfidence {
		return Decision{Status: domain.StatusFlagged, Reason: domain.ReasonLowConfidence}
	}
	if !domain.WithinToleranceBP(orderAmountCents, ocr.AmountCents, policy.ToleranceBP) {
		return Decision{Status: domain.StatusFlagged, Reason: domain.ReasonAmountMismatch}
	}
	return Decision{Status: domain.StatusAutoApproved}
}
