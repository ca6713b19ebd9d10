package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"go-receipt-verification-service/internal/domain"
	"go-receipt-verification-service/internal/observability"
	"go-receipt-verification-service/internal/repository"
)

var (
	ErrHighValueOverride    = errors.New("high value submissions cannot be approved by review")
	ErrReviewNotAllowed     = errors.New("submission is not reviewable in its current status")
	ErrInvalidReviewAction  = errors.New("invalid review action")
	ErrVerificationRequired = errors.New("submitter verification required")
)

type ReviewAction string

const (
	ReviewApprove  ReviewAction = "approve"
	ReviewReject   ReviewAction = "reject"
	ReviewEscalate ReviewAction = "escalate"
)

const artifactPresignExpiry = 15 * time.Minute

// SubmitReceiptRequest is a buyer's receipt upload for one order. The buyer
// must have passed OTP verification before the HTTP layer lets the request
// through; Verified carries that fact into the service.
type SubmitReceiptRequest struct {
	OrderID          string
	BuyerSubject     string
	AmountCents      int64
	OrderAmountCents int64
	Currency         string
	ContentType      string
	ArtifactSize     int64
	Artifact         io.Reader
	Verified         bool
}

// ReceiptService runs the submission pipeline: persist, store the artifact,
// extract, decide, transition. Escalated outcomes open an escalation request
// in the same call.
type ReceiptService struct {
	submissions repository.ReceiptSubmissionRepository
	escalations repository.EscalationRepository
	storage     ReceiptStorage
	ocr         OCRClient
	audit       repository.AuditRepository
	logger      *slog.Logger
	policy      DecisionPolicy
}

func NewReceiptService(
	submissions repository.ReceiptSubmissionRepository,
	escalations repository.EscalationRepository,
	storage ReceiptStorage,
	ocr OCRClient,
	audit repository.AuditRepository,
	logger *slog.Logger,
	policy DecisionPolicy,
) *ReceiptService {
	return &ReceiptService{
		submissions: submissions,
		escalations: escalations,
		storage:     storage,
		ocr:         ocr,
		audit:       audit,
		logger:      logger,
		policy:      policy,
	}
}

// Submit runs the full pipeline for one receipt. A new payment attempt is
// always a new submission row; prior rows for the order are untouched.
func (s *ReceiptService) Submit(ctx context.Context, req SubmitReceiptRequest) (*domain.ReceiptSubmission, error) {
	if !req.Verified {
		return nil, ErrVerificationRequired
	}

	id := uuid.New().String()
	storageKey, err := s.storage.Store(ctx, id, req.ContentType, req.ArtifactSize, req.Artifact)
	if err != nil {
		return nil, fmt.Errorf("store receipt artifact: %w", err)
	}

	sub := &domain.ReceiptSubmission{
		ID:               id,
		OrderID:          req.OrderID,
		BuyerSubject:     req.BuyerSubject,
		AmountCents:      req.AmountCents,
		OrderAmountCents: req.OrderAmountCents,
		Currency:         req.Currency,
		StorageKey:       storageKey,
		Status:           domain.StatusSubmitted,
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}

	ocr := s.extract(ctx, sub)
	decision := Decide(sub.OrderAmountCents, ocr, s.policy)

	if err := s.submissions.TransitionStatus(ctx, sub.ID, domain.StatusSubmitted, decision.Status, decision.Reason); err != nil {
		return nil, fmt.Errorf("apply decision: %w", err)
	}
	sub.Status = decision.Status
	sub.Reason = decision.Reason

	if decision.Status == domain.StatusEscalated {
		if _, _, err := s.escalations.OpenOrCreate(ctx, sub.ID, escalationReasonFor(decision.Reason)); err != nil {
			return nil, fmt.Errorf("open escalation: %w", err)
		}
	}

	s.auditDecision(ctx, sub, decision)
	observability.RecordReceiptVerdict(ctx, string(decision.Status), string(decision.Reason))
	s.logger.Info("receipt decided",
		"submission_id", sub.ID,
		"order_id", sub.OrderID,
		"status", string(decision.Status),
		"reason", string(decision.Reason),
	)
	return sub, nil
}

// Review applies a human decision to a flagged submission. The high-value
// rule stays in force and keys on the order amount, not the claimed one: a
// submission against an order at or over the threshold can only be
// escalated, never approved here.
func (s *ReceiptService) Review(ctx context.Context, submissionID, reviewer string, action ReviewAction) (*domain.ReceiptSubmission, error) {
	sub, err := s.submissions.FindByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != domain.StatusFlagged {
		return nil, ErrReviewNotAllowed
	}
	if sub.OrderAmountCents >= s.policy.HighValueThresholdCents && action != ReviewEscalate {
		return nil, ErrHighValueOverride
	}

	var target domain.SubmissionStatus
	switch action {
	case ReviewApprove:
		target = domain.StatusApproved
	case ReviewReject:
		target = domain.StatusRejected
	case ReviewEscalate:
		target = domain.StatusEscalated
	default:
		return nil, ErrInvalidReviewAction
	}

	if err := s.submissions.TransitionStatus(ctx, sub.ID, domain.StatusFlagged, target, domain.ReasonManualFlag); err != nil {
		return nil, err
	}
	sub.Status = target
	sub.Reason = domain.ReasonManualFlag

	if target == domain.StatusEscalated {
		if _, _, err := s.escalations.OpenOrCreate(ctx, sub.ID, domain.EscalationManualFlag); err != nil {
			return nil, fmt.Errorf("open escalation: %w", err)
		}
	}

	if err := s.audit.Append(ctx, domain.AuditEntry{
		Actor:    reviewer,
		Action:   domain.AuditActionReceiptReviewed,
		Resource: "submission:" + sub.ID,
		Outcome:  domain.AuditOK,
		Detail:   string(action),
	}); err != nil {
		s.logger.Error("audit review", "submission_id", sub.ID, "error", err)
	}
	observability.RecordReceiptVerdict(ctx, string(target), string(domain.ReasonManualFlag))
	return sub, nil
}

func (s *ReceiptService) FindSubmission(ctx context.Context, id string) (*domain.ReceiptSubmission, error) {
	return s.submissions.FindByID(ctx, id)
}

func (s *ReceiptService) ListByOrder(ctx context.Context, orderID string) ([]domain.ReceiptSubmission, error) {
	return s.submissions.ListByOrder(ctx, orderID)
}

// extract runs OCR and maps every failure mode onto the decision engine's
// input shape. Unavailable OCR is nil (manual review); a malformed answer is
// an explicit Malformed extraction (fail closed).
func (s *ReceiptService) extract(ctx context.Context, sub *domain.ReceiptSubmission) *OCRExtraction {
	artifactURL, err := s.storage.PresignGet(ctx, sub.StorageKey, artifactPresignExpiry)
	if err != nil {
		s.logger.Error("presign artifact", "submission_id", sub.ID, "error", err)
		return nil
	}
	ocr, err := s.ocr.Extract(ctx, artifactURL)
	if err != nil {
		if errors.Is(err, ErrOCRMalformed) {
			s.logger.Warn("ocr payload malformed", "submission_id", sub.ID, "error", err)
			return &OCRExtraction{Malformed: true}
		}
		s.logger.Warn("ocr unavailable", "submission_id", sub.ID, "error", err)
		return nil
	}
	if err := s.submissions.RecordExtraction(ctx, sub.ID, ocr.AmountCents, ocr.Counterparty, ocr.Confidence); err != nil {
		s.logger.Error("record extraction", "submission_id", sub.ID, "error", err)
	}
	sub.OCRAmount = &ocr.AmountCents
	sub.OCRParty = &ocr.Counterparty
	sub.OCRConfidence = &ocr.Confidence
	return ocr
}

func (s *ReceiptService) auditDecision(ctx context.Context, sub *domain.ReceiptSubmission, decision Decision) {
	if err := s.audit.Append(ctx, domain.AuditEntry{
		Actor:    sub.BuyerSubject,
		Action:   domain.AuditActionReceiptDecided,
		Resource: "submission:" + sub.ID,
		Outcome:  domain.AuditOK,
		Detail:   string(decision.Status) + "/" + string(decision.Reason),
	}); err != nil {
		s.logger.Error("audit decision", "submission_id", sub.ID, "error", err)
	}
}

func escalationReasonFor(reason domain.DecisionReason) domain.EscalationReason {
	switch reason {
	case domain.ReasonHighValue:
		return domain.EscalationValueThreshold
	case domain.ReasonLowConfidence:
		return domain.EscalationLowConfidence
	default:
		return domain.EscalationManualFlag
	}
}
