package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"go-receipt-verification-service/internal/domain"
	"go-receipt-verification-service/internal/observability"
	"go-receipt-verification-service/internal/repository"
)

var (
	ErrEscalationResolved      = errors.New("escalation request is already resolved")
	ErrUnauthorizedAuthority   = errors.New("authority is not permitted to resolve escalations")
	ErrCredentialRejected      = errors.New("approval credential rejected")
	ErrCredentialScopeMismatch = errors.New("credential was not issued for this escalation")
	ErrInvalidResolution       = errors.New("invalid resolution")
)

// EscalationService gates terminal decisions on high-value submissions
// behind a fresh executive credential. Only subjects on the configured
// approver roster may request or use one; a credential is bound to its
// escalation at issuance, so one issued for anything else cannot resolve it.
type EscalationService struct {
	escalations repository.EscalationRepository
	submissions repository.ReceiptSubmissionRepository
	otp         *OTPManager
	audit       repository.AuditRepository
	logger      *slog.Logger
	approvers   map[string]struct{}
	now         func() time.Time
}

func NewEscalationService(
	escalations repository.EscalationRepository,
	submissions repository.ReceiptSubmissionRepository,
	otp *OTPManager,
	audit repository.AuditRepository,
	logger *slog.Logger,
	approvers []string,
) *EscalationService {
	roster := make(map[string]struct{}, len(approvers))
	for _, a := range approvers {
		roster[a] = struct{}{}
	}
	return &EscalationService{
		escalations: escalations,
		submissions: submissions,
		otp:         otp,
		audit:       audit,
		logger:      logger,
		approvers:   roster,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// authorized reports whether the subject is on the approver roster. An empty
// roster authorizes nobody; escalations then stay open until one is
// configured.
func (s *EscalationService) authorized(authority string) bool {
	_, ok := s.approvers[authority]
	return ok
}

func escalationScope(escalationID string) string {
	return "escalation:" + escalationID
}

func (s *EscalationService) auditUnauthorized(ctx context.Context, escalationID, authority, attempt string) {
	if err := s.audit.Append(ctx, domain.AuditEntry{
		Actor:    authority,
		Action:   domain.AuditActionEscalationDenied,
		Resource: "escalation:" + escalationID,
		Outcome:  domain.AuditDenied,
		Detail:   "unauthorized " + attempt,
	}); err != nil {
		s.logger.Error("audit unauthorized escalation access", "escalation_id", escalationID, "error", err)
	}
	observability.RecordEscalationEvent(ctx, attempt, "unauthorized")
}

// Escalate opens (or returns the already-open) escalation request for a
// submission. Idempotent under concurrent callers.
func (s *EscalationService) Escalate(ctx context.Context, submissionID string, reason domain.EscalationReason) (*domain.EscalationRequest, error) {
	req, created, err := s.escalations.OpenOrCreate(ctx, submissionID, reason)
	if err != nil {
		return nil, err
	}
	if created {
		if err := s.audit.Append(ctx, domain.AuditEntry{
			Actor:    "system",
			Action:   domain.AuditActionEscalationOpened,
			Resource: "escalation:" + req.ID,
			Outcome:  domain.AuditOK,
			Detail:   string(reason),
		}); err != nil {
			s.logger.Error("audit escalation open", "escalation_id", req.ID, "error", err)
		}
		observability.RecordEscalationEvent(ctx, "open", "created")
	} else {
		observability.RecordEscalationEvent(ctx, "open", "existing")
	}
	return req, nil
}

func (s *EscalationService) Find(ctx context.Context, escalationID string) (*domain.EscalationRequest, error) {
	return s.escalations.FindByID(ctx, escalationID)
}

// RequestApprovalCredential issues a fresh executive credential bound to
// this escalation. The authority must be on the approver roster; each
// resolution attempt needs its own credential, and an earlier one, used or
// not, never carries over.
func (s *EscalationService) RequestApprovalCredential(ctx context.Context, escalationID, authority, sourceIP string) (*IssuedCredential, error) {
	if !s.authorized(authority) {
		s.auditUnauthorized(ctx, escalationID, authority, "credential_request")
		return nil, ErrUnauthorizedAuthority
	}
	req, err := s.escalations.FindByID(ctx, escalationID)
	if err != nil {
		return nil, err
	}
	if !req.Open() {
		return nil, ErrEscalationResolved
	}
	issued, err := s.otp.Issue(ctx, authority, domain.RoleExecutive, escalationScope(escalationID), sourceIP)
	if err != nil {
		return nil, err
	}
	observability.RecordEscalationEvent(ctx, "credential_requested", "success")
	return issued, nil
}

// Resolve closes an open escalation. The authority is checked against the
// approver roster, then the credential is verified; any verification
// failure is returned untouched with zero state change.
// The close itself, the submission transition and the audit entry commit in
// one database transaction.
func (s *EscalationService) Resolve(ctx context.Context, escalationID, authority, code string, resolution domain.EscalationResolution) (*domain.EscalationRequest, domain.VerifyResult, error) {
	var target domain.SubmissionStatus
	switch resolution {
	case domain.ResolutionApproved:
		target = domain.StatusCEOApproved
	case domain.ResolutionRejected:
		target = domain.StatusCEORejected
	default:
		return nil, domain.VerifyResult{}, ErrInvalidResolution
	}

	if !s.authorized(authority) {
		s.auditUnauthorized(ctx, escalationID, authority, "resolve")
		return nil, domain.VerifyResult{}, ErrUnauthorizedAuthority
	}
	req, err := s.escalations.FindByID(ctx, escalationID)
	if err != nil {
		return nil, domain.VerifyResult{}, err
	}
	if !req.Open() {
		return nil, domain.VerifyResult{}, ErrEscalationResolved
	}

	verify, err := s.otp.Verify(ctx, authority, code)
	if err != nil {
		return nil, domain.VerifyResult{}, fmt.Errorf("verify credential: %w", err)
	}
	if !verify.OK {
		observability.RecordEscalationEvent(ctx, "resolve", string(verify.Reason))
		return nil, verify, fmt.Errorf("%w: %s", ErrCredentialRejected, verify.Reason)
	}
	if verify.Scope != escalationScope(escalationID) {
		observability.RecordEscalationEvent(ctx, "resolve", "scope_mismatch")
		return nil, verify, ErrCredentialScopeMismatch
	}

	at := s.now()
	err = s.escalations.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.escalations.Resolve(tx, escalationID, authority, resolution, verify.CredentialID, at); err != nil {
			return err
		}
		res := tx.Model(&domain.ReceiptSubmission{}).
			Where("id = ? AND status = ?", req.SubmissionID, domain.StatusEscalated).
			Updates(map[string]any{"status": target})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repository.ErrStatusConflict
		}
		return tx.Create(&domain.AuditEntry{
			ID:        uuid.New().String(),
			Actor:     authority,
			Action:    domain.AuditActionEscalationResolved,
			Resource:  "escalation:" + escalationID,
			Outcome:   domain.AuditOK,
			Detail:    string(resolution) + " credential=" + verify.CredentialID,
			CreatedAt: at,
		}).Error
	})
	if err != nil {
		observability.RecordEscalationEvent(ctx, "resolve", "error")
		return nil, verify, err
	}

	resolved, err := s.escalations.FindByID(ctx, escalationID)
	if err != nil {
		return nil, verify, err
	}
	observability.RecordEscalationEvent(ctx, "resolve", string(resolution))
	s.logger.Info("escalation resolved",
		"escalation_id", escalationID,
		"submission_id", req.SubmissionID,
		"resolution", string(resolution),
		"resolved_by", authority,
	)
	return resolved, verify, nil
}
