package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"go-receipt-verification-service/internal/domain"
	"go-receipt-verification-service/internal/observability"
	"go-receipt-verification-service/internal/repository"
	"go-receipt-verification-service/internal/security"
)

var (
	ErrIssuanceThrottled = errors.New("credential issuance rate limit exceeded")
	ErrDeliveryFailed    = errors.New("credential delivery failed")
)

// OTPManagerConfig carries the issuance and verification policy knobs.
type OTPManagerConfig struct {
	TTL         time.Duration
	ExpiryGrace time.Duration
	MaxAttempts int
	Pepper      string
}

// IssuedCredential is the caller-visible result of an issuance. The
// plaintext code is not part of it; the notifier is the only sink.
type IssuedCredential struct {
	CredentialID string      `json:"credential_id"`
	Subject      string      `json:"subject"`
	Role         domain.Role `json:"role"`
	ExpiresAt    time.Time   `json:"expires_at"`
}

// OTPManager owns the one-time-credential lifecycle: issue, deliver out of
// band, verify with atomic single-use consumption.
type OTPManager struct {
	store    CredentialStore
	limiter  IssuanceLimiter
	notifier OTPNotifier
	audit    repository.AuditRepository
	logger   *slog.Logger
	cfg      OTPManagerConfig
	now      func() time.Time
}

func NewOTPManager(
	store CredentialStore,
	limiter IssuanceLimiter,
	notifier OTPNotifier,
	audit repository.AuditRepository,
	logger *slog.Logger,
	cfg OTPManagerConfig,
) *OTPManager {
	return &OTPManager{
		store:    store,
		limiter:  limiter,
		notifier: notifier,
		audit:    audit,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates a fresh credential for the subject, replacing any live one,
// and hands the plaintext to the out-of-band channel exactly once. A
// throttled request issues nothing.
func (m *OTPManager) Issue(ctx context.Context, subject string, role domain.Role, scope, sourceIP string) (*IssuedCredential, error) {
	if ok, err := m.limiter.AllowSubject(ctx, subject); err != nil {
		return nil, fmt.Errorf("issuance limiter: %w", err)
	} else if !ok {
		m.auditIssue(ctx, subject, domain.AuditDenied, "subject rate limit")
		observability.RecordCredentialEvent(ctx, "issue", "throttled")
		return nil, ErrIssuanceThrottled
	}
	if ok, err := m.limiter.AllowSource(ctx, sourceIP); err != nil {
		return nil, fmt.Errorf("issuance limiter: %w", err)
	} else if !ok {
		m.auditIssue(ctx, subject, domain.AuditDenied, "source rate limit")
		observability.RecordCredentialEvent(ctx, "issue", "throttled")
		return nil, ErrIssuanceThrottled
	}

	code, err := security.GenerateCode(role)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	salt, err := security.NewRandomSalt()
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	now := m.now()
	cred := domain.Credential{
		ID:        uuid.New().String(),
		Subject:   subject,
		Role:      role,
		Hash:      security.HashCredential(code, salt, m.cfg.Pepper),
		Salt:      salt,
		Scope:     scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.cfg.TTL),
	}

	// Redis TTL runs past the logical expiry so Verify can still tell an
	// expired credential apart from one that never existed.
	if err := m.store.Put(ctx, cred, m.cfg.TTL+m.cfg.ExpiryGrace); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}

	if err := m.notifier.Deliver(ctx, subject, role, code, cred.ExpiresAt); err != nil {
		// An undeliverable code must not stay verifiable.
		if delErr := m.store.Delete(ctx, subject); delErr != nil {
			m.logger.Error("rollback undelivered credential", "subject", subject, "error", delErr)
		}
		m.auditIssue(ctx, subject, domain.AuditError, "delivery failed")
		observability.RecordCredentialEvent(ctx, "issue", "delivery_failed")
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	m.auditIssue(ctx, subject, domain.AuditOK, string(role))
	observability.RecordCredentialEvent(ctx, "issue", "success")
	m.logger.Info("credential issued", "subject", subject, "role", string(role), "credential_id", cred.ID)

	return &IssuedCredential{
		CredentialID: cred.ID,
		Subject:      subject,
		Role:         role,
		ExpiresAt:    cred.ExpiresAt,
	}, nil
}

// Verify checks a submitted code against the subject's live credential. A
// match consumes the credential atomically; a mismatch burns an attempt and
// locks the credential at the ceiling. The compare itself is constant time.
func (m *OTPManager) Verify(ctx context.Context, subject, submitted string) (domain.VerifyResult, error) {
	cred, err := m.store.Get(ctx, subject)
	if errors.Is(err, ErrCredentialGone) {
		return m.finishVerify(ctx, subject, domain.VerifyResult{Reason: domain.VerifyNotFound}), nil
	}
	if err != nil {
		return domain.VerifyResult{}, fmt.Errorf("load credential: %w", err)
	}

	if cred.Locked {
		return m.finishVerify(ctx, subject, domain.VerifyResult{Reason: domain.VerifyLockedOut}), nil
	}

	if cred.Expired(m.now()) {
		// Expired credentials are deleted eagerly rather than waiting for
		// redis eviction, so a replay inside the grace window still fails.
		if delErr := m.store.Delete(ctx, subject); delErr != nil {
			m.logger.Error("delete expired credential", "subject", subject, "error", delErr)
		}
		return m.finishVerify(ctx, subject, domain.VerifyResult{Reason: domain.VerifyExpired}), nil
	}

	submittedHash := security.HashCredential(submitted, cred.Salt, m.cfg.Pepper)
	if !security.ConstantTimeEquals(submittedHash, cred.Hash) {
		_, locked, err := m.store.RegisterFailure(ctx, subject, cred.ID, m.cfg.MaxAttempts)
		if errors.Is(err, ErrCredentialGone) {
			return m.finishVerify(ctx, subject, domain.VerifyResult{Reason: domain.VerifyNotFound}), nil
		}
		if err != nil {
			return domain.VerifyResult{}, fmt.Errorf("register failed attempt: %w", err)
		}
		reason := domain.VerifyMismatch
		if locked {
			reason = domain.VerifyLockedOut
		}
		return m.finishVerify(ctx, subject, domain.VerifyResult{Reason: reason}), nil
	}

	consumed, err := m.store.ConsumeIfCurrent(ctx, subject, cred.ID)
	if err != nil {
		return domain.VerifyResult{}, fmt.Errorf("consume credential: %w", err)
	}
	if !consumed {
		// Lost the race: someone else consumed it or a new credential
		// replaced it between the read and the conditional delete.
		return m.finishVerify(ctx, subject, domain.VerifyResult{Reason: domain.VerifyNotFound}), nil
	}

	return m.finishVerify(ctx, subject, domain.VerifyResult{
		OK:           true,
		Reason:       domain.VerifyOK,
		CredentialID: cred.ID,
		Scope:        cred.Scope,
	}), nil
}

func (m *OTPManager) finishVerify(ctx context.Context, subject string, res domain.VerifyResult) domain.VerifyResult {
	outcome := domain.AuditDenied
	if res.OK {
		outcome = domain.AuditOK
	}
	if err := m.audit.Append(ctx, domain.AuditEntry{
		Actor:    subject,
		Action:   domain.AuditActionCredentialVerified,
		Resource: "credential:" + subject,
		Outcome:  outcome,
		Detail:   string(res.Reason),
	}); err != nil {
		m.logger.Error("audit verify", "subject", subject, "error", err)
	}
	observability.RecordCredentialEvent(ctx, "verify", string(res.Reason))
	return res
}

func (m *OTPManager) auditIssue(ctx context.Context, subject string, outcome domain.AuditOutcome, detail string) {
	if err := m.audit.Append(ctx, domain.AuditEntry{
		Actor:    subject,
		Action:   domain.AuditActionCredentialIssued,
		Resource: "credential:" + subject,
		Outcome:  outcome,
		Detail:   detail,
	}); err != nil {
		m.logger.Error("audit issue", "subject", subject, "error", err)
	}
}
