package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"gorm.io/gorm"

	"go-receipt-verification-service/internal/domain"
	"go-receipt-verification-service/internal/observability"
	"go-receipt-verification-service/internal/repository"
	"go-receipt-verification-service/internal/security"
)

// WebhookDelivery is the ingress-relevant envelope of a third-party message.
// RawBody is the exact bytes as received; the signature covers those bytes,
// not any re-serialized form.
type WebhookDelivery struct {
	Platform  string
	MessageID string
	Signature string
	Timestamp time.Time
	SourceIP  netip.Addr
	RawBody   []byte
}

// WebhookGuardConfig is the admission policy.
type WebhookGuardConfig struct {
	Secret          string
	FreshnessWindow time.Duration
	AllowedCIDRs    []netip.Prefix
}

// WebhookGuard decides whether an inbound delivery is admitted to the
// pipeline. Checks run cheapest-reject-first: signature, freshness, origin,
// replay. The replay ledger is consulted last, after every pure check has
// passed, so neither a forged request nor one from a disallowed origin can
// burn a legitimate message id before the platform retries it.
type WebhookGuard struct {
	ledger     ReplayLedger
	deliveries repository.WebhookDeliveryRepository
	audit      repository.AuditRepository
	logger     *slog.Logger
	cfg        WebhookGuardConfig
	now        func() time.Time
}

func NewWebhookGuard(
	ledger ReplayLedger,
	deliveries repository.WebhookDeliveryRepository,
	audit repository.AuditRepository,
	logger *slog.Logger,
	cfg WebhookGuardConfig,
) *WebhookGuard {
	return &WebhookGuard{
		ledger:     ledger,
		deliveries: deliveries,
		audit:      audit,
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ParseCIDRs converts config strings into prefixes, rejecting bad entries at
// startup rather than per request.
func ParseCIDRs(cidrs []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("parse cidr %q: %w", c, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Admit runs the admission checks in order and stops at the first failure.
// An admitted delivery is recorded in the durable delivery log.
func (g *WebhookGuard) Admit(ctx context.Context, d WebhookDelivery) (domain.AdmitResult, error) {
	if !security.VerifyWebhookSignature(g.cfg.Secret, d.RawBody, d.Signature) {
		return g.reject(ctx, d, domain.AdmitInvalidSignature), nil
	}
	if !g.fresh(d.Timestamp) {
		return g.reject(ctx, d, domain.AdmitStale), nil
	}
	if !g.originAllowed(d.SourceIP) {
		return g.reject(ctx, d, domain.AdmitUntrustedOrigin), nil
	}
	first, err := g.ledger.FirstSeen(ctx, d.Platform, d.MessageID)
	if err != nil {
		return domain.AdmitResult{}, fmt.Errorf("replay check: %w", err)
	}
	if !first {
		return g.reject(ctx, d, domain.AdmitDuplicate), nil
	}

	if err := g.deliveries.Record(ctx, &domain.WebhookDeliveryLog{
		MessageID:  d.MessageID,
		Platform:   d.Platform,
		SourceIP:   d.SourceIP.String(),
		ReceivedAt: g.now(),
	}); err != nil && !errors.Is(err, repository.ErrDeliveryAlreadyRecorded) {
		return domain.AdmitResult{}, fmt.Errorf("record delivery: %w", err)
	}

	g.auditDecision(ctx, d, domain.AdmitOK)
	observability.RecordWebhookAdmission(ctx, d.Platform, string(domain.AdmitOK))
	return domain.AdmitResult{OK: true, Reason: domain.AdmitOK}, nil
}

// AdmitDiagnostics runs every check without short-circuiting. Ops tooling
// uses it to see all of a failing delivery's problems at once. It never
// touches the replay ledger's state or the delivery log.
func (g *WebhookGuard) AdmitDiagnostics(ctx context.Context, d WebhookDelivery) (map[domain.AdmitReason]bool, error) {
	out := map[domain.AdmitReason]bool{
		domain.AdmitInvalidSignature: security.VerifyWebhookSignature(g.cfg.Secret, d.RawBody, d.Signature),
		domain.AdmitStale:            g.fresh(d.Timestamp),
		domain.AdmitUntrustedOrigin:  g.originAllowed(d.SourceIP),
	}
	seen, err := g.deliveries.FindByMessageID(ctx, d.MessageID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	out[domain.AdmitDuplicate] = seen == nil
	return out, nil
}

func (g *WebhookGuard) fresh(ts time.Time) bool {
	if ts.IsZero() {
		return false
	}
	delta := g.now().Sub(ts)
	if delta < 0 {
		delta = -delta
	}
	return delta <= g.cfg.FreshnessWindow
}

func (g *WebhookGuard) originAllowed(addr netip.Addr) bool {
	// An empty allowlist admits any origin; the signature remains the
	// primary authenticator.
	if len(g.cfg.AllowedCIDRs) == 0 {
		return true
	}
	if !addr.IsValid() {
		return false
	}
	for _, p := range g.cfg.AllowedCIDRs {
		if p.Contains(addr.Unmap()) {
			return true
		}
	}
	return false
}

func (g *WebhookGuard) reject(ctx context.Context, d WebhookDelivery, reason domain.AdmitReason) domain.AdmitResult {
	g.auditDecision(ctx, d, reason)
	observability.RecordWebhookAdmission(ctx, d.Platform, string(reason))
	g.logger.Warn("webhook rejected",
		"platform", d.Platform,
		"message_id", d.MessageID,
		"reason", string(reason),
		"source_ip", d.SourceIP.String(),
	)
	return domain.AdmitResult{OK: false, Reason: reason}
}

func (g *WebhookGuard) auditDecision(ctx context.Context, d WebhookDelivery, reason domain.AdmitReason) {
	action := domain.AuditActionWebhookAdmitted
	outcome := domain.AuditOK
	if reason != domain.AdmitOK {
		action = domain.AuditActionWebhookRejected
		outcome = domain.AuditDenied
	}
	if err := g.audit.Append(ctx, domain.AuditEntry{
		Actor:    d.Platform,
		Action:   action,
		Resource: "webhook:" + d.MessageID,
		Outcome:  outcome,
		Detail:   string(reason),
	}); err != nil {
		g.logger.Error("audit webhook decision", "message_id", d.MessageID, "error", err)
	}
}
