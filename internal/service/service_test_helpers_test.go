package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"go-receipt-verification-service/internal/domain"
	"go-receipt-verification-service/internal/repository"
)

func newServiceDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.ReceiptSubmission{},
		&domain.EscalationRequest{},
		&domain.AuditEntry{},
		&domain.WebhookDeliveryLog{},
	); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// capturingNotifier records delivered plaintext codes for assertions.
type capturingNotifier struct {
	mu         sync.Mutex
	deliveries []capturedDelivery
	failWith   error
}

type capturedDelivery struct {
	subject string
	role    domain.Role
	code    string
}

func (n *capturingNotifier) Deliver(_ context.Context, subject string, role domain.Role, code string, _ time.Time) error {
	if n.failWith != nil {
		return n.failWith
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, capturedDelivery{subject: subject, role: role, code: code})
	return nil
}

func (n *capturingNotifier) last(t *testing.T) capturedDelivery {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.deliveries) == 0 {
		t.Fatal("no deliveries captured")
	}
	return n.deliveries[len(n.deliveries)-1]
}

func auditEntriesByAction(t *testing.T, db *gorm.DB, action string) []domain.AuditEntry {
	t.Helper()
	var entries []domain.AuditEntry
	if err := db.Where("action = ?", action).Order("created_at asc").Find(&entries).Error; err != nil {
		t.Fatalf("load audit entries: %v", err)
	}
	return entries
}

func newOTPManagerForTest(t *testing.T, notifier OTPNotifier, cfg OTPManagerConfig) (*OTPManager, *gorm.DB) {
	t.Helper()
	_, client := newRedisForTest(t)
	db := newServiceDBForTest(t)
	store := NewRedisCredentialStore(client, "otp")
	limiter := NewRedisIssuanceLimiter(client, 100, 100, time.Minute, "otp")
	mgr := NewOTPManager(store, limiter, notifier, repository.NewAuditRepository(db), discardLogger(), cfg)
	return mgr, db
}

func defaultOTPConfig() OTPManagerConfig {
	return OTPManagerConfig{
		TTL:         5 * time.Minute,
		ExpiryGrace: time.Minute,
		MaxAttempts: 3,
		Pepper:      "test-pepper-test-pepper",
	}
}
