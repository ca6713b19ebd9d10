package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-receipt-verification-service/internal/domain"
	"go-receipt-verification-service/internal/repository"
)

func TestOTPIssueAndVerifyHappyPath(t *testing.T) {
	notifier := &capturingNotifier{}
	mgr, db := newOTPManagerForTest(t, notifier, defaultOTPConfig())
	ctx := context.Background()

	issued, err := mgr.Issue(ctx, "buyer-1", domain.RoleBuyer, "", "10.0.0.1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.CredentialID == "" {
		t.Fatal("expected credential id")
	}

	code := notifier.last(t).code
	if len(code) != 6 {
		t.Fatalf("buyer code should be 6 digits, got %q", code)
	}

	res, err := mgr.Verify(ctx, "buyer-1", code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.OK || res.Reason != domain.VerifyOK {
		t.Fatalf("expected ok verification, got %+v", res)
	}
	if res.CredentialID != issued.CredentialID {
		t.Fatalf("credential id mismatch: %q vs %q", res.CredentialID, issued.CredentialID)
	}

	issues := auditEntriesByAction(t, db, domain.AuditActionCredentialIssued)
	verifies := auditEntriesByAction(t, db, domain.AuditActionCredentialVerified)
	if len(issues) != 1 || len(verifies) != 1 {
		t.Fatalf("expected one issue and one verify audit entry, got %d/%d", len(issues), len(verifies))
	}
	if verifies[0].Outcome != domain.AuditOK {
		t.Fatalf("verify audit outcome: %v", verifies[0].Outcome)
	}
}

func TestOTPCredentialIsSingleUse(t *testing.T) {
	notifier := &capturingNotifier{}
	mgr, _ := newOTPManagerForTest(t, notifier, defaultOTPConfig())
	ctx := context.Background()

	if _, err := mgr.Issue(ctx, "buyer-2", domain.RoleBuyer, "", ""); err != nil {
		t.Fatalf("issue: %v", err)
	}
	code := notifier.last(t).code

	first, err := mgr.Verify(ctx, "buyer-2", code)
	if err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if !first.OK {
		t.Fatalf("first verify should pass, got %+v", first)
	}

	second, err := mgr.Verify(ctx, "buyer-2", code)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if second.OK || second.Reason != domain.VerifyNotFound {
		t.Fatalf("replayed code must fail with not_found, got %+v", second)
	}
}

func TestOTPVerifyUnknownSubject(t *testing.T) {
	mgr, _ := newOTPManagerForTest(t, &capturingNotifier{}, defaultOTPConfig())

	res, err := mgr.Verify(context.Background(), "stranger", "123456")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.OK || res.Reason != domain.VerifyNotFound {
		t.Fatalf("expected not_found, got %+v", res)
	}
}

func TestOTPVerifyExpired(t *testing.T) {
	notifier := &capturingNotifier{}
	mgr, _ := newOTPManagerForTest(t, notifier, defaultOTPConfig())
	ctx := context.Background()

	if _, err := mgr.Issue(ctx, "buyer-3", domain.RoleBuyer, "", ""); err != nil {
		t.Fatalf("issue: %v", err)
	}
	code := notifier.last(t).code

	// Jump the manager clock past the logical expiry while the redis key is
	// still alive inside the grace window.
	mgr.now = func() time.Time { return time.Now().UTC().Add(5*time.Minute + time.Second) }

	res, err := mgr.Verify(ctx, "buyer-3", code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.OK || res.Reason != domain.VerifyExpired {
		t.Fatalf("expected expired, got %+v", res)
	}

	// The expired credential is deleted, so the next attempt cannot even
	// tell it existed.
	res, err = mgr.Verify(ctx, "buyer-3", code)
	if err != nil {
		t.Fatalf("verify after delete: %v", err)
	}
	if res.Reason != domain.VerifyNotFound {
		t.Fatalf("expected not_found after expiry cleanup, got %+v", res)
	}
}

func TestOTPMismatchLockout(t *testing.T) {
	notifier := &capturingNotifier{}
	mgr, _ := newOTPManagerForTest(t, notifier, defaultOTPConfig())
	ctx := context.Background()

	if _, err := mgr.Issue(ctx, "buyer-4", domain.RoleBuyer, "", ""); err != nil {
		t.Fatalf("issue: %v", err)
	}
	code := notifier.last(t).code
	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}

	for i := 0; i < 2; i++ {
		res, err := mgr.Verify(ctx, "buyer-4", wrong)
		if err != nil {
			t.Fatalf("mismatch %d: %v", i, err)
		}
		if res.Reason != domain.VerifyMismatch {
			t.Fatalf("mismatch %d: got %+v", i, res)
		}
	}

	res, err := mgr.Verify(ctx, "buyer-4", wrong)
	if err != nil {
		t.Fatalf("third mismatch: %v", err)
	}
	if res.Reason != domain.VerifyLockedOut {
		t.Fatalf("third mismatch should lock, got %+v", res)
	}

	// Even the correct code is refused once locked.
	res, err = mgr.Verify(ctx, "buyer-4", code)
	if err != nil {
		t.Fatalf("verify after lock: %v", err)
	}
	if res.OK || res.Reason != domain.VerifyLockedOut {
		t.Fatalf("locked credential must refuse the right code, got %+v", res)
	}
}

func TestOTPReissueInvalidatesPriorCode(t *testing.T) {
	notifier := &capturingNotifier{}
	mgr, _ := newOTPManagerForTest(t, notifier, defaultOTPConfig())
	ctx := context.Background()

	if _, err := mgr.Issue(ctx, "buyer-5", domain.RoleBuyer, "", ""); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	oldCode := notifier.last(t).code

	if _, err := mgr.Issue(ctx, "buyer-5", domain.RoleBuyer, "", ""); err != nil {
		t.Fatalf("second issue: %v", err)
	}
	newCode := notifier.last(t).code

	if oldCode != newCode {
		res, err := mgr.Verify(ctx, "buyer-5", oldCode)
		if err != nil {
			t.Fatalf("verify old code: %v", err)
		}
		if res.OK {
			t.Fatal("superseded code must not verify")
		}
	}

	res, err := mgr.Verify(ctx, "buyer-5", newCode)
	if err != nil {
		t.Fatalf("verify new code: %v", err)
	}
	if !res.OK {
		t.Fatalf("current code should verify, got %+v", res)
	}
}

func TestOTPIssueThrottled(t *testing.T) {
	_, client := newRedisForTest(t)
	db := newServiceDBForTest(t)
	notifier := &capturingNotifier{}
	store := NewRedisCredentialStore(client, "otp")
	limiter := NewRedisIssuanceLimiter(client, 1, 10, time.Minute, "otp")
	mgr := NewOTPManager(store, limiter, notifier, repository.NewAuditRepository(db), discardLogger(), defaultOTPConfig())
	ctx := context.Background()

	if _, err := mgr.Issue(ctx, "buyer-6", domain.RoleBuyer, "", ""); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	firstCode := notifier.last(t).code

	if _, err := mgr.Issue(ctx, "buyer-6", domain.RoleBuyer, "", ""); !errors.Is(err, ErrIssuanceThrottled) {
		t.Fatalf("expected throttle, got %v", err)
	}

	// The throttled request issued nothing: the first code still verifies.
	res, err := mgr.Verify(ctx, "buyer-6", firstCode)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.OK {
		t.Fatalf("existing credential should survive a throttled issue, got %+v", res)
	}
}

func TestOTPDeliveryFailureRollsBack(t *testing.T) {
	notifier := &capturingNotifier{failWith: errors.New("channel down")}
	mgr, _ := newOTPManagerForTest(t, notifier, defaultOTPConfig())
	ctx := context.Background()

	if _, err := mgr.Issue(ctx, "buyer-7", domain.RoleBuyer, "", ""); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected delivery failure, got %v", err)
	}

	res, err := mgr.Verify(ctx, "buyer-7", "123456")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Reason != domain.VerifyNotFound {
		t.Fatalf("undelivered credential must not be verifiable, got %+v", res)
	}
}

func TestOTPExecutiveCodeShape(t *testing.T) {
	notifier := &capturingNotifier{}
	mgr, _ := newOTPManagerForTest(t, notifier, defaultOTPConfig())

	if _, err := mgr.Issue(context.Background(), "ceo", domain.RoleExecutive, "escalation:e1", ""); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if code := notifier.last(t).code; len(code) != 10 {
		t.Fatalf("executive code should be 10 chars, got %q", code)
	}
}
