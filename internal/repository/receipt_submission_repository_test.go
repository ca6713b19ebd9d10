package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"go-receipt-verification-service/internal/domain"
)

func newSubmissionForTest(status domain.SubmissionStatus) *domain.ReceiptSubmission {
	return &domain.ReceiptSubmission{
		ID:           uuid.New().String(),
		OrderID:      "order-77",
		BuyerSubject: "buyer:+2348000000001",
		AmountCents:  1_000_000,
		Currency:     "NGN",
		Status:       status,
	}
}

func TestReceiptSubmissionCreateAndFind(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewReceiptSubmissionRepository(db)
	ctx := context.Background()

	sub := newSubmissionForTest(domain.StatusSubmitted)
	if err := repo.Create(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.FindByID(ctx, sub.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.OrderID != "order-77" || got.Status != domain.StatusSubmitted {
		t.Fatalf("unexpected submission: %+v", got)
	}

	if _, err := repo.FindByID(ctx, "missing"); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
	}
}

func TestTransitionStatusConditional(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewReceiptSubmissionRepository(db)
	ctx := context.Background()

	sub := newSubmissionForTest(domain.StatusSubmitted)
	if err := repo.Create(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.TransitionStatus(ctx, sub.ID, domain.StatusSubmitted, domain.StatusFlagged, domain.ReasonLowConfidence); err != nil {
		t.Fatalf("transition: %v", err)
	}
	got, _ := repo.FindByID(ctx, sub.ID)
	if got.Status != domain.StatusFlagged || got.Reason != domain.ReasonLowConfidence {
		t.Fatalf("unexpected state after transition: %+v", got)
	}

	// Stale `from` must not win.
	if err := repo.TransitionStatus(ctx, sub.ID, domain.StatusSubmitted, domain.StatusEscalated, domain.ReasonHighValue); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict on stale from, got %v", err)
	}

	// Edges the machine forbids are rejected before touching the row.
	if err := repo.TransitionStatus(ctx, sub.ID, domain.StatusFlagged, domain.StatusAutoApproved, ""); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected forbidden edge to fail, got %v", err)
	}

	if err := repo.TransitionStatus(ctx, "missing", domain.StatusSubmitted, domain.StatusFlagged, ""); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
	}
}

func TestTransitionStatusConcurrentSingleWinner(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewReceiptSubmissionRepository(db)
	ctx := context.Background()

	sub := newSubmissionForTest(domain.StatusFlagged)
	if err := repo.Create(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	targets := []domain.SubmissionStatus{domain.StatusApproved, domain.StatusRejected}
	wg.Add(2)
	for i := 0; i < 2; i++ {
		idx := i
		go func() {
			defer wg.Done()
			errs[idx] = repo.TransitionStatus(ctx, sub.ID, domain.StatusFlagged, targets[idx], "")
		}()
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrStatusConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one winner, got wins=%d conflicts=%d", wins, conflicts)
	}
}

func TestRecordExtraction(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewReceiptSubmissionRepository(db)
	ctx := context.Background()

	sub := newSubmissionForTest(domain.StatusSubmitted)
	if err := repo.Create(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.RecordExtraction(ctx, sub.ID, 999_950, "ACME Stores", 91); err != nil {
		t.Fatalf("record extraction: %v", err)
	}
	got, _ := repo.FindByID(ctx, sub.ID)
	if got.OCRAmount == nil || *got.OCRAmount != 999_950 {
		t.Fatalf("unexpected ocr amount: %+v", got.OCRAmount)
	}
	if got.OCRConfidence == nil || *got.OCRConfidence != 91 {
		t.Fatalf("unexpected ocr confidence: %+v", got.OCRConfidence)
	}

	if err := repo.RecordExtraction(ctx, "missing", 1, "x", 1); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
	}
}
