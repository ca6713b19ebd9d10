package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-receipt-verification-service/internal/domain"
)

func TestWebhookDeliveryRecordRejectsDuplicateMessageID(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewWebhookDeliveryRepository(db)
	ctx := context.Background()

	log := &domain.WebhookDeliveryLog{
		MessageID:  "wamid.123",
		Platform:   "whatsapp",
		SourceIP:   "157.240.1.9",
		ReceivedAt: time.Now().UTC(),
	}
	if err := repo.Record(ctx, log); err != nil {
		t.Fatalf("record: %v", err)
	}

	dup := &domain.WebhookDeliveryLog{
		MessageID:  "wamid.123",
		Platform:   "whatsapp",
		SourceIP:   "157.240.1.9",
		ReceivedAt: time.Now().UTC(),
	}
	if err := repo.Record(ctx, dup); !errors.Is(err, ErrDeliveryAlreadyRecorded) {
		t.Fatalf("expected ErrDeliveryAlreadyRecorded, got %v", err)
	}

	got, err := repo.FindByMessageID(ctx, "wamid.123")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Platform != "whatsapp" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestWebhookDeliveryPruneOlderThan(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewWebhookDeliveryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	ages := []time.Duration{-72 * time.Hour, -48 * time.Hour, -time.Minute}
	for i, age := range ages {
		err := repo.Record(ctx, &domain.WebhookDeliveryLog{
			MessageID:  string(rune('a'+i)) + "-msg",
			Platform:   "telegram",
			ReceivedAt: now.Add(age),
		})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	pruned, err := repo.PruneOlderThan(ctx, now.Add(-24*time.Hour), 100)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 2 {
		t.Fatalf("expected 2 pruned rows, got %d", pruned)
	}

	if _, err := repo.FindByMessageID(ctx, "c-msg"); err != nil {
		t.Fatalf("recent delivery should survive prune: %v", err)
	}
}
