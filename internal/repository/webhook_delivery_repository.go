package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"go-receipt-verification-service/internal/domain"
	"go-receipt-verification-service/internal/observability"
)

var ErrDeliveryAlreadyRecorded = errors.New("webhook delivery already recorded")

type WebhookDeliveryRepository interface {
	Record(ctx context.Context, log *domain.WebhookDeliveryLog) error
	FindByMessageID(ctx context.Context, messageID string) (*domain.WebhookDeliveryLog, error)
	// PruneOlderThan bounds retention of the forensic trail; returns rows
	// removed.
	PruneOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type GormWebhookDeliveryRepository struct{ db *gorm.DB }

func NewWebhookDeliveryRepository(db *gorm.DB) WebhookDeliveryRepository {
	return &GormWebhookDeliveryRepository{db: db}
}

func (r *GormWebhookDeliveryRepository) Record(ctx context.Context, log *domain.WebhookDeliveryLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(ctx, "webhook_delivery", "record", "duplicate")
			return ErrDeliveryAlreadyRecorded
		}
		observability.RecordRepositoryOperation(ctx, "webhook_delivery", "record", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "webhook_delivery", "record", "success")
	return nil
}

func (r *GormWebhookDeliveryRepository) FindByMessageID(ctx context.Context, messageID string) (*domain.WebhookDeliveryLog, error) {
	var log domain.WebhookDeliveryLog
	err := r.db.WithContext(ctx).First(&log, "message_id = ?", messageID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	return &log, nil
}

func (r *GormWebhookDeliveryRepository) PruneOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&domain.WebhookDeliveryLog{}).
		Where("received_at < ?", cutoff).
		Order("received_at asc").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "webhook_delivery", "prune", "error")
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.WebhookDeliveryLog{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "webhook_delivery", "prune", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "webhook_delivery", "prune", "success")
	return res.RowsAffected, nil
}
