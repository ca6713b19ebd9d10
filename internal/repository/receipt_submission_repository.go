package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"go-receipt-verification-service/internal/domain"
	"go-receipt-verification-service/internal/observability"
)

var (
	ErrSubmissionNotFound = errors.New("receipt submission not found")
	ErrStatusConflict     = errors.New("submission status changed concurrently")
)

type ReceiptSubmissionRepository interface {
	Create(ctx context.Context, sub *domain.ReceiptSubmission) error
	FindByID(ctx context.Context, id string) (*domain.ReceiptSubmission, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.ReceiptSubmission, error)
	// TransitionStatus moves a submission from exactly `from` to `to` in one
	// conditional update. ErrStatusConflict means another caller won the race
	// or the machine forbids the edge.
	TransitionStatus(ctx context.Context, id string, from, to domain.SubmissionStatus, reason domain.DecisionReason) error
	RecordExtraction(ctx context.Context, id string, amountCents int64, party string, confidence int) error
}

type GormReceiptSubmissionRepository struct{ db *gorm.DB }

func NewReceiptSubmissionRepository(db *gorm.DB) ReceiptSubmissionRepository {
	return &GormReceiptSubmissionRepository{db: db}
}

func (r *GormReceiptSubmissionRepository) Create(ctx context.Context, sub *domain.ReceiptSubmission) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "receipt_submission", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "receipt_submission", "create", "success")
	return nil
}

func (r *GormReceiptSubmissionRepository) FindByID(ctx context.Context, id string) (*domain.ReceiptSubmission, error) {
	var sub domain.ReceiptSubmission
	err := r.db.WithContext(ctx).First(&sub, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "receipt_submission", "find_by_id", "not_found")
			return nil, ErrSubmissionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "receipt_submission", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "receipt_submission", "find_by_id", "success")
	return &sub, nil
}

func (r *GormReceiptSubmissionRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.ReceiptSubmission, error) {
	var subs []domain.ReceiptSubmission
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at asc").Find(&subs).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "receipt_submission", "list_by_order", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "receipt_submission", "list_by_order", "success")
	return subs, nil
}

func (r *GormReceiptSubmissionRepository) TransitionStatus(ctx context.Context, id string, from, to domain.SubmissionStatus, reason domain.DecisionReason) error {
	if !domain.CanTransition(from, to) {
		observability.RecordRepositoryOperation(ctx, "receipt_submission", "transition", "forbidden")
		return ErrStatusConflict
	}
	updates := map[string]any{"status": to}
	if reason != "" {
		updates["reason"] = reason
	}
	res := r.db.WithContext(ctx).
		Model(&domain.ReceiptSubmission{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "receipt_submission", "transition", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Either the row is gone or someone else transitioned it first.
		var exists int64
		if err := r.db.WithContext(ctx).Model(&domain.ReceiptSubmission{}).Where("id = ?", id).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			observability.RecordRepositoryOperation(ctx, "receipt_submission", "transition", "not_found")
			return ErrSubmissionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "receipt_submission", "transition", "conflict")
		return ErrStatusConflict
	}
	observability.RecordRepositoryOperation(ctx, "receipt_submission", "transition", "success")
	return nil
}

func (r *GormReceiptSubmissionRepository) RecordExtraction(ctx context.Context, id string, amountCents int64, party string, confidence int) error {
	res := r.db.WithContext(ctx).
		Model(&domain.ReceiptSubmission{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"ocr_amount":     amountCents,
			"ocr_party":      party,
			"ocr_confidence": confidence,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "receipt_submission", "record_extraction", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "receipt_submission", "record_extraction", "not_found")
		return ErrSubmissionNotFound
	}
	observability.RecordRepositoryOperation(ctx, "receipt_submission", "record_extraction", "success")
	return nil
}
