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

var (
	ErrEscalationNotFound = errors.New("escalation request not found")
	ErrAlreadyResolved    = errors.New("escalation request already resolved")
)

type EscalationRepository interface {
	// OpenOrCreate returns the open request for the submission, creating one
	// when none exists. The second return value is true when a new row was
	// inserted. Safe under concurrent callers.
	OpenOrCreate(ctx context.Context, submissionID string, reason domain.EscalationReason) (*domain.EscalationRequest, bool, error)
	FindByID(ctx context.Context, id string) (*domain.EscalationRequest, error)
	// Resolve closes an open request exactly once; the conditional update is
	// executed inside tx so callers can couple it with the submission
	// transition.
	Resolve(tx *gorm.DB, id, authority string, resolution domain.EscalationResolution, credentialRef string, at time.Time) error
	DB() *gorm.DB
}

type GormEscalationRepository struct{ db *gorm.DB }

func NewEscalationRepository(db *gorm.DB) EscalationRepository {
	return &GormEscalationRepository{db: db}
}

func (r *GormEscalationRepository) DB() *gorm.DB { return r.db }

func (r *GormEscalationRepository) OpenOrCreate(ctx context.Context, submissionID string, reason domain.EscalationReason) (*domain.EscalationRequest, bool, error) {
	openKey := submissionID
	req := &domain.EscalationRequest{
		ID:           uuid.New().String(),
		SubmissionID: submissionID,
		OpenKey:      &openKey,
		Reason:       reason,
		RequestedAt:  time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Create(req).Error
	if err == nil {
		observability.RecordRepositoryOperation(ctx, "escalation", "create", "success")
		return req, true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		observability.RecordRepositoryOperation(ctx, "escalation", "create", "error")
		return nil, false, err
	}

	// Lost the insert race or an open request already existed; hand back the
	// winner.
	var existing domain.EscalationRequest
	findErr := r.db.WithContext(ctx).
		Where("submission_id = ? AND resolved_at IS NULL", submissionID).
		First(&existing).Error
	if findErr != nil {
		observability.RecordRepositoryOperation(ctx, "escalation", "create", "error")
		return nil, false, findErr
	}
	observability.RecordRepositoryOperation(ctx, "escalation", "create", "existing")
	return &existing, false, nil
}

func (r *GormEscalationRepository) FindByID(ctx context.Context, id string) (*domain.EscalationRequest, error) {
	var req domain.EscalationRequest
	err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "escalation", "find_by_id", "not_found")
			return nil, ErrEscalationNotFound
		}
		observability.RecordRepositoryOperation(ctx, "escalation", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "escalation", "find_by_id", "success")
	return &req, nil
}

func (r *GormEscalationRepository) Resolve(tx *gorm.DB, id, authority string, resolution domain.EscalationResolution, credentialRef string, at time.Time) error {
	res := tx.Model(&domain.EscalationRequest{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Updates(map[string]any{
			"open_key":       nil,
			"resolved_by":    authority,
			"resolution":     resolution,
			"resolved_at":    at,
			"credential_ref": credentialRef,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := tx.Model(&domain.EscalationRequest{}).Where("id = ?", id).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return ErrEscalationNotFound
		}
		return ErrAlreadyResolved
	}
	return nil
}
