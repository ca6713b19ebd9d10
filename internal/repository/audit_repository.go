package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"go-receipt-verification-service/internal/domain"
	"go-receipt-verification-service/internal/observability"
)

// AuditRepository is deliberately append-and-read only. There is no update
// or delete path; forensic replay depends on the trail staying intact.
type AuditRepository interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	List(ctx context.Context, page PageRequest) (PageResult[domain.AuditEntry], error)
	ListByResource(ctx context.Context, resource string) ([]domain.AuditEntry, error)
}

type GormAuditRepository struct{ db *gorm.DB }

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &GormAuditRepository{db: db}
}

func (r *GormAuditRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "audit", "append", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "audit", "append", "success")
	return nil
}

func (r *GormAuditRepository) List(ctx context.Context, page PageRequest) (PageResult[domain.AuditEntry], error) {
	page = page.normalize()
	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.AuditEntry{}).Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "audit", "list", "error")
		return PageResult[domain.AuditEntry]{}, err
	}
	var items []domain.AuditEntry
	err := r.db.WithContext(ctx).
		Order("created_at desc").
		Offset(page.offset()).
		Limit(page.PageSize).
		Find(&items).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit", "list", "error")
		return PageResult[domain.AuditEntry]{}, err
	}
	observability.RecordRepositoryOperation(ctx, "audit", "list", "success")
	return newPageResult(items, page, total), nil
}

func (r *GormAuditRepository) ListByResource(ctx context.Context, resource string) ([]domain.AuditEntry, error) {
	var items []domain.AuditEntry
	err := r.db.WithContext(ctx).
		Where("resource = ?", resource).
		Order("created_at asc").
		Find(&items).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit", "list_by_resource", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "audit", "list_by_resource", "success")
	return items, nil
}
