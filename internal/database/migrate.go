package database

import (
	"go-receipt-verification-service/internal/domain"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.ReceiptSubmission{},
		&domain.EscalationRequest{},
		&domain.AuditEntry{},
		&domain.WebhookDeliveryLog{},
	)
}
