package domain

import "time"

// WebhookDeliveryLog records each admitted third-party delivery. The replay
// ledger that enforces at-most-once admission lives in redis; this table is
// the durable trail for accepted messages only.
type WebhookDeliveryLog struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	MessageID  string    `gorm:"size:128;uniqueIndex;not null" json:"message_id"`
	Platform   string    `gorm:"size:32;index;not null" json:"platform"`
	SourceIP   string    `gorm:"size:64" json:"source_ip"`
	ReceivedAt time.Time `gorm:"index;not null" json:"received_at"`
	CreatedAt  time.Time `json:"created_at"`
}
