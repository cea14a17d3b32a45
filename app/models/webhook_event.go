package models

import "time"

const (
	WebhookEventTypePayoutChanged = "payout.changed"
	WebhookEventTypeSellerChanged = "seller.changed"
)

// WebhookEvent is the durable dedup record for inbound provider events. The
// unique event id index is the arbiter between concurrent deliveries of the
// same event: the second writer loses the insert and sees a duplicate.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	EventID         string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	EventTimestamp  time.Time  `gorm:"type:timestamp;not null" json:"event_timestamp"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}
