package model

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Webhookの受信記録。同じイベントの再配送を弾く
type PaymentEvent struct {
	ID              snowflake.ID   `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Provider        string         `gorm:"type:varchar(20);not null;uniqueIndex:ux_payment_events_provider_event,priority:1" json:"provider"`
	ProviderEventID string         `gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_events_provider_event,priority:2" json:"provider_event_id"`
	EventType       string         `gorm:"type:varchar(100);not null;index" json:"event_type"`
	ChargeID        string         `gorm:"type:varchar(64);index" json:"charge_id"`
	OrderID         *int64         `gorm:"index" json:"order_id"`
	Payload         datatypes.JSON `json:"payload"`
	SignatureValid  bool           `gorm:"not null;default:false" json:"signature_valid"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	ProcessingError string         `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
}
