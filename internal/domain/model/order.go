package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// paid以降（paid / completed）
func (s OrderStatus) IsPaidOrLater() bool {
	return s == OrderStatusPaid || s == OrderStatusCompleted
}

// cancelled / completedからは遷移しない
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusCompleted
}

type PaymentMethod string

const (
	PaymentMethodPromptPay PaymentMethod = "promptpay"
)

// 注文。ユーザーは作成時点のスナップショットで持つ（ライブ参照しない）
type Order struct {
	ID   int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	User UserSnapshot `gorm:"embedded;embeddedPrefix:user_" json:"user"`

	TotalAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	Status        OrderStatus     `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentMethod PaymentMethod   `gorm:"type:varchar(20);not null" json:"payment_method"`

	//一度だけセットされる（NULLは複数可のユニーク）
	OmiseChargeID   *string    `gorm:"type:varchar(64);uniqueIndex" json:"omise_charge_id"`
	QRCodeURL       *string    `gorm:"column:qr_code_url;type:text" json:"qr_code_url"`
	ChargeExpiresAt *time.Time `json:"charge_expires_at"`

	PaidAt      *time.Time `json:"paid_at"`
	CancelledAt *time.Time `json:"cancelled_at"`
	CompletedAt *time.Time `json:"completed_at"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// キー発行時に埋め込む注文のスナップショット
type OrderSnapshot struct {
	ID            int64           `json:"id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	OmiseChargeID string          `json:"omise_charge_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (o Order) Snapshot() OrderSnapshot {
	s := OrderSnapshot{
		ID:            o.ID,
		TotalAmount:   o.TotalAmount,
		PaymentMethod: o.PaymentMethod,
		CreatedAt:     o.CreatedAt,
	}
	if o.OmiseChargeID != nil {
		s.OmiseChargeID = *o.OmiseChargeID
	}
	return s
}
