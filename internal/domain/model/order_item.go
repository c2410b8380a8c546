package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 注文明細。商品は購入時点のスナップショットを丸ごと持つ
type OrderItem struct {
	ID      int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID int64           `gorm:"not null;index" json:"order_id"`
	Product ProductSnapshot `gorm:"embedded;embeddedPrefix:product_" json:"product"`

	Quantity  int64           `gorm:"not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`

	//旧クライアント向け（最初に発行したキー）
	Code *string `gorm:"type:varchar(32)" json:"code,omitempty"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

type OrderItemSnapshot struct {
	ID        int64           `json:"id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (it OrderItem) Snapshot() OrderItemSnapshot {
	return OrderItemSnapshot{
		ID:        it.ID,
		Quantity:  it.Quantity,
		UnitPrice: it.UnitPrice,
	}
}
