package model

import (
	"time"

	"gorm.io/datatypes"
)

// 発行済みのキー。注文・明細・商品・ユーザーはID参照とスナップショットの両方を持つ
type Key struct {
	ID   int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Code string `gorm:"type:varchar(32);not null;uniqueIndex" json:"code"`

	OrderID     int64 `gorm:"not null;index" json:"order_id"`
	OrderItemID int64 `gorm:"not null;index" json:"order_item_id"`
	ProductID   int64 `gorm:"not null;index" json:"product_id"`
	UserID      int64 `gorm:"not null;index" json:"user_id"`

	OrderData     datatypes.JSONType[OrderSnapshot]     `json:"order"`
	OrderItemData datatypes.JSONType[OrderItemSnapshot] `json:"order_item"`
	ProductData   datatypes.JSONType[ProductSnapshot]   `json:"product"`
	UserData      datatypes.JSONType[UserSnapshot]      `json:"user"`
	//購入時点の配信内容。明細が無くてもキー単体で返せる
	Source string `gorm:"type:text" json:"-"`

	PurchasedAt time.Time `gorm:"not null" json:"purchased_at"`
	//初回アクティベートまでは仮の値（遠い未来）
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	//一度セットしたら変えない
	ActivatedAt *time.Time `json:"activated_at"`

	//後から上書きされうる
	HWID    *string `gorm:"column:hwid;type:varchar(255)" json:"hwid"`
	PlaceID *string `gorm:"type:varchar(255)" json:"place_id"`

	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (k Key) IsActivated() bool {
	return k.ActivatedAt != nil
}
