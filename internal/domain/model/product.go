package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ProductType string

const (
	//決済後にキーを生成する
	ProductTypeKey ProductType = "key"
	//在庫管理する商品
	ProductTypeCode ProductType = "code"
	ProductTypeItem ProductType = "item"
)

// 在庫を持つ種類か
func (t ProductType) IsStockTracked() bool {
	return t == ProductTypeCode || t == ProductTypeItem
}

type Product struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string          `gorm:"type:varchar(255);not null" json:"name"`
	Description string          `gorm:"type:text" json:"description"`
	Price       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Type        ProductType     `gorm:"type:varchar(20);not null;default:'key'" json:"type"`
	ImageURL    string          `gorm:"type:text" json:"image_url"`
	//"7D" / "never" / 空
	ExpirePolicy string `gorm:"type:varchar(20)" json:"expire_policy"`
	//スクリプト本体またはraw URL
	Source    string         `gorm:"type:text" json:"-"`
	Stock     int64          `gorm:"not null;default:0" json:"stock"`
	IsActive  bool           `gorm:"not null;default:false" json:"is_active"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 購入時点の商品スナップショット（カタログ編集の影響を受けない）
type ProductSnapshot struct {
	ID           int64           `json:"id"`
	Name         string          `gorm:"type:varchar(255);not null" json:"name"`
	Price        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Type         ProductType     `gorm:"type:varchar(20);not null" json:"type"`
	ImageURL     string          `gorm:"type:text" json:"image_url"`
	ExpirePolicy string          `gorm:"type:varchar(20)" json:"expire_policy"`
	Source       string          `gorm:"type:text" json:"-"`
}

func (p Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		ID:           p.ID,
		Name:         p.Name,
		Price:        p.Price,
		Type:         p.Type,
		ImageURL:     p.ImageURL,
		ExpirePolicy: p.ExpirePolicy,
		Source:       p.Source,
	}
}
