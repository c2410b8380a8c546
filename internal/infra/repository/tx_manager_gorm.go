package repository

import (
	"context"

	repo "keyshop/internal/repository"

	"gorm.io/gorm"
)

type txStores struct {
	tx *gorm.DB
}

// 呼ばれるたびにtxを持ったストアを作る（どれも状態を持たない）
func (s txStores) Orders() repo.OrderRepository    { return NewOrderGormRepository(s.tx) }
func (s txStores) Items() repo.OrderItemRepository { return NewOrderItemGormRepository(s.tx) }
func (s txStores) Keys() repo.KeyRepository        { return NewKeyGormRepository(s.tx) }
func (s txStores) Stock() repo.InventoryRepository { return NewInventoryGormRepository(s.tx) }

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(txStores{tx: tx})
	})
}
