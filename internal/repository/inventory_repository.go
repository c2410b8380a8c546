package repository

import "context"

type InventoryRepository interface {
	//在庫を原子的に減らす（下限チェックはしない。注文作成時に確認済み）
	DecreaseStock(ctx context.Context, productID int64, qty int64) error
}
