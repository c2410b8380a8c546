package repository

import "context"

// TxRepos は1トランザクションに束ねたストア。
// 支払い確定（状態遷移・在庫・キー発行）と注文作成の補償はこの中で完結させる
type TxRepos interface {
	Orders() OrderRepository
	Items() OrderItemRepository
	Keys() KeyRepository
	Stock() InventoryRepository
}

// fnがエラーを返したらロールバック。nilならcommit
type TransactionManager interface {
	WithinTx(ctx context.Context, fn func(r TxRepos) error) error
}
