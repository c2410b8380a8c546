package repository

import (
	"context"
	"time"

	"keyshop/internal/domain/model"
)

type KeyRepository interface {
	//codeが未使用なら作成してtrue、重複ならfalse
	CreateIfCodeFree(ctx context.Context, key *model.Key) (bool, error)

	FindByCode(ctx context.Context, code string) (model.Key, error)
	CountByOrderItemID(ctx context.Context, orderItemID int64) (int64, error)
	ListByOrderItemID(ctx context.Context, orderItemID int64) ([]model.Key, error)
	ListByOrderID(ctx context.Context, orderID int64) ([]model.Key, error)

	//activated_atがNULLのときだけ書く（最初の1回が勝つ）
	Activate(ctx context.Context, keyID int64, activatedAt time.Time, expiresAt time.Time) (bool, error)
	//hwid / place_idの上書き（nilは変更しない）
	UpdateBinding(ctx context.Context, keyID int64, hwid *string, placeID *string) error
}

// キー検証ログ（追記のみ）
type KeyLogRepository interface {
	Create(ctx context.Context, log model.KeyLog) error
	ListByKeyID(ctx context.Context, keyID int64, limit int) ([]model.KeyLog, error)
}
