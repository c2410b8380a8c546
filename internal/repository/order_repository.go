package repository

import (
	"context"
	"time"

	"keyshop/internal/domain/model"
)

type AdminOrderListFilter struct {
	Page   int
	Limit  int
	Status string
	UserID *int64
	From   *time.Time
	To     *time.Time
}

// chargeの参照情報
type ChargeRef struct {
	ChargeID  string
	QRCodeURL string
	ExpiresAt *time.Time
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	FindByChargeID(ctx context.Context, chargeID string) (model.Order, error)
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)
	//管理者用の注文一覧
	ListAdmin(ctx context.Context, f AdminOrderListFilter) ([]model.Order, int64, error)

	Create(ctx context.Context, order model.Order) (model.Order, error)
	//補償用（charge作成失敗など）
	Delete(ctx context.Context, orderID int64) error

	//charge参照がNULLのときだけ書く。書けたらtrue
	SetChargeIfEmpty(ctx context.Context, orderID int64, ref ChargeRef) (bool, error)
	//同じchargeでQRが未設定のときだけ補完
	FillQRCodeIfEmpty(ctx context.Context, orderID int64, chargeID string, qrCodeURL string) (bool, error)

	//statusがfromのときだけtoへ。遷移できたらtrue
	TransitionStatus(ctx context.Context, orderID int64, from, to model.OrderStatus, at time.Time) (bool, error)
}
