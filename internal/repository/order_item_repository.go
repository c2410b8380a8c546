package repository

import (
	"context"

	"keyshop/internal/domain/model"
)

type OrderItemRepository interface {
	Create(ctx context.Context, item model.OrderItem) (model.OrderItem, error)
	FindByID(ctx context.Context, orderItemID int64) (model.OrderItem, error)
	ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error)
	//補償用
	DeleteByOrderID(ctx context.Context, orderID int64) error
	//旧codeが空のときだけセット
	SetCodeIfEmpty(ctx context.Context, orderItemID int64, code string) error
}
