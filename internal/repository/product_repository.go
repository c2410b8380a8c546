package repository

import (
	"context"

	"keyshop/internal/domain/model"
)

// 商品の取得だけを約束（編集はカタログ側の責務）
type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (model.Product, error)
	Create(ctx context.Context, p model.Product) (model.Product, error)
}
