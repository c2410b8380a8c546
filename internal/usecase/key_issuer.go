package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keyshop/internal/domain/model"
	"keyshop/internal/keycode"
	repo "keyshop/internal/repository"

	"gorm.io/datatypes"
)

const maxKeyAttempts = 10

var errKeyExhausted = errors.New("key generation exhausted")

// KeyIssuerは注文明細ぶんのキーを作る。Tx内のKeyRepositoryを受け取って使う
type KeyIssuer struct {
	newCode func() string
	clock   Clock
}

func NewKeyIssuer(clock Clock) *KeyIssuer {
	return &KeyIssuer{newCode: keycode.GenerateKey, clock: clock}
}

// GenerateKeys creates exactly item.Quantity keys for the item.
// If keys already exist for the item it returns them untouched.
func (g *KeyIssuer) GenerateKeys(ctx context.Context, keys repo.KeyRepository, order model.Order, item model.OrderItem) ([]model.Key, bool, error) {
	n, err := keys.CountByOrderItemID(ctx, item.ID)
	if err != nil {
		return nil, false, err
	}
	if n > 0 {
		existing, err := keys.ListByOrderItemID(ctx, item.ID)
		return existing, false, err
	}

	now := g.clock.Now()
	out := make([]model.Key, 0, item.Quantity)
	for i := int64(0); i < item.Quantity; i++ {
		k, err := g.createOne(ctx, keys, order, item, now)
		if err != nil {
			return nil, false, err
		}
		out = append(out, k)
	}
	return out, true, nil
}

func (g *KeyIssuer) createOne(ctx context.Context, keys repo.KeyRepository, order model.Order, item model.OrderItem, purchasedAt time.Time) (model.Key, error) {
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		k := model.Key{
			Code:          g.newCode(),
			OrderID:       order.ID,
			OrderItemID:   item.ID,
			ProductID:     item.Product.ID,
			UserID:        order.User.ID,
			OrderData:     datatypes.NewJSONType(order.Snapshot()),
			OrderItemData: datatypes.NewJSONType(item.Snapshot()),
			ProductData:   datatypes.NewJSONType(item.Product),
			UserData:      datatypes.NewJSONType(order.User),
			Source:        item.Product.Source,
			PurchasedAt:   purchasedAt,
			ExpiresAt:     keycode.PlaceholderExpireDate(purchasedAt),
			IsActive:      true,
		}
		ok, err := keys.CreateIfCodeFree(ctx, &k)
		if err != nil {
			return model.Key{}, err
		}
		if ok {
			return k, nil
		}
	}
	return model.Key{}, fmt.Errorf("%w: order_item %d", errKeyExhausted, item.ID)
}
