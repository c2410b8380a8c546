package usecase

import (
	"context"
	"errors"

	"keyshop/internal/domain/model"
	"keyshop/internal/metrics"
	repo "keyshop/internal/repository"

	"go.uber.org/zap"
)

// 遷移のきっかけ（メトリクスとログ用）
const (
	TriggerPoll    = "poll"
	TriggerWebhook = "webhook"
	TriggerClient  = "client"
	TriggerAdmin   = "admin"
)

// Fulfillerは pending→paid の遷移と、その副作用（在庫減算・キー発行）を
// 1つのトランザクションで行う。遷移に勝った呼び出しだけが副作用を実行する
type Fulfiller struct {
	tx      repo.TransactionManager
	orders  repo.OrderRepository
	issuer  *KeyIssuer
	clock   Clock
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewFulfiller(tx repo.TransactionManager, orders repo.OrderRepository, issuer *KeyIssuer, clock Clock, log *zap.Logger, m *metrics.Metrics) *Fulfiller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fulfiller{tx: tx, orders: orders, issuer: issuer, clock: clock, log: log.Named("fulfillment"), metrics: m}
}

// MarkPaid returns true only for the caller whose transition applied the effects.
func (f *Fulfiller) MarkPaid(ctx context.Context, orderID int64, trigger string) (bool, error) {
	var (
		transitioned bool
		issued       int
	)

	err := f.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status.IsPaidOrLater() {
			return nil
		}
		if o.Status != model.OrderStatusPending {
			f.log.Error("payment succeeded for non-pending order, manual review needed",
				zap.Int64("order_id", o.ID),
				zap.String("status", string(o.Status)),
				zap.String("trigger", trigger),
			)
			return nil
		}

		now := f.clock.Now()
		ok, err := r.Orders().TransitionStatus(ctx, o.ID, model.OrderStatusPending, model.OrderStatusPaid, now)
		if err != nil {
			return err
		}
		if !ok {
			//別のトリガーが先に遷移させた
			return nil
		}
		transitioned = true

		items, err := r.Items().ListByOrderID(ctx, o.ID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.Product.Type.IsStockTracked() {
				//在庫減算（下限チェックなし）
				if err := r.Stock().DecreaseStock(ctx, it.Product.ID, it.Quantity); err != nil {
					return err
				}
			}
			if it.Product.Type != model.ProductTypeKey {
				continue
			}

			keys, created, err := f.issuer.GenerateKeys(ctx, r.Keys(), o, it)
			if err != nil {
				return err
			}
			if created {
				issued += len(keys)
			}
			if len(keys) > 0 {
				if err := r.Items().SetCodeIfEmpty(ctx, it.ID, keys[0].Code); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, ErrNotFound
		}
		if errors.Is(err, errKeyExhausted) {
			f.log.Error("key generation exhausted", zap.Int64("order_id", orderID), zap.Error(err))
			return false, ErrKeyGenerationExhausted
		}
		f.log.Error("mark paid failed", zap.Int64("order_id", orderID), zap.String("trigger", trigger), zap.Error(err))
		return false, ErrDB
	}

	if transitioned {
		f.metrics.OrderTransition(string(model.OrderStatusPaid), trigger)
		f.metrics.KeysIssued(issued)
		f.log.Info("order paid",
			zap.Int64("order_id", orderID),
			zap.String("trigger", trigger),
			zap.Int("keys_issued", issued),
		)
	}
	return transitioned, nil
}

// CancelPending cancels the order only while it is still pending.
// A paid order is never cancelled by a late expire or failure signal.
func (f *Fulfiller) CancelPending(ctx context.Context, orderID int64, trigger string) (bool, error) {
	ok, err := f.orders.TransitionStatus(ctx, orderID, model.OrderStatusPending, model.OrderStatusCancelled, f.clock.Now())
	if err != nil {
		f.log.Error("cancel failed", zap.Int64("order_id", orderID), zap.String("trigger", trigger), zap.Error(err))
		return false, ErrDB
	}
	if ok {
		f.metrics.OrderTransition(string(model.OrderStatusCancelled), trigger)
		f.log.Info("order cancelled", zap.Int64("order_id", orderID), zap.String("trigger", trigger))
	}
	return ok, nil
}
