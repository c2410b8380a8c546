package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"keyshop/internal/domain/model"
	"keyshop/internal/metrics"
	"keyshop/internal/payment"
	repo "keyshop/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxOrderQuantity = 100

type OrderUsecase struct {
	tx        repo.TransactionManager
	orders    repo.OrderRepository
	items     repo.OrderItemRepository
	keys      repo.KeyRepository
	products  repo.ProductRepository
	users     repo.UserRepository
	gateway   PaymentGateway
	fulfiller *Fulfiller
	log       *zap.Logger
	metrics   *metrics.Metrics
}

type OrderDeps struct {
	Tx        repo.TransactionManager
	Orders    repo.OrderRepository
	Items     repo.OrderItemRepository
	Keys      repo.KeyRepository
	Products  repo.ProductRepository
	Users     repo.UserRepository
	Gateway   PaymentGateway
	Fulfiller *Fulfiller
	Log       *zap.Logger
	Metrics   *metrics.Metrics
}

func NewOrderUsecase(d OrderDeps) *OrderUsecase {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &OrderUsecase{
		tx:        d.Tx,
		orders:    d.Orders,
		items:     d.Items,
		keys:      d.Keys,
		products:  d.Products,
		users:     d.Users,
		gateway:   d.Gateway,
		fulfiller: d.Fulfiller,
		log:       d.Log.Named("order.usecase"),
		metrics:   d.Metrics,
	}
}

type CreateOrderInput struct {
	ProductID int64
	Quantity  int64
	//クライアントが表示していた合計（任意）。サーバー計算と違えば拒否
	Amount *decimal.Decimal
}

type KeyOutput struct {
	Code        string     `json:"code"`
	Activated   bool       `json:"activated"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	HWID        *string    `json:"hwid,omitempty"`
	PlaceID     *string    `json:"place_id,omitempty"`
}

type OrderItemOutput struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	ImageURL  string          `json:"image_url,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int64           `json:"quantity"`
	Code      *string         `json:"code,omitempty"`
	Keys      []KeyOutput     `json:"keys,omitempty"`
}

type OrderOutput struct {
	ID              int64             `json:"id"`
	UserID          int64             `json:"user_id"`
	Status          string            `json:"status"`
	PaymentMethod   string            `json:"payment_method"`
	TotalAmount     decimal.Decimal   `json:"total_amount"`
	ChargeID        *string           `json:"charge_id,omitempty"`
	QRCodeURL       *string           `json:"qr_code_url,omitempty"`
	ChargeExpiresAt *time.Time        `json:"charge_expires_at,omitempty"`
	PaidAt          *time.Time        `json:"paid_at,omitempty"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	Items           []OrderItemOutput `json:"items"`
}

func (u *OrderUsecase) CreateOrder(ctx context.Context, userID int64, in CreateOrderInput) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, ErrUnauthorized
	}
	if in.ProductID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}
	if in.Quantity < 1 || in.Quantity > maxOrderQuantity {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}

	user, err := u.users.FindByID(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return OrderOutput{}, ErrUnauthorized
	}
	if err != nil {
		return OrderOutput{}, ErrDB
	}

	p, err := u.products.FindByID(ctx, in.ProductID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !p.IsActive) {
		return OrderOutput{}, NewHTTPError(http.StatusNotFound, "product not found")
	}
	if err != nil {
		return OrderOutput{}, ErrDB
	}

	//在庫チェック（減算は支払い確定時）
	if p.Type.IsStockTracked() && p.Stock < in.Quantity {
		return OrderOutput{}, ErrInsufficientStock
	}

	total := p.Price.Mul(decimal.NewFromInt(in.Quantity))
	if total.IsNegative() {
		return OrderOutput{}, ErrInvalidAmount
	}
	if err := payment.CheckAmount(total); err != nil {
		return OrderOutput{}, gatewayError(err)
	}
	if in.Amount != nil && !in.Amount.Equal(total) {
		return OrderOutput{}, ErrAmountMismatch
	}

	//注文と明細を先に作る（Webhookが来た時点で明細が揃っているように）
	var (
		order model.Order
		item  model.OrderItem
	)
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		order, err = r.Orders().Create(ctx, model.Order{
			User:          user.Snapshot(),
			TotalAmount:   total,
			Status:        model.OrderStatusPending,
			PaymentMethod: model.PaymentMethodPromptPay,
		})
		if err != nil {
			return err
		}
		item, err = r.Items().Create(ctx, model.OrderItem{
			OrderID:   order.ID,
			Product:   p.Snapshot(),
			Quantity:  in.Quantity,
			UnitPrice: p.Price,
		})
		return err
	})
	if err != nil {
		u.log.Error("create order failed", zap.Int64("user_id", userID), zap.Error(err))
		return OrderOutput{}, ErrDB
	}

	charge, err := u.gateway.CreateCharge(ctx, payment.CreateChargeInput{
		Amount:      total,
		OrderID:     order.ID,
		Description: fmt.Sprintf("Order #%d", order.ID),
	})
	if err != nil {
		u.log.Warn("create charge failed, rolling back order", zap.Int64("order_id", order.ID), zap.Error(err))
		u.deleteOrder(ctx, order.ID)
		return OrderOutput{}, gatewayError(err)
	}

	ref := repo.ChargeRef{ChargeID: charge.ChargeID, QRCodeURL: charge.QRImageURL, ExpiresAt: charge.ExpiresAt}
	ok, err := u.orders.SetChargeIfEmpty(ctx, order.ID, ref)
	if errors.Is(err, repo.ErrConflict) {
		u.log.Error("charge already attached to another order", zap.Int64("order_id", order.ID), zap.String("charge_id", charge.ChargeID))
		u.abandonCharge(ctx, order.ID, charge.ChargeID)
		return OrderOutput{}, ErrCreationConflict
	}
	if err != nil {
		u.log.Error("persist charge failed", zap.Int64("order_id", order.ID), zap.Error(err))
		u.abandonCharge(ctx, order.ID, charge.ChargeID)
		return OrderOutput{}, ErrDB
	}
	if !ok {
		//charge.createのWebhookが先に書いた場合は同じchargeのはず
		cur, err := u.orders.FindByID(ctx, order.ID)
		if err != nil {
			return OrderOutput{}, ErrDB
		}
		if cur.OmiseChargeID == nil || *cur.OmiseChargeID != charge.ChargeID {
			return OrderOutput{}, ErrCreationConflict
		}
		if _, err := u.orders.FillQRCodeIfEmpty(ctx, order.ID, charge.ChargeID, charge.QRImageURL); err != nil {
			return OrderOutput{}, ErrDB
		}
	}

	order, err = u.orders.FindByID(ctx, order.ID)
	if err != nil {
		return OrderOutput{}, ErrDB
	}

	u.metrics.OrderCreated(string(p.Type))
	u.log.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.String("charge_id", charge.ChargeID),
		zap.String("total", total.StringFixed(2)),
	)
	return toOrderOutput(order, []model.OrderItem{item}, nil), nil
}

// 補償。失敗してもログだけ（応答はすでにエラー）
func (u *OrderUsecase) deleteOrder(ctx context.Context, orderID int64) {
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := r.Items().DeleteByOrderID(ctx, orderID); err != nil {
			return err
		}
		return r.Orders().Delete(ctx, orderID)
	})
	if err != nil {
		u.log.Error("compensating delete failed", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

func (u *OrderUsecase) abandonCharge(ctx context.Context, orderID int64, chargeID string) {
	if _, err := u.gateway.CancelCharge(ctx, chargeID); err != nil {
		u.log.Warn("cancel orphan charge failed", zap.String("charge_id", chargeID), zap.Error(err))
	}
	u.deleteOrder(ctx, orderID)
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64, page int, limit int) ([]OrderOutput, error) {
	if userID <= 0 {
		return []OrderOutput{}, ErrUnauthorized
	}
	if page < 1 {
		return []OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if limit < 1 || limit > 100 {
		return []OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}

	orders, _, err := u.orders.ListByUserID(ctx, userID, page, limit)
	if err != nil {
		return []OrderOutput{}, ErrDB
	}

	outs := make([]OrderOutput, 0, len(orders))
	for _, o := range orders {
		items, err := u.items.ListByOrderID(ctx, o.ID)
		if err != nil {
			return []OrderOutput{}, ErrDB
		}
		outs = append(outs, toOrderOutput(o, items, nil))
	}
	return outs, nil
}

// 明細と発行済みキーを含めて返す
func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, ErrUnauthorized
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	o, err := u.findOwned(ctx, userID, orderID)
	if err != nil {
		return OrderOutput{}, err
	}

	items, err := u.items.ListByOrderID(ctx, orderID)
	if err != nil {
		return OrderOutput{}, ErrDB
	}
	keys, err := u.keys.ListByOrderID(ctx, orderID)
	if err != nil {
		return OrderOutput{}, ErrDB
	}
	return toOrderOutput(o, items, keys), nil
}

// CancelOrder cancels a pending order owned by the caller. The upstream charge
// cancel is best effort; the order status is the source of truth.
func (u *OrderUsecase) CancelOrder(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, ErrUnauthorized
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	o, err := u.findOwned(ctx, userID, orderID)
	if err != nil {
		return OrderOutput{}, err
	}
	if o.Status != model.OrderStatusPending {
		return OrderOutput{}, ErrStateConflict
	}

	if o.OmiseChargeID != nil {
		res, err := u.gateway.CancelCharge(ctx, *o.OmiseChargeID)
		switch {
		case err != nil:
			u.log.Warn("cancel charge failed, cancelling order anyway", zap.Int64("order_id", o.ID), zap.Error(err))
		case res.AlreadySettled:
			u.log.Warn("charge already settled at provider, cancelling order", zap.Int64("order_id", o.ID), zap.String("charge_id", *o.OmiseChargeID))
		}
	}

	ok, err := u.fulfiller.CancelPending(ctx, o.ID, TriggerClient)
	if err != nil {
		return OrderOutput{}, err
	}
	if !ok {
		//支払い確定などに負けた
		return OrderOutput{}, ErrStateConflict
	}

	o, err = u.orders.FindByID(ctx, o.ID)
	if err != nil {
		return OrderOutput{}, ErrDB
	}
	items, err := u.items.ListByOrderID(ctx, o.ID)
	if err != nil {
		return OrderOutput{}, ErrDB
	}
	return toOrderOutput(o, items, nil), nil
}

// 他人の注文は存在しない扱い
func (u *OrderUsecase) findOwned(ctx context.Context, userID int64, orderID int64) (model.Order, error) {
	o, err := u.orders.FindByID(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Order{}, ErrNotFound
	}
	if err != nil {
		return model.Order{}, ErrDB
	}
	if o.User.ID != userID {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem, keys []model.Key) OrderOutput {
	byItem := map[int64][]KeyOutput{}
	for _, k := range keys {
		byItem[k.OrderItemID] = append(byItem[k.OrderItemID], toKeyOutput(k))
	}

	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ID:        it.ID,
			ProductID: it.Product.ID,
			Name:      it.Product.Name,
			Type:      string(it.Product.Type),
			ImageURL:  it.Product.ImageURL,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			Code:      it.Code,
			Keys:      byItem[it.ID],
		})
	}

	return OrderOutput{
		ID:              o.ID,
		UserID:          o.User.ID,
		Status:          string(o.Status),
		PaymentMethod:   string(o.PaymentMethod),
		TotalAmount:     o.TotalAmount,
		ChargeID:        o.OmiseChargeID,
		QRCodeURL:       o.QRCodeURL,
		ChargeExpiresAt: o.ChargeExpiresAt,
		PaidAt:          o.PaidAt,
		CancelledAt:     o.CancelledAt,
		CompletedAt:     o.CompletedAt,
		CreatedAt:       o.CreatedAt,
		Items:           outItems,
	}
}

func toKeyOutput(k model.Key) KeyOutput {
	out := KeyOutput{
		Code:        k.Code,
		Activated:   k.IsActivated(),
		ActivatedAt: k.ActivatedAt,
		HWID:        k.HWID,
		PlaceID:     k.PlaceID,
	}
	//仮の有効期限は見せない
	if k.IsActivated() {
		exp := k.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out
}
