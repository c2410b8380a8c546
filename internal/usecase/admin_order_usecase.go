package usecase

import (
	"context"
	"errors"
	"net/http"

	"keyshop/internal/domain/model"
	"keyshop/internal/metrics"
	repo "keyshop/internal/repository"

	"go.uber.org/zap"
)

type AdminOrderUsecase struct {
	orders    repo.OrderRepository
	items     repo.OrderItemRepository
	auditRepo repo.AuditLogRepository
	clock     Clock
	log       *zap.Logger
	metrics   *metrics.Metrics
}

func NewAdminOrderUsecase(orders repo.OrderRepository, items repo.OrderItemRepository, auditRepo repo.AuditLogRepository, clock Clock, log *zap.Logger, m *metrics.Metrics) *AdminOrderUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminOrderUsecase{
		orders:    orders,
		items:     items,
		auditRepo: auditRepo,
		clock:     clock,
		log:       log.Named("admin.order.usecase"),
		metrics:   m,
	}
}

// 注文一覧
func (u *AdminOrderUsecase) List(ctx context.Context, f repo.AdminOrderListFilter) ([]OrderOutput, error) {
	// page/limitの最低限チェック
	if f.Page < 1 {
		return []OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if f.Limit < 1 || f.Limit > 100 {
		return []OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	switch model.OrderStatus(f.Status) {
	case "", model.OrderStatusPending, model.OrderStatusPaid, model.OrderStatusCompleted, model.OrderStatusCancelled:
	default:
		return []OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	orders, _, err := u.orders.ListAdmin(ctx, f)
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

// Complete moves a paid order to completed and writes an audit entry.
func (u *AdminOrderUsecase) Complete(ctx context.Context, actorAdminUserID int64, orderID int64) error {
	if actorAdminUserID <= 0 {
		return ErrUnauthorized
	}
	if orderID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	o, err := u.orders.FindByID(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return ErrDB
	}

	// すでにcompletedなら何もしない（200）
	if o.Status == model.OrderStatusCompleted {
		return nil
	}
	if o.Status != model.OrderStatusPaid {
		return NewHTTPError(http.StatusConflict, "only paid orders can be completed")
	}

	ok, err := u.orders.TransitionStatus(ctx, orderID, model.OrderStatusPaid, model.OrderStatusCompleted, u.clock.Now())
	if err != nil {
		return ErrDB
	}
	if !ok {
		return ErrStateConflict
	}
	u.metrics.OrderTransition(string(model.OrderStatusCompleted), TriggerAdmin)

	beforeJSON := `{"status":"` + string(o.Status) + `"}`
	afterJSON := `{"status":"` + string(model.OrderStatusCompleted) + `"}`
	if err := u.auditRepo.Create(ctx, model.AuditLog{
		ActorUserID:  actorAdminUserID,
		Action:       model.AuditActionCompleteOrder,
		ResourceType: model.AuditResourceOrder,
		ResourceID:   orderID,
		BeforeJSON:   beforeJSON,
		AfterJSON:    afterJSON,
		CreatedAt:    u.clock.Now(),
	}); err != nil {
		//遷移は済んでいるので監査ログの失敗はログに残すだけ
		u.log.Error("audit log write failed", zap.Int64("order_id", orderID), zap.Error(err))
	}
	return nil
}

// 注文に対する管理者操作の履歴
func (u *AdminOrderUsecase) History(ctx context.Context, orderID int64) ([]model.AuditLog, error) {
	if orderID <= 0 {
		return []model.AuditLog{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if _, err := u.orders.FindByID(ctx, orderID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return []model.AuditLog{}, ErrNotFound
		}
		return []model.AuditLog{}, ErrDB
	}

	logs, err := u.auditRepo.ListByResource(ctx, model.AuditResourceOrder, orderID)
	if err != nil {
		return []model.AuditLog{}, ErrDB
	}
	return logs, nil
}
