package usecase

import (
	"context"
	"errors"
	"net/http"
	"time"

	"keyshop/internal/domain/model"
	"keyshop/internal/metrics"
	"keyshop/internal/payment"
	repo "keyshop/internal/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const providerOmise = "omise"

type PaymentConfig struct {
	WebhookSecret     string
	SignatureOptional bool
	//この経過後はrefreshなしでもゲートウェイに問い合わせる
	PollFallback time.Duration
	//作成からこの時間を過ぎたらゲートウェイに問い合わせない
	PollWindow time.Duration
}

type PaymentUsecase struct {
	cfg       PaymentConfig
	orders    repo.OrderRepository
	events    repo.PaymentEventRepository
	gateway   PaymentGateway
	fulfiller *Fulfiller
	ids       *snowflake.Node
	clock     Clock
	log       *zap.Logger
	metrics   *metrics.Metrics
}

type PaymentDeps struct {
	Config    PaymentConfig
	Orders    repo.OrderRepository
	Events    repo.PaymentEventRepository
	Gateway   PaymentGateway
	Fulfiller *Fulfiller
	IDs       *snowflake.Node
	Clock     Clock
	Log       *zap.Logger
	Metrics   *metrics.Metrics
}

func NewPaymentUsecase(d PaymentDeps) *PaymentUsecase {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Config.PollFallback <= 0 {
		d.Config.PollFallback = 30 * time.Second
	}
	if d.Config.PollWindow <= 0 {
		d.Config.PollWindow = 15 * time.Minute
	}
	return &PaymentUsecase{
		cfg:       d.Config,
		orders:    d.Orders,
		events:    d.Events,
		gateway:   d.Gateway,
		fulfiller: d.Fulfiller,
		ids:       d.IDs,
		clock:     d.Clock,
		log:       d.Log.Named("payment.usecase"),
		metrics:   d.Metrics,
	}
}

type PaymentStatusOutput struct {
	OrderID         int64      `json:"order_id"`
	Status          string     `json:"status"`
	Paid            bool       `json:"paid"`
	QRCodeURL       *string    `json:"qr_code_url,omitempty"`
	ChargeExpiresAt *time.Time `json:"charge_expires_at,omitempty"`
	//クライアントはこの時刻でポーリングをやめる
	PollUntil time.Time `json:"poll_until"`
	//今回ゲートウェイに問い合わせたか
	Refreshed bool `json:"refreshed"`
}

// PollStatus returns the stored status and, when due, reconciles it with the gateway.
// Gateway failures are logged and the last known state is returned.
func (u *PaymentUsecase) PollStatus(ctx context.Context, userID int64, orderID int64, refresh bool) (PaymentStatusOutput, error) {
	if userID <= 0 {
		return PaymentStatusOutput{}, ErrUnauthorized
	}
	if orderID <= 0 {
		return PaymentStatusOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	o, err := u.orders.FindByID(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return PaymentStatusOutput{}, ErrNotFound
	}
	if err != nil {
		return PaymentStatusOutput{}, ErrDB
	}
	if o.User.ID != userID {
		return PaymentStatusOutput{}, ErrNotFound
	}

	now := u.clock.Now()
	refreshed := false
	if u.shouldQueryGateway(o, refresh, now) {
		refreshed = u.reconcile(ctx, o)
		if refreshed {
			if cur, err := u.orders.FindByID(ctx, orderID); err == nil {
				o = cur
			}
		}
	}

	return PaymentStatusOutput{
		OrderID:         o.ID,
		Status:          string(o.Status),
		Paid:            o.Status.IsPaidOrLater(),
		QRCodeURL:       o.QRCodeURL,
		ChargeExpiresAt: o.ChargeExpiresAt,
		PollUntil:       o.CreatedAt.Add(u.cfg.PollWindow),
		Refreshed:       refreshed,
	}, nil
}

func (u *PaymentUsecase) shouldQueryGateway(o model.Order, refresh bool, now time.Time) bool {
	if o.Status != model.OrderStatusPending || o.OmiseChargeID == nil {
		return false
	}
	if !now.Before(o.CreatedAt.Add(u.cfg.PollWindow)) {
		return false
	}
	return refresh || now.Sub(o.CreatedAt) >= u.cfg.PollFallback
}

// ゲートウェイの状態を反映する。問い合わせできたらtrue
func (u *PaymentUsecase) reconcile(ctx context.Context, o model.Order) bool {
	st, err := u.gateway.GetChargeStatus(ctx, *o.OmiseChargeID)
	if err != nil {
		u.log.Warn("charge status poll failed", zap.Int64("order_id", o.ID), zap.Error(err))
		return false
	}

	switch st.Outcome() {
	case payment.OutcomeSuccess:
		if !st.Amount.Equal(o.TotalAmount) {
			u.log.Error("paid amount does not match order total, manual review needed",
				zap.Int64("order_id", o.ID),
				zap.String("charge_amount", st.Amount.StringFixed(2)),
				zap.String("order_total", o.TotalAmount.StringFixed(2)),
			)
			return true
		}
		if _, err := u.fulfiller.MarkPaid(ctx, o.ID, TriggerPoll); err != nil {
			//次のトリガーで再試行される
			u.log.Error("mark paid from poll failed", zap.Int64("order_id", o.ID), zap.Error(err))
		}
	case payment.OutcomeFailure:
		if _, err := u.fulfiller.CancelPending(ctx, o.ID, TriggerPoll); err != nil {
			u.log.Error("cancel from poll failed", zap.Int64("order_id", o.ID), zap.Error(err))
		}
	}
	return true
}

type WebhookOutput struct {
	EventID   string `json:"event_id"`
	Event     string `json:"event"`
	Outcome   string `json:"outcome"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// HandleWebhook verifies, records and applies one provider callback.
// Delivery is at-least-once; an event already processed is acknowledged without effects.
func (u *PaymentUsecase) HandleWebhook(ctx context.Context, body []byte, headers http.Header) (WebhookOutput, error) {
	signed := true
	if err := payment.VerifySignature(u.cfg.WebhookSecret, body, headers); err != nil {
		switch {
		case errors.Is(err, payment.ErrSignatureMissing) && u.cfg.SignatureOptional:
			signed = false
			u.log.Warn("processing unsigned webhook")
		case errors.Is(err, payment.ErrSignatureMissing):
			u.metrics.WebhookEvent("unknown", "unsigned")
			return WebhookOutput{}, NewHTTPError(http.StatusUnauthorized, "missing signature")
		default:
			u.metrics.WebhookEvent("unknown", "bad_signature")
			u.log.Warn("webhook signature rejected", zap.Error(err))
			return WebhookOutput{}, NewHTTPError(http.StatusUnauthorized, "invalid signature")
		}
	}

	ev, err := payment.ParseEvent(body)
	if err != nil {
		u.metrics.WebhookEvent("unknown", "invalid_payload")
		return WebhookOutput{}, NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	out := WebhookOutput{EventID: ev.ID, Event: ev.Key}

	record := &model.PaymentEvent{
		ID:              u.ids.Generate(),
		Provider:        providerOmise,
		ProviderEventID: ev.ID,
		EventType:       ev.Key,
		ChargeID:        ev.Charge.ChargeID,
		Payload:         datatypes.JSON(body),
		SignatureValid:  signed,
	}
	if ev.Charge.OrderID > 0 {
		id := ev.Charge.OrderID
		record.OrderID = &id
	}

	inserted, err := u.events.Insert(ctx, record)
	if err != nil {
		u.log.Error("record webhook failed", zap.String("event_id", ev.ID), zap.Error(err))
		return WebhookOutput{}, ErrDB
	}
	if !inserted {
		prev, err := u.events.FindByProviderEventID(ctx, providerOmise, ev.ID)
		if err != nil {
			return WebhookOutput{}, ErrDB
		}
		if prev.ProcessedAt != nil {
			out.Duplicate = true
			out.Outcome = "duplicate"
			u.metrics.WebhookEvent(ev.Key, "duplicate")
			return out, nil
		}
		//前回は失敗している。もう一度処理する
	}

	outcome, err := u.apply(ctx, ev)
	if err != nil {
		if recErr := u.events.RecordError(ctx, providerOmise, ev.ID, err.Error()); recErr != nil {
			u.log.Error("record webhook error failed", zap.String("event_id", ev.ID), zap.Error(recErr))
		}
		u.metrics.WebhookEvent(ev.Key, "error")
		//500を返してプロバイダに再送させる
		return WebhookOutput{}, err
	}
	if err := u.events.MarkProcessed(ctx, providerOmise, ev.ID, u.clock.Now()); err != nil {
		u.log.Error("mark webhook processed failed", zap.String("event_id", ev.ID), zap.Error(err))
	}

	out.Outcome = outcome
	u.metrics.WebhookEvent(ev.Key, outcome)
	return out, nil
}

func (u *PaymentUsecase) apply(ctx context.Context, ev payment.Event) (string, error) {
	log := u.log.With(zap.String("event_id", ev.ID), zap.String("event", ev.Key), zap.String("charge_id", ev.Charge.ChargeID))

	switch ev.Key {
	case payment.EventChargeCreate, payment.EventChargeComplete, payment.EventChargeExpire:
	default:
		log.Debug("ignoring webhook event")
		return "ignored", nil
	}

	o, err := u.findOrderForCharge(ctx, ev.Charge)
	if errors.Is(err, repo.ErrNotFound) {
		//補償で消えた注文など。再送されても結果は変わらない
		log.Warn("no order for charge", zap.Int64("metadata_order_id", ev.Charge.OrderID))
		return "orphan", nil
	}
	if err != nil {
		return "", ErrDB
	}
	log = log.With(zap.Int64("order_id", o.ID))

	if o.OmiseChargeID != nil && *o.OmiseChargeID != ev.Charge.ChargeID {
		log.Warn("charge does not match order charge", zap.String("order_charge_id", *o.OmiseChargeID))
		return "mismatch", nil
	}

	if ev.Key == payment.EventChargeCreate {
		return u.attachCharge(ctx, log, o, ev.Charge)
	}

	if o.OmiseChargeID == nil {
		//作成フローより先にWebhookが来た
		if _, err := u.attachCharge(ctx, log, o, ev.Charge); err != nil {
			return "", err
		}
	}

	if ev.Key == payment.EventChargeExpire {
		if _, err := u.fulfiller.CancelPending(ctx, o.ID, TriggerWebhook); err != nil {
			return "", err
		}
		return "cancelled", nil
	}

	switch ev.Charge.Outcome() {
	case payment.OutcomeSuccess:
		if !ev.Charge.Amount.Equal(o.TotalAmount) {
			log.Error("paid amount does not match order total, manual review needed",
				zap.String("charge_amount", ev.Charge.Amount.StringFixed(2)),
				zap.String("order_total", o.TotalAmount.StringFixed(2)),
			)
			return "amount_mismatch", nil
		}
		ok, err := u.fulfiller.MarkPaid(ctx, o.ID, TriggerWebhook)
		if err != nil {
			return "", err
		}
		if ok {
			return "paid", nil
		}
		return u.settledOutcome(ctx, log, o.ID)
	case payment.OutcomeFailure:
		if _, err := u.fulfiller.CancelPending(ctx, o.ID, TriggerWebhook); err != nil {
			return "", err
		}
		return "cancelled", nil
	default:
		log.Warn("ambiguous charge result, leaving order unchanged",
			zap.Bool("paid", ev.Charge.Paid),
			zap.String("status", ev.Charge.Status),
			zap.String("source_status", ev.Charge.SourceStatus),
		)
		return "ambiguous", nil
	}
}

// 遷移しなかった支払い成功。取消済みの注文なら返金対応が要る
func (u *PaymentUsecase) settledOutcome(ctx context.Context, log *zap.Logger, orderID int64) (string, error) {
	cur, err := u.orders.FindByID(ctx, orderID)
	if err != nil {
		return "", ErrDB
	}
	if cur.Status == model.OrderStatusCancelled {
		log.Error("charge paid for cancelled order, refund needed")
		return "paid_after_cancel", nil
	}
	return "noop", nil
}

// metadata.order_idが主。無ければcharge idで引く
func (u *PaymentUsecase) findOrderForCharge(ctx context.Context, c payment.Charge) (model.Order, error) {
	if c.OrderID > 0 {
		return u.orders.FindByID(ctx, c.OrderID)
	}
	return u.orders.FindByChargeID(ctx, c.ChargeID)
}

func (u *PaymentUsecase) attachCharge(ctx context.Context, log *zap.Logger, o model.Order, c payment.Charge) (string, error) {
	ok, err := u.orders.SetChargeIfEmpty(ctx, o.ID, repo.ChargeRef{
		ChargeID:  c.ChargeID,
		QRCodeURL: c.QRImageURL,
		ExpiresAt: c.ExpiresAt,
	})
	if errors.Is(err, repo.ErrConflict) {
		log.Warn("charge already attached to another order")
		return "mismatch", nil
	}
	if err != nil {
		return "", ErrDB
	}
	if ok {
		return "attached", nil
	}
	if _, err := u.orders.FillQRCodeIfEmpty(ctx, o.ID, c.ChargeID, c.QRImageURL); err != nil {
		return "", ErrDB
	}
	return "noop", nil
}
