package usecase

import (
	"context"
	"time"

	"keyshop/internal/payment"
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// payment.OmiseGatewayが満たす
type PaymentGateway interface {
	CreateCharge(ctx context.Context, in payment.CreateChargeInput) (payment.Charge, error)
	GetChargeStatus(ctx context.Context, chargeID string) (payment.ChargeStatus, error)
	CancelCharge(ctx context.Context, chargeID string) (payment.CancelResult, error)
}

// スクリプトURLを中身に解決する（失敗時は元の値）
type SourceResolver interface {
	Resolve(ctx context.Context, stored string) string
}
