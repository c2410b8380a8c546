package repository

import (
	"context"
	"time"

	"keyshop/internal/domain/model"
)

type PaymentEventRepository interface {
	//同じ(provider, provider_event_id)があればfalse
	Insert(ctx context.Context, ev *model.PaymentEvent) (bool, error)
	FindByProviderEventID(ctx context.Context, provider string, providerEventID string) (model.PaymentEvent, error)
	//処理済みにする。processed_atが入ったイベントは再処理しない
	MarkProcessed(ctx context.Context, provider string, providerEventID string, processedAt time.Time) error
	//失敗を記録する（processed_atは空のまま。再配送で再処理される）
	RecordError(ctx context.Context, provider string, providerEventID string, processingError string) error
}
