package repository

import (
	"context"
	"errors"
	"time"

	"keyshop/internal/domain/model"
	repo "keyshop/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentEventGormRepository struct {
	db *gorm.DB
}

func NewPaymentEventGormRepository(db *gorm.DB) *PaymentEventGormRepository {
	return &PaymentEventGormRepository{db: db}
}

func (r *PaymentEventGormRepository) Insert(ctx context.Context, ev *model.PaymentEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *PaymentEventGormRepository) FindByProviderEventID(ctx context.Context, provider string, providerEventID string) (model.PaymentEvent, error) {
	var ev model.PaymentEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PaymentEvent{}, repo.ErrNotFound
	}
	if err != nil {
		return model.PaymentEvent{}, err
	}
	return ev, nil
}

func (r *PaymentEventGormRepository) MarkProcessed(ctx context.Context, provider string, providerEventID string, processedAt time.Time) error {
	return r.update(ctx, provider, providerEventID, map[string]interface{}{
		"processed_at":     processedAt,
		"processing_error": "",
	})
}

func (r *PaymentEventGormRepository) RecordError(ctx context.Context, provider string, providerEventID string, processingError string) error {
	return r.update(ctx, provider, providerEventID, map[string]interface{}{
		"processing_error": processingError,
	})
}

func (r *PaymentEventGormRepository) update(ctx context.Context, provider string, providerEventID string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.PaymentEvent{}).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
