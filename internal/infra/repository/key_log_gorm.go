package repository

import (
	"context"

	"keyshop/internal/domain/model"
	repo "keyshop/internal/repository"

	"gorm.io/gorm"
)

type keyLogGormRepository struct {
	db *gorm.DB
}

func NewKeyLogGormRepository(db *gorm.DB) repo.KeyLogRepository {
	return &keyLogGormRepository{db: db}
}

func (r *keyLogGormRepository) Create(ctx context.Context, log model.KeyLog) error {
	if err := r.db.WithContext(ctx).Create(&log).Error; err != nil {
		return err
	}
	return nil
}

func (r *keyLogGormRepository) ListByKeyID(ctx context.Context, keyID int64, limit int) ([]model.KeyLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var logs []model.KeyLog
	if err := r.db.WithContext(ctx).
		Where("key_id = ?", keyID).
		Order("id DESC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
