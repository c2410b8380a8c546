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

type KeyGormRepository struct {
	db *gorm.DB
}

func NewKeyGormRepository(db *gorm.DB) *KeyGormRepository {
	return &KeyGormRepository{db: db}
}

// ON CONFLICT DO NOTHINGなのでTx中でも重複でabortしない
func (r *KeyGormRepository) CreateIfCodeFree(ctx context.Context, key *model.Key) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
		Create(key)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *KeyGormRepository) FindByCode(ctx context.Context, code string) (model.Key, error) {
	var k model.Key
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&k).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Key{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Key{}, err
	}
	return k, nil
}

func (r *KeyGormRepository) CountByOrderItemID(ctx context.Context, orderItemID int64) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Key{}).
		Where("order_item_id = ?", orderItemID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *KeyGormRepository) ListByOrderItemID(ctx context.Context, orderItemID int64) ([]model.Key, error) {
	var keys []model.Key
	if err := r.db.WithContext(ctx).Where("order_item_id = ?", orderItemID).Order("id asc").Find(&keys).Error; err != nil {
		return []model.Key{}, err
	}
	return keys, nil
}

func (r *KeyGormRepository) ListByOrderID(ctx context.Context, orderID int64) ([]model.Key, error) {
	var keys []model.Key
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id asc").Find(&keys).Error; err != nil {
		return []model.Key{}, err
	}
	return keys, nil
}

// 初回だけ書く。2回目以降は0行
func (r *KeyGormRepository) Activate(ctx context.Context, keyID int64, activatedAt time.Time, expiresAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Key{}).
		Where("id = ? AND activated_at IS NULL", keyID).
		Updates(map[string]interface{}{
			"activated_at": activatedAt,
			"expires_at":   expiresAt,
			"updated_at":   activatedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *KeyGormRepository) UpdateBinding(ctx context.Context, keyID int64, hwid *string, placeID *string) error {
	updates := map[string]interface{}{}
	if hwid != nil {
		updates["hwid"] = *hwid
	}
	if placeID != nil {
		updates["place_id"] = *placeID
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()

	res := r.db.WithContext(ctx).Model(&model.Key{}).Where("id = ?", keyID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
