package repository

import (
	"context"
	"errors"
	"time"

	"keyshop/internal/domain/model"
	repo "keyshop/internal/repository"

	"gorm.io/gorm"
)

type OrderGormRepository struct {
	db *gorm.DB
}

func NewOrderGormRepository(db *gorm.DB) *OrderGormRepository {
	return &OrderGormRepository{db: db}
}

func (r *OrderGormRepository) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	var o model.Order
	err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (r *OrderGormRepository) FindByChargeID(ctx context.Context, chargeID string) (model.Order, error) {
	var o model.Order
	err := r.db.WithContext(ctx).Where("omise_charge_id = ?", chargeID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (r *OrderGormRepository) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}

	var items []model.Order
	offset := (page - 1) * limit
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&items).Error
	if err != nil {
		return []model.Order{}, 0, err
	}

	return items, total, nil
}

func (r *OrderGormRepository) ListAdmin(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}

	q := r.db.WithContext(ctx).Model(&model.Order{})

	//status 絞り込み
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	//user_id 絞り込み
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}

	//期間絞り込み
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}

	var items []model.Order
	offset := (f.Page - 1) * f.Limit
	if err := q.Order("id desc").Limit(f.Limit).Offset(offset).Find(&items).Error; err != nil {
		return []model.Order{}, 0, err
	}

	return items, total, nil
}

func (r *OrderGormRepository) Create(ctx context.Context, order model.Order) (model.Order, error) {
	if err := r.db.WithContext(ctx).Create(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return model.Order{}, repo.ErrConflict
		}
		return model.Order{}, err
	}
	return order, nil
}

func (r *OrderGormRepository) Delete(ctx context.Context, orderID int64) error {
	res := r.db.WithContext(ctx).Delete(&model.Order{}, orderID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// charge参照は「NULLのときだけ」書く。勝った1人だけがtrue
func (r *OrderGormRepository) SetChargeIfEmpty(ctx context.Context, orderID int64, ref repo.ChargeRef) (bool, error) {
	updates := map[string]interface{}{
		"omise_charge_id": ref.ChargeID,
		"updated_at":      time.Now(),
	}
	if ref.QRCodeURL != "" {
		updates["qr_code_url"] = ref.QRCodeURL
	}
	if ref.ExpiresAt != nil {
		updates["charge_expires_at"] = *ref.ExpiresAt
	}

	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND omise_charge_id IS NULL", orderID).
		Updates(updates)
	if res.Error != nil {
		//別の注文が同じchargeを持っている
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, repo.ErrConflict
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *OrderGormRepository) FillQRCodeIfEmpty(ctx context.Context, orderID int64, chargeID string, qrCodeURL string) (bool, error) {
	if qrCodeURL == "" {
		return false, nil
	}
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND omise_charge_id = ? AND qr_code_url IS NULL", orderID, chargeID).
		Updates(map[string]interface{}{
			"qr_code_url": qrCodeURL,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ステータスのCAS。fromのときだけtoに変える
func (r *OrderGormRepository) TransitionStatus(ctx context.Context, orderID int64, from, to model.OrderStatus, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": at,
	}
	switch to {
	case model.OrderStatusPaid:
		updates["paid_at"] = at
	case model.OrderStatusCancelled:
		updates["cancelled_at"] = at
	case model.OrderStatusCompleted:
		updates["completed_at"] = at
	}

	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
