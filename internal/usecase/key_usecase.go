package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"keyshop/internal/domain/model"
	"keyshop/internal/keycode"
	"keyshop/internal/metrics"
	repo "keyshop/internal/repository"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type KeyUsecase struct {
	keys     repo.KeyRepository
	keyLogs  repo.KeyLogRepository
	items    repo.OrderItemRepository
	resolver SourceResolver
	clock    Clock
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewKeyUsecase(keys repo.KeyRepository, keyLogs repo.KeyLogRepository, items repo.OrderItemRepository, resolver SourceResolver, clock Clock, log *zap.Logger, m *metrics.Metrics) *KeyUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &KeyUsecase{
		keys:     keys,
		keyLogs:  keyLogs,
		items:    items,
		resolver: resolver,
		clock:    clock,
		log:      log.Named("key.usecase"),
		metrics:  m,
	}
}

type VerifyInput struct {
	Code     string
	HWID     string
	PlaceID  string
	GameName string
	UserID   string
	UserName string

	IP        string
	UserAgent string
}

type KeyView struct {
	Code        string     `json:"code"`
	Activated   bool       `json:"activated"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	HWID        *string    `json:"hwid,omitempty"`
	PlaceID     *string    `json:"place_id,omitempty"`
	ProductName string     `json:"product_name"`
	Payload     string     `json:"payload,omitempty"`
}

// ActivateOrVerify checks a key and starts its expiry clock on first use.
// Every call, successful or not, appends one key log entry.
func (u *KeyUsecase) ActivateOrVerify(ctx context.Context, in VerifyInput) (KeyView, error) {
	code := keycode.Normalize(in.Code)
	if code == "" {
		return KeyView{}, NewHTTPError(http.StatusBadRequest, "key is required")
	}

	k, err := u.keys.FindByCode(ctx, code)
	if errors.Is(err, repo.ErrNotFound) {
		u.appendLog(ctx, nil, code, model.KeyLogActionVerify, false, ErrKeyNotFound.Message, in)
		u.metrics.KeyVerification("not_found")
		return KeyView{}, ErrKeyNotFound
	}
	if err != nil {
		u.log.Error("find key failed", zap.Error(err))
		return KeyView{}, u.dbFailure(ctx, nil, code, model.KeyLogActionVerify, in)
	}

	if !k.IsActive {
		u.appendLog(ctx, &k.ID, code, model.KeyLogActionVerify, false, ErrKeyInactive.Message, in)
		u.metrics.KeyVerification("inactive")
		return KeyView{}, ErrKeyInactive
	}

	now := u.clock.Now()
	if k.IsActivated() && now.After(k.ExpiresAt) {
		u.appendLog(ctx, &k.ID, code, model.KeyLogActionVerify, false, ErrKeyExpired.Message, in)
		u.metrics.KeyVerification("expired")
		return KeyView{}, ErrKeyExpired
	}

	action := model.KeyLogActionVerify
	if !k.IsActivated() {
		policy := k.ProductData.Data().ExpirePolicy
		expiresAt, err := keycode.CalculateExpireDate(policy, now)
		if err != nil {
			u.log.Error("invalid expire policy", zap.Int64("key_id", k.ID), zap.String("policy", policy), zap.Error(err))
			u.appendLog(ctx, &k.ID, code, model.KeyLogActionActivate, false, "invalid expire policy", in)
			u.metrics.KeyVerification("error")
			return KeyView{}, NewHTTPError(http.StatusInternalServerError, "invalid expire policy")
		}

		won, err := u.keys.Activate(ctx, k.ID, now, expiresAt)
		if err != nil {
			u.log.Error("activate key failed", zap.Int64("key_id", k.ID), zap.Error(err))
			return KeyView{}, u.dbFailure(ctx, &k.ID, code, model.KeyLogActionActivate, in)
		}
		if won {
			action = model.KeyLogActionActivate
			k.ActivatedAt = &now
			k.ExpiresAt = expiresAt
		} else {
			//同時アクティベートに負けた。勝者の値を読む
			if k, err = u.keys.FindByCode(ctx, code); err != nil {
				return KeyView{}, u.dbFailure(ctx, nil, code, model.KeyLogActionVerify, in)
			}
		}
	}

	//hwid / place_id は後勝ち
	hwid := optional(in.HWID)
	placeID := optional(in.PlaceID)
	if hwid != nil || placeID != nil {
		if err := u.keys.UpdateBinding(ctx, k.ID, hwid, placeID); err != nil {
			u.log.Error("update key binding failed", zap.Int64("key_id", k.ID), zap.Error(err))
			return KeyView{}, u.dbFailure(ctx, &k.ID, code, action, in)
		}
		if hwid != nil {
			k.HWID = hwid
		}
		if placeID != nil {
			k.PlaceID = placeID
		}
	}

	view := KeyView{
		Code:        k.Code,
		Activated:   true,
		ActivatedAt: k.ActivatedAt,
		HWID:        k.HWID,
		PlaceID:     k.PlaceID,
		ProductName: k.ProductData.Data().Name,
		Payload:     u.payload(ctx, k),
	}
	exp := k.ExpiresAt
	view.ExpiresAt = &exp

	msg := "verified"
	if action == model.KeyLogActionActivate {
		msg = "activated"
	}
	u.appendLog(ctx, &k.ID, code, action, true, msg, in)
	u.metrics.KeyVerification(msg)
	return view, nil
}

// 失敗もログに残す
func (u *KeyUsecase) dbFailure(ctx context.Context, keyID *int64, code string, action model.KeyLogAction, in VerifyInput) error {
	u.appendLog(ctx, keyID, code, action, false, ErrDB.Message, in)
	u.metrics.KeyVerification("error")
	return ErrDB
}

// 購入時点のsource。GitHubのraw URLなら中身を返す
func (u *KeyUsecase) payload(ctx context.Context, k model.Key) string {
	src := strings.TrimSpace(k.Source)
	if src == "" {
		//Sourceを持つ前に発行されたキーは明細から引く
		it, err := u.items.FindByID(ctx, k.OrderItemID)
		if err != nil {
			u.log.Warn("order item for key not found", zap.Int64("key_id", k.ID), zap.Error(err))
			return ""
		}
		src = strings.TrimSpace(it.Product.Source)
	}
	if src == "" || u.resolver == nil {
		return src
	}
	return u.resolver.Resolve(ctx, src)
}

func (u *KeyUsecase) appendLog(ctx context.Context, keyID *int64, code string, action model.KeyLogAction, success bool, msg string, in VerifyInput) {
	data := datatypes.JSONMap{}
	for k, v := range map[string]string{
		"hwid":      in.HWID,
		"place_id":  in.PlaceID,
		"game_name": in.GameName,
		"user_id":   in.UserID,
		"user_name": in.UserName,
	} {
		if v != "" {
			data[k] = v
		}
	}

	err := u.keyLogs.Create(ctx, model.KeyLog{
		KeyID:     keyID,
		Code:      code,
		Action:    action,
		Success:   success,
		Message:   msg,
		Data:      data,
		IP:        in.IP,
		UserAgent: in.UserAgent,
		CreatedAt: u.clock.Now(),
	})
	if err != nil {
		u.log.Error("append key log failed", zap.String("action", string(action)), zap.Error(err))
	}
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
