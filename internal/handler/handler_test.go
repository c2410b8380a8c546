package handler_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"keyshop/internal/config"
	"keyshop/internal/domain/model"
	"keyshop/internal/handler"
	"keyshop/internal/infra/db"
	infra "keyshop/internal/infra/repository"
	"keyshop/internal/payment"
	"keyshop/internal/usecase"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testJWTSecret     = "test-secret"
	testWebhookSecret = "whsec_handler"
)

// =====================
// Gateway stub
// =====================

type stubGateway struct {
	status payment.ChargeStatus
}

func chargeID(orderID int64) string { return "chrg_h_" + strconv.FormatInt(orderID, 10) }

func (g *stubGateway) CreateCharge(ctx context.Context, in payment.CreateChargeInput) (payment.Charge, error) {
	if _, err := payment.ToSatang(in.Amount); err != nil {
		return payment.Charge{}, err
	}
	return payment.Charge{
		ChargeID:   chargeID(in.OrderID),
		Status:     payment.ChargeStatusPending,
		QRImageURL: "https://qr.example/" + chargeID(in.OrderID) + ".svg",
		OrderID:    in.OrderID,
		Amount:     in.Amount,
	}, nil
}

func (g *stubGateway) GetChargeStatus(ctx context.Context, id string) (payment.ChargeStatus, error) {
	return g.status, nil
}

func (g *stubGateway) CancelCharge(ctx context.Context, id string) (payment.CancelResult, error) {
	return payment.CancelResult{Accepted: true}, nil
}

// =====================
// app
// =====================

type testApp struct {
	e  *echo.Echo
	db *gorm.DB
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	gdb, err := db.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), "test")
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))

	cfg := config.Config{JWTSecret: testJWTSecret, VerifyRateLimit: 100}
	clock := usecase.SystemClock{}
	gw := &stubGateway{}

	orders := infra.NewOrderGormRepository(gdb)
	items := infra.NewOrderItemGormRepository(gdb)
	keys := infra.NewKeyGormRepository(gdb)
	tx := infra.NewTxManagerGorm(gdb)

	fulfiller := usecase.NewFulfiller(tx, orders, usecase.NewKeyIssuer(clock), clock, nil, nil)
	orderUC := usecase.NewOrderUsecase(usecase.OrderDeps{
		Tx:        tx,
		Orders:    orders,
		Items:     items,
		Keys:      keys,
		Products:  infra.NewProductGormRepository(gdb),
		Users:     infra.NewUserGormRepository(gdb),
		Gateway:   gw,
		Fulfiller: fulfiller,
	})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	paymentUC := usecase.NewPaymentUsecase(usecase.PaymentDeps{
		Config:    usecase.PaymentConfig{WebhookSecret: testWebhookSecret},
		Orders:    orders,
		Events:    infra.NewPaymentEventGormRepository(gdb),
		Gateway:   gw,
		Fulfiller: fulfiller,
		IDs:       node,
		Clock:     clock,
	})
	keyUC := usecase.NewKeyUsecase(keys, infra.NewKeyLogGormRepository(gdb), items, nil, clock, nil, nil)
	adminUC := usecase.NewAdminOrderUsecase(orders, items, infra.NewAuditLogGormRepository(gdb), clock, nil, nil)

	e := echo.New()
	handler.NewOrderHandler(orderUC, paymentUC).RegisterRoutes(e, cfg)
	handler.NewWebhookHandler(paymentUC).RegisterRoutes(e)
	handler.NewKeyHandler(keyUC).RegisterRoutes(e, cfg)
	handler.NewAdminOrderHandler(adminUC).RegisterRoutes(e, cfg)

	return &testApp{e: e, db: gdb}
}

func (a *testApp) seedUser(t *testing.T, role model.Role) model.User {
	t.Helper()
	u := model.User{Name: "Niran", Email: uuid.NewString() + "@example.com", Role: role, IsActive: true}
	require.NoError(t, a.db.Create(&u).Error)
	return u
}

func (a *testApp) seedKeyProduct(t *testing.T, price string) model.Product {
	t.Helper()
	p := model.Product{Name: "Script", Price: decimal.RequireFromString(price), Type: model.ProductTypeKey, ExpirePolicy: "7D", Source: "print(1)", IsActive: true}
	require.NoError(t, a.db.Create(&p).Error)
	return p
}

func token(t *testing.T, u model.User) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  u.ID,
		"role": string(u.Role),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return s
}

func (a *testApp) do(t *testing.T, method, path, bearer string, body []byte, headers http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func webhookBody(t *testing.T, eventID string, orderID int64, satang int64) ([]byte, http.Header) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"object": "event",
		"id":     eventID,
		"key":    payment.EventChargeComplete,
		"data": map[string]any{
			"object":   "charge",
			"id":       chargeID(orderID),
			"amount":   satang,
			"status":   payment.ChargeStatusSuccessful,
			"paid":     true,
			"metadata": map[string]any{"order_id": orderID},
		},
	})
	require.NoError(t, err)

	h := http.Header{}
	h.Set(payment.HeaderSignature, hex.EncodeToString(payment.Sign(testWebhookSecret, "", body)))
	return body, h
}

// =====================
// tests
// =====================

func TestOrderFlow_CreatePayVerify(t *testing.T) {
	a := newTestApp(t)
	u := a.seedUser(t, model.RoleUser)
	p := a.seedKeyProduct(t, "50.00")
	tok := token(t, u)

	rec := a.do(t, http.MethodPost, "/orders", tok, []byte(fmt.Sprintf(`{"product_id":%d,"quantity":2,"amount":"100.00"}`, p.ID)), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[usecase.OrderOutput](t, rec)
	assert.Equal(t, "pending", string(created.Status))

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/orders/%d/payment-status", created.ID), tok, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[usecase.PaymentStatusOutput](t, rec)
	assert.False(t, st.Paid)

	body, h := webhookBody(t, "evnt_flow", created.ID, 10000)
	rec = a.do(t, http.MethodPost, "/webhooks/omise", "", body, h)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "paid", decode[usecase.WebhookOutput](t, rec).Outcome)

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/orders/%d", created.ID), tok, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[usecase.OrderOutput](t, rec)
	require.Len(t, detail.Items, 1)
	require.Len(t, detail.Items[0].Keys, 2)

	code := detail.Items[0].Keys[0].Code
	rec = a.do(t, http.MethodGet, "/keys/verify?key="+code+"&hwid=hw-1&placeId=42", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[usecase.KeyView](t, rec)
	assert.True(t, view.Activated)
	assert.Equal(t, "print(1)", view.Payload)
}

func TestOrderHandler_Auth(t *testing.T) {
	a := newTestApp(t)

	rec := a.do(t, http.MethodGet, "/orders", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode[handler.ErrorResponse](t, rec).Error)
}

func TestOrderHandler_BadInput(t *testing.T) {
	a := newTestApp(t)
	tok := token(t, a.seedUser(t, model.RoleUser))

	tests := []struct {
		name   string
		method string
		path   string
		body   []byte
		want   string
	}{
		{"invalid id", http.MethodGet, "/orders/abc", nil, "invalid id"},
		{"invalid refresh", http.MethodGet, "/orders/1/payment-status?refresh=maybe", nil, "invalid refresh"},
		{"invalid page", http.MethodGet, "/orders?page=x", nil, "invalid page"},
		{"invalid body", http.MethodPost, "/orders", []byte(`{"quantity":"many"}`), "invalid body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, tt.method, tt.path, tok, tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decode[handler.ErrorResponse](t, rec).Error)
		})
	}
}

func TestOrderHandler_CancelTwiceConflicts(t *testing.T) {
	a := newTestApp(t)
	u := a.seedUser(t, model.RoleUser)
	p := a.seedKeyProduct(t, "25.00")
	tok := token(t, u)

	rec := a.do(t, http.MethodPost, "/orders", tok, []byte(fmt.Sprintf(`{"product_id":%d,"quantity":1}`, p.ID)), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[usecase.OrderOutput](t, rec)

	rec = a.do(t, http.MethodPost, fmt.Sprintf("/orders/%d/cancel", created.ID), tok, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", string(decode[usecase.OrderOutput](t, rec).Status))

	rec = a.do(t, http.MethodPost, fmt.Sprintf("/orders/%d/cancel", created.ID), tok, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWebhookHandler_RejectsUnsigned(t *testing.T) {
	a := newTestApp(t)

	body, _ := webhookBody(t, "evnt_unsigned", 1, 5000)
	rec := a.do(t, http.MethodPost, "/webhooks/omise", "", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing signature", decode[handler.ErrorResponse](t, rec).Error)
}

func TestKeyHandler_Errors(t *testing.T) {
	a := newTestApp(t)

	rec := a.do(t, http.MethodGet, "/keys/verify", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "key is required", decode[handler.ErrorResponse](t, rec).Error)

	rec = a.do(t, http.MethodGet, "/keys/verify?key=NOPE-NOPE-NOPE-NOPE", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "key not found", decode[handler.ErrorResponse](t, rec).Error)
}

func TestAdminOrderHandler_Complete(t *testing.T) {
	a := newTestApp(t)
	u := a.seedUser(t, model.RoleUser)
	admin := a.seedUser(t, model.RoleAdmin)
	p := a.seedKeyProduct(t, "50.00")

	rec := a.do(t, http.MethodPost, "/orders", token(t, u), []byte(fmt.Sprintf(`{"product_id":%d,"quantity":1}`, p.ID)), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[usecase.OrderOutput](t, rec)
	path := fmt.Sprintf("/admin/orders/%d/complete", created.ID)

	//USERは403
	rec = a.do(t, http.MethodPut, path, token(t, u), nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	//pendingはまだ完了にできない
	rec = a.do(t, http.MethodPut, path, token(t, admin), nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	body, h := webhookBody(t, "evnt_admin", created.ID, 5000)
	rec = a.do(t, http.MethodPost, "/webhooks/omise", "", body, h)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPut, path, token(t, admin), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", decode[handler.SuccessResponse](t, rec).Message)

	var audits []model.AuditLog
	require.NoError(t, a.db.Find(&audits).Error)
	require.Len(t, audits, 1)
	assert.Equal(t, admin.ID, audits[0].ActorUserID)

	rec = a.do(t, http.MethodGet, "/admin/orders?status=completed", token(t, admin), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]usecase.OrderOutput](t, rec), 1)

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/admin/orders/%d/audit-logs", created.ID), token(t, admin), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]model.AuditLog](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, model.AuditActionCompleteOrder, history[0].Action)
}
