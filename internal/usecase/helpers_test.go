package usecase

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"keyshop/internal/domain/model"
	"keyshop/internal/infra/db"
	infra "keyshop/internal/infra/repository"
	"keyshop/internal/metrics"
	"keyshop/internal/payment"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_test_secret"

// =====================
// Clock / Gateway
// =====================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type GatewayMock struct{ mock.Mock }

func (m *GatewayMock) CreateCharge(ctx context.Context, in payment.CreateChargeInput) (payment.Charge, error) {
	args := m.Called(ctx, in)
	if fn, ok := args.Get(0).(func(context.Context, payment.CreateChargeInput) payment.Charge); ok {
		return fn(ctx, in), args.Error(1)
	}
	c, _ := args.Get(0).(payment.Charge)
	return c, args.Error(1)
}

func (m *GatewayMock) GetChargeStatus(ctx context.Context, chargeID string) (payment.ChargeStatus, error) {
	args := m.Called(ctx, chargeID)
	s, _ := args.Get(0).(payment.ChargeStatus)
	return s, args.Error(1)
}

func (m *GatewayMock) CancelCharge(ctx context.Context, chargeID string) (payment.CancelResult, error) {
	args := m.Called(ctx, chargeID)
	r, _ := args.Get(0).(payment.CancelResult)
	return r, args.Error(1)
}

type resolverFunc func(ctx context.Context, stored string) string

func (f resolverFunc) Resolve(ctx context.Context, stored string) string { return f(ctx, stored) }

// =====================
// sqlite環境
// =====================

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := db.Open(sqlite.Open(dsn), "test")
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	//Tx中に別コネクションを使っていないことも確かめられる
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(gdb))
	return gdb
}

// 複数コネクションで同時に書く用。BEGIN IMMEDIATEとbusy_timeoutで書き込みは待ち合わせる
func newConcurrentTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=10000&_txlock=immediate", filepath.Join(t.TempDir(), "keyshop.db"))
	gdb, err := db.Open(sqlite.Open(dsn), "test")
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(8)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(gdb))
	return gdb
}

type testEnv struct {
	db      *gorm.DB
	clock   *fakeClock
	gateway *GatewayMock
	metrics *metrics.Metrics

	orders   *infra.OrderGormRepository
	items    *infra.OrderItemGormRepository
	keys     *infra.KeyGormRepository
	products *infra.ProductGormRepository

	issuer    *KeyIssuer
	fulfiller *Fulfiller
	orderUC   *OrderUsecase
	paymentUC *PaymentUsecase
	keyUC     *KeyUsecase
}

func newTestEnv(t *testing.T, cfg PaymentConfig) *testEnv {
	t.Helper()
	return newTestEnvWithDB(t, cfg, newTestDB(t))
}

func newTestEnvWithDB(t *testing.T, cfg PaymentConfig, gdb *gorm.DB) *testEnv {
	t.Helper()

	e := &testEnv{
		db:       gdb,
		clock:    newFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		gateway:  &GatewayMock{},
		metrics:  metrics.New(prometheus.NewRegistry()),
		orders:   infra.NewOrderGormRepository(gdb),
		items:    infra.NewOrderItemGormRepository(gdb),
		keys:     infra.NewKeyGormRepository(gdb),
		products: infra.NewProductGormRepository(gdb),
	}
	tx := infra.NewTxManagerGorm(gdb)

	e.issuer = NewKeyIssuer(e.clock)
	e.fulfiller = NewFulfiller(tx, e.orders, e.issuer, e.clock, nil, e.metrics)
	e.orderUC = NewOrderUsecase(OrderDeps{
		Tx:        tx,
		Orders:    e.orders,
		Items:     e.items,
		Keys:      e.keys,
		Products:  e.products,
		Users:     infra.NewUserGormRepository(gdb),
		Gateway:   e.gateway,
		Fulfiller: e.fulfiller,
		Metrics:   e.metrics,
	})

	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = testWebhookSecret
	}
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	e.paymentUC = NewPaymentUsecase(PaymentDeps{
		Config:    cfg,
		Orders:    e.orders,
		Events:    infra.NewPaymentEventGormRepository(gdb),
		Gateway:   e.gateway,
		Fulfiller: e.fulfiller,
		IDs:       node,
		Clock:     e.clock,
		Metrics:   e.metrics,
	})

	e.keyUC = NewKeyUsecase(
		e.keys,
		infra.NewKeyLogGormRepository(gdb),
		e.items,
		resolverFunc(func(_ context.Context, stored string) string { return stored }),
		e.clock,
		nil,
		e.metrics,
	)
	return e
}

func (e *testEnv) seedUser(t *testing.T) model.User {
	t.Helper()
	u := model.User{Name: "Somchai", Email: uuid.NewString() + "@example.com", Role: model.RoleUser, IsActive: true}
	require.NoError(t, e.db.Create(&u).Error)
	return u
}

func (e *testEnv) seedProduct(t *testing.T, typ model.ProductType, price string, stock int64, policy string) model.Product {
	t.Helper()
	p, err := e.products.Create(context.Background(), model.Product{
		Name:         "Product " + string(typ),
		Price:        decimal.RequireFromString(price),
		Type:         typ,
		ExpirePolicy: policy,
		Source:       "print('hello')",
		Stock:        stock,
		IsActive:     true,
	})
	require.NoError(t, err)
	return p
}

// CreateChargeが呼ばれたらchrg_<order_id>を返す
func (e *testEnv) expectCharge() *mock.Call {
	return e.gateway.On("CreateCharge", mock.Anything, mock.Anything).
		Return(func(_ context.Context, in payment.CreateChargeInput) payment.Charge {
			return payment.Charge{
				ChargeID:   chargeIDFor(in.OrderID),
				Status:     payment.ChargeStatusPending,
				QRImageURL: "https://api.omise.co/charges/" + chargeIDFor(in.OrderID) + "/documents/qr.svg",
				OrderID:    in.OrderID,
				Amount:     in.Amount,
			}
		}, nil)
}

func chargeIDFor(orderID int64) string {
	return "chrg_test_" + strconv.FormatInt(orderID, 10)
}

func (e *testEnv) placeOrder(t *testing.T, userID int64, productID int64, qty int64) OrderOutput {
	t.Helper()
	out, err := e.orderUC.CreateOrder(context.Background(), userID, CreateOrderInput{ProductID: productID, Quantity: qty})
	require.NoError(t, err)
	return out
}

func (e *testEnv) countKeys(t *testing.T, orderID int64) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.Key{}).Where("order_id = ?", orderID).Count(&n).Error)
	return n
}

// =====================
// Webhook payload
// =====================

type chargeEvent struct {
	EventID      string
	Key          string
	OrderID      int64
	ChargeID     string
	AmountSatang int64
	Paid         bool
	Status       string
	SourceStatus string
}

func chargeEventBody(t *testing.T, s chargeEvent) []byte {
	t.Helper()
	body := map[string]any{
		"object": "event",
		"id":     s.EventID,
		"key":    s.Key,
		"data": map[string]any{
			"object":   "charge",
			"id":       s.ChargeID,
			"amount":   s.AmountSatang,
			"currency": "thb",
			"status":   s.Status,
			"paid":     s.Paid,
			"metadata": map[string]any{"order_id": strconv.FormatInt(s.OrderID, 10)},
			"source": map[string]any{
				"object":        "source",
				"type":          "promptpay",
				"charge_status": s.SourceStatus,
				"scannable_code": map[string]any{
					"image": map[string]any{"download_uri": "https://cdn.example/" + s.ChargeID + ".svg"},
				},
			},
		},
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return b
}

func signedHeaders(body []byte) http.Header {
	ts := "1767225600"
	h := http.Header{}
	h.Set(payment.HeaderSignatureTimestamp, ts)
	h.Set(payment.HeaderSignature, hex.EncodeToString(payment.Sign(testWebhookSecret, ts, body)))
	return h
}
