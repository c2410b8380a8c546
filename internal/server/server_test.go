package server_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"keyshop/internal/config"
	"keyshop/internal/handler"
	"keyshop/internal/logger"
	"keyshop/internal/metrics"
	"keyshop/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestEcho(t *testing.T) (*prometheus.Registry, http.Handler) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.OrderCreated("key")

	e := server.NewEcho(config.Config{VerifyRateLimit: 1}, zap.NewNop(), reg, server.Handlers{
		Order:      handler.NewOrderHandler(nil, nil),
		Webhook:    handler.NewWebhookHandler(nil),
		Key:        handler.NewKeyHandler(nil),
		AdminOrder: handler.NewAdminOrderHandler(nil),
	})
	return reg, e
}

func TestServer_Healthz(t *testing.T) {
	_, e := newTestEcho(t)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(logger.HeaderRequestID))
}

func TestServer_Metrics(t *testing.T) {
	_, e := newTestEcho(t)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "keyshop_orders_created_total"))
}

func TestServer_ProtectedRoutesRequireJWT(t *testing.T) {
	_, e := newTestEcho(t)

	for _, r := range []struct{ method, path string }{
		{http.MethodPost, "/orders"},
		{http.MethodGet, "/orders/1/payment-status"},
		{http.MethodPut, "/admin/orders/1/complete"},
	} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(r.method, r.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, r.path)
	}
}

// 秒間1・バースト2なので3回目で429（keyが空なので前2回は400）
func TestServer_VerifyIsRateLimited(t *testing.T) {
	_, e := newTestEcho(t)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/keys/verify?key=", nil)
		req.RemoteAddr = "198.51.100.9:5555"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes)
}
