package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"keyshop/internal/config"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Level(t *testing.T) {
	log, err := New(config.Config{GoEnv: "prod", LogLevel: "warn"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	log, err = New(config.Config{GoEnv: "dev", LogLevel: "nonsense"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestMaskAuthorization(t *testing.T) {
	assert.Equal(t, "", MaskAuthorization(""))
	assert.Equal(t, "Bearer ****wxyz", MaskAuthorization("Bearer abcdefwxyz"))
	assert.Equal(t, "****5678", MaskAuthorization("12345678"))
}

func TestMaskHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer token1234")
	h.Set("Omise-Signature", "deadbeefcafe")
	h.Set("Content-Type", "application/json")

	m := MaskHeaders(h)
	assert.Equal(t, "Bearer ****1234", m["Authorization"])
	assert.Equal(t, "****cafe", m["Omise-Signature"])
	assert.Equal(t, "application/json", m["Content-Type"])
}

func TestMaskKeyCode(t *testing.T) {
	assert.Equal(t, "****WXYZ", MaskKeyCode("ABCD-EFGH-IJKL-WXYZ"))
	assert.Equal(t, "****", MaskKeyCode("AB"))
}

func TestEchoMiddleware_SetsRequestIDAndLogs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	e := echo.New()
	e.Use(EchoMiddleware(MiddlewareConfig{Logger: zap.New(core), SkipPaths: []string{"/healthz"}}))
	e.GET("/ping", func(c echo.Context) error {
		assert.NotEmpty(t, RequestID(c))
		return c.NoContent(http.StatusNoContent)
	})
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer supersecret")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/ping", fields["route"])
	assert.Equal(t, "Bearer ****cret", fields["authorization"])

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Len(t, logs.FilterMessage("request").All(), 1)
}

func TestEchoMiddleware_KeepsIncomingRequestID(t *testing.T) {
	e := echo.New()
	e.Use(EchoMiddleware(MiddlewareConfig{}))
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "req-1", rec.Header().Get(HeaderRequestID))
}
