package logger

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	HeaderRequestID = "X-Request-Id"
	CtxRequestIDKey = "request_id"
)

type MiddlewareConfig struct {
	Logger *zap.Logger
	//ログに出さないパス（/metrics, /healthzなど）
	SkipPaths []string
}

// EchoMiddleware assigns a request id and writes one access log line per request.
func EchoMiddleware(cfg MiddlewareConfig) echo.MiddlewareFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			rid := req.Header.Get(HeaderRequestID)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Set(CtxRequestIDKey, rid)
			c.Response().Header().Set(HeaderRequestID, rid)

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			if _, ok := skip[c.Path()]; ok {
				return nil
			}

			fields := []zap.Field{
				zap.String("request_id", rid),
				zap.String("method", req.Method),
				zap.String("route", c.Path()),
				zap.String("path", req.URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", c.RealIP()),
			}
			if authz := req.Header.Get("Authorization"); authz != "" {
				fields = append(fields, zap.String("authorization", MaskAuthorization(authz)))
			}

			switch {
			case c.Response().Status >= 500:
				log.Error("request", append(fields, zap.Error(err))...)
			case c.Response().Status >= 400:
				log.Warn("request", fields...)
			default:
				log.Info("request", fields...)
			}
			return nil
		}
	}
}

// RequestID returns the id assigned by EchoMiddleware, or "".
func RequestID(c echo.Context) string {
	v, _ := c.Get(CtxRequestIDKey).(string)
	return v
}
