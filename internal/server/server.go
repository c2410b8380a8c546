package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"keyshop/internal/config"
	"keyshop/internal/handler"
	"keyshop/internal/logger"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Handlers struct {
	fx.In

	Order      *handler.OrderHandler
	Webhook    *handler.WebhookHandler
	Key        *handler.KeyHandler
	AdminOrder *handler.AdminOrderHandler
}

// NewEcho builds the HTTP engine with the shared middleware and every route mounted.
func NewEcho(cfg config.Config, log *zap.Logger, gatherer prometheus.Gatherer, h Handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(logger.EchoMiddleware(logger.MiddlewareConfig{
		Logger:    log,
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, handler.SuccessResponse{Message: "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	h.Order.RegisterRoutes(e, cfg)
	h.Webhook.RegisterRoutes(e)
	h.Key.RegisterRoutes(e, cfg)
	h.AdminOrder.RegisterRoutes(e, cfg)

	return e
}

// RunHTTP starts listening on start and drains in-flight requests on stop.
func RunHTTP(lc fx.Lifecycle, e *echo.Echo, cfg config.Config, log *zap.Logger) {
	addr := ":" + cfg.Port
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			e.Listener = ln
			go func() {
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server started", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return e.Shutdown(ctx)
		},
	})
}

var Module = fx.Module("server",
	fx.Provide(NewEcho),
	fx.Invoke(RunHTTP),
)
