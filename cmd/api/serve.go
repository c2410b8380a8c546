package main

import (
	"context"

	"keyshop/internal/config"
	"keyshop/internal/handler"
	"keyshop/internal/infra/db"
	infra "keyshop/internal/infra/repository"
	"keyshop/internal/infra/source"
	"keyshop/internal/logger"
	"keyshop/internal/metrics"
	"keyshop/internal/payment"
	repo "keyshop/internal/repository"
	"keyshop/internal/server"
	"keyshop/internal/usecase"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func runServe() error {
	app := fx.New(
		fx.Provide(config.Load),
		fx.Provide(logger.New),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(newRegistry),
		fx.Provide(metrics.New),
		fx.Provide(openDB),
		fx.Provide(newSnowflake),
		infra.Module,
		fx.Provide(
			newClock,
			newGateway,
			newResolver,
			usecase.NewKeyIssuer,
			usecase.NewFulfiller,
			newOrderUsecase,
			newPaymentUsecase,
			usecase.NewKeyUsecase,
			usecase.NewAdminOrderUsecase,
		),
		fx.Provide(
			handler.NewOrderHandler,
			handler.NewWebhookHandler,
			handler.NewKeyHandler,
			handler.NewAdminOrderHandler,
		),
		server.Module,
	)
	//依存の組み立てに失敗したら起動しない
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

// prometheus.Registererとprometheus.Gathererの両方として渡す
type registryOut struct {
	fx.Out

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

func newRegistry() registryOut {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registryOut{Registerer: reg, Gatherer: reg}
}

func openDB(lc fx.Lifecycle, cfg config.Config) (*gorm.DB, error) {
	gdb, err := db.Connect(cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return gdb, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newClock() usecase.Clock {
	return usecase.SystemClock{}
}

func newGateway(cfg config.Config, log *zap.Logger, m *metrics.Metrics) usecase.PaymentGateway {
	return payment.NewOmiseGateway(payment.Config{
		SecretKey: cfg.OmiseSecretKey,
		BaseURL:   cfg.OmiseAPIURL,
	}, log, m)
}

func newResolver(cfg config.Config, log *zap.Logger) usecase.SourceResolver {
	return source.NewGitHubResolver(source.Config{Token: cfg.GitHubToken}, log)
}

type orderParams struct {
	fx.In

	Tx        repo.TransactionManager
	Orders    repo.OrderRepository
	Items     repo.OrderItemRepository
	Keys      repo.KeyRepository
	Products  repo.ProductRepository
	Users     repo.UserRepository
	Gateway   usecase.PaymentGateway
	Fulfiller *usecase.Fulfiller
	Log       *zap.Logger
	Metrics   *metrics.Metrics
}

func newOrderUsecase(p orderParams) *usecase.OrderUsecase {
	return usecase.NewOrderUsecase(usecase.OrderDeps{
		Tx:        p.Tx,
		Orders:    p.Orders,
		Items:     p.Items,
		Keys:      p.Keys,
		Products:  p.Products,
		Users:     p.Users,
		Gateway:   p.Gateway,
		Fulfiller: p.Fulfiller,
		Log:       p.Log,
		Metrics:   p.Metrics,
	})
}

type paymentParams struct {
	fx.In

	Config    config.Config
	Orders    repo.OrderRepository
	Events    repo.PaymentEventRepository
	Gateway   usecase.PaymentGateway
	Fulfiller *usecase.Fulfiller
	IDs       *snowflake.Node
	Clock     usecase.Clock
	Log       *zap.Logger
	Metrics   *metrics.Metrics
}

func newPaymentUsecase(p paymentParams) *usecase.PaymentUsecase {
	return usecase.NewPaymentUsecase(usecase.PaymentDeps{
		Config: usecase.PaymentConfig{
			WebhookSecret:     p.Config.OmiseWebhookSecret,
			SignatureOptional: p.Config.OmiseWebhookSignatureOptional,
			PollFallback:      p.Config.PaymentPollFallback,
			PollWindow:        p.Config.PaymentPollWindow,
		},
		Orders:    p.Orders,
		Events:    p.Events,
		Gateway:   p.Gateway,
		Fulfiller: p.Fulfiller,
		IDs:       p.IDs,
		Clock:     p.Clock,
		Log:       p.Log,
		Metrics:   p.Metrics,
	})
}
