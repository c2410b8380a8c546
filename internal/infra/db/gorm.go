package db

import (
	"fmt"

	"keyshop/internal/config"
	"keyshop/internal/domain/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect はDBに接続して *gorm.DB を返す。
func Connect(cfg config.Config) (*gorm.DB, error) {
	// DATABASE_URL があれば最優先で使う
	dsn := cfg.DatabaseURL
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresSSLMode,
		)
	}

	return Open(postgres.Open(dsn), cfg.GoEnv)
}

// Openは方言に依存しない共通設定で開く（テストはsqliteを渡す）
func Open(dialector gorm.Dialector, goEnv string) (*gorm.DB, error) {
	level := logger.Warn
	if goEnv == "dev" {
		level = logger.Info
	}
	return gorm.Open(dialector, &gorm.Config{
		//重複キーをgorm.ErrDuplicatedKeyとして返す
		TranslateError: true,
		Logger:         logger.Default.LogMode(level),
	})
}

// Models はマイグレーション対象
func Models() []interface{} {
	return []interface{}{
		&model.User{},
		&model.Product{},
		&model.Order{},
		&model.OrderItem{},
		&model.Key{},
		&model.KeyLog{},
		&model.PaymentEvent{},
		&model.AuditLog{},
	}
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(Models()...)
}
