package repository

import (
	repo "keyshop/internal/repository"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Stores はGORM実装をrepositoryのinterfaceとして渡す
type Stores struct {
	fx.Out

	Tx       repo.TransactionManager
	Orders   repo.OrderRepository
	Items    repo.OrderItemRepository
	Keys     repo.KeyRepository
	KeyLogs  repo.KeyLogRepository
	Products repo.ProductRepository
	Users    repo.UserRepository
	Events   repo.PaymentEventRepository
	Audit    repo.AuditLogRepository
}

func NewStores(db *gorm.DB) Stores {
	return Stores{
		Tx:       NewTxManagerGorm(db),
		Orders:   NewOrderGormRepository(db),
		Items:    NewOrderItemGormRepository(db),
		Keys:     NewKeyGormRepository(db),
		KeyLogs:  NewKeyLogGormRepository(db),
		Products: NewProductGormRepository(db),
		Users:    NewUserGormRepository(db),
		Events:   NewPaymentEventGormRepository(db),
		Audit:    NewAuditLogGormRepository(db),
	}
}

var Module = fx.Module("repository",
	fx.Provide(NewStores),
)
