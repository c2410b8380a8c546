package repository

import (
	"context"

	"keyshop/internal/domain/model"
)

type UserRepository interface {
	FindByID(ctx context.Context, userID int64) (model.User, error)
	Create(ctx context.Context, user model.User) (model.User, error)
}
