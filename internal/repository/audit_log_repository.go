package repository

import (
	"context"

	"keyshop/internal/domain/model"
)

// 管理者操作の記録（追記のみ）
type AuditLogRepository interface {
	Create(ctx context.Context, log model.AuditLog) error
	//対象ごとの履歴。新しい順
	ListByResource(ctx context.Context, resourceType model.AuditResourceType, resourceID int64) ([]model.AuditLog, error)
}
