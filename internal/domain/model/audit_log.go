package model

import "time"

type AuditAction string

const (
	AuditActionCompleteOrder AuditAction = "COMPLETE_ORDER"
)

type AuditResourceType string

const (
	AuditResourceOrder AuditResourceType = "order"
)

// AuditLog は管理者操作の記録。更新・削除はしない。
// 履歴は(resource_type, resource_id)で引くので複合indexを張る
type AuditLog struct {
	ID           int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	ActorUserID  int64             `gorm:"not null;index" json:"actor_user_id"`
	Action       AuditAction       `gorm:"type:varchar(50);not null" json:"action"`
	ResourceType AuditResourceType `gorm:"type:varchar(50);not null;index:idx_audit_resource,priority:1" json:"resource_type"`
	ResourceID   int64             `gorm:"not null;index:idx_audit_resource,priority:2" json:"resource_id"`

	//変更前後のスナップショット（JSON）
	BeforeJSON string `gorm:"type:text" json:"before_json"`
	AfterJSON  string `gorm:"type:text" json:"after_json"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}
