package model

import (
	"time"

	"gorm.io/datatypes"
)

type KeyLogAction string

const (
	KeyLogActionVerify   KeyLogAction = "verify"
	KeyLogActionActivate KeyLogAction = "activate"
)

// キー検証の監査ログ（追記のみ）
type KeyLog struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	//見つからなかった場合はNULL
	KeyID *int64 `gorm:"index" json:"key_id"`
	Code  string `gorm:"type:varchar(64);not null;index" json:"code"`

	Action  KeyLogAction      `gorm:"type:varchar(20);not null;index" json:"action"`
	Success bool              `gorm:"not null" json:"success"`
	Message string            `gorm:"type:text" json:"message"`
	Data    datatypes.JSONMap `json:"data"`

	IP        string `gorm:"type:varchar(64)" json:"ip"`
	UserAgent string `gorm:"type:text" json:"user_agent"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}
