package model

import "time"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// 認証は外部のauth基盤の持ち物。こちらは注文の持ち主参照に必要な分だけ。
type User struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Email     string `gorm:"uniqueIndex;not null"`
	Role      Role   `gorm:"type:varchar(20);not null;default:'USER'"`
	IsActive  bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
