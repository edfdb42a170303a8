package model

import (
	"time"

	"gorm.io/datatypes"
)

// 受信済みwebhookの台帳。(provider, event_id)のuniqueで二重処理を止める。
type WebhookEvent struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Provider  PaymentProvider `gorm:"type:varchar(10);not null;uniqueIndex:idx_provider_event" json:"provider"`
	EventID   string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_provider_event" json:"event_id"`
	OrderID   int64           `gorm:"index" json:"order_id"`
	Payload   datatypes.JSON  `json:"-"`
	CreatedAt time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
}
