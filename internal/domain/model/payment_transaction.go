package model

import (
	"time"

	"gorm.io/datatypes"
)

type PaymentProvider string

const (
	ProviderCard  PaymentProvider = "card"
	ProviderLocal PaymentProvider = "local"
)

// プロバイダ固有の語彙を吸収した共通ステータス
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusCompleted  PaymentStatus = "COMPLETED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusCanceled   PaymentStatus = "CANCELED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
	PaymentStatusUnknown    PaymentStatus = "UNKNOWN"
)

// これ以上変化しないステータスか。再配送されたwebhookのno-op判定に使う。
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCanceled, PaymentStatusRefunded:
		return true
	}
	return false
}

// プロバイダとのやり取り1件ずつの記録。追記専用で消さない。
type PaymentTransaction struct {
	ID                    int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID               int64           `gorm:"not null;index" json:"order_id"`
	Provider              PaymentProvider `gorm:"type:varchar(10);not null;uniqueIndex:idx_provider_txid" json:"provider"`
	ExternalTransactionID string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_provider_txid" json:"external_transaction_id"`
	Amount                int64           `gorm:"not null" json:"amount"`
	Currency              string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status                PaymentStatus   `gorm:"type:varchar(20);not null;index" json:"status"`
	ProviderResponse      datatypes.JSON  `json:"-"`
	CreatedAt             time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
