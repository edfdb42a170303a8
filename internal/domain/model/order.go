package model

import "time"

type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "PENDING"
	OrderStatusProcessing    OrderStatus = "PROCESSING"
	OrderStatusPaid          OrderStatus = "PAID"
	OrderStatusPaymentFailed OrderStatus = "PAYMENT_FAILED"
	OrderStatusCanceled      OrderStatus = "CANCELED"
	OrderStatusRefunded      OrderStatus = "REFUNDED"
)

// 注文ステータスの遷移表。ここに無い遷移は全部拒否。
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:       {OrderStatusProcessing, OrderStatusCanceled},
	OrderStatusProcessing:    {OrderStatusPaid, OrderStatusPaymentFailed, OrderStatusCanceled},
	OrderStatusPaymentFailed: {OrderStatusProcessing},
	OrderStatusPaid:          {OrderStatusRefunded},
}

// fromからtoへ遷移できるか
func CanTransition(from OrderStatus, to OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// 終端（CANCELED / REFUNDED）かどうか
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCanceled || s == OrderStatusRefunded
}

type PaymentMethod string

const (
	PaymentMethodCard  PaymentMethod = "card"
	PaymentMethodLocal PaymentMethod = "local"
)

func ValidPaymentMethod(m PaymentMethod) bool {
	return m == PaymentMethodCard || m == PaymentMethodLocal
}

type Order struct {
	ID                 int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID             int64         `gorm:"not null;index" json:"user_id"`
	Status             OrderStatus   `gorm:"type:varchar(20);not null;index" json:"status"`
	TotalAmount        int64         `gorm:"not null" json:"total_amount"`
	Currency           string        `gorm:"type:varchar(3);not null" json:"currency"`
	PaymentMethod      PaymentMethod `gorm:"type:varchar(10)" json:"payment_method,omitempty"`
	ExternalPaymentRef string        `gorm:"type:varchar(255)" json:"-"`
	IdempotencyKey     string        `gorm:"type:varchar(255);not null;uniqueIndex" json:"-"`
	CreatedAt          time.Time     `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time     `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
