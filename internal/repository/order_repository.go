package repository

import (
	"context"
	"errors"
	"time"

	"app/internal/domain/model"
)

// UpdateStatusIf で現在ステータスが期待値と違ったとき
var ErrStale = errors.New("stale status")

type AdminOrderListFilter struct {
	Page   int
	Limit  int
	Status string
	UserID *int64
	From   *time.Time
	To     *time.Time
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)
	Create(ctx context.Context, order model.Order) (int64, error)

	// CAS更新。現在ステータスがexpectedのときだけnewStatusにする。
	// 行はあるのに書けなかったらErrStale（呼び出し側が読み直して判断する）。
	UpdateStatusIf(ctx context.Context, orderID int64, newStatus model.OrderStatus, expected model.OrderStatus) error

	// 支払い方法と外部参照の保存（支払い開始時）
	SetPaymentRef(ctx context.Context, orderID int64, method model.PaymentMethod, externalRef string) error

	// ハード削除。CANCELED かつ支払い実績なしの注文だけ呼んでよい。
	Delete(ctx context.Context, orderID int64) error

	//検索（同じキーなら同じ結果を返す）
	FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error)
	//管理者用の注文一覧
	ListAdmin(ctx context.Context, f AdminOrderListFilter) ([]model.Order, int64, error)
}
