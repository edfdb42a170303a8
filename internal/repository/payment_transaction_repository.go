package repository

import (
	"context"

	"app/internal/domain/model"

	"gorm.io/datatypes"
)

// プロバイダとのやり取りの台帳。追記と状態更新のみで削除はしない。
type PaymentTransactionRepository interface {
	Create(ctx context.Context, t model.PaymentTransaction) (int64, error)
	FindByID(ctx context.Context, id int64) (model.PaymentTransaction, error)

	// webhook重複判定に使う。(provider, 外部トランザクションID)で1件。
	FindByProviderTxID(ctx context.Context, provider model.PaymentProvider, externalTxID string) (model.PaymentTransaction, bool, error)

	// 注文の最新トランザクション（statusエンドポイント用）
	FindLatestByOrderID(ctx context.Context, orderID int64) (model.PaymentTransaction, bool, error)

	// 非終端のトランザクション。注文につき同時に1件まで、の番人。
	FindLiveByOrderID(ctx context.Context, orderID int64) (model.PaymentTransaction, bool, error)

	// 支払い済み判定（キャンセル・削除・返金のガード）
	FindCompletedByOrderID(ctx context.Context, orderID int64) (model.PaymentTransaction, bool, error)

	UpdateStatus(ctx context.Context, id int64, status model.PaymentStatus, providerResponse datatypes.JSON) error
}
