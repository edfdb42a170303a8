package usecase

import (
	"context"
	"errors"
	"net/http"
	"time"

	"app/internal/domain/model"
	"app/internal/gateway"
	repo "app/internal/repository"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// 返金。元の支払いを通したプロバイダへ投げ、成功したらPAID→REFUNDED。
type RefundUsecase struct {
	tx       repo.TransactionManager
	gateways map[model.PaymentProvider]gateway.PaymentGateway
	orders   *OrderUsecase
	logger   *zap.Logger
}

func NewRefundUsecase(
	tx repo.TransactionManager,
	gateways map[model.PaymentProvider]gateway.PaymentGateway,
	orders *OrderUsecase,
	logger *zap.Logger,
) *RefundUsecase {
	return &RefundUsecase{tx: tx, gateways: gateways, orders: orders, logger: logger}
}

type RefundOutput struct {
	OrderID   int64  `json:"order_id"`
	Status    string `json:"status"`
	RefundRef string `json:"refund_ref,omitempty"`
	Amount    int64  `json:"amount"`
}

func (u *RefundUsecase) Refund(ctx context.Context, orderID int64, amount *int64) (RefundOutput, error) {
	if orderID <= 0 {
		return RefundOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidation, "invalid id")
	}
	if amount != nil && *amount <= 0 {
		return RefundOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidation, "invalid amount")
	}

	// 対象の確認。PAIDのみ、元の支払いトランザクションが必要。
	var txn model.PaymentTransaction
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, CodeNotFound, "not found")
		}
		if err != nil {
			return errDB()
		}
		if o.Status != model.OrderStatusPaid {
			return NewHTTPError(http.StatusConflict, CodeConflict, "order is not paid")
		}

		t, found, err := r.Payments().FindCompletedByOrderID(ctx, orderID)
		if err != nil {
			return errDB()
		}
		if !found {
			// PAIDなのに台帳に完了記録が無い。データ不整合なので手は出さない。
			return NewHTTPError(http.StatusConflict, CodeConflict, "no completed payment on record")
		}
		txn = t
		return nil
	})
	if err != nil {
		return RefundOutput{}, err
	}

	gw, ok := u.gateways[txn.Provider]
	if !ok {
		return RefundOutput{}, NewHTTPError(http.StatusInternalServerError, CodeInternal, "unknown provider")
	}

	refundAmount := txn.Amount
	if amount != nil {
		if *amount > txn.Amount {
			return RefundOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidation, "amount exceeds charge")
		}
		refundAmount = *amount
	}

	res, err := gw.Refund(ctx, txn.ExternalTransactionID, refundAmount)
	if errors.Is(err, gateway.ErrUnsupportedOperation) {
		// プロバイダに返金APIが無い。静かに失敗させず、手動対応を明示して返す。
		u.logger.Warn("refund not supported by provider",
			zap.Int64("order_id", orderID), zap.String("provider", string(txn.Provider)))
		return RefundOutput{}, NewHTTPError(http.StatusBadRequest, CodeUnsupported,
			"provider does not support refunds, manual refund required")
	}
	if err != nil {
		if pe, ok := gateway.AsProviderError(err); ok {
			u.logger.Error("refund call failed",
				zap.Int64("order_id", orderID),
				zap.String("provider", string(pe.Provider)),
				zap.Int("status_code", pe.StatusCode),
				zap.String("body", pe.Body),
				zap.Error(pe.Err))
			return RefundOutput{}, NewHTTPError(http.StatusBadGateway, CodeProvider, "payment provider error")
		}
		return RefundOutput{}, err
	}

	// 返金も台帳へ追記（消さない・上書きしない）
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		now := time.Now()
		_, err := r.Payments().Create(ctx, model.PaymentTransaction{
			OrderID:               orderID,
			Provider:              txn.Provider,
			ExternalTransactionID: res.ExternalRef,
			Amount:                refundAmount,
			Currency:              txn.Currency,
			Status:                res.Status,
			ProviderResponse:      datatypes.JSON(res.Raw),
			CreatedAt:             now,
			UpdatedAt:             now,
		})
		if err != nil {
			return errDB()
		}
		return nil
	})
	if err != nil {
		return RefundOutput{}, err
	}

	if err := u.orders.UpdateStatus(ctx, orderID, model.OrderStatusRefunded, model.OrderStatusPaid); err != nil {
		if errors.Is(err, ErrStaleState) {
			return RefundOutput{}, NewHTTPError(http.StatusConflict, CodeConflict, "order status changed, retry")
		}
		return RefundOutput{}, err
	}

	u.logger.Info("order refunded",
		zap.Int64("order_id", orderID),
		zap.String("provider", string(txn.Provider)),
		zap.String("refund_ref", res.ExternalRef))

	return RefundOutput{
		OrderID:   orderID,
		Status:    string(model.OrderStatusRefunded),
		RefundRef: res.ExternalRef,
		Amount:    refundAmount,
	}, nil
}
