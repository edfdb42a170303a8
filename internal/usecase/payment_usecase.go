package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"app/internal/domain/model"
	"app/internal/gateway"
	repo "app/internal/repository"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type PaymentUsecase struct {
	tx       repo.TransactionManager
	gateways map[model.PaymentProvider]gateway.PaymentGateway
	orders   *OrderUsecase
	logger   *zap.Logger
}

func NewPaymentUsecase(
	tx repo.TransactionManager,
	gateways map[model.PaymentProvider]gateway.PaymentGateway,
	orders *OrderUsecase,
	logger *zap.Logger,
) *PaymentUsecase {
	return &PaymentUsecase{tx: tx, gateways: gateways, orders: orders, logger: logger}
}

type CreatePaymentInput struct {
	OrderID       int64  `json:"order_id"`
	PaymentMethod string `json:"payment_method"`
	ReturnURL     string `json:"return_url"`
}

type PaymentOutput struct {
	ID                    int64  `json:"id"`
	OrderID               int64  `json:"order_id"`
	Provider              string `json:"provider"`
	ExternalTransactionID string `json:"external_transaction_id"`
	Amount                int64  `json:"amount"`
	Currency              string `json:"currency"`
	Status                string `json:"status"`

	// クライアントへ渡す支払いアーティファクト（作成時のみ）
	ClientSecret      string `json:"client_secret,omitempty"`
	CheckoutURL       string `json:"checkout_url,omitempty"`
	CheckoutData      string `json:"checkout_data,omitempty"`
	CheckoutSignature string `json:"checkout_signature,omitempty"`
}

type PaymentWithOrderOutput struct {
	Payment PaymentOutput `json:"payment"`
	Order   OrderOutput   `json:"order"`
}

type PaymentStatusOutput struct {
	OrderID       int64  `json:"order_id"`
	PaymentID     int64  `json:"payment_id,omitempty"`
	Status        string `json:"status"`
	TotalAmount   int64  `json:"total_amount"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

// 支払い結果→注文ステータスの対応。UNKNOWNやPENDINGは何も動かさない。
func orderTransitionFor(ps model.PaymentStatus) (model.OrderStatus, bool) {
	switch ps {
	case model.PaymentStatusCompleted:
		return model.OrderStatusPaid, true
	case model.PaymentStatusFailed, model.PaymentStatusCanceled:
		return model.OrderStatusPaymentFailed, true
	case model.PaymentStatusRefunded:
		return model.OrderStatusRefunded, true
	}
	return "", false
}

func (u *PaymentUsecase) gatewayFor(method model.PaymentMethod) (gateway.PaymentGateway, error) {
	gw, ok := u.gateways[model.PaymentProvider(method)]
	if !ok {
		return nil, NewHTTPError(http.StatusBadRequest, CodeValidation, "invalid payment_method")
	}
	return gw, nil
}

// 支払い開始。プロバイダ呼び出しはDBトランザクションの外で行う。
// 失敗時は何も記録されないので、呼び直しは安全（注文IDが冪等キー代わり）。
func (u *PaymentUsecase) CreatePayment(ctx context.Context, userID int64, in CreatePaymentInput) (PaymentWithOrderOutput, error) {
	if userID <= 0 {
		return PaymentWithOrderOutput{}, NewHTTPError(http.StatusUnauthorized, CodeForbidden, "unauthorized")
	}
	if in.OrderID <= 0 {
		return PaymentWithOrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidation, "invalid order_id")
	}
	method := model.PaymentMethod(in.PaymentMethod)
	gw, err := u.gatewayFor(method)
	if err != nil {
		return PaymentWithOrderOutput{}, err
	}

	// 事前チェック（所有・ステータス・進行中の支払いが無いこと）
	var order model.Order
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, in.OrderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, CodeNotFound, "order not found")
		}
		if err != nil {
			return errDB()
		}
		if o.UserID != userID {
			return NewHTTPError(http.StatusForbidden, CodeForbidden, "not your order")
		}
		// PENDINGから開始、PAYMENT_FAILEDからは再挑戦
		if o.Status != model.OrderStatusPending && o.Status != model.OrderStatusPaymentFailed {
			return NewHTTPError(http.StatusBadRequest, CodeConflict, "order is not payable")
		}
		if _, live, err := r.Payments().FindLiveByOrderID(ctx, o.ID); err != nil {
			return errDB()
		} else if live {
			// 注文につき進行中の支払いは1本まで
			return NewHTTPError(http.StatusConflict, CodeConflict, "payment already in progress")
		}
		order = o
		return nil
	})
	if err != nil {
		return PaymentWithOrderOutput{}, err
	}

	// プロバイダ呼び出し（トランザクション外）
	res, err := gw.CreatePayment(ctx, gateway.CreatePaymentInput{
		OrderID:     order.ID,
		Amount:      order.TotalAmount,
		Currency:    order.Currency,
		Description: orderDescription(order),
		ReturnURL:   in.ReturnURL,
	})
	if err != nil {
		return PaymentWithOrderOutput{}, u.providerError(err, "create payment")
	}

	// 記録と遷移（PENDING|PAYMENT_FAILED → PROCESSING）
	var txnID int64
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		now := time.Now()
		txnID, err = r.Payments().Create(ctx, model.PaymentTransaction{
			OrderID:               order.ID,
			Provider:              gw.Provider(),
			ExternalTransactionID: res.ExternalRef,
			Amount:                order.TotalAmount,
			Currency:              order.Currency,
			Status:                model.PaymentStatusPending,
			ProviderResponse:      datatypes.JSON(res.Raw),
			CreatedAt:             now,
			UpdatedAt:             now,
		})
		if err != nil {
			return errDB()
		}
		if err := r.Orders().SetPaymentRef(ctx, order.ID, method, res.ExternalRef); err != nil {
			return errDB()
		}
		if err := r.Orders().UpdateStatusIf(ctx, order.ID, model.OrderStatusProcessing, order.Status); err != nil {
			if errors.Is(err, repo.ErrStale) {
				// 事前チェックの後に誰かが動かした（例：キャンセル）。プロバイダ側に
				// 孤児の支払いが残るが、注文は触らずwebhook側で整合させる。
				u.logger.Warn("order moved during payment creation",
					zap.Int64("order_id", order.ID), zap.String("external_ref", res.ExternalRef))
				return NewHTTPError(http.StatusConflict, CodeConflict, "order status changed, retry")
			}
			return errDB()
		}
		return nil
	})
	if err != nil {
		return PaymentWithOrderOutput{}, err
	}

	u.logger.Info("payment created",
		zap.Int64("order_id", order.ID),
		zap.String("provider", string(gw.Provider())),
		zap.String("external_ref", res.ExternalRef))

	order.Status = model.OrderStatusProcessing
	order.PaymentMethod = method

	return PaymentWithOrderOutput{
		Payment: PaymentOutput{
			ID:                    txnID,
			OrderID:               order.ID,
			Provider:              string(gw.Provider()),
			ExternalTransactionID: res.ExternalRef,
			Amount:                order.TotalAmount,
			Currency:              order.Currency,
			Status:                string(model.PaymentStatusPending),
			ClientSecret:          res.ClientSecret,
			CheckoutURL:           res.CheckoutURL,
			CheckoutData:          res.CheckoutData,
			CheckoutSignature:     res.CheckoutSignature,
		},
		Order: toOrderOutput(order, nil),
	}, nil
}

// クライアント起点の同期確認。プロバイダへポーリングして、変わっていれば
// 台帳と注文ステータスへ反映する。
func (u *PaymentUsecase) ConfirmPayment(ctx context.Context, userID int64, paymentID int64) (PaymentWithOrderOutput, error) {
	if userID <= 0 {
		return PaymentWithOrderOutput{}, NewHTTPError(http.StatusUnauthorized, CodeForbidden, "unauthorized")
	}
	if paymentID <= 0 {
		return PaymentWithOrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidation, "invalid payment id")
	}

	var txn model.PaymentTransaction
	var order model.Order
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		t, err := r.Payments().FindByID(ctx, paymentID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, CodeNotFound, "payment not found")
		}
		if err != nil {
			return errDB()
		}
		o, err := r.Orders().FindByID(ctx, t.OrderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, CodeNotFound, "order not found")
		}
		if err != nil {
			return errDB()
		}
		if o.UserID != userID {
			return NewHTTPError(http.StatusForbidden, CodeForbidden, "not your order")
		}
		txn = t
		order = o
		return nil
	})
	if err != nil {
		return PaymentWithOrderOutput{}, err
	}

	gw, ok := u.gateways[txn.Provider]
	if !ok {
		return PaymentWithOrderOutput{}, NewHTTPError(http.StatusInternalServerError, CodeInternal, "unknown provider")
	}

	status, raw, err := gw.ConfirmPayment(ctx, txn.ExternalTransactionID)
	if err != nil {
		return PaymentWithOrderOutput{}, u.providerError(err, "confirm payment")
	}

	if status != txn.Status && status != model.PaymentStatusUnknown {
		err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			return r.Payments().UpdateStatus(ctx, txn.ID, status, datatypes.JSON(raw))
		})
		if err != nil {
			return PaymentWithOrderOutput{}, errDB()
		}
		txn.Status = status

		if target, ok := orderTransitionFor(status); ok && model.CanTransition(order.Status, target) {
			if err := u.orders.UpdateStatus(ctx, order.ID, target, order.Status); err != nil {
				if errors.Is(err, ErrStaleState) {
					// 並走したwebhookが先に反映した。読み直すだけ。
					u.logger.Info("confirm lost the race, reloading",
						zap.Int64("order_id", order.ID))
				} else {
					return PaymentWithOrderOutput{}, err
				}
			}
			reloaded, rerr := u.reloadOrder(ctx, order.ID)
			if rerr == nil {
				order = reloaded
			}
		}
	}

	return PaymentWithOrderOutput{
		Payment: toPaymentOutput(txn),
		Order:   toOrderOutput(order, nil),
	}, nil
}

// GET /payments/status/:order_id 用
func (u *PaymentUsecase) Status(ctx context.Context, userID int64, orderID int64) (PaymentStatusOutput, error) {
	if userID <= 0 {
		return PaymentStatusOutput{}, NewHTTPError(http.StatusUnauthorized, CodeForbidden, "unauthorized")
	}
	if orderID <= 0 {
		return PaymentStatusOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidation, "invalid id")
	}

	var out PaymentStatusOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, CodeNotFound, "not found")
		}
		if err != nil {
			return errDB()
		}
		if o.UserID != userID {
			return NewHTTPError(http.StatusNotFound, CodeNotFound, "not found")
		}

		out = PaymentStatusOutput{
			OrderID:       o.ID,
			Status:        string(o.Status),
			TotalAmount:   o.TotalAmount,
			PaymentMethod: string(o.PaymentMethod),
		}

		if t, found, err := r.Payments().FindLatestByOrderID(ctx, orderID); err != nil {
			return errDB()
		} else if found {
			out.PaymentID = t.ID
		}
		return nil
	})

	if err != nil {
		return PaymentStatusOutput{}, err
	}
	return out, nil
}

func (u *PaymentUsecase) reloadOrder(ctx context.Context, orderID int64) (model.Order, error) {
	var o model.Order
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		loaded, err := r.Orders().FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		o = loaded
		return nil
	})
	return o, err
}

// プロバイダ失敗は詳細をログへ、クライアントへは一般化して返す
func (u *PaymentUsecase) providerError(err error, op string) error {
	if pe, ok := gateway.AsProviderError(err); ok {
		u.logger.Error("provider call failed",
			zap.String("op", op),
			zap.String("provider", string(pe.Provider)),
			zap.Int("status_code", pe.StatusCode),
			zap.String("body", pe.Body),
			zap.Error(pe.Err))
		return NewHTTPError(http.StatusBadGateway, CodeProvider, "payment provider error")
	}
	return err
}

func orderDescription(o model.Order) string {
	return fmt.Sprintf("Payment for order #%d", o.ID)
}

func toPaymentOutput(t model.PaymentTransaction) PaymentOutput {
	return PaymentOutput{
		ID:                    t.ID,
		OrderID:               t.OrderID,
		Provider:              string(t.Provider),
		ExternalTransactionID: t.ExternalTransactionID,
		Amount:                t.Amount,
		Currency:              t.Currency,
		Status:                string(t.Status),
	}
}
