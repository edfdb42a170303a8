package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"go.uber.org/zap"
)

type OrderUsecase struct {
	tx       repo.TransactionManager
	logger   *zap.Logger
	currency string
}

func NewOrderUsecase(tx repo.TransactionManager, logger *zap.Logger, currency string) *OrderUsecase {
	return &OrderUsecase{tx: tx, logger: logger, currency: currency}
}

type OrderItemInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type CreateOrderInput struct {
	Items          []OrderItemInput
	PaymentMethod  string
	IdempotencyKey string
}

type OrderItemOutput struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
}

type OrderOutput struct {
	ID            int64             `json:"id"`
	UserID        int64             `json:"user_id"`
	Status        string            `json:"status"`
	TotalAmount   int64             `json:"total_amount"`
	Currency      string            `json:"currency"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	Items         []OrderItemOutput `json:"items"`
}

// 注文作成。在庫予約（全品あるか、無ければ全部戻す）→合計計算→PENDINGで保存。
func (u *OrderUsecase) CreateOrder(ctx context.Context, userID int64, in CreateOrderInput) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, CodeForbidden, "unauthorized")
	}
	if len(in.Items) == 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidation, "items required")
	}
	for _, it := range in.Items {
		if it.ProductID <= 0 || it.Quantity <= 0 {
			return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidation, "invalid item")
		}
	}
	method := model.PaymentMethod(strings.TrimSpace(in.PaymentMethod))
	if method != "" && !model.ValidPaymentMethod(method) {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidation, "invalid payment_method")
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" || len(key) > 255 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidation, "invalid idempotency_key")
	}

	var out OrderOutput

	//注文処理はトランザクション
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じキーなら同じ結果
		existing, found, err := r.Orders().FindByIdempotencyKey(ctx, userID, key)
		if err != nil {
			return errDB()
		}
		if found {
			items, err := r.OrderItems().ListByOrderID(ctx, existing.ID)
			if err != nil {
				return errDB()
			}
			out = toOrderOutput(existing, items)
			return nil
		}

		// 在庫予約と明細スナップショット
		orderItems, total, err := u.reserveItems(ctx, r, in.Items)
		if err != nil {
			return err
		}

		now := time.Now()
		orderID, err := r.Orders().Create(ctx, model.Order{
			UserID:         userID,
			Status:         model.OrderStatusPending,
			TotalAmount:    total,
			Currency:       u.currency,
			PaymentMethod:  method,
			IdempotencyKey: key,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil {
			//競合（同時で同じキーが入った等）はもう一回検索して同じ結果を返す
			ex2, found2, err2 := r.Orders().FindByIdempotencyKey(ctx, userID, key)
			if err2 == nil && found2 {
				items2, err3 := r.OrderItems().ListByOrderID(ctx, ex2.ID)
				if err3 != nil {
					return errDB()
				}
				out = toOrderOutput(ex2, items2)
				return nil
			}
			return NewHTTPError(http.StatusConflict, CodeConflict, "idempotency conflict")
		}

		if err := r.OrderItems().CreateBulk(ctx, orderID, orderItems); err != nil {
			return errDB()
		}

		created := model.Order{
			ID:            orderID,
			UserID:        userID,
			Status:        model.OrderStatusPending,
			TotalAmount:   total,
			Currency:      u.currency,
			PaymentMethod: method,
			CreatedAt:     now,
		}
		out = toOrderOutput(created, orderItems)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

// 全明細の在庫を予約する。途中で足りなくなったら、そこまでの予約を戻してから
// INSUFFICIENT_STOCKを返す（注文が中途半端に在庫を掴んだままにしない）。
func (u *OrderUsecase) reserveItems(ctx context.Context, r repo.TxRepos, items []OrderItemInput) ([]model.OrderItem, int64, error) {
	reserved := make([]OrderItemInput, 0, len(items))
	orderItems := make([]model.OrderItem, 0, len(items))
	var total int64 = 0

	release := func() {
		for _, done := range reserved {
			if err := r.Inventory().IncreaseStock(ctx, done.ProductID, done.Quantity); err != nil {
				u.logger.Error("inventory release failed",
					zap.Int64("product_id", done.ProductID),
					zap.Int64("quantity", done.Quantity),
					zap.Error(err))
			}
		}
	}

	for _, it := range items {
		p, err := r.Products().FindByID(ctx, it.ProductID)
		if errors.Is(err, repo.ErrNotFound) {
			release()
			return nil, 0, NewHTTPError(http.StatusBadRequest, CodeValidation, "unknown product")
		}
		if err != nil {
			release()
			return nil, 0, errDB()
		}
		if !p.IsActive {
			release()
			return nil, 0, NewHTTPError(http.StatusBadRequest, CodeValidation, "product not for sale")
		}

		ok, _, err := r.Inventory().DecreaseStockIfEnough(ctx, it.ProductID, it.Quantity)
		if err != nil {
			release()
			return nil, 0, errDB()
		}
		if !ok {
			release()
			// 残数はエラーに載せてクライアントに返す
			cur, err := r.Products().FindByID(ctx, it.ProductID)
			available := int64(0)
			if err == nil {
				available = cur.Stock
			}
			return nil, 0, NewHTTPError(http.StatusBadRequest, CodeInsufficient,
				fmt.Sprintf("insufficient stock for product %d: available %d", it.ProductID, available))
		}
		reserved = append(reserved, it)

		//スナップショット
		orderItems = append(orderItems, model.OrderItem{
			ProductID:           it.ProductID,
			ProductNameSnapshot: p.Name,
			UnitPriceSnapshot:   p.Price,
			Quantity:            it.Quantity,
			CreatedAt:           time.Now(),
		})
		total += p.Price * it.Quantity
	}

	return orderItems, total, nil
}

// キャンセル。PENDING/PROCESSINGのみ、支払い済みトランザクションがあれば不可。
// ステータスはCASで落とすので、同時に飛んできたwebhookと競合しても勝者は1つ。
func (u *OrderUsecase) CancelOrder(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, CodeForbidden, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidation, "invalid id")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, CodeNotFound, "not found")
		}
		if err != nil {
			return errDB()
		}
		if o.UserID != userID {
			//他人の注文は「存在しない扱い」にする
			return NewHTTPError(http.StatusNotFound, CodeNotFound, "not found")
		}

		if o.Status != model.OrderStatusPending && o.Status != model.OrderStatusProcessing {
			return NewHTTPError(http.StatusConflict, CodeConflict, "order cannot be canceled")
		}
		if _, paid, err := r.Payments().FindCompletedByOrderID(ctx, orderID); err != nil {
			return errDB()
		} else if paid {
			return NewHTTPError(http.StatusConflict, CodeConflict, "order already paid")
		}

		if err := r.Orders().UpdateStatusIf(ctx, orderID, model.OrderStatusCanceled, o.Status); err != nil {
			if errors.Is(err, repo.ErrStale) {
				// webhook側が先に勝った。読み直して諦める。
				return NewHTTPError(http.StatusConflict, CodeConflict, "order status changed, retry")
			}
			return errDB()
		}

		// 在庫戻し
		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return errDB()
		}
		for _, it := range items {
			if err := r.Inventory().IncreaseStock(ctx, it.ProductID, it.Quantity); err != nil {
				return errDB()
			}
		}

		o.Status = model.OrderStatusCanceled
		out = toOrderOutput(o, items)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}

	u.logger.Info("order canceled", zap.Int64("order_id", orderID), zap.Int64("user_id", userID))
	return out, nil
}

// CAS付きステータス更新。webhookや返金など外部起点の遷移が全部ここを通る。
// 期待値と違っていたらErrStaleState（呼び出し側で読み直し）。遷移表に無い組はエラー。
func (u *OrderUsecase) UpdateStatus(ctx context.Context, orderID int64, newStatus model.OrderStatus, expected model.OrderStatus) error {
	if !model.CanTransition(expected, newStatus) {
		return NewHTTPError(http.StatusBadRequest, CodeInvalidTransit,
			fmt.Sprintf("cannot transition %s -> %s", expected, newStatus))
	}

	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := r.Orders().UpdateStatusIf(ctx, orderID, newStatus, expected); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusNotFound, CodeNotFound, "not found")
			}
			if errors.Is(err, repo.ErrStale) {
				return ErrStaleState
			}
			return errDB()
		}

		// キャンセル遷移に乗ったときだけ在庫を戻す
		if newStatus == model.OrderStatusCanceled {
			items, err := r.OrderItems().ListByOrderID(ctx, orderID)
			if err != nil {
				return errDB()
			}
			for _, it := range items {
				if err := r.Inventory().IncreaseStock(ctx, it.ProductID, it.Quantity); err != nil {
					return errDB()
				}
			}
		}
		return nil
	})
}

// ハード削除はCANCELED＋支払い実績なしのときだけ
func (u *OrderUsecase) DeleteOrder(ctx context.Context, userID int64, orderID int64) error {
	if userID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, CodeForbidden, "unauthorized")
	}
	if orderID <= 0 {
		return NewHTTPError(http.StatusBadRequest, CodeValidation, "invalid id")
	}

	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
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
		if o.Status != model.OrderStatusCanceled {
			return NewHTTPError(http.StatusConflict, CodeConflict, "only canceled orders can be deleted")
		}
		if _, paid, err := r.Payments().FindCompletedByOrderID(ctx, orderID); err != nil {
			return errDB()
		} else if paid {
			return NewHTTPError(http.StatusConflict, CodeConflict, "paid orders cannot be deleted")
		}

		if err := r.OrderItems().DeleteByOrderID(ctx, orderID); err != nil {
			return errDB()
		}
		if err := r.Orders().Delete(ctx, orderID); err != nil {
			return errDB()
		}
		return nil
	})
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64) ([]OrderOutput, error) {
	if userID <= 0 {
		return []OrderOutput{}, NewHTTPError(http.StatusUnauthorized, CodeForbidden, "unauthorized")
	}

	//ページングでまずは固定で取る
	var outs []OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, _, err := r.Orders().ListByUserID(ctx, userID, 1, 50)
		if err != nil {
			return errDB()
		}

		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return errDB()
			}
			outs = append(outs, toOrderOutput(o, items))
		}
		return nil
	})

	if err != nil {
		return []OrderOutput{}, err
	}
	return outs, nil
}

func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, CodeForbidden, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidation, "invalid id")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, CodeNotFound, "not found")
		}
		if err != nil {
			return errDB()
		}
		if o.UserID != userID {
			//他人の注文は「存在しない扱い」にする
			return NewHTTPError(http.StatusNotFound, CodeNotFound, "not found")
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return errDB()
		}

		out = toOrderOutput(o, items)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID: it.ProductID,
			Name:      it.ProductNameSnapshot,
			Price:     it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
		})
	}

	return OrderOutput{
		ID:            o.ID,
		UserID:        o.UserID,
		Status:        string(o.Status),
		TotalAmount:   o.TotalAmount,
		Currency:      o.Currency,
		PaymentMethod: string(o.PaymentMethod),
		CreatedAt:     o.CreatedAt,
		Items:         outItems,
	}
}
