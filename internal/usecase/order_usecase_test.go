package usecase_test

import (
	"context"
	"testing"

	"app/internal/domain/model"
	repo "app/internal/repository"
	"app/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func newOrderUC(tx *TxManagerMock) *usecase.OrderUsecase {
	return usecase.NewOrderUsecase(tx, zap.NewNop(), "UAH")
}

// =====================
// CreateOrder tests
// =====================

func TestOrderUsecase_CreateOrder_EmptyItems(t *testing.T) {
	tx := new(TxManagerMock)
	uc := newOrderUC(tx)

	_, err := uc.CreateOrder(context.Background(), 1, usecase.CreateOrderInput{
		IdempotencyKey: "key-1",
	})
	assertErrContains(t, err, "items required")
}

func TestOrderUsecase_CreateOrder_MissingIdempotencyKey(t *testing.T) {
	tx := new(TxManagerMock)
	uc := newOrderUC(tx)

	_, err := uc.CreateOrder(context.Background(), 1, usecase.CreateOrderInput{
		Items: []usecase.OrderItemInput{{ProductID: 1, Quantity: 1}},
	})
	assertErrContains(t, err, "idempotency_key")
}

func TestOrderUsecase_CreateOrder_TotalIsSumOfSnapshots(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	ordersRepo := new(OrderRepoMock)
	itemsRepo := new(OrderItemRepoMock)
	invRepo := new(InventoryRepoMock)
	prodRepo := new(ProductRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, orderItems: itemsRepo, inventory: invRepo, products: prodRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	ordersRepo.On("FindByIdempotencyKey", mock.Anything, int64(7), "key-1").Return(model.Order{}, false, nil)

	prodRepo.On("FindByID", mock.Anything, int64(1)).Return(model.Product{ID: 1, Name: "Coffee", Price: 250, Stock: 10, IsActive: true}, nil)
	prodRepo.On("FindByID", mock.Anything, int64(2)).Return(model.Product{ID: 2, Name: "Mug", Price: 900, Stock: 5, IsActive: true}, nil)

	invRepo.On("DecreaseStockIfEnough", mock.Anything, int64(1), int64(3)).Return(true, int64(7), nil)
	invRepo.On("DecreaseStockIfEnough", mock.Anything, int64(2), int64(1)).Return(true, int64(4), nil)

	// total = 250*3 + 900*1 = 1650
	ordersRepo.On("Create", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		return o.TotalAmount == 1650 && o.Status == model.OrderStatusPending && o.IdempotencyKey == "key-1"
	})).Return(int64(100), nil)

	itemsRepo.On("CreateBulk", mock.Anything, int64(100), mock.Anything).Return(nil)

	uc := newOrderUC(tx)

	out, err := uc.CreateOrder(ctx, 7, usecase.CreateOrderInput{
		Items: []usecase.OrderItemInput{
			{ProductID: 1, Quantity: 3},
			{ProductID: 2, Quantity: 1},
		},
		IdempotencyKey: "key-1",
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(100), out.ID)
	assert.Equal(t, int64(1650), out.TotalAmount)
	assert.Equal(t, "PENDING", out.Status)
	assert.Equal(t, 2, len(out.Items))

	ordersRepo.AssertExpectations(t)
	invRepo.AssertExpectations(t)
	itemsRepo.AssertExpectations(t)
}

func TestOrderUsecase_CreateOrder_IdempotentReplayReturnsExisting(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	ordersRepo := new(OrderRepoMock)
	itemsRepo := new(OrderItemRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, orderItems: itemsRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	existing := model.Order{ID: 55, UserID: 7, Status: model.OrderStatusPending, TotalAmount: 500}
	ordersRepo.On("FindByIdempotencyKey", mock.Anything, int64(7), "key-1").Return(existing, true, nil)
	itemsRepo.On("ListByOrderID", mock.Anything, int64(55)).Return([]model.OrderItem{}, nil)

	uc := newOrderUC(tx)

	out, err := uc.CreateOrder(ctx, 7, usecase.CreateOrderInput{
		Items:          []usecase.OrderItemInput{{ProductID: 1, Quantity: 1}},
		IdempotencyKey: "key-1",
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(55), out.ID)

	// 在庫には一切触らない
	ordersRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestOrderUsecase_CreateOrder_InsufficientStock_ReleasesReserved(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	ordersRepo := new(OrderRepoMock)
	invRepo := new(InventoryRepoMock)
	prodRepo := new(ProductRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, inventory: invRepo, products: prodRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	ordersRepo.On("FindByIdempotencyKey", mock.Anything, int64(7), "key-1").Return(model.Order{}, false, nil)

	prodRepo.On("FindByID", mock.Anything, int64(1)).Return(model.Product{ID: 1, Name: "Coffee", Price: 250, Stock: 10, IsActive: true}, nil)
	prodRepo.On("FindByID", mock.Anything, int64(2)).Return(model.Product{ID: 2, Name: "Mug", Price: 900, Stock: 1, IsActive: true}, nil)

	// 1個目は確保できて2個目で足りない
	invRepo.On("DecreaseStockIfEnough", mock.Anything, int64(1), int64(3)).Return(true, int64(7), nil)
	invRepo.On("DecreaseStockIfEnough", mock.Anything, int64(2), int64(5)).Return(false, int64(0), nil)

	// 確保済み分は戻す
	invRepo.On("IncreaseStock", mock.Anything, int64(1), int64(3)).Return(nil)

	uc := newOrderUC(tx)

	_, err := uc.CreateOrder(ctx, 7, usecase.CreateOrderInput{
		Items: []usecase.OrderItemInput{
			{ProductID: 1, Quantity: 3},
			{ProductID: 2, Quantity: 5},
		},
		IdempotencyKey: "key-1",
	})
	assertErrContains(t, err, "insufficient stock")
	assertErrContains(t, err, "available 1")

	invRepo.AssertExpectations(t)
	ordersRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestOrderUsecase_CreateOrder_InactiveProduct(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	ordersRepo := new(OrderRepoMock)
	prodRepo := new(ProductRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, products: prodRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	ordersRepo.On("FindByIdempotencyKey", mock.Anything, int64(7), "key-1").Return(model.Order{}, false, nil)
	prodRepo.On("FindByID", mock.Anything, int64(1)).Return(model.Product{ID: 1, IsActive: false}, nil)

	uc := newOrderUC(tx)

	_, err := uc.CreateOrder(ctx, 7, usecase.CreateOrderInput{
		Items:          []usecase.OrderItemInput{{ProductID: 1, Quantity: 1}},
		IdempotencyKey: "key-1",
	})
	assertErrContains(t, err, "not for sale")
}

// =====================
// CancelOrder tests
// =====================

func TestOrderUsecase_CancelOrder_RestoresStock(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	ordersRepo := new(OrderRepoMock)
	itemsRepo := new(OrderItemRepoMock)
	invRepo := new(InventoryRepoMock)
	payRepo := new(PaymentRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, orderItems: itemsRepo, inventory: invRepo, payments: payRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	ordersRepo.On("FindByID", mock.Anything, int64(10)).Return(model.Order{ID: 10, UserID: 7, Status: model.OrderStatusPending}, nil)
	payRepo.On("FindCompletedByOrderID", mock.Anything, int64(10)).Return(model.PaymentTransaction{}, false, nil)
	ordersRepo.On("UpdateStatusIf", mock.Anything, int64(10), model.OrderStatusCanceled, model.OrderStatusPending).Return(nil)
	itemsRepo.On("ListByOrderID", mock.Anything, int64(10)).Return([]model.OrderItem{
		{ProductID: 1, Quantity: 3},
		{ProductID: 2, Quantity: 1},
	}, nil)
	invRepo.On("IncreaseStock", mock.Anything, int64(1), int64(3)).Return(nil)
	invRepo.On("IncreaseStock", mock.Anything, int64(2), int64(1)).Return(nil)

	uc := newOrderUC(tx)

	out, err := uc.CancelOrder(ctx, 7, 10)
	assert.NoError(t, err)
	assert.Equal(t, "CANCELED", out.Status)

	invRepo.AssertExpectations(t)
}

func TestOrderUsecase_CancelOrder_OtherUsersOrderLooksMissing(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	ordersRepo := new(OrderRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	ordersRepo.On("FindByID", mock.Anything, int64(10)).Return(model.Order{ID: 10, UserID: 999, Status: model.OrderStatusPending}, nil)

	uc := newOrderUC(tx)

	_, err := uc.CancelOrder(ctx, 7, 10)
	assertErrContains(t, err, "not found")
}

func TestOrderUsecase_CancelOrder_AlreadyPaidTransaction(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	ordersRepo := new(OrderRepoMock)
	payRepo := new(PaymentRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, payments: payRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	ordersRepo.On("FindByID", mock.Anything, int64(10)).Return(model.Order{ID: 10, UserID: 7, Status: model.OrderStatusProcessing}, nil)
	payRepo.On("FindCompletedByOrderID", mock.Anything, int64(10)).Return(model.PaymentTransaction{ID: 1, Status: model.PaymentStatusCompleted}, true, nil)

	uc := newOrderUC(tx)

	_, err := uc.CancelOrder(ctx, 7, 10)
	assertErrContains(t, err, "already paid")

	ordersRepo.AssertNotCalled(t, "UpdateStatusIf", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderUsecase_CancelOrder_StaleStatusLosesRace(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	ordersRepo := new(OrderRepoMock)
	payRepo := new(PaymentRepoMock)
	invRepo := new(InventoryRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, payments: payRepo, inventory: invRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	ordersRepo.On("FindByID", mock.Anything, int64(10)).Return(model.Order{ID: 10, UserID: 7, Status: model.OrderStatusProcessing}, nil)
	payRepo.On("FindCompletedByOrderID", mock.Anything, int64(10)).Return(model.PaymentTransaction{}, false, nil)
	// webhookが先にPAIDへ動かしていた
	ordersRepo.On("UpdateStatusIf", mock.Anything, int64(10), model.OrderStatusCanceled, model.OrderStatusProcessing).Return(repo.ErrStale)

	uc := newOrderUC(tx)

	_, err := uc.CancelOrder(ctx, 7, 10)
	assertErrContains(t, err, "status changed")

	// 負けたら在庫は触らない
	invRepo.AssertNotCalled(t, "IncreaseStock", mock.Anything, mock.Anything, mock.Anything)
}

// =====================
// UpdateStatus tests
// =====================

func TestOrderUsecase_UpdateStatus_RejectsUnknownTransition(t *testing.T) {
	tx := new(TxManagerMock)
	uc := newOrderUC(tx)

	err := uc.UpdateStatus(context.Background(), 10, model.OrderStatusPaid, model.OrderStatusPending)
	assertErrContains(t, err, "cannot transition")
}

func TestOrderUsecase_UpdateStatus_CanceledRestoresStock(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	ordersRepo := new(OrderRepoMock)
	itemsRepo := new(OrderItemRepoMock)
	invRepo := new(InventoryRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, orderItems: itemsRepo, inventory: invRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	ordersRepo.On("UpdateStatusIf", mock.Anything, int64(10), model.OrderStatusCanceled, model.OrderStatusProcessing).Return(nil)
	itemsRepo.On("ListByOrderID", mock.Anything, int64(10)).Return([]model.OrderItem{{ProductID: 5, Quantity: 2}}, nil)
	invRepo.On("IncreaseStock", mock.Anything, int64(5), int64(2)).Return(nil)

	uc := newOrderUC(tx)

	err := uc.UpdateStatus(ctx, 10, model.OrderStatusCanceled, model.OrderStatusProcessing)
	assert.NoError(t, err)
	invRepo.AssertExpectations(t)
}

func TestOrderUsecase_UpdateStatus_StaleReturnsSentinel(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	ordersRepo := new(OrderRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	ordersRepo.On("UpdateStatusIf", mock.Anything, int64(10), model.OrderStatusPaid, model.OrderStatusProcessing).Return(repo.ErrStale)

	uc := newOrderUC(tx)

	err := uc.UpdateStatus(ctx, 10, model.OrderStatusPaid, model.OrderStatusProcessing)
	assert.ErrorIs(t, err, usecase.ErrStaleState)
}

// =====================
// DeleteOrder tests
// =====================

func TestOrderUsecase_DeleteOrder_OnlyCanceled(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	ordersRepo := new(OrderRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	ordersRepo.On("FindByID", mock.Anything, int64(10)).Return(model.Order{ID: 10, UserID: 7, Status: model.OrderStatusPending}, nil)

	uc := newOrderUC(tx)

	err := uc.DeleteOrder(ctx, 7, 10)
	assertErrContains(t, err, "only canceled")

	ordersRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestOrderUsecase_DeleteOrder_CanceledWithoutPayments(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	ordersRepo := new(OrderRepoMock)
	itemsRepo := new(OrderItemRepoMock)
	payRepo := new(PaymentRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, orderItems: itemsRepo, payments: payRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	ordersRepo.On("FindByID", mock.Anything, int64(10)).Return(model.Order{ID: 10, UserID: 7, Status: model.OrderStatusCanceled}, nil)
	payRepo.On("FindCompletedByOrderID", mock.Anything, int64(10)).Return(model.PaymentTransaction{}, false, nil)
	itemsRepo.On("DeleteByOrderID", mock.Anything, int64(10)).Return(nil)
	ordersRepo.On("Delete", mock.Anything, int64(10)).Return(nil)

	uc := newOrderUC(tx)

	err := uc.DeleteOrder(ctx, 7, 10)
	assert.NoError(t, err)

	ordersRepo.AssertExpectations(t)
	itemsRepo.AssertExpectations(t)
}
