package usecase_test

import (
	"context"
	"strings"
	"testing"

	"app/internal/domain/model"
	"app/internal/gateway"
	repo "app/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/datatypes"
)

// =====================
// TxManager / TxRepos mocks
// =====================

// TxManagerMock は WithinTx の中で渡す repos を固定して unit テストを回す
type TxManagerMock struct {
	mock.Mock
	Repos repo.TxRepos
}

func (m *TxManagerMock) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	// 呼ばれた事実だけ記録（ctxの具体値は問わない）
	m.Called(ctx)
	return fn(m.Repos)
}

type TxReposMock struct {
	orders     repo.OrderRepository
	orderItems repo.OrderItemRepository
	inventory  repo.InventoryRepository
	products   repo.ProductRepository
	payments   repo.PaymentTransactionRepository
	webhooks   repo.WebhookEventRepository
}

func (r *TxReposMock) Orders() repo.OrderRepository                { return r.orders }
func (r *TxReposMock) OrderItems() repo.OrderItemRepository        { return r.orderItems }
func (r *TxReposMock) Inventory() repo.InventoryRepository         { return r.inventory }
func (r *TxReposMock) Products() repo.ProductRepository            { return r.products }
func (r *TxReposMock) Payments() repo.PaymentTransactionRepository { return r.payments }
func (r *TxReposMock) WebhookEvents() repo.WebhookEventRepository  { return r.webhooks }

// =====================
// Repository mocks
// =====================

type OrderRepoMock struct{ mock.Mock }

func (m *OrderRepoMock) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	args := m.Called(ctx, orderID)
	o, _ := args.Get(0).(model.Order)
	return o, args.Error(1)
}

func (m *OrderRepoMock) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	args := m.Called(ctx, userID, page, limit)
	orders, _ := args.Get(0).([]model.Order)
	return orders, args.Get(1).(int64), args.Error(2)
}

func (m *OrderRepoMock) Create(ctx context.Context, order model.Order) (int64, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(int64), args.Error(1)
}

func (m *OrderRepoMock) UpdateStatusIf(ctx context.Context, orderID int64, newStatus model.OrderStatus, expected model.OrderStatus) error {
	args := m.Called(ctx, orderID, newStatus, expected)
	return args.Error(0)
}

func (m *OrderRepoMock) SetPaymentRef(ctx context.Context, orderID int64, method model.PaymentMethod, externalRef string) error {
	args := m.Called(ctx, orderID, method, externalRef)
	return args.Error(0)
}

func (m *OrderRepoMock) Delete(ctx context.Context, orderID int64) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

func (m *OrderRepoMock) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error) {
	args := m.Called(ctx, userID, key)
	o, _ := args.Get(0).(model.Order)
	return o, args.Bool(1), args.Error(2)
}

func (m *OrderRepoMock) ListAdmin(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	args := m.Called(ctx, f)
	orders, _ := args.Get(0).([]model.Order)
	return orders, args.Get(1).(int64), args.Error(2)
}

type OrderItemRepoMock struct{ mock.Mock }

func (m *OrderItemRepoMock) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	args := m.Called(ctx, orderID, items)
	return args.Error(0)
}

func (m *OrderItemRepoMock) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	args := m.Called(ctx, orderID)
	items, _ := args.Get(0).([]model.OrderItem)
	return items, args.Error(1)
}

func (m *OrderItemRepoMock) DeleteByOrderID(ctx context.Context, orderID int64) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

type InventoryRepoMock struct{ mock.Mock }

func (m *InventoryRepoMock) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, int64, error) {
	args := m.Called(ctx, productID, qty)
	return args.Bool(0), args.Get(1).(int64), args.Error(2)
}

func (m *InventoryRepoMock) IncreaseStock(ctx context.Context, productID int64, qty int64) error {
	args := m.Called(ctx, productID, qty)
	return args.Error(0)
}

type ProductRepoMock struct{ mock.Mock }

func (m *ProductRepoMock) FindByID(ctx context.Context, id int64) (model.Product, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(model.Product)
	return p, args.Error(1)
}

type PaymentRepoMock struct{ mock.Mock }

func (m *PaymentRepoMock) Create(ctx context.Context, t model.PaymentTransaction) (int64, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(int64), args.Error(1)
}

func (m *PaymentRepoMock) FindByID(ctx context.Context, id int64) (model.PaymentTransaction, error) {
	args := m.Called(ctx, id)
	t, _ := args.Get(0).(model.PaymentTransaction)
	return t, args.Error(1)
}

func (m *PaymentRepoMock) FindByProviderTxID(ctx context.Context, provider model.PaymentProvider, externalTxID string) (model.PaymentTransaction, bool, error) {
	args := m.Called(ctx, provider, externalTxID)
	t, _ := args.Get(0).(model.PaymentTransaction)
	return t, args.Bool(1), args.Error(2)
}

func (m *PaymentRepoMock) FindLatestByOrderID(ctx context.Context, orderID int64) (model.PaymentTransaction, bool, error) {
	args := m.Called(ctx, orderID)
	t, _ := args.Get(0).(model.PaymentTransaction)
	return t, args.Bool(1), args.Error(2)
}

func (m *PaymentRepoMock) FindLiveByOrderID(ctx context.Context, orderID int64) (model.PaymentTransaction, bool, error) {
	args := m.Called(ctx, orderID)
	t, _ := args.Get(0).(model.PaymentTransaction)
	return t, args.Bool(1), args.Error(2)
}

func (m *PaymentRepoMock) FindCompletedByOrderID(ctx context.Context, orderID int64) (model.PaymentTransaction, bool, error) {
	args := m.Called(ctx, orderID)
	t, _ := args.Get(0).(model.PaymentTransaction)
	return t, args.Bool(1), args.Error(2)
}

func (m *PaymentRepoMock) UpdateStatus(ctx context.Context, id int64, status model.PaymentStatus, providerResponse datatypes.JSON) error {
	args := m.Called(ctx, id, status, providerResponse)
	return args.Error(0)
}

type WebhookEventRepoMock struct{ mock.Mock }

func (m *WebhookEventRepoMock) CreateIfAbsent(ctx context.Context, ev model.WebhookEvent) (bool, error) {
	args := m.Called(ctx, ev)
	return args.Bool(0), args.Error(1)
}

// =====================
// Gateway / Dedup mocks
// =====================

type GatewayMock struct {
	mock.Mock
	provider model.PaymentProvider
}

func (m *GatewayMock) Provider() model.PaymentProvider { return m.provider }

func (m *GatewayMock) CreatePayment(ctx context.Context, in gateway.CreatePaymentInput) (*gateway.CreatePaymentResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*gateway.CreatePaymentResult)
	return res, args.Error(1)
}

func (m *GatewayMock) ConfirmPayment(ctx context.Context, externalRef string) (model.PaymentStatus, []byte, error) {
	args := m.Called(ctx, externalRef)
	raw, _ := args.Get(1).([]byte)
	return args.Get(0).(model.PaymentStatus), raw, args.Error(2)
}

func (m *GatewayMock) VerifyWebhookSignature(payload []byte, signature string) bool {
	args := m.Called(payload, signature)
	return args.Bool(0)
}

func (m *GatewayMock) ParseWebhook(payload []byte) (*gateway.WebhookEvent, error) {
	args := m.Called(payload)
	ev, _ := args.Get(0).(*gateway.WebhookEvent)
	return ev, args.Error(1)
}

func (m *GatewayMock) NormalizeStatus(providerStatus string) model.PaymentStatus {
	args := m.Called(providerStatus)
	return args.Get(0).(model.PaymentStatus)
}

func (m *GatewayMock) Refund(ctx context.Context, externalRef string, amount int64) (*gateway.RefundResult, error) {
	args := m.Called(ctx, externalRef, amount)
	res, _ := args.Get(0).(*gateway.RefundResult)
	return res, args.Error(1)
}

type DedupMock struct{ mock.Mock }

func (m *DedupMock) MarkSeen(ctx context.Context, provider model.PaymentProvider, eventID string) (bool, error) {
	args := m.Called(ctx, provider, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *DedupMock) Forget(ctx context.Context, provider model.PaymentProvider, eventID string) error {
	args := m.Called(ctx, provider, eventID)
	return args.Error(0)
}

// =====================
// Helper: error contains（HTTPErrorの実装詳細に依存しない）
// =====================

func assertErrContains(t *testing.T, err error, wantSubstr string) {
	t.Helper()
	if assert.Error(t, err) {
		assert.True(t, strings.Contains(err.Error(), wantSubstr), "err=%q want contains %q", err.Error(), wantSubstr)
	}
}
