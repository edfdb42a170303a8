package gateway

import (
	"context"
	"errors"
	"fmt"

	"app/internal/domain/model"
)

// プロバイダに返金APIが無いとき
var ErrUnsupportedOperation = errors.New("operation not supported by provider")

// プロバイダ側の失敗（ネットワーク・4xx/5xx）。注文状態は触っていないので再試行して良い。
type ProviderError struct {
	Provider   model.PaymentProvider
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	ok := errors.As(err, &pe)
	return pe, ok
}

type CreatePaymentInput struct {
	OrderID     int64
	Amount      int64 // 最小通貨単位
	Currency    string
	Description string
	ReturnURL   string
	Metadata    map[string]string
}

// クライアントへ渡す支払いアーティファクト。
// cardはClientSecret、localは署名済みペイロード＋リダイレクトURL。
type CreatePaymentResult struct {
	ExternalRef       string
	ClientSecret      string
	CheckoutURL       string
	CheckoutData      string
	CheckoutSignature string
	Raw               []byte
}

// webhookから取り出した正規化済みイベント
type WebhookEvent struct {
	EventID               string
	ExternalTransactionID string
	OrderID               int64
	RawStatus             string
	Status                model.PaymentStatus
	Amount                int64
	Currency              string
	Raw                   []byte
}

type RefundResult struct {
	ExternalRef string
	Status      model.PaymentStatus
	Raw         []byte
}

// 決済プロバイダ2種（card/local）が共通で満たす契約。
// 注文状態はここでは一切触らない。記録は呼び出し側の仕事。
type PaymentGateway interface {
	Provider() model.PaymentProvider

	CreatePayment(ctx context.Context, in CreatePaymentInput) (*CreatePaymentResult, error)

	// 同期ポーリング。クライアント起点の確認フローで使う。
	ConfirmPayment(ctx context.Context, externalRef string) (model.PaymentStatus, []byte, error)

	// 壊れた入力でもpanicせずfalseで閉じる
	VerifyWebhookSignature(payload []byte, signature string) bool

	// webhookペイロードのデコード。形式はプロバイダごとに違う。
	ParseWebhook(payload []byte) (*WebhookEvent, error)

	// プロバイダ語彙→共通enum。未知の値はUNKNOWN（状態遷移には使わない）。
	NormalizeStatus(providerStatus string) model.PaymentStatus

	Refund(ctx context.Context, externalRef string, amount int64) (*RefundResult, error)
}
