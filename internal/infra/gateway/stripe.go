package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"app/internal/domain/model"
	gw "app/internal/gateway"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const stripeDefaultBaseURL = "https://api.stripe.com"

// webhook署名のタイムスタンプ許容幅
const stripeSignatureTolerance = 5 * time.Minute

// card側のアダプタ。PaymentIntents APIを使う。
type StripeGateway struct {
	client        *resty.Client
	secretKey     string
	webhookSecret string
	baseURL       string
	now           func() time.Time
}

func NewStripeGateway(client *resty.Client, secretKey string, webhookSecret string) *StripeGateway {
	return &StripeGateway{
		client:        client,
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       stripeDefaultBaseURL,
		now:           time.Now,
	}
}

func (g *StripeGateway) Provider() model.PaymentProvider {
	return model.ProviderCard
}

type stripePaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Metadata     struct {
		OrderID string `json:"order_id"`
	} `json:"metadata"`
}

func (g *StripeGateway) CreatePayment(ctx context.Context, in gw.CreatePaymentInput) (*gw.CreatePaymentResult, error) {
	form := map[string]string{
		"amount":             strconv.FormatInt(in.Amount, 10),
		"currency":           strings.ToLower(in.Currency),
		"description":        in.Description,
		"metadata[order_id]": strconv.FormatInt(in.OrderID, 10),
		"automatic_payment_methods[enabled]": "true",
	}
	for k, v := range in.Metadata {
		form["metadata["+k+"]"] = v
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(g.secretKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		// リトライで同じintentが2つできないように
		SetHeader("Idempotency-Key", uuid.NewString()).
		SetFormData(form).
		Post(g.baseURL + "/v1/payment_intents")

	if err != nil {
		return nil, &gw.ProviderError{Provider: model.ProviderCard, Err: err}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, &gw.ProviderError{Provider: model.ProviderCard, StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}

	var pi stripePaymentIntent
	if err := json.Unmarshal(resp.Body(), &pi); err != nil {
		return nil, &gw.ProviderError{Provider: model.ProviderCard, Err: err}
	}

	return &gw.CreatePaymentResult{
		ExternalRef:  pi.ID,
		ClientSecret: pi.ClientSecret,
		Raw:          resp.Body(),
	}, nil
}

func (g *StripeGateway) ConfirmPayment(ctx context.Context, externalRef string) (model.PaymentStatus, []byte, error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(g.secretKey).
		Get(g.baseURL + "/v1/payment_intents/" + externalRef)

	if err != nil {
		return model.PaymentStatusUnknown, nil, &gw.ProviderError{Provider: model.ProviderCard, Err: err}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return model.PaymentStatusUnknown, nil, &gw.ProviderError{Provider: model.ProviderCard, StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}

	var pi stripePaymentIntent
	if err := json.Unmarshal(resp.Body(), &pi); err != nil {
		return model.PaymentStatusUnknown, nil, &gw.ProviderError{Provider: model.ProviderCard, Err: err}
	}

	return g.NormalizeStatus(pi.Status), resp.Body(), nil
}

// Stripe-Signatureヘッダの検証。形式は "t=<unix>,v1=<hmac-sha256-hex>"。
// HMACの材料は "<t>.<payload>"。壊れた入力は全部false。
func (g *StripeGateway) VerifyWebhookSignature(payload []byte, signature string) bool {
	var ts string
	var sigs []string

	for _, part := range strings.Split(signature, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}
	if ts == "" || len(sigs) == 0 {
		return false
	}

	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	// 古すぎる署名はリプレイ扱いで捨てる
	if diff := g.now().Sub(time.Unix(tsInt, 0)); diff > stripeSignatureTolerance || diff < -stripeSignatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, s := range sigs {
		if hmac.Equal([]byte(expected), []byte(s)) {
			return true
		}
	}
	return false
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object stripePaymentIntent `json:"object"`
	} `json:"data"`
}

func (g *StripeGateway) ParseWebhook(payload []byte) (*gw.WebhookEvent, error) {
	var ev stripeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}

	// イベント種別が結果を持っているものはそちらを優先する
	// （payment_intent.payment_failed のobject.statusはrequires_payment_methodに戻っているため）
	rawStatus := ev.Data.Object.Status
	switch ev.Type {
	case "payment_intent.succeeded":
		rawStatus = "succeeded"
	case "payment_intent.payment_failed":
		rawStatus = "payment_failed"
	case "payment_intent.canceled":
		rawStatus = "canceled"
	case "payment_intent.processing":
		rawStatus = "processing"
	case "charge.refunded":
		rawStatus = "refunded"
	}

	var orderID int64
	if ev.Data.Object.Metadata.OrderID != "" {
		orderID, _ = strconv.ParseInt(ev.Data.Object.Metadata.OrderID, 10, 64)
	}

	return &gw.WebhookEvent{
		EventID:               ev.ID,
		ExternalTransactionID: ev.Data.Object.ID,
		OrderID:               orderID,
		RawStatus:             rawStatus,
		Status:                g.NormalizeStatus(rawStatus),
		Amount:                ev.Data.Object.Amount,
		Currency:              strings.ToUpper(ev.Data.Object.Currency),
		Raw:                   payload,
	}, nil
}

func (g *StripeGateway) NormalizeStatus(providerStatus string) model.PaymentStatus {
	switch providerStatus {
	case "requires_payment_method", "requires_confirmation", "requires_action":
		return model.PaymentStatusPending
	case "processing":
		return model.PaymentStatusProcessing
	case "succeeded":
		return model.PaymentStatusCompleted
	case "payment_failed":
		return model.PaymentStatusFailed
	case "canceled":
		return model.PaymentStatusCanceled
	case "refunded":
		return model.PaymentStatusRefunded
	default:
		return model.PaymentStatusUnknown
	}
}

type stripeRefund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (g *StripeGateway) Refund(ctx context.Context, externalRef string, amount int64) (*gw.RefundResult, error) {
	form := map[string]string{
		"payment_intent": externalRef,
	}
	if amount > 0 {
		form["amount"] = strconv.FormatInt(amount, 10)
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(g.secretKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormData(form).
		Post(g.baseURL + "/v1/refunds")

	if err != nil {
		return nil, &gw.ProviderError{Provider: model.ProviderCard, Err: err}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, &gw.ProviderError{Provider: model.ProviderCard, StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}

	var rf stripeRefund
	if err := json.Unmarshal(resp.Body(), &rf); err != nil {
		return nil, &gw.ProviderError{Provider: model.ProviderCard, Err: err}
	}

	status := model.PaymentStatusProcessing
	switch rf.Status {
	case "succeeded":
		status = model.PaymentStatusRefunded
	case "failed", "canceled":
		status = model.PaymentStatusFailed
	}

	return &gw.RefundResult{
		ExternalRef: rf.ID,
		Status:      status,
		Raw:         resp.Body(),
	}, nil
}
