package gateway

import (
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"app/internal/domain/model"
	gw "app/internal/gateway"

	"github.com/go-resty/resty/v2"
)

const liqpayDefaultBaseURL = "https://www.liqpay.ua"

// local側のアダプタ。checkoutは署名済みペイロードを作ってリダイレクトさせる方式で、
// こちらからのHTTP呼び出しはステータス照会のときだけ。
type LiqPayGateway struct {
	client     *resty.Client
	publicKey  string
	privateKey string
	serverURL  string // webhook受け口（server_url）
	baseURL    string
}

func NewLiqPayGateway(client *resty.Client, publicKey string, privateKey string, serverURL string) *LiqPayGateway {
	return &LiqPayGateway{
		client:     client,
		publicKey:  publicKey,
		privateKey: privateKey,
		serverURL:  serverURL,
		baseURL:    liqpayDefaultBaseURL,
	}
}

func (g *LiqPayGateway) Provider() model.PaymentProvider {
	return model.ProviderLocal
}

// signature = base64(sha1(private + data + private))
func (g *LiqPayGateway) sign(data string) string {
	h := sha1.Sum([]byte(g.privateKey + data + g.privateKey))
	return base64.StdEncoding.EncodeToString(h[:])
}

// LiqPayの注文参照。webhookで返ってくるのでパース可能な形に固定。
func liqpayOrderRef(orderID int64) string {
	return fmt.Sprintf("ORDER-%d", orderID)
}

func parseLiqpayOrderRef(ref string) int64 {
	id, _ := strconv.ParseInt(strings.TrimPrefix(ref, "ORDER-"), 10, 64)
	return id
}

func (g *LiqPayGateway) CreatePayment(ctx context.Context, in gw.CreatePaymentInput) (*gw.CreatePaymentResult, error) {
	payload := map[string]any{
		"version":     "3",
		"public_key":  g.publicKey,
		"action":      "pay",
		"amount":      fmt.Sprintf("%.2f", float64(in.Amount)/100), // LiqPayは主通貨単位
		"currency":    in.Currency,
		"description": in.Description,
		"order_id":    liqpayOrderRef(in.OrderID),
		"server_url":  g.serverURL,
	}
	if in.ReturnURL != "" {
		payload["result_url"] = in.ReturnURL
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &gw.ProviderError{Provider: model.ProviderLocal, Err: err}
	}

	data := base64.StdEncoding.EncodeToString(raw)
	signature := g.sign(data)

	checkout := fmt.Sprintf("%s/api/3/checkout?data=%s&signature=%s",
		g.baseURL, url.QueryEscape(data), url.QueryEscape(signature))

	return &gw.CreatePaymentResult{
		ExternalRef:       liqpayOrderRef(in.OrderID),
		CheckoutData:      data,
		CheckoutSignature: signature,
		CheckoutURL:       checkout,
		Raw:               raw,
	}, nil
}

type liqpayStatus struct {
	Status    string  `json:"status"`
	PaymentID int64   `json:"payment_id"`
	OrderID   string  `json:"order_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	ErrDesc   string  `json:"err_description"`
}

func (g *LiqPayGateway) ConfirmPayment(ctx context.Context, externalRef string) (model.PaymentStatus, []byte, error) {
	payload := map[string]any{
		"version":    "3",
		"public_key": g.publicKey,
		"action":     "status",
		"order_id":   externalRef,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return model.PaymentStatusUnknown, nil, &gw.ProviderError{Provider: model.ProviderLocal, Err: err}
	}
	data := base64.StdEncoding.EncodeToString(raw)

	resp, err := g.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"data":      data,
			"signature": g.sign(data),
		}).
		Post(g.baseURL + "/api/request")

	if err != nil {
		return model.PaymentStatusUnknown, nil, &gw.ProviderError{Provider: model.ProviderLocal, Err: err}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return model.PaymentStatusUnknown, nil, &gw.ProviderError{Provider: model.ProviderLocal, StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}

	var st liqpayStatus
	if err := json.Unmarshal(resp.Body(), &st); err != nil {
		return model.PaymentStatusUnknown, nil, &gw.ProviderError{Provider: model.ProviderLocal, Err: err}
	}

	return g.NormalizeStatus(st.Status), resp.Body(), nil
}

// callbackのdata（base64文字列）に対するsignature照合。壊れた入力はfalse。
func (g *LiqPayGateway) VerifyWebhookSignature(payload []byte, signature string) bool {
	if len(payload) == 0 || signature == "" {
		return false
	}
	expected := g.sign(string(payload))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// payloadはcallbackのdataフィールド（base64されたJSON）
func (g *LiqPayGateway) ParseWebhook(payload []byte) (*gw.WebhookEvent, error) {
	raw, err := base64.StdEncoding.DecodeString(string(payload))
	if err != nil {
		return nil, err
	}

	var st liqpayStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}

	txID := strconv.FormatInt(st.PaymentID, 10)

	return &gw.WebhookEvent{
		// LiqPayはイベントIDを持たないのでpayment_id+statusで代用する
		EventID:               fmt.Sprintf("%d:%s", st.PaymentID, st.Status),
		ExternalTransactionID: txID,
		OrderID:               parseLiqpayOrderRef(st.OrderID),
		RawStatus:             st.Status,
		Status:                g.NormalizeStatus(st.Status),
		Amount:                int64(st.Amount*100 + 0.5),
		Currency:              st.Currency,
		Raw:                   raw,
	}, nil
}

func (g *LiqPayGateway) NormalizeStatus(providerStatus string) model.PaymentStatus {
	switch providerStatus {
	case "success", "sandbox":
		return model.PaymentStatusCompleted
	case "failure", "error":
		return model.PaymentStatusFailed
	case "reversed":
		return model.PaymentStatusRefunded
	case "processing", "wait_accept", "wait_secure", "hold_wait":
		return model.PaymentStatusProcessing
	case "3ds_verify", "otp_verify", "cvv_verify":
		return model.PaymentStatusPending
	default:
		return model.PaymentStatusUnknown
	}
}

// 返金APIは提供されない。呼び出し側は手動返金の案内に切り替えること。
func (g *LiqPayGateway) Refund(ctx context.Context, externalRef string, amount int64) (*gw.RefundResult, error) {
	return nil, gw.ErrUnsupportedOperation
}
