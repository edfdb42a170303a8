package handler

import (
	"io"
	"net/http"

	"app/internal/domain/model"
	"app/internal/usecase"

	"github.com/labstack/echo/v4"
)

// プロバイダからのコールバック。認証はJWTではなく各社の署名方式で行う。
type WebhookHandler struct {
	uc *usecase.WebhookUsecase
}

func NewWebhookHandler(uc *usecase.WebhookUsecase) *WebhookHandler {
	return &WebhookHandler{uc: uc}
}

func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/payments/webhook/card", h.card)
	e.POST("/payments/webhook/local", h.local)
}

func (h *WebhookHandler) card(c echo.Context) error {
	// 署名は生のbodyに対して計算されるので、bindせずそのまま読む
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot read body", Code: usecase.CodeValidation})
	}

	sig := c.Request().Header.Get("Stripe-Signature")

	if err := h.uc.Handle(c.Request().Context(), model.ProviderCard, body, sig); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) local(c echo.Context) error {
	// LiqPayはform-urlencodedでdataとsignatureを送ってくる
	data := c.FormValue("data")
	sig := c.FormValue("signature")
	if data == "" || sig == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "data and signature are required", Code: usecase.CodeValidation})
	}

	if err := h.uc.Handle(c.Request().Context(), model.ProviderLocal, []byte(data), sig); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
