package handler

import (
	"net/http"
	"strconv"

	"app/internal/config"
	"app/internal/middleware"
	"app/internal/usecase"

	"github.com/labstack/echo/v4"
)

type PaymentHandler struct {
	payments *usecase.PaymentUsecase
	refunds  *usecase.RefundUsecase
}

func NewPaymentHandler(payments *usecase.PaymentUsecase, refunds *usecase.RefundUsecase) *PaymentHandler {
	return &PaymentHandler{payments: payments, refunds: refunds}
}

type RefundRequest struct {
	Amount *int64 `json:"amount"`
}

func (h *PaymentHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/payments")
	g.Use(middleware.AuthJWT(cfg))

	g.POST("/create", h.create)
	g.POST("/confirm/:payment_id", h.confirm)
	g.GET("/status/:order_id", h.status)

	//返金は管理者のみ
	g.POST("/refund/:order_id", h.refund, middleware.AdminRoleGuard())
}

func (h *PaymentHandler) create(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req usecase.CreatePaymentInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body", Code: usecase.CodeValidation})
	}

	out, err := h.payments.CreatePayment(c.Request().Context(), userID, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PaymentHandler) confirm(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	paymentID, err := strconv.ParseInt(c.Param("payment_id"), 10, 64)
	if err != nil || paymentID <= 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id", Code: usecase.CodeValidation})
	}

	out, err := h.payments.ConfirmPayment(c.Request().Context(), userID, paymentID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PaymentHandler) status(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	orderID, err := strconv.ParseInt(c.Param("order_id"), 10, 64)
	if err != nil || orderID <= 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id", Code: usecase.CodeValidation})
	}

	out, err := h.payments.Status(c.Request().Context(), userID, orderID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PaymentHandler) refund(c echo.Context) error {
	orderID, err := strconv.ParseInt(c.Param("order_id"), 10, 64)
	if err != nil || orderID <= 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id", Code: usecase.CodeValidation})
	}

	var req RefundRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body", Code: usecase.CodeValidation})
	}

	out, err := h.refunds.Refund(c.Request().Context(), orderID, req.Amount)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
