package handler

import (
	"net/http"
	"strconv"
	"time"

	"app/internal/config"
	"app/internal/domain/model"
	"app/internal/middleware"
	"app/internal/repository"
	"app/internal/usecase"

	"github.com/labstack/echo/v4"
)

type AdminOrderHandler struct {
	uc     *usecase.AdminOrderUsecase
	orders *usecase.OrderUsecase
}

func NewAdminOrderHandler(uc *usecase.AdminOrderUsecase, orders *usecase.OrderUsecase) *AdminOrderHandler {
	return &AdminOrderHandler{uc: uc, orders: orders}
}

type OrderStatusUpdateRequest struct {
	Status         string `json:"status"`
	ExpectedStatus string `json:"expected_status"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

func (h *AdminOrderHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	admin := e.Group("/admin")
	admin.Use(middleware.AuthJWT(cfg))
	admin.Use(middleware.AdminRoleGuard())

	admin.GET("/orders", h.list)
	admin.PUT("/orders/:id/status", h.updateStatus)
}

func (h *AdminOrderHandler) list(c echo.Context) error {
	page := 1
	if v := c.QueryParam("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid page", Code: usecase.CodeValidation})
		}
		page = p
	}

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit", Code: usecase.CodeValidation})
		}
		limit = l
	}

	status := c.QueryParam("status")

	var userID *int64
	if v := c.QueryParam("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user_id", Code: usecase.CodeValidation})
		}
		userID = &id
	}

	var fromPtr *time.Time
	if v := c.QueryParam("from"); v != "" {
		tm, ok := usecase.ParseDateTimeRFC3339(v)
		if !ok {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid from", Code: usecase.CodeValidation})
		}
		fromPtr = tm
	}

	var toPtr *time.Time
	if v := c.QueryParam("to"); v != "" {
		tm, ok := usecase.ParseDateTimeRFC3339(v)
		if !ok {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid to", Code: usecase.CodeValidation})
		}
		toPtr = tm
	}

	out, err := h.uc.List(c.Request().Context(), repository.AdminOrderListFilter{
		Page:   page,
		Limit:  limit,
		Status: status,
		UserID: userID,
		From:   fromPtr,
		To:     toPtr,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *AdminOrderHandler) updateStatus(c echo.Context) error {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orderID <= 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id", Code: usecase.CodeValidation})
	}

	var req OrderStatusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body", Code: usecase.CodeValidation})
	}
	if req.Status == "" || req.ExpectedStatus == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "status and expected_status are required", Code: usecase.CodeValidation})
	}

	// 期待値付きのCAS。見ていた状態から動いていたら409が返る。
	if err := h.orders.UpdateStatus(
		c.Request().Context(),
		orderID,
		model.OrderStatus(req.Status),
		model.OrderStatus(req.ExpectedStatus),
	); err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, SuccessResponse{Message: "updated"})
}
