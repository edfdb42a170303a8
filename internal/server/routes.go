package server

import (
	"net/http"

	"app/internal/config"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, cfg config.Config, h Handlers) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	h.Order.RegisterRoutes(e, cfg)
	h.AdminOrder.RegisterRoutes(e, cfg)
	h.Payment.RegisterRoutes(e, cfg)

	//Webhookは署名認証なのでJWTグループの外
	h.Webhook.RegisterRoutes(e)
}
