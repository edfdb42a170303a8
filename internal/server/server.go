package server

import (
	"app/internal/config"
	"app/internal/handler"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

type Handlers struct {
	Order      *handler.OrderHandler
	AdminOrder *handler.AdminOrderHandler
	Payment    *handler.PaymentHandler
	Webhook    *handler.WebhookHandler
}

func Start(addr string, cfg config.Config, h Handlers) error {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	RegisterRoutes(e, cfg, h)

	return e.Start(addr)
}
