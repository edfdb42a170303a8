package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ADMINロール以外を弾くミドルウェア。AuthJWTの後ろに挟むこと。
func AdminRoleGuard() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, ok := c.Get(CtxUserRoleKey).(string)
			if !ok || role != "ADMIN" {
				return c.JSON(http.StatusForbidden, errorJSON("admin only"))
			}
			return next(c)
		}
	}
}
