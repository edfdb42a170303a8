package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

// APIへ返すエラー。Codeは機械可読な安定値でクライアントが分岐に使う。
type HTTPError struct {
	Status  int
	Code    string
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func NewHTTPError(status int, code string, message string) error {
	return &HTTPError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

// クライアントが分岐に使うエラーコード。値は変えない。
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeForbidden      = "FORBIDDEN"
	CodeInsufficient   = "INSUFFICIENT_STOCK"
	CodeConflict       = "CONFLICT"
	CodeInvalidTransit = "INVALID_TRANSITION"
	CodeSignature      = "SIGNATURE_ERROR"
	CodeProvider       = "PROVIDER_ERROR"
	CodeUnsupported    = "UNSUPPORTED_OPERATION"
	CodeDBUnavailable  = "DB_UNAVAILABLE"
	CodeInternal       = "INTERNAL"
)

// CAS更新で期待ステータスと食い違ったとき。ユーザーには出さず、
// 呼び出し側が読み直して再試行するか諦めるかを決める内部シグナル。
var ErrStaleState = errors.New("stale order status")

func errDB() error {
	return NewHTTPError(http.StatusServiceUnavailable, CodeDBUnavailable, "db error")
}
