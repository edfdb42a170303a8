package repository

import (
	"app/internal/domain/model"
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// 商品は外部カタログ管理。注文確定に必要な読み取りだけを約束。
type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (model.Product, error)
}
