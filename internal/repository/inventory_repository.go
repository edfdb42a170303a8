package repository

import "context"

type InventoryRepository interface {
	// 在庫が足りるときだけ減算。条件付きUPDATE1発で行う（read-then-write禁止）。
	// 戻り値は (成功したか, 減算後の残数, err)。
	DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, int64, error)

	// 在庫戻し（キャンセル・予約の巻き戻し）
	IncreaseStock(ctx context.Context, productID int64, qty int64) error
}
