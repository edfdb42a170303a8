package repository

import (
	"context"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InventoryGormRepository struct {
	db *gorm.DB
}

func NewInventoryGormRepository(db *gorm.DB) *InventoryGormRepository {
	return &InventoryGormRepository{db: db}
}

// 在庫が足りるときだけ減らす。UPDATE ... WHERE stock >= qty の1発勝負なので
// 同時に来ても売り越さない。RETURNINGで減算後の残数も拾う。
func (r *InventoryGormRepository) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, int64, error) {
	var p model.Product
	res := r.db.WithContext(ctx).Model(&p).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "stock"}}}).
		Where("id = ? AND stock >= ?", productID, qty).
		Update("stock", gorm.Expr("stock - ?", qty))

	if res.Error != nil {
		return false, 0, res.Error
	}
	if res.RowsAffected == 0 {
		return false, 0, nil
	}
	return true, p.Stock, nil
}

// 在庫戻し（キャンセル・予約の巻き戻し）
func (r *InventoryGormRepository) IncreaseStock(ctx context.Context, productID int64, qty int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", productID).
		Update("stock", gorm.Expr("stock + ?", qty))

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
