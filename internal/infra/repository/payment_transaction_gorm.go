package repository

import (
	"context"
	"errors"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentTransactionGormRepository struct {
	db *gorm.DB
}

func NewPaymentTransactionGormRepository(db *gorm.DB) *PaymentTransactionGormRepository {
	return &PaymentTransactionGormRepository{db: db}
}

func (r *PaymentTransactionGormRepository) Create(ctx context.Context, t model.PaymentTransaction) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&t).Error; err != nil {
		return 0, err
	}
	return t.ID, nil
}

func (r *PaymentTransactionGormRepository) FindByID(ctx context.Context, id int64) (model.PaymentTransaction, error) {
	var t model.PaymentTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PaymentTransaction{}, repo.ErrNotFound
	}
	if err != nil {
		return model.PaymentTransaction{}, err
	}
	return t, nil
}

func (r *PaymentTransactionGormRepository) FindByProviderTxID(ctx context.Context, provider model.PaymentProvider, externalTxID string) (model.PaymentTransaction, bool, error) {
	var t model.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("provider = ? AND external_transaction_id = ?", provider, externalTxID).
		First(&t).Error
	return firstResult(t, err)
}

func (r *PaymentTransactionGormRepository) FindLatestByOrderID(ctx context.Context, orderID int64) (model.PaymentTransaction, bool, error) {
	var t model.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id desc").
		First(&t).Error
	return firstResult(t, err)
}

func (r *PaymentTransactionGormRepository) FindLiveByOrderID(ctx context.Context, orderID int64) (model.PaymentTransaction, bool, error) {
	var t model.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID,
			[]model.PaymentStatus{model.PaymentStatusPending, model.PaymentStatusProcessing, model.PaymentStatusUnknown}).
		Order("id desc").
		First(&t).Error
	return firstResult(t, err)
}

func (r *PaymentTransactionGormRepository) FindCompletedByOrderID(ctx context.Context, orderID int64) (model.PaymentTransaction, bool, error) {
	var t model.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, model.PaymentStatusCompleted).
		Order("id desc").
		First(&t).Error
	return firstResult(t, err)
}

func (r *PaymentTransactionGormRepository) UpdateStatus(ctx context.Context, id int64, status model.PaymentStatus, providerResponse datatypes.JSON) error {
	values := map[string]any{"status": status}
	if providerResponse != nil {
		values["provider_response"] = providerResponse
	}

	res := r.db.WithContext(ctx).Model(&model.PaymentTransaction{}).
		Where("id = ?", id).
		Updates(values)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func firstResult(t model.PaymentTransaction, err error) (model.PaymentTransaction, bool, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PaymentTransaction{}, false, nil
	}
	if err != nil {
		return model.PaymentTransaction{}, false, err
	}
	return t, true, nil
}
