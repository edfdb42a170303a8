package repository

import (
	"context"

	"app/internal/domain/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookEventGormRepository struct {
	db *gorm.DB
}

func NewWebhookEventGormRepository(db *gorm.DB) *WebhookEventGormRepository {
	return &WebhookEventGormRepository{db: db}
}

// ON CONFLICT DO NOTHING で入れる。刺さらなかったら重複配送。
func (r *WebhookEventGormRepository) CreateIfAbsent(ctx context.Context, ev model.WebhookEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(&ev)

	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
