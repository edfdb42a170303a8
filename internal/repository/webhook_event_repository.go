package repository

import (
	"context"

	"app/internal/domain/model"
)

type WebhookEventRepository interface {
	// 初見ならINSERTしてtrue。(provider, event_id)が既にあればfalse（重複配送）。
	CreateIfAbsent(ctx context.Context, ev model.WebhookEvent) (bool, error)
}
