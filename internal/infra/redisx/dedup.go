package redisx

import (
	"context"
	"fmt"
	"time"

	"app/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

const (
	// webhook:dedup:{provider}:{event_id}
	keyWebhookDedup = "webhook:dedup:%s:%s"

	// プロバイダの再送ウィンドウより十分長く
	dedupTTL = 48 * time.Hour
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// webhook重複配送の足切り用。真実はDBのunique制約で、こっちは速いだけ。
type DedupStore struct {
	rdb *redis.Client
}

func NewDedupStore(rdb *redis.Client) *DedupStore {
	return &DedupStore{rdb: rdb}
}

// 初見ならtrue。SETNXなので同時に来ても勝つのは1つ。
func (s *DedupStore) MarkSeen(ctx context.Context, provider model.PaymentProvider, eventID string) (bool, error) {
	key := fmt.Sprintf(keyWebhookDedup, provider, eventID)
	return s.rdb.SetNX(ctx, key, 1, dedupTTL).Result()
}

// 適用に失敗したイベントの印を外す。次の再送を足切りしないため。
func (s *DedupStore) Forget(ctx context.Context, provider model.PaymentProvider, eventID string) error {
	key := fmt.Sprintf(keyWebhookDedup, provider, eventID)
	return s.rdb.Del(ctx, key).Err()
}
