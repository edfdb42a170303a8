package usecase

import (
	"context"
	"errors"
	"net/http"
	"time"

	"app/internal/domain/model"
	"app/internal/gateway"
	repo "app/internal/repository"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// webhook重複チェックの足切り。本体はDBの台帳なのでnilでも動く。
type WebhookDedup interface {
	MarkSeen(ctx context.Context, provider model.PaymentProvider, eventID string) (bool, error)
	// 適用に失敗したイベントの印を外す（再送を足切りしないため）
	Forget(ctx context.Context, provider model.PaymentProvider, eventID string) error
}

type WebhookUsecase struct {
	tx       repo.TransactionManager
	gateways map[model.PaymentProvider]gateway.PaymentGateway
	dedup    WebhookDedup
	logger   *zap.Logger
}

func NewWebhookUsecase(
	tx repo.TransactionManager,
	gateways map[model.PaymentProvider]gateway.PaymentGateway,
	dedup WebhookDedup,
	logger *zap.Logger,
) *WebhookUsecase {
	return &WebhookUsecase{tx: tx, gateways: gateways, dedup: dedup, logger: logger}
}

// プロバイダからの非同期通知を適用する。順不同・重複配送が前提なので
// 全体を冪等に作る。ビジネス上の食い違い（先にキャンセル済み等）は
// ログだけ残して成功扱い——非2xxを返すとプロバイダが再送し続けるため。
// エラーを返すのは署名不正・壊れたペイロード・DB障害のときだけ。
func (u *WebhookUsecase) Handle(ctx context.Context, provider model.PaymentProvider, payload []byte, signature string) error {
	gw, ok := u.gateways[provider]
	if !ok {
		return NewHTTPError(http.StatusBadRequest, CodeValidation, "unknown provider")
	}

	// 1) 署名。ダメなら何も触らず400。
	if !gw.VerifyWebhookSignature(payload, signature) {
		return NewHTTPError(http.StatusBadRequest, CodeSignature, "invalid signature")
	}

	// 2) デコード
	ev, err := gw.ParseWebhook(payload)
	if err != nil {
		return NewHTTPError(http.StatusBadRequest, CodeValidation, "malformed payload")
	}

	log := u.logger.With(
		zap.String("provider", string(provider)),
		zap.String("event_id", ev.EventID),
		zap.String("external_tx_id", ev.ExternalTransactionID),
		zap.Int64("order_id", ev.OrderID),
	)

	// 3) Redisの足切り。落ちていてもDB台帳があるので続行する。
	marked := false
	if u.dedup != nil {
		first, err := u.dedup.MarkSeen(ctx, provider, ev.EventID)
		if err != nil {
			log.Warn("dedup store unavailable, falling back to db", zap.Error(err))
		} else if !first {
			log.Info("webhook replay skipped (cache)")
			return nil
		} else {
			marked = true
		}
	}

	// 4) 受信台帳と注文への反映を同一トランザクションで。途中で失敗したら
	//    台帳ごと巻き戻るので、プロバイダの再送がそのままリトライになる。
	//    CASで負けたときも巻き戻し、読み直してもう1回だけやり直す。
	var applyErr error
	for attempt := 0; attempt < 2; attempt++ {
		applyErr = u.apply(ctx, provider, ev, log)
		if errors.Is(applyErr, repo.ErrStale) {
			continue
		}
		break
	}
	if errors.Is(applyErr, repo.ErrStale) {
		// 2回負けた。何もコミットしていないので非2xxで再送してもらう。
		log.Warn("webhook transition contended, leaving event for redelivery")
		applyErr = NewHTTPError(http.StatusConflict, CodeConflict, "order state changing, retry")
	}
	if applyErr != nil && marked {
		// DB側は巻き戻っている。再送がキャッシュで足切りされないよう印も外す。
		if ferr := u.dedup.Forget(ctx, provider, ev.EventID); ferr != nil {
			log.Warn("failed to clear dedup mark, replay blocked until ttl", zap.Error(ferr))
		}
	}
	return applyErr
}

func (u *WebhookUsecase) apply(ctx context.Context, provider model.PaymentProvider, ev *gateway.WebhookEvent, log *zap.Logger) error {
	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 受信台帳。既にあれば重複配送なので何もしない。
		first, err := r.WebhookEvents().CreateIfAbsent(ctx, model.WebhookEvent{
			Provider: provider,
			EventID:  ev.EventID,
			OrderID:  ev.OrderID,
			Payload:  datatypes.JSON(ev.Raw),
		})
		if err != nil {
			return errDB()
		}
		if !first {
			log.Info("webhook replay skipped (ledger)")
			return nil
		}

		// 既存トランザクションが終端ならno-op（遅延再送）
		txn, found, err := r.Payments().FindByProviderTxID(ctx, provider, ev.ExternalTransactionID)
		if err != nil {
			return errDB()
		}
		if found && txn.Status.IsTerminal() {
			log.Info("webhook for settled transaction ignored")
			return nil
		}

		// 注文を解決。order_idが無いときは既存トランザクションから辿る。
		targetOrderID := ev.OrderID
		if targetOrderID == 0 && found {
			targetOrderID = txn.OrderID
		}
		o, err := r.Orders().FindByID(ctx, targetOrderID)
		if errors.Is(err, repo.ErrNotFound) {
			// 知らない注文。環境違いか削除済み。500にはしない。
			log.Warn("webhook for unknown order ignored")
			return nil
		}
		if err != nil {
			return errDB()
		}

		// 台帳upsert
		if found {
			if ev.Status != txn.Status {
				if err := r.Payments().UpdateStatus(ctx, txn.ID, ev.Status, datatypes.JSON(ev.Raw)); err != nil {
					return errDB()
				}
			}
		} else {
			now := time.Now()
			amount := ev.Amount
			if amount == 0 {
				amount = o.TotalAmount
			}
			currency := ev.Currency
			if currency == "" {
				currency = o.Currency
			}
			if _, err := r.Payments().Create(ctx, model.PaymentTransaction{
				OrderID:               o.ID,
				Provider:              provider,
				ExternalTransactionID: ev.ExternalTransactionID,
				Amount:                amount,
				Currency:              currency,
				Status:                ev.Status,
				ProviderResponse:      datatypes.JSON(ev.Raw),
				CreatedAt:             now,
				UpdatedAt:             now,
			}); err != nil {
				return errDB()
			}
		}

		// 注文ステータスへ反映。UNKNOWN等は記録だけで動かさない。
		target, ok := orderTransitionFor(ev.Status)
		if !ok {
			log.Info("webhook recorded, no order transition", zap.String("payment_status", string(ev.Status)))
			return nil
		}
		if !model.CanTransition(o.Status, target) {
			// 例：先にキャンセル済みの注文へsucceededが届いた。飲み込んで2xx。
			log.Warn("webhook transition not allowed, ignoring",
				zap.String("current", string(o.Status)), zap.String("target", string(target)))
			return nil
		}

		err = r.Orders().UpdateStatusIf(ctx, o.ID, target, o.Status)
		if errors.Is(err, repo.ErrStale) {
			// 同時更新に負けた。そのまま返してトランザクションごと巻き戻す。
			return err
		}
		if errors.Is(err, repo.ErrNotFound) {
			log.Warn("order vanished while applying webhook, ignoring")
			return nil
		}
		if err != nil {
			return errDB()
		}

		log.Info("order status updated by webhook",
			zap.String("from", string(o.Status)), zap.String("to", string(target)))
		return nil
	})
}
