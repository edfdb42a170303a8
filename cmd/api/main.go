package main

import (
	"log"
	"time"

	"app/internal/config"
	"app/internal/domain/model"
	"app/internal/gateway"
	"app/internal/handler"
	"app/internal/infra/db"
	infragw "app/internal/infra/gateway"
	"app/internal/infra/redisx"
	infraRepo "app/internal/infra/repository"
	"app/internal/logging"
	"app/internal/server"
	"app/internal/usecase"

	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	//.envはローカル用。本番はコンテナの環境変数を使うので無くてもよい
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.GoEnv)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	//DB接続
	gormDB, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	if err := gormDB.AutoMigrate(
		&model.User{},
		&model.Product{},
		&model.Order{},
		&model.OrderItem{},
		&model.PaymentTransaction{},
		&model.WebhookEvent{},
	); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	txManager := infraRepo.NewTxManagerGorm(gormDB)

	//Redisはwebhook重複チェックの足切り。未設定ならDB台帳のみで動く
	var dedup usecase.WebhookDedup
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		dedup = redisx.NewDedupStore(rdb)
	}

	//プロバイダ向けHTTPクライアント
	httpClient := resty.New().SetTimeout(30 * time.Second)

	gateways := map[model.PaymentProvider]gateway.PaymentGateway{
		model.ProviderCard:  infragw.NewStripeGateway(httpClient, cfg.StripeSecretKey, cfg.StripeWebhookSecret),
		model.ProviderLocal: infragw.NewLiqPayGateway(httpClient, cfg.LiqPayPublicKey, cfg.LiqPayPrivateKey, cfg.APIDomain+"/payments/webhook/local"),
	}

	//Usecase生成
	orderUC := usecase.NewOrderUsecase(txManager, logger, cfg.Currency)
	adminOrderUC := usecase.NewAdminOrderUsecase(txManager)
	paymentUC := usecase.NewPaymentUsecase(txManager, gateways, orderUC, logger)
	webhookUC := usecase.NewWebhookUsecase(txManager, gateways, dedup, logger)
	refundUC := usecase.NewRefundUsecase(txManager, gateways, orderUC, logger)

	//Handler生成
	h := server.Handlers{
		Order:      handler.NewOrderHandler(orderUC),
		AdminOrder: handler.NewAdminOrderHandler(adminOrderUC, orderUC),
		Payment:    handler.NewPaymentHandler(paymentUC, refundUC),
		Webhook:    handler.NewWebhookHandler(webhookUC),
	}

	//Server起動
	addr := ":" + cfg.Port
	logger.Info("starting server", zap.String("addr", addr))
	if err := server.Start(addr, cfg, h); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
