package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parcelops/courierdesk/config"
	"github.com/parcelops/courierdesk/internal/api/syncapi"
	"github.com/parcelops/courierdesk/internal/broker/kafka"
	"github.com/parcelops/courierdesk/internal/cache/rediscache"
	"github.com/parcelops/courierdesk/internal/integrations/courier"
	"github.com/parcelops/courierdesk/internal/integrations/courier/mnpportal"
	"github.com/parcelops/courierdesk/internal/integrations/courier/postexhttp"
	"github.com/parcelops/courierdesk/internal/integrations/courier/traxhttp"
	"github.com/parcelops/courierdesk/internal/integrations/storefront/shopifyhttp"
	"github.com/parcelops/courierdesk/internal/services/alerts"
	"github.com/parcelops/courierdesk/internal/services/reconcile"
	"github.com/parcelops/courierdesk/internal/services/storefrontsync"
	"github.com/parcelops/courierdesk/internal/services/syncer"
	"github.com/parcelops/courierdesk/internal/storage/pgorders"
)

type courierDeskApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     courierDeskOpts
	api      *syncapi.API
	updates  updateHandler
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrap() *courierDeskApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config load failed: %v", err))
	}

	httpAddr := cfg.CourierDesk.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.CourierDesk.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "courierdesk"
	}
	syncTopic := cfg.Kafka.SyncCompletedTopicName
	if syncTopic == "" {
		syncTopic = "orders.sync.completed"
	}
	storefrontTopic := cfg.Kafka.StorefrontUpdatedTopicName
	if storefrontTopic == "" {
		storefrontTopic = "storefront.orders.updated"
	}
	chunkSize := cfg.CourierDesk.SyncChunkSize
	if chunkSize <= 0 {
		chunkSize = 50
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	tokens := rediscache.NewTokenCache(rc.Client(), time.Now)
	limiter := rediscache.NewRateLimiter(rc.Client())

	registry := courier.NewRegistry(
		postexhttp.New(cfg.Couriers.PostexBaseURL, tokens),
		traxhttp.New(cfg.Couriers.TraxBaseURL),
		mnpportal.New(cfg.Couriers.MnpBaseURL),
	)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, storefrontTopic, consumerGroup)

	syncSvc := syncer.New(st, registry).
		WithBroker(producer, syncTopic).
		WithChunkSize(chunkSize)
	if cfg.CourierDesk.SyncRateLimitPerMinute > 0 {
		syncSvc.WithRateLimiter(limiter, int64(cfg.CourierDesk.SyncRateLimitPerMinute))
	}

	storefrontSvc := storefrontsync.New(st, shopifyhttp.New(cfg.Couriers.StorefrontBaseURL))

	alertSvc := alerts.New(st)
	if cfg.CourierDesk.AlertCacheTTLSeconds > 0 {
		alertSvc.WithCache(rc, time.Duration(cfg.CourierDesk.AlertCacheTTLSeconds)*time.Second)
	}

	api := syncapi.New(syncSvc, reconcile.New(st), alertSvc, storefrontSvc)
	if sw := os.Getenv("swaggerPath"); sw != "" {
		api.WithSwagger(sw)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &courierDeskApp{
		ctx:    ctx,
		cancel: cancel,
		opts: courierDeskOpts{
			httpAddr:      httpAddr,
			swaggerPath:   os.Getenv("swaggerPath"),
			topic:         storefrontTopic,
			consumerGroup: consumerGroup,
		},
		api:      api,
		updates:  storefrontSvc,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgorders.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgorders.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *courierDeskApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *courierDeskApp) Run() error {
	return runCourierDesk(a.ctx, a.opts, a.api, a.updates, a.consumer)
}
