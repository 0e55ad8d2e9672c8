package main

import (
	"context"
	"github.com/ariefcatur/go-shop-orders/internal/config"
	"github.com/ariefcatur/go-shop-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/logger"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/ariefcatur/go-shop-orders/internal/telemetry"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.ServiceName+"-stockwatch", cfg.OTelEndpoint)
	if err != nil {
		log.Fatal("tracing setup", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb, 5*time.Second); err != nil {
		log.Fatal("redis unavailable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	watch := &inventory.StockWatch{
		Redis:       rdb,
		LowStock:    &redisx.LowStockIndex{Redis: rdb},
		Threshold:   cfg.LowStockThreshold,
		ServiceName: "stockwatch",
		Log:         log.Named("stockwatch"),
	}

	// Consumer: ketiga topic order dalam satu group
	topics := orders.AllTopics()
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.StockwatchGroup, topics, cfg.StockwatchWorkers, log.Named("kafka"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("stockwatch consumer started",
			zap.String("group", cfg.StockwatchGroup),
			zap.Strings("topics", topics),
			zap.Int("workers", cfg.StockwatchWorkers),
			zap.Int("threshold", cfg.LowStockThreshold))
		if err := cons.Start(ctx, watch.HandleOrderEvent); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer...")
	cancel()
	<-done
}
