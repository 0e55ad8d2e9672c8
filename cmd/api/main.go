package main

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-shop-orders/internal/config"
	"github.com/ariefcatur/go-shop-orders/internal/httpx"
	"github.com/ariefcatur/go-shop-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/logger"
	"github.com/ariefcatur/go-shop-orders/internal/memstore"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/postgres"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/ariefcatur/go-shop-orders/internal/telemetry"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"net/http"
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

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		log.Fatal("tracing setup", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Store
	var tx orders.TxRunner
	switch cfg.StoreDriver {
	case config.DriverMemory:
		mem := memstore.New()
		for _, p := range orders.DemoCatalog() {
			mem.PutProduct(p)
		}
		tx = mem
		log.Warn("using in-memory store, data is lost on exit")
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolOptions{SlowQuery: cfg.SlowQuery, Log: log})
		if err != nil {
			log.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		tx = &postgres.Store{DB: db}
	}

	// Redis: cache & idempotency fast path, opsional
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	var (
		cache    *redisx.OrderCache
		lowStock *redisx.LowStockIndex
	)
	if err := redisx.Ping(ctx, rdb, 2*time.Second); err != nil {
		log.Warn("redis unavailable, running without cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	} else {
		cache = &redisx.OrderCache{Redis: rdb}
		lowStock = &redisx.LowStockIndex{Redis: rdb}
	}

	// Kafka producers
	events := kafkax.NewOrderEvents(cfg.KafkaBrokers, cfg.ServiceName, 1024, log.Named("kafka"))
	events.Start(ctx)

	svc := &orders.Service{
		Tx:     tx,
		Ledger: &inventory.Ledger{Log: log.Named("ledger")},
		Events: events,
		Policy: orders.Policy{
			AllowDuplicateOrders:     cfg.AllowDuplicateOrders,
			EnforceStatusTransitions: cfg.EnforceStatusTransitions,
		},
		Log: log.Named("orders"),
	}
	if cache != nil {
		svc.Cache = cache
		svc.Idempotency = cache
	}

	router := httpx.NewRouter(log)
	(&httpx.OrdersHandler{Service: svc, Auth: &httpx.Authenticator{Secret: []byte(cfg.JWTSecret)}}).Register(router)
	ph := &httpx.ProductsHandler{Service: svc}
	if lowStock != nil {
		ph.LowStock = lowStock
	}
	ph.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	events.Close() // tutup inbox -> flush & close writer
	cancel()
}
