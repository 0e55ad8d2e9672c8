package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/ariefcatur/go-shop-orders/internal/config"
	"github.com/ariefcatur/go-shop-orders/internal/logger"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/postgres"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"os"
	"time"
)

const usage = `usage: migrate [-dsn DSN] [-steps N] <command>

commands:
  up        apply all pending migrations
  down      roll back -steps migrations (default: all)
  version   print the current schema version
  seed      upsert the demo product catalog
`

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dsn := fs.String("dsn", cfg.PostgresDSN, "postgres connection string")
	steps := fs.Int("steps", 0, "migrations to roll back with down (0 = all)")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = fs.Parse(os.Args[1:])

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: "console", Output: "stderr"})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}

	switch cmd := fs.Arg(0); cmd {
	case "up":
		if err := postgres.MigrateUp(*dsn); err != nil {
			log.Fatal("migrate up", zap.Error(err))
		}
		log.Info("migrations applied")
	case "down":
		if err := postgres.MigrateDown(*dsn, *steps); err != nil {
			log.Fatal("migrate down", zap.Error(err))
		}
		log.Info("migrations rolled back", zap.Int("steps", *steps))
	case "version":
		v, dirty, err := postgres.MigrationVersion(*dsn)
		if err != nil {
			log.Fatal("migrate version", zap.Error(err))
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)
	case "seed":
		if err := seed(*dsn); err != nil {
			log.Fatal("seed", zap.Error(err))
		}
		log.Info("demo catalog seeded", zap.Int("products", len(orders.DemoCatalog())))
	default:
		log.Error("unknown command", zap.String("command", cmd))
		fs.Usage()
		os.Exit(2)
	}
}

func seed(dsn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := postgres.Connect(ctx, dsn, postgres.PoolOptions{MaxConns: 2})
	if err != nil {
		return err
	}
	defer db.Close()

	st := &postgres.Store{DB: db}
	for _, p := range orders.DemoCatalog() {
		if err := st.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("upsert %s: %w", p.SKU, err)
		}
	}
	return nil
}
