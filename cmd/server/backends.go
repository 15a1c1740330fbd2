package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"strings"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"labcart/cmd/server/config"
	ordersdb "labcart/internal/db/orders"
	"labcart/internal/effects"
	"labcart/internal/orders"
	"labcart/internal/webhook"
)

var openOrdersDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

// buildOrderBackends returns the order store and webhook ledger. With
// DATABASE_URL set both live in Postgres; without it they stay in memory,
// which is only fit for development.
func buildOrderBackends(ctx context.Context) (orders.Store, webhook.Ledger, func(), error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		log.Println("DATABASE_URL not set; orders and webhook ledger are in-memory")
		return orders.NewInMemoryStore(), webhook.NewInMemoryLedger(), func() {}, nil
	}

	db, err := openOrdersDB("pgx", databaseURL)
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := ordersdb.NewPostgresOrderStoreWithSchema(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	ledger, err := ordersdb.NewPostgresLedgerWithSchema(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Printf("close orders db: %v", err)
		}
	}
	return store, ledger, cleanup, nil
}

// buildEffectMarkers returns the side-effect marker store. With REDIS_URL set
// markers live in Redis and survive process restarts; without it they stay in
// memory.
func buildEffectMarkers(ctx context.Context) (effects.MarkerStore, func(), error) {
	cfg, err := config.LoadRedis()
	if err != nil {
		return nil, nil, err
	}
	if cfg.URL == "" {
		log.Println("REDIS_URL not set; effect markers are in-memory")
		return effects.NewInMemoryMarkerStore(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)
	if cfg.EnableOTel {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}

	pingCtx := ctx
	if pingCtx == nil {
		pingCtx = context.Background()
	}
	if cfg.PingTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(pingCtx, cfg.PingTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Printf("close redis: %v", err)
		}
	}
	return effects.NewRedisMarkerStore(client, cfg.MarkerTTL), cleanup, nil
}
