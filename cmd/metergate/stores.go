package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/metergate"
	"github.com/ineyio/metergate/store/memory"
	"github.com/ineyio/metergate/store/postgres"
	"github.com/ineyio/metergate/store/redis"
	"github.com/ineyio/metergate/store/sqlite"
)

// stores bundles the persistence backends selected by config.
type stores struct {
	balances metergate.BalanceStore
	prices   metergate.PriceStore
	settings metergate.ConfigStore
	usage    metergate.UsageLog
	closers  []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// relational is what the sqlite and postgres stores both provide.
type relational interface {
	metergate.BalanceStore
	metergate.PriceStore
	metergate.ConfigStore
	metergate.UsageLog
}

func openStores(ctx context.Context, cfg metergate.StorageConfig) (*stores, error) {
	s := &stores{}

	var db relational
	switch cfg.Driver {
	case "sqlite":
		st, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { st.Close() })
		db = st
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		st := postgres.New(pool)
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)
		db = st
	default:
		db = memory.New()
	}
	s.balances, s.prices, s.settings, s.usage = db, db, db, db

	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			s.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		s.closers = append(s.closers, func() { client.Close() })
		s.balances = redis.New(client)
	}
	return s, nil
}
