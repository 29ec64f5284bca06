// Package bootstrap turns a Config into opened stores and wired components
// for the api server and the operator CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	goredis "github.com/redis/go-redis/v9"

	"studio/internal/infra"
	"studio/internal/kv"
)

// Stores holds the durable and session stores plus whatever must be closed
// on shutdown.
type Stores struct {
	Durable kv.Store
	Session kv.Store
	closers []func() error
}

func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenStores opens the configured backends. The redis client is shared when
// both stores use it.
func OpenStores(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Stores, error) {
	s := &Stores{}
	var rdb *goredis.Client
	redisClient := func() (*goredis.Client, error) {
		if rdb != nil {
			return rdb, nil
		}
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for the redis backend")
		}
		c, err := kv.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rdb = c
		s.closers = append(s.closers, c.Close)
		return c, nil
	}

	durable, err := openDurable(ctx, cfg, logger, s, redisClient)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Durable = durable

	switch cfg.SessionBackend {
	case infra.BackendMemory, "":
		s.Session = kv.NewMemory()
	case infra.BackendRedis:
		c, err := redisClient()
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("session store: %w", err)
		}
		s.Session = kv.NewRedis(c, "studio:session")
	default:
		_ = s.Close()
		return nil, fmt.Errorf("unknown SESSION_BACKEND %q", cfg.SessionBackend)
	}

	logger.Info().
		Str("durable", cfg.DurableBackend).
		Str("session", cfg.SessionBackend).
		Msg("stores opened")
	return s, nil
}

func openDurable(ctx context.Context, cfg *infra.Config, logger infra.Logger, s *Stores, redisClient func() (*goredis.Client, error)) (kv.Store, error) {
	switch cfg.DurableBackend {
	case infra.BackendMemory:
		return kv.NewMemory(), nil
	case infra.BackendFile, "":
		store, err := kv.NewFile(filepath.Clean(cfg.DurablePath))
		if err != nil {
			return nil, fmt.Errorf("durable store: %w", err)
		}
		return store, nil
	case infra.BackendSQLite:
		store, err := kv.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("durable store: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		return store, nil
	case infra.BackendPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("durable store: %w", err)
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		store := kv.NewPostgres(infra.NewSQLRunner(pool, logger), cfg.KVTable)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case infra.BackendRedis:
		c, err := redisClient()
		if err != nil {
			return nil, fmt.Errorf("durable store: %w", err)
		}
		return kv.NewRedis(c, "studio:durable"), nil
	}
	return nil, fmt.Errorf("unknown DURABLE_BACKEND %q", cfg.DurableBackend)
}
