package kv

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"studio/internal/infra"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewPostgres(infra.NewSQLRunner(pool, infra.NopLogger()), "studio_kv_test")
	require.NoError(t, store.EnsureSchema(ctx))
	_, err = pool.Exec(ctx, `truncate "studio_kv_test"`)
	require.NoError(t, err)

	exerciseStore(t, store)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	rdb, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewRedis(rdb, "studio-test-"+t.Name())
	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	for _, k := range keys {
		require.NoError(t, store.Remove(ctx, k))
	}

	exerciseStore(t, store)
}
