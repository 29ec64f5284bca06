package kv

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"studio/internal/infra"
	"studio/internal/sqlinline"
)

// DefaultTable is the Postgres table used when none is configured.
const DefaultTable = "studio_kv"

// Postgres stores entries in a Postgres table through the marker-checked SQL
// runner.
type Postgres struct {
	sql   infra.SQLExecutor
	table string
}

// NewPostgres binds the store to table, quoting it as an identifier.
func NewPostgres(sql infra.SQLExecutor, table string) *Postgres {
	table = strings.TrimSpace(table)
	if table == "" {
		table = DefaultTable
	}
	return &Postgres{sql: sql, table: pq.QuoteIdentifier(table)}
}

// EnsureSchema creates the backing table when it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.sql.Exec(ctx, p.query(sqlinline.QKVCreateTable)); err != nil {
		return fmt.Errorf("kv: postgres schema: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	if err := p.sql.QueryRow(ctx, p.query(sqlinline.QKVGet), key).Scan(&value); err != nil {
		if infra.IsNoRows(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("kv: postgres get %q: %w", key, err)
	}
	return value, true, nil
}

func (p *Postgres) Set(ctx context.Context, key, value string) error {
	if _, err := p.sql.Exec(ctx, p.query(sqlinline.QKVUpsert), key, value); err != nil {
		return fmt.Errorf("kv: postgres set %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) Remove(ctx context.Context, key string) error {
	if _, err := p.sql.Exec(ctx, p.query(sqlinline.QKVDelete), key); err != nil {
		return fmt.Errorf("kv: postgres remove %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) Keys(ctx context.Context) ([]string, error) {
	rows, err := p.sql.Query(ctx, p.query(sqlinline.QKVKeys))
	if err != nil {
		return nil, fmt.Errorf("kv: postgres keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("kv: postgres scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (p *Postgres) query(template string) string {
	return fmt.Sprintf(template, p.table)
}

var _ Store = (*Postgres)(nil)
