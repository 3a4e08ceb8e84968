package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores buckets as rows of a single arcp_kv table. It exists
// for deployments that already run Postgres and do not want a Redis instance
// just for registry durability.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// Schema is the DDL for the backing table. Applied with CREATE TABLE IF NOT
// EXISTS at startup; there is no migration machinery to run.
const Schema = `
CREATE TABLE IF NOT EXISTS arcp_kv (
    bucket TEXT  NOT NULL,
    key    TEXT  NOT NULL,
    value  BYTEA NOT NULL,
    PRIMARY KEY (bucket, key)
)`

// NewPostgresBackend connects a pool and ensures the arcp_kv table exists.
func NewPostgresBackend(ctx context.Context, url string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure arcp_kv table: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

// HSet implements Backend.
func (p *PostgresBackend) HSet(ctx context.Context, bucket, key string, value []byte) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO arcp_kv (bucket, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (bucket, key) DO UPDATE SET value = EXCLUDED.value`,
		bucket, key, value,
	)
	if err != nil {
		return fmt.Errorf("pg hset %s/%s: %w", bucket, key, err)
	}
	return nil
}

// HGet implements Backend.
func (p *PostgresBackend) HGet(ctx context.Context, bucket, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM arcp_kv WHERE bucket = $1 AND key = $2`,
		bucket, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg hget %s/%s: %w", bucket, key, err)
	}
	return value, nil
}

// HKeys implements Backend.
func (p *PostgresBackend) HKeys(ctx context.Context, bucket string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT key FROM arcp_kv WHERE bucket = $1`, bucket)
	if err != nil {
		return nil, fmt.Errorf("pg hkeys %s: %w", bucket, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("pg hkeys scan: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// HDel implements Backend.
func (p *PostgresBackend) HDel(ctx context.Context, bucket string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx,
		`DELETE FROM arcp_kv WHERE bucket = $1 AND key = ANY($2)`,
		bucket, keys,
	)
	if err != nil {
		return fmt.Errorf("pg hdel %s: %w", bucket, err)
	}
	return nil
}

// Exists implements Backend.
func (p *PostgresBackend) Exists(ctx context.Context, bucket, key string) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM arcp_kv WHERE bucket = $1 AND key = $2)`,
		bucket, key,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("pg exists %s/%s: %w", bucket, key, err)
	}
	return ok, nil
}

// Ping implements Backend.
func (p *PostgresBackend) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Close implements Backend.
func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}
