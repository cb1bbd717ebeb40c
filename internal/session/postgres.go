package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS client_session (
	profile    TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (profile, key)
)`

// PostgresStorage keeps session values in a shared Postgres database, one
// row set per client profile. Used when several workstations share a
// managed kiosk profile.
type PostgresStorage struct {
	pool    *pgxpool.Pool
	profile string
}

// NewPostgresStorage connects to databaseURL and ensures the session table
// exists.
func NewPostgresStorage(ctx context.Context, databaseURL, profile string, maxConns int32) (*PostgresStorage, error) {
	if profile == "" {
		profile = "default"
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create session table: %w", err)
	}
	return &PostgresStorage{pool: pool, profile: profile}, nil
}

func (p *PostgresStorage) Load(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM client_session WHERE profile = $1 AND key = $2`,
		p.profile, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load %s: %w", key, err)
	}
	return v, true, nil
}

func (p *PostgresStorage) Save(ctx context.Context, key, value string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO client_session (profile, key, value, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (profile, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		p.profile, key, value)
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (p *PostgresStorage) Delete(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM client_session WHERE profile = $1 AND key = $2`, p.profile, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (p *PostgresStorage) Close() error {
	p.pool.Close()
	return nil
}

// Ping checks the database connection.
func (p *PostgresStorage) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// PoolStats reports connection pool usage for health output.
type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
}

// Stats returns the pool's connection counts.
func (p *PostgresStorage) Stats() PoolStats {
	stat := p.pool.Stat()
	return PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
	}
}
