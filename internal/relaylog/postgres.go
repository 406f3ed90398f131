package relaylog

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"relaybot/internal/domain"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS relay_log (
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			user_id TEXT NOT NULL,
			pipeline TEXT NOT NULL,
			outcome TEXT NOT NULL,
			delivered BOOLEAN NOT NULL DEFAULT TRUE,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_relay_log_time ON relay_log (created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_relay_log_user ON relay_log (user_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, rec domain.RelayRecord) error {
	rec = normalize(rec)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO relay_log (id, channel, user_id, pipeline, outcome, delivered, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Channel, rec.UserID, string(rec.Pipeline), string(rec.Outcome),
		rec.Delivered, rec.LatencyMs, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert relay record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]domain.RelayRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, channel, user_id, pipeline, outcome, delivered, latency_ms, created_at
		 FROM relay_log ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query relay log: %w", err)
	}
	defer rows.Close()

	var out []domain.RelayRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (domain.RelayRecord, error) {
	var (
		rec      domain.RelayRecord
		pipeline string
		outcome  string
	)
	if err := row.Scan(&rec.ID, &rec.Channel, &rec.UserID, &pipeline, &outcome,
		&rec.Delivered, &rec.LatencyMs, &rec.CreatedAt); err != nil {
		return rec, fmt.Errorf("scan relay record: %w", err)
	}
	rec.Pipeline = domain.Pipeline(pipeline)
	rec.Outcome = domain.Outcome(outcome)
	return rec, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
