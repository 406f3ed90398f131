package relaylog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"relaybot/internal/domain"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	// modernc.org/sqlite applies connection pragmas through _pragma.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Record(ctx context.Context, rec domain.RelayRecord) error {
	rec = normalize(rec)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relay_log (id, channel, user_id, pipeline, outcome, delivered, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Channel, rec.UserID, string(rec.Pipeline), string(rec.Outcome),
		rec.Delivered, rec.LatencyMs, rec.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert relay record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.RelayRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, user_id, pipeline, outcome, delivered, latency_ms, created_at
		 FROM relay_log ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query relay log: %w", err)
	}
	defer rows.Close()

	var out []domain.RelayRecord
	for rows.Next() {
		var (
			rec       domain.RelayRecord
			pipeline  string
			outcome   string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Channel, &rec.UserID, &pipeline, &outcome,
			&rec.Delivered, &rec.LatencyMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan relay record: %w", err)
		}
		rec.Pipeline = domain.Pipeline(pipeline)
		rec.Outcome = domain.Outcome(outcome)
		rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
