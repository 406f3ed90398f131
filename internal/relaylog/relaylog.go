// Package relaylog keeps a metadata-only audit of handled messages: which
// pipeline ran, how it ended and how long it took. Message content is never stored.
package relaylog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/bus"
	"relaybot/internal/config"
	"relaybot/internal/domain"
)

// Store persists relay records.
type Store interface {
	Record(ctx context.Context, rec domain.RelayRecord) error
	Recent(ctx context.Context, limit int) ([]domain.RelayRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.RelayLogConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteStore(cfg.DSN, logger)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("relay log: unsupported driver %q", cfg.Driver)
	}
}

// normalize fills the id and timestamp the relay may leave empty.
func normalize(rec domain.RelayRecord) domain.RelayRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec
}

// Recorder writes relay.completed events to a Store.
type Recorder struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
}

func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, timeout: 5 * time.Second, logger: logger}
}

// Attach subscribes the recorder to the event bus.
func (r *Recorder) Attach(eb *bus.EventBus) {
	eb.OnRelayCompleted(r.record)
}

func (r *Recorder) record(rec domain.RelayRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.Record(ctx, rec); err != nil {
		r.logger.Warn("relay log write failed", "id", rec.ID, "err", err)
	}
}
