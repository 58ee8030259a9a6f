// Package directory is the persistent record of known users. All persistence
// goes through the Directory contract so the storage backend stays swappable.
package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "tunebot/pkg/logx"
)

// UserRecord is one known user. Blocked is set only by the broadcast engine
// on an unreachable-recipient failure, and cleared by any successful inbound
// interaction (Upsert).
type UserRecord struct {
	ID          int64
	DisplayName string
	Blocked     bool
	LastActive  time.Time
}

type Counts struct {
	Total  int
	Active int
}

type Directory interface {
	// Upsert records an inbound interaction. Idempotent; always clears
	// Blocked and bumps LastActive.
	Upsert(ctx context.Context, id int64, displayName string) error
	// ListActive snapshots the non-blocked recipient set.
	ListActive(ctx context.Context) ([]int64, error)
	MarkBlocked(ctx context.Context, id int64) error
	Count(ctx context.Context) (Counts, error)
	Close() error
}

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured backend.
func Open(cfg Config, log logx.Logger) (Directory, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown directory driver: " + cfg.Driver)
	}
}
