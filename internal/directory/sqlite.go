package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "tunebot/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id           INTEGER PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	blocked      INTEGER NOT NULL DEFAULT 0,
	last_active  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_blocked ON users(blocked);
`

// sqliteDirectory returns storage errors to its callers, who decide how to
// log them; it holds no logger of its own.
type sqliteDirectory struct {
	db *sql.DB
}

func openSQLite(cfg Config, log logx.Logger) (Directory, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	if cfg.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	for _, p := range pragmas {
		// Pragmas are tuning, not correctness; a failure is worth a log line
		// but not a refusal to start.
		if _, err := db.Exec(p); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("user directory opened", logx.String("path", cfg.Path))
	return &sqliteDirectory{db: db}, nil
}

func (d *sqliteDirectory) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *sqliteDirectory) Upsert(ctx context.Context, id int64, displayName string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO users(id, display_name, blocked, last_active) VALUES(?,?,0,?)
		 ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			blocked      = 0,
			last_active  = excluded.last_active`,
		id, displayName, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (d *sqliteDirectory) ListActive(ctx context.Context) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM users WHERE blocked = 0 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (d *sqliteDirectory) MarkBlocked(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `UPDATE users SET blocked = 1 WHERE id = ?`, id)
	return err
}

func (d *sqliteDirectory) Count(ctx context.Context) (Counts, error) {
	var c Counts
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN blocked = 0 THEN 1 ELSE 0 END), 0) FROM users`,
	).Scan(&c.Total, &c.Active)
	return c, err
}
