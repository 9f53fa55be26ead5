// Package scratchpad implements the agent-owned notepad resource backed by
// pure-Go SQLite. Zero CGO required. An agent holds exactly one scratchpad;
// the agent releases it on Stop.
package scratchpad

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	alloy "github.com/alloyhq/alloy"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS notes (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Pad is a durable key-value notepad. Safe for concurrent use; all
// goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors from concurrent writers.
type Pad struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Pad.
type Option func(*Pad)

// WithLogger sets a structured logger for the pad.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pad) {
		if l != nil {
			p.logger = l
		}
	}
}

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Open creates or opens a scratchpad at path. Use ":memory:" for an
// ephemeral pad.
func Open(path string, opts ...Option) (*Pad, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		return nil, fmt.Errorf("scratchpad: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("scratchpad: init schema: %w", err)
	}
	p := &Pad{db: db, logger: nopLogger}
	for _, o := range opts {
		o(p)
	}
	p.logger.Debug("scratchpad opened", "path", path)
	return p, nil
}

// Put stores or overwrites a note.
func (p *Pad) Put(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO notes (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, alloy.NowUnix())
	if err != nil {
		return fmt.Errorf("scratchpad: put %q: %w", key, err)
	}
	return nil
}

// Get reads a note. The second return is false when the key is absent.
func (p *Pad) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM notes WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("scratchpad: get %q: %w", key, err)
	}
	return value, true, nil
}

// Keys lists all note keys in lexical order.
func (p *Pad) Keys(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT key FROM notes ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("scratchpad: keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scratchpad: keys: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Delete removes a note. Deleting an absent key is a no-op.
func (p *Pad) Delete(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM notes WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("scratchpad: delete %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying database.
func (p *Pad) Close() error {
	return p.db.Close()
}

// compile-time check
var _ alloy.Scratchpad = (*Pad)(nil)
