// Package catalog records session files and exports in a SQLite database
// so past sessions can be listed after their files are gone.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/logging"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/storage"
)

var catalogLog = logging.ForComponent(logging.CompCatalog)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// ErrNotFound is returned when a session is not in the catalog.
var ErrNotFound = errors.New("catalog: session not found")

// Catalog wraps the SQLite database. Safe for concurrent use; several
// processes may read it at once thanks to WAL mode.
type Catalog struct {
	db  *sql.DB
	pid int
	now func() time.Time
}

// SessionRow is one session file, live or deleted.
type SessionRow struct {
	ID        string
	Name      string
	Path      string
	CreatedAt time.Time
	OpenedAt  time.Time
	DeletedAt time.Time // zero while the file exists
	PID       int
	Exports   int
}

// Live reports whether the session file still exists.
func (r SessionRow) Live() bool { return r.DeletedAt.IsZero() }

// ExportRow is one prepared export.
type ExportRow struct {
	ID                string
	Session           string
	CreatedAt         time.Time
	Bytes             uint64
	IncludeTimestamps bool
}

// Open creates or opens a catalog at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("catalog: mkdir: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: open: %w", err)
	}

	return &Catalog{db: db, pid: os.Getpid(), now: time.Now}, nil
}

// Close checkpoints WAL and closes the database.
func (c *Catalog) Close() error {
	_, _ = c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return c.db.Close()
}

// SetClock replaces the time source, for tests.
func (c *Catalog) SetClock(now func() time.Time) { c.now = now }

// Migrate creates tables if they don't exist.
func (c *Catalog) Migrate() error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []struct{ name, sql string }{
		{"metadata", `
			CREATE TABLE IF NOT EXISTS metadata (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`},
		{"sessions", `
			CREATE TABLE IF NOT EXISTS sessions (
				id         TEXT PRIMARY KEY,
				name       TEXT NOT NULL UNIQUE,
				path       TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				opened_at  INTEGER NOT NULL,
				deleted_at INTEGER NOT NULL DEFAULT 0,
				pid        INTEGER NOT NULL DEFAULT 0
			)`},
		{"exports", `
			CREATE TABLE IF NOT EXISTS exports (
				id                 TEXT PRIMARY KEY,
				session_id         TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				created_at         INTEGER NOT NULL,
				bytes              INTEGER NOT NULL,
				include_timestamps INTEGER NOT NULL DEFAULT 1
			)`},
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s.sql); err != nil {
			return fmt.Errorf("catalog: create %s: %w", s.name, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("catalog: set schema version: %w", err)
	}

	return tx.Commit()
}

// SessionOpened records a session file as live. Reopening a known file
// (startup recovery) refreshes its opened time.
func (c *Catalog) SessionOpened(ctx context.Context, name, path string) error {
	now := c.now().UnixMilli()
	created := now
	if t, ok := storage.ParseSessionName(name); ok {
		created = t.UnixMilli()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, path, created_at, opened_at, deleted_at, pid)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(name) DO UPDATE SET
			path = excluded.path,
			opened_at = excluded.opened_at,
			deleted_at = 0,
			pid = excluded.pid
	`, uuid.NewString(), name, path, created, now, c.pid)
	if err != nil {
		return fmt.Errorf("catalog: record opened %s: %w", name, err)
	}
	catalogLog.Debug("session_recorded", slog.String("file", name))
	return nil
}

// SessionRemoved marks a session file as deleted. Unknown names are
// recorded so the catalog still shows them.
func (c *Catalog) SessionRemoved(ctx context.Context, name string) error {
	now := c.now().UnixMilli()
	res, err := c.db.ExecContext(ctx,
		`UPDATE sessions SET deleted_at = ? WHERE name = ? AND deleted_at = 0`, now, name)
	if err != nil {
		return fmt.Errorf("catalog: record removed %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	created := now
	if t, ok := storage.ParseSessionName(name); ok {
		created = t.UnixMilli()
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, path, created_at, opened_at, deleted_at, pid)
		VALUES (?, ?, '', ?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, uuid.NewString(), name, created, created, now, c.pid)
	if err != nil {
		return fmt.Errorf("catalog: record removed %s: %w", name, err)
	}
	return nil
}

// RecordExport stores an export of the named session.
func (c *Catalog) RecordExport(ctx context.Context, e ExportRow) error {
	var sessionID string
	err := c.db.QueryRowContext(ctx, `SELECT id FROM sessions WHERE name = ?`, e.Session).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, e.Session)
	}
	if err != nil {
		return fmt.Errorf("catalog: lookup %s: %w", e.Session, err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = c.now()
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO exports (id, session_id, created_at, bytes, include_timestamps)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, sessionID, e.CreatedAt.UnixMilli(), int64(e.Bytes), boolToInt(e.IncludeTimestamps))
	if err != nil {
		return fmt.Errorf("catalog: record export: %w", err)
	}
	return nil
}

// Sessions returns catalogued sessions, newest first.
func (c *Catalog) Sessions(ctx context.Context, includeDeleted bool) ([]SessionRow, error) {
	query := `
		SELECT s.id, s.name, s.path, s.created_at, s.opened_at, s.deleted_at, s.pid,
			(SELECT COUNT(*) FROM exports e WHERE e.session_id = s.id)
		FROM sessions s`
	if !includeDeleted {
		query += ` WHERE s.deleted_at = 0`
	}
	query += ` ORDER BY s.created_at DESC, s.name DESC`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		var created, opened, deleted int64
		if err := rows.Scan(&r.ID, &r.Name, &r.Path, &created, &opened, &deleted, &r.PID, &r.Exports); err != nil {
			return nil, fmt.Errorf("catalog: scan: %w", err)
		}
		r.CreatedAt = time.UnixMilli(created)
		r.OpenedAt = time.UnixMilli(opened)
		if deleted != 0 {
			r.DeletedAt = time.UnixMilli(deleted)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Exports returns the exports of one session, newest first.
func (c *Catalog) Exports(ctx context.Context, session string) ([]ExportRow, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT e.id, s.name, e.created_at, e.bytes, e.include_timestamps
		FROM exports e JOIN sessions s ON s.id = e.session_id
		WHERE s.name = ?
		ORDER BY e.created_at DESC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("catalog: exports: %w", err)
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		var r ExportRow
		var created, size int64
		var withTS int
		if err := rows.Scan(&r.ID, &r.Session, &created, &size, &withTS); err != nil {
			return nil, fmt.Errorf("catalog: scan: %w", err)
		}
		r.CreatedAt = time.UnixMilli(created)
		r.Bytes = uint64(size)
		r.IncludeTimestamps = withTS != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune drops deleted sessions older than cutoff along with their exports.
func (c *Catalog) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE deleted_at != 0 AND deleted_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("catalog: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		catalogLog.Info("catalog_pruned", slog.Int64("sessions", n))
	}
	return int(n), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
