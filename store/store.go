// Package store persists share records and daemon key/value state in a
// single SQLite file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sonnes/cgshare/share"
)

// ErrNotFound is returned when a share row does not exist. It is
// share.ErrShareNotFound so the service can match it.
var ErrNotFound = share.ErrShareNotFound

const schema = `
CREATE TABLE IF NOT EXISTS shares (
	id            TEXT PRIMARY KEY,
	session_path  TEXT NOT NULL,
	session_name  TEXT NOT NULL,
	public_url    TEXT NOT NULL DEFAULT '',
	provider_name TEXT NOT NULL,
	local_port    INTEGER NOT NULL DEFAULT 0,
	started_at    INTEGER NOT NULL,
	status        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS shares_status_started_at ON shares (status, started_at);

CREATE TABLE IF NOT EXISTS daemon_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store is safe for concurrent use. SQLite allows a single writer, so every
// operation holds one mutex and the pool is limited to one connection.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates the database at path, creating parent directories.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=synchronous(normal)"
	return open(dsn)
}

// OpenMemory opens a private in-memory database.
func OpenMemory() (*Store, error) {
	return open(":memory:")
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// InsertShare adds a new share row.
func (s *Store) InsertShare(ctx context.Context, info share.Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shares (id, session_path, session_name, public_url, provider_name, local_port, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID.String(), info.SessionPath, info.SessionName, info.PublicURL,
		info.ProviderName, info.LocalPort, info.StartedAt.UnixMilli(), info.Status.String())
	if err != nil {
		return fmt.Errorf("insert share %s: %w", info.ID, err)
	}
	return nil
}

const shareColumns = `id, session_path, session_name, public_url, provider_name, local_port, started_at, status`

// GetShare returns the share with id, or ErrNotFound.
func (s *Store) GetShare(ctx context.Context, id share.ID) (share.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE id = ?`, id.String())
	info, err := scanShare(row)
	if errors.Is(err, sql.ErrNoRows) {
		return share.Info{}, fmt.Errorf("share %s: %w", id, ErrNotFound)
	}
	return info, err
}

// UpdateShareStatus sets the status of one share.
func (s *Store) UpdateShareStatus(ctx context.Context, id share.ID, status share.Status) error {
	return s.update(ctx, id, `UPDATE shares SET status = ? WHERE id = ?`, status.String(), id.String())
}

// UpdateShareActive records the public URL and port and marks the share
// active.
func (s *Store) UpdateShareActive(ctx context.Context, id share.ID, publicURL string, port int) error {
	return s.update(ctx, id, `UPDATE shares SET public_url = ?, local_port = ?, status = ? WHERE id = ?`,
		publicURL, port, share.StatusActive.String(), id.String())
}

// SetSharePort records the local port of a share.
func (s *Store) SetSharePort(ctx context.Context, id share.ID, port int) error {
	return s.update(ctx, id, `UPDATE shares SET local_port = ? WHERE id = ?`, port, id.String())
}

func (s *Store) update(ctx context.Context, id share.ID, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update share %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update share %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("share %s: %w", id, ErrNotFound)
	}
	return nil
}

// TransitionShares moves every share whose status is one of from to to and
// returns how many rows changed.
func (s *Store) TransitionShares(ctx context.Context, to share.Status, from ...share.Status) (int64, error) {
	if len(from) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	args := []any{to.String()}
	args = append(args, statusArgs(from)...)
	res, err := s.db.ExecContext(ctx,
		`UPDATE shares SET status = ? WHERE status IN (`+placeholders(len(from))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("transition shares to %s: %w", to, err)
	}
	return res.RowsAffected()
}

// ListShares returns every share, newest first.
func (s *Store) ListShares(ctx context.Context) ([]share.Info, error) {
	return s.list(ctx, `SELECT `+shareColumns+` FROM shares ORDER BY started_at DESC, id`)
}

// ListSharesByStatus returns shares in any of the given statuses, newest
// first.
func (s *Store) ListSharesByStatus(ctx context.Context, statuses ...share.Status) ([]share.Info, error) {
	if len(statuses) == 0 {
		return []share.Info{}, nil
	}
	return s.list(ctx,
		`SELECT `+shareColumns+` FROM shares WHERE status IN (`+placeholders(len(statuses))+`) ORDER BY started_at DESC, id`,
		statusArgs(statuses)...)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]share.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	out := []share.Info{}
	for rows.Next() {
		info, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	return out, nil
}

// DeleteTerminalSharesBefore deletes stopped and errored shares that started
// before cutoff and returns how many were removed.
func (s *Store) DeleteTerminalSharesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM shares WHERE status IN (?, ?) AND started_at < ?`,
		share.StatusStopped.String(), share.StatusError.String(), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete old shares: %w", err)
	}
	return res.RowsAffected()
}

// SetState stores value under key, replacing any previous value.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daemon_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set state %q: %w", key, err)
	}
	return nil
}

// GetState returns the value under key. ok is false when the key is absent.
func (s *Store) GetState(ctx context.Context, key string) (value string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.QueryRowContext(ctx, `SELECT value FROM daemon_state WHERE key = ?`, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("get state %q: %w", key, err)
	}
	return value, true, nil
}

// DeleteState removes key. Deleting an absent key is not an error.
func (s *Store) DeleteState(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM daemon_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete state %q: %w", key, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanShare(sc scanner) (share.Info, error) {
	var (
		info      share.Info
		id        string
		startedAt int64
		status    string
	)
	if err := sc.Scan(&id, &info.SessionPath, &info.SessionName, &info.PublicURL,
		&info.ProviderName, &info.LocalPort, &startedAt, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return info, err
		}
		return info, fmt.Errorf("scan share: %w", err)
	}

	var err error
	if info.ID, err = share.ParseID(id); err != nil {
		return share.Info{}, fmt.Errorf("decode share row: %w", err)
	}
	if info.Status, err = share.ParseStatus(status); err != nil {
		return share.Info{}, fmt.Errorf("decode share %s: %w", id, err)
	}
	info.StartedAt = time.UnixMilli(startedAt).UTC()
	return info, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func statusArgs(statuses []share.Status) []any {
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st.String()
	}
	return args
}
