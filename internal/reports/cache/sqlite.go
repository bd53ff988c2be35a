package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS report_cache (
	cache_key  TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_report_cache_expires ON report_cache(expires_at);
`

// SQLiteBackend persists JSON-encoded entries in a single SQLite file.
// Values come back as json.RawMessage.
type SQLiteBackend struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLite opens or creates the cache database at path
func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteBackend{db: db, path: path, now: time.Now}, nil
}

// Close closes the database connection
func (s *SQLiteBackend) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path
func (s *SQLiteBackend) Path() string {
	return s.path
}

func (s *SQLiteBackend) Get(ctx context.Context, key string) (any, bool, error) {
	var (
		raw       []byte
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM report_cache WHERE cache_key = ?", key,
	).Scan(&raw, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}

	if expiresAt > 0 && s.now().UnixNano() >= expiresAt {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM report_cache WHERE cache_key = ?", key); err != nil {
			return nil, false, fmt.Errorf("evict cache entry: %w", err)
		}
		return nil, false, nil
	}
	return json.RawMessage(raw), true, nil
}

func (s *SQLiteBackend) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	now := s.now()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now.Add(ttl).UnixNano()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO report_cache (cache_key, value, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		key, raw, now.UnixNano(), expiresAt)
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM report_cache WHERE cache_key = ?", key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Clear(ctx context.Context, pattern string) (int, error) {
	prefix := strings.TrimSuffix(pattern, "*")

	var (
		res sql.Result
		err error
	)
	if prefix == "" {
		res, err = s.db.ExecContext(ctx, "DELETE FROM report_cache")
	} else {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM report_cache WHERE cache_key LIKE ? ESCAPE '\'`,
			escapeLike(prefix)+"%")
	}
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CleanupExpired deletes expired rows
func (s *SQLiteBackend) CleanupExpired() int {
	res, err := s.db.Exec(
		"DELETE FROM report_cache WHERE expires_at > 0 AND expires_at <= ?",
		s.now().UnixNano())
	if err != nil {
		return 0
	}
	n, _ := res.RowsAffected()
	return int(n)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
