package cache

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/904critic-tech/pawnbroker-pro/pkg/logger"
)

// SQLite persists cache entries across restarts. Useful when the process
// is restarted often and outbound scraping is expensive.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(dbPath string, now func() time.Time) (*SQLite, error) {
	if now == nil {
		now = time.Now
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			key        TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			expires_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db, now: now}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool) {
	var data []byte
	var expiresAt time.Time

	err := s.db.QueryRowContext(ctx,
		`SELECT data, expires_at FROM entries WHERE key = ?`, key,
	).Scan(&data, &expiresAt)
	if err != nil {
		return nil, false
	}

	if s.now().After(expiresAt) {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
			slog.Warn("cache: failed to evict expired entry", slog.String("key", key), logger.Err(err))
		}
		return nil, false
	}

	return data, true
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (key, data, expires_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(key)
		 DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		key, value, s.now().Add(ttl),
	)
	if err != nil {
		slog.Warn("cache: failed to store entry", slog.String("key", key), logger.Err(err))
	}
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
