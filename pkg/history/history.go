package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/904critic-tech/pawnbroker-pro/pkg/models"
)

// Entry is one recorded estimate for a query.
type Entry struct {
	ID          int64     `json:"id"`
	Query       string    `json:"query"`
	MarketValue float64   `json:"marketValue"`
	PawnValue   float64   `json:"pawnValue"`
	Confidence  float64   `json:"confidence"`
	DataPoints  int       `json:"dataPoints"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store logs successful estimates so price trends can be served later.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	const op = "history.New"

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping failed: %w", op, err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS estimate_history (
			id           BIGSERIAL PRIMARY KEY,
			query        TEXT NOT NULL,
			market_value DOUBLE PRECISION NOT NULL,
			pawn_value   DOUBLE PRECISION NOT NULL,
			confidence   DOUBLE PRECISION NOT NULL,
			data_points  INTEGER NOT NULL,
			source       TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS estimate_history_query_idx
			ON estimate_history (query, created_at DESC);
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ensure schema: %w", op, err)
	}

	return &Store{pool: pool}, nil
}

// Record stores one resolved estimate.
func (s *Store) Record(ctx context.Context, query string, est *models.PriceEstimate) error {
	const op = "history.Record"

	const insert = `
		INSERT INTO estimate_history (query, market_value, pawn_value, confidence, data_points, source)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, insert,
		query, est.MarketValue, est.PawnValue, est.Confidence, est.DataPoints, est.Source)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Entries returns the most recent estimates for query, newest first.
func (s *Store) Entries(ctx context.Context, query string, limit int) ([]Entry, error) {
	const op = "history.Entries"

	if limit <= 0 || limit > 100 {
		limit = 30
	}

	const sel = `
		SELECT id, query, market_value, pawn_value, confidence, data_points, source, created_at
		FROM estimate_history
		WHERE query = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, sel, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Query, &e.MarketValue, &e.PawnValue,
			&e.Confidence, &e.DataPoints, &e.Source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return entries, nil
}

func (s *Store) Close() {
	s.pool.Close()
}
