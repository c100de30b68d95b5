package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sjsage522/marketworker/internal/crawler"
	"sjsage522/marketworker/logger"
	"sjsage522/marketworker/pkg/errors"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS search_runs (
	id BIGSERIAL PRIMARY KEY,
	city TEXT NOT NULL,
	product_query TEXT NOT NULL,
	location_code TEXT NOT NULL,
	min_price INTEGER NOT NULL,
	max_price INTEGER NOT NULL,
	match_mode TEXT NOT NULL,
	status TEXT NOT NULL,
	winning_pairing TEXT,
	diagnostics TEXT[] NOT NULL DEFAULT '{}',
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS listings (
	id BIGSERIAL PRIMARY KEY,
	run_id BIGINT NOT NULL REFERENCES search_runs(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	title TEXT NOT NULL,
	price INTEGER NOT NULL,
	price_display_text TEXT,
	location TEXT,
	url TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_listings_run ON listings(run_id);
CREATE INDEX IF NOT EXISTS idx_listings_price ON listings(price);
`

const insertRunSQL = `
INSERT INTO search_runs (city, product_query, location_code, min_price, max_price, match_mode, status, winning_pairing, diagnostics, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id
`

const insertListingSQL = `
INSERT INTO listings (run_id, position, title, price, price_display_text, location, url)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// PostgresStore persists search outcomes and their listings
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and checks the connection
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.NewStorage("postgres", "failed to create pool", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.NewStorage("postgres", "failed to connect", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables when they do not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return errors.NewStorage("postgres", "failed to ensure schema", err)
	}
	return nil
}

// SaveOutcome stores one run row and its listings in a single transaction.
// Exhausted outcomes are stored with their diagnostics and no listings.
func (s *PostgresStore) SaveOutcome(ctx context.Context, outcome crawler.SearchOutcome) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.NewStorage("postgres", "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	var runID int64
	err = tx.QueryRow(ctx, insertRunSQL, runArgs(outcome)...).Scan(&runID)
	if err != nil {
		return errors.NewStorage("postgres", "failed to insert run", err)
	}

	rows := listingRows(runID, outcome.Records)
	if len(rows) > 0 {
		batch := &pgx.Batch{}
		for _, args := range rows {
			batch.Queue(insertListingSQL, args...)
		}

		results := tx.SendBatch(ctx, batch)
		for i := range rows {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return errors.NewStorage("postgres", fmt.Sprintf("batch insert failed at row %d", i), err)
			}
		}
		if err := results.Close(); err != nil {
			return errors.NewStorage("postgres", "failed to close batch", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.NewStorage("postgres", "failed to commit", err)
	}

	logger.ForStore().Debug().
		Int64("run_id", runID).
		Str("search", outcome.Spec.String()).
		Int("listings", len(rows)).
		Msg("Outcome stored")
	return nil
}

// CountListings returns the number of listings stored for a run
func (s *PostgresStore) CountListings(ctx context.Context, runID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM listings WHERE run_id = $1`, runID).Scan(&n)
	if err != nil {
		return 0, errors.NewStorage("postgres", "failed to count listings", err)
	}
	return n, nil
}

func runArgs(outcome crawler.SearchOutcome) []any {
	var winning *string
	if outcome.WinningPairing != "" {
		w := outcome.WinningPairing
		winning = &w
	}
	diagnostics := outcome.Diagnostics
	if diagnostics == nil {
		diagnostics = []string{}
	}
	spec := outcome.Spec
	return []any{
		spec.City,
		spec.ProductQuery,
		spec.LocationCode,
		spec.MinPrice,
		spec.MaxPrice,
		spec.MatchMode.String(),
		string(outcome.Status),
		winning,
		diagnostics,
		outcome.StartedAt,
		outcome.FinishedAt,
	}
}

// listingRows keeps input order and skips records without a title
func listingRows(runID int64, records []crawler.ListingRecord) [][]any {
	rows := make([][]any, 0, len(records))
	for i, r := range records {
		title := strings.TrimSpace(r.Title)
		if title == "" {
			continue
		}
		rows = append(rows, []any{
			runID,
			i,
			title,
			r.Price,
			strings.TrimSpace(r.PriceDisplayText),
			strings.TrimSpace(r.Location),
			strings.TrimSpace(r.URL),
		})
	}
	return rows
}
