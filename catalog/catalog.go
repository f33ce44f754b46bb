// Package catalog records stored frames in PostgreSQL.
package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roverscope.com/camserver/frame"
)

// Catalog is a PostgreSQL-backed ledger of stored frames.
type Catalog struct {
	pool *pgxpool.Pool
}

// New connects to the database and ensures the schema exists.
func New(ctx context.Context, connString string) (*Catalog, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	// Auto-migration
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return &Catalog{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS frames (
			name TEXT PRIMARY KEY,
			device TEXT NOT NULL DEFAULT '',
			sequence_hint TEXT NOT NULL DEFAULT '',
			width INT NOT NULL,
			height INT NOT NULL,
			size_bytes INT NOT NULL,
			request_id TEXT NOT NULL,
			stored_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS frames_stored_at_idx ON frames (stored_at DESC);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

func (c *Catalog) Close() {
	c.pool.Close()
}

// FrameStored inserts rec. A name seen before is left untouched.
func (c *Catalog) FrameStored(ctx context.Context, rec frame.Record) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO frames (name, device, sequence_hint, width, height, size_bytes, request_id, stored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO NOTHING`,
		rec.Name, rec.DeviceID, rec.SequenceHint, int(rec.Width), int(rec.Height), rec.Size, rec.RequestID, rec.StoredAt)
	if err != nil {
		return fmt.Errorf("failed to insert frame %s: %w", rec.Name, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (c *Catalog) Recent(ctx context.Context, limit int) ([]frame.Record, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT name, device, sequence_hint, width, height, size_bytes, request_id, stored_at
		FROM frames
		ORDER BY stored_at DESC, name DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (frame.Record, error) {
		var rec frame.Record
		var width, height int
		err := row.Scan(&rec.Name, &rec.DeviceID, &rec.SequenceHint, &width, &height, &rec.Size, &rec.RequestID, &rec.StoredAt)
		rec.Width = uint16(width)
		rec.Height = uint16(height)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read frames: %w", err)
	}
	return records, nil
}

// Count returns the number of catalogued frames.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.pool.QueryRow(ctx, `SELECT count(*) FROM frames`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
