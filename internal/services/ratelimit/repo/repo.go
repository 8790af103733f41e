// Package repo provides the rate counter persistence surface
package repo

import (
	"context"
	"time"

	"replyloop/internal/modkit/repokit"
)

// Repo is the counter store used by the limiter service
type Repo interface {
	// IncrementWindow bumps the counter for (key, windowStart) and returns
	// the post-increment count. Insert and increment are one statement so
	// concurrent callers never lose an increment
	IncrementWindow(ctx context.Context, key string, windowStart time.Time) (int64, error)

	// PruneBefore deletes counters for windows that started before cutoff
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type (
	// PG is a Postgres implementation of the rate counter repo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a binder for the Postgres implementation
func NewPG() repokit.Binder[Repo] { return PG{} }

// Bind attaches a Queryer to the Postgres implementation
func (PG) Bind(q repokit.Queryer) Repo { return &queries{q: q} }

func (r *queries) IncrementWindow(ctx context.Context, key string, windowStart time.Time) (int64, error) {
	const sql = `
		INSERT INTO rate_counters (key, window_start, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (key, window_start)
		DO UPDATE SET count = rate_counters.count + 1
		RETURNING count
	`
	var count int64
	if err := r.q.QueryRow(ctx, sql, key, windowStart).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *queries) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const sql = `DELETE FROM rate_counters WHERE window_start < $1`
	tag, err := r.q.Exec(ctx, sql, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
