package domain

import (
	"context"
	"time"
)

// EnqueuePort accepts deferred work
type EnqueuePort interface {
	// Enqueue inserts one pending job and returns its id
	Enqueue(ctx context.Context, job Enqueue) (string, error)

	// EnqueueFanOut inserts a batch with per-item next_run_at offsets so
	// a broadcast does not burst into the downstream rate limit
	EnqueueFanOut(ctx context.Context, jobs []Enqueue, stagger time.Duration) ([]string, error)
}

// DrainPort processes one bounded batch of due jobs
type DrainPort interface {
	Drain(ctx context.Context, now time.Time) (DrainResult, error)
}
