package domain

import (
	"context"
	"time"
)

// GatePort defers DMs behind a follow condition.
// Create reports created=false when a pending record already exists for
// the (recipient, rule) pair, which callers treat as a quiet no-op
type GatePort interface {
	Create(ctx context.Context, args CreatePending) (created bool, err error)
}

// SweeperPort re-checks pending followers and expires stale ones
type SweeperPort interface {
	Sweep(ctx context.Context, now time.Time) (SweepResult, error)
}
