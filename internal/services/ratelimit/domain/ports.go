// Package domain defines the rate limiter port
package domain

import (
	"context"
	"time"
)

// Decision is what a limit check returns
type Decision struct {
	Allowed   bool
	Count     int64
	Remaining int64
}

// LimiterPort answers "is this action allowed right now" for an arbitrary
// string key under a fixed-window limit
type LimiterPort interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (Decision, error)
}
