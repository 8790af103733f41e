// Package service implements the fixed-window rate limiter
package service

import (
	"context"
	"time"

	"replyloop/internal/modkit"
	"replyloop/internal/modkit/repokit"
	perr "replyloop/internal/platform/errors"
	"replyloop/internal/services/ratelimit/domain"
	"replyloop/internal/services/ratelimit/repo"
)

// Service answers limit checks against the shared counter store
type Service struct {
	deps   modkit.Deps
	binder repokit.Binder[repo.Repo]
}

// New constructs the limiter service
func New(deps modkit.Deps) *Service {
	return &Service{deps: deps, binder: repo.NewPG()}
}

// Allow increments the counter for key's current window and reports whether
// the action is still inside the limit. The increment happens even when the
// answer is no; windows are short-lived so the overshoot is bounded
func (s *Service) Allow(
	ctx context.Context, key string, limit int64, window time.Duration, now time.Time,
) (domain.Decision, error) {
	if key == "" || limit <= 0 || window <= 0 {
		return domain.Decision{}, perr.InvalidArgf("rate limit key, limit, and window are required")
	}

	windowStart := now.UTC().Truncate(window)

	var count int64
	err := s.deps.PG.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		count, err = s.binder.Bind(q).IncrementWindow(ctx, key, windowStart)
		return err
	})
	if err != nil {
		return domain.Decision{}, perr.Wrapf(err, perr.ErrorCodeDB, "rate counter increment")
	}

	d := domain.Decision{Allowed: count <= limit, Count: count}
	if remaining := limit - count; remaining > 0 {
		d.Remaining = remaining
	}
	return d, nil
}

// Prune drops counters older than keep, called from the sweeper
func (s *Service) Prune(ctx context.Context, now time.Time, keep time.Duration) (int64, error) {
	var n int64
	err := s.deps.PG.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		n, err = s.binder.Bind(q).PruneBefore(ctx, now.UTC().Add(-keep))
		return err
	})
	return n, err
}
