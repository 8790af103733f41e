package domain

import (
	"context"
	"time"
)

// ReaderPort resolves the account used to act on a creator's behalf
type ReaderPort interface {
	AccountByCreator(ctx context.Context, creatorID string) (Account, error)
}

// RefresherPort renews long-lived tokens that are close to expiry
type RefresherPort interface {
	RefreshExpiring(ctx context.Context, now time.Time) (RefreshResult, error)
}
