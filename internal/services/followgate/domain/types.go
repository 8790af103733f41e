// Package domain defines the follow-gate pending records and ports
package domain

import "time"

// Status is the lifecycle state of a pending follower
type Status string

const (
	// StatusPending means the recipient has not followed yet
	StatusPending Status = "pending"

	// StatusDMSent means the follow was confirmed and the DM delivered
	StatusDMSent Status = "dm_sent"

	// StatusExpired means the wait window passed without a follow
	StatusExpired Status = "expired"
)

// PendingFollower is a deferred DM waiting on a follow relationship
type PendingFollower struct {
	ID            string
	CreatorID     string
	RecipientID   string
	RecipientName string
	RuleID        string
	DMText        string
	Status        Status
	CheckCount    int
	LastCheckedAt *time.Time
	FollowedAt    *time.Time
	DMSentAt      *time.Time
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// CreatePending holds the arguments to defer a DM behind a follow
type CreatePending struct {
	CreatorID     string
	RecipientID   string
	RecipientName string
	RuleID        string
	DMText        string
	Window        time.Duration
}

// SweepResult summarizes one follow-gate sweep
type SweepResult struct {
	Processed int
	DMsSent   int
	Expired   int
}
