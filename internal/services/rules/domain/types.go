// Package domain defines trigger rules, inbound events, and matcher ports
package domain

import (
	"time"

	"replyloop/internal/core/match"
)

// FollowGateConfig is the per-rule follow-gate sub-object
type FollowGateConfig struct {
	Enabled          bool
	NonFollowerReply string
	PostFollowDM     string
	CheckWindow      time.Duration
}

// TriggerRule is a creator-configured keyword automation
type TriggerRule struct {
	ID             string
	CreatorID      string
	Keyword        string
	MatchMode      match.Mode
	Surface        match.Surface
	PostID         string
	CaseSensitive  bool
	Priority       int
	ReplyTemplates []string
	LastVariant    int
	DMTemplate     string
	FollowGate     FollowGateConfig
	DMOncePerUser  bool
	DailyLimit     int
	Active         bool
	CreatedAt      time.Time

	TotalTriggered     int64
	TotalDMsSent       int64
	TotalGateBlocked   int64
	TotalGateConverted int64
}

// InboundEvent is a comment or DM arriving from the platform webhook
type InboundEvent struct {
	CreatorID  string
	Surface    match.Surface
	SenderID   string
	SenderName string
	Text       string
	PostID     string
	CommentID  string
}

// Outcome classifies what handling an event did
type Outcome string

const (
	// OutcomeUnhandled means no active rule matched
	OutcomeUnhandled Outcome = "unhandled"

	// OutcomeDMSent means the DM was delivered
	OutcomeDMSent Outcome = "dm_sent"

	// OutcomeSkippedOnce means dm_once_per_user suppressed a repeat DM
	OutcomeSkippedOnce Outcome = "skipped_dm_once"

	// OutcomeSkippedDailyCap means the rule's daily limit was reached
	OutcomeSkippedDailyCap Outcome = "skipped_daily_cap"

	// OutcomeRateLimited means the per-creator send limiter said no
	OutcomeRateLimited Outcome = "rate_limited"

	// OutcomeGatePending means the recipient must follow first
	OutcomeGatePending Outcome = "gate_pending"

	// OutcomeGateConverted means an already-following recipient got the gated DM
	OutcomeGateConverted Outcome = "gate_converted"

	// OutcomeFailed means delivery failed after the gateway's own retries
	OutcomeFailed Outcome = "failed"
)

// Result is what handling an inbound event produced
type Result struct {
	Outcome   Outcome
	RuleID    string
	MessageID string
}
