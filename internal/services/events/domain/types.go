// Package domain defines the inbound event intake port
package domain

import (
	"context"

	rulesdom "replyloop/internal/services/rules/domain"
)

// Source names which layer handled an event
type Source string

const (
	// SourceFlow means an active session or flow entry trigger took it
	SourceFlow Source = "flow"

	// SourceRule means rule matching took it
	SourceRule Source = "rule"

	// SourceNone means nothing matched
	SourceNone Source = "none"
)

// Result reports how intake routed an event
type Result struct {
	Source    Source
	Outcome   rulesdom.Outcome
	RuleID    string
	MessageID string
}

// IntakePort is the single entry point for platform events. Delivery
// failures downstream are recorded, never propagated; a non-nil error
// means the event itself was unusable
type IntakePort interface {
	Handle(ctx context.Context, ev rulesdom.InboundEvent) (Result, error)
}
