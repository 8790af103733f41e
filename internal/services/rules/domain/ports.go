package domain

import "context"

// MatcherPort evaluates an inbound event against the creator's rules and
// executes the matched action
type MatcherPort interface {
	HandleEvent(ctx context.Context, ev InboundEvent) (Result, error)
}
