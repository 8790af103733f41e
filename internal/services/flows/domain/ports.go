package domain

import "context"

// ExecutorPort advances or starts conversations for inbound messages.
// HandleInbound reports handled=false when no session exists and no flow
// entry trigger matches, in which case the caller falls through to rules
type ExecutorPort interface {
	HandleInbound(ctx context.Context, in Inbound) (handled bool, err error)
}
