package module

import "replyloop/internal/services/ratelimit/domain"

// Ports exposed by the ratelimit module
type Ports struct {
	Limiter domain.LimiterPort
}
