package module

import "replyloop/internal/services/queue/domain"

// Ports exposed by the queue module
type Ports struct {
	Enqueue domain.EnqueuePort
	Drainer domain.DrainPort
}
