package module

import "replyloop/internal/services/flows/domain"

// Ports exposed by the flows module
type Ports struct {
	Executor domain.ExecutorPort
}
