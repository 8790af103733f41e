package module

import "replyloop/internal/services/webhooks/domain"

// Ports exposed by the webhooks module
type Ports struct {
	Dispatcher domain.DispatcherPort
	Registry   domain.RegistryPort
}
