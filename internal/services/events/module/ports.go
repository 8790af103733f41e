package module

import "replyloop/internal/services/events/domain"

// Ports exposed by the events module
type Ports struct {
	Intake domain.IntakePort
}
