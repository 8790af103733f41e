package module

import dom "replyloop/internal/services/followgate/domain"

// Ports holds the ports exposed by the follow-gate module
type Ports struct {
	Gate    dom.GatePort
	Sweeper dom.SweeperPort
}
