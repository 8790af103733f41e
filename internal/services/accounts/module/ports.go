package module

import dom "replyloop/internal/services/accounts/domain"

// Ports holds the ports exposed by the accounts module
type Ports struct {
	Reader    dom.ReaderPort
	Refresher dom.RefresherPort
}
