package module

import dom "replyloop/internal/services/rules/domain"

// Ports holds the ports exposed by the rules module
type Ports struct {
	Matcher dom.MatcherPort
}
