// Package domain defines conversational flows, sessions, and ports
package domain

import "time"

// StepType discriminates flow step behavior
type StepType string

const (
	// StepMessage sends content and advances to the next step
	StepMessage StepType = "message"

	// StepQuestion sends a free-text prompt; any reply advances
	StepQuestion StepType = "question"

	// StepEmailCollect validates the inbound text as an email address
	StepEmailCollect StepType = "email_collect"

	// StepDelay sends its content after DelaySecs instead of immediately
	StepDelay StepType = "delay"
)

// Step is one node of a scripted conversation
type Step struct {
	ID         string   `json:"id"`
	Type       StepType `json:"type"`
	Content    string   `json:"content"`
	RetryText  string   `json:"retry_text,omitempty"`
	NextStepID string   `json:"next_step_id,omitempty"`
	DelaySecs  int64    `json:"delay_secs,omitempty"`
}

// Flow is a creator-configured multi-step conversation
type Flow struct {
	ID              string
	CreatorID       string
	Keyword         string
	Steps           []Step
	Active          bool
	EmailsCollected int64
	CreatedAt       time.Time
}

// StepByID finds a step in the flow definition
func (f Flow) StepByID(id string) (Step, bool) {
	for _, s := range f.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Session is the per-(recipient, creator) conversation state.
// While one exists, inbound messages bypass rule matching entirely
type Session struct {
	RecipientID    string
	CreatorID      string
	FlowID         string
	CurrentStepID  string
	AccessToken    string
	PlatformUserID string
	CreatedAt      time.Time
}

// Inbound is a message from a recipient inside or entering a flow
type Inbound struct {
	CreatorID  string
	SenderID   string
	SenderName string
	Text       string
}
