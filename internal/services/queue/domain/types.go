// Package domain defines durable delivery jobs and queue ports
package domain

import (
	"encoding/json"
	"time"
)

// JobType names the handler a job is dispatched to
type JobType string

const (
	// JobDMDelivery delivers one direct message
	JobDMDelivery JobType = "dm_delivery"

	// JobEmailBroadcast sends one email of a broadcast fan-out
	JobEmailBroadcast JobType = "email_broadcast"
)

// Status is the job lifecycle state
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is a unit of deferred work. Payload stays opaque to the queue;
// only the type's handler decodes it
type Job struct {
	ID          string
	Type        JobType
	Payload     json.RawMessage
	Status      Status
	NextRunAt   time.Time
	Attempts    int
	MaxAttempts int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DMPayload is the dm_delivery job body
type DMPayload struct {
	CreatorID     string `json:"creator_id"`
	RecipientID   string `json:"recipient_id"`
	RecipientName string `json:"recipient_name,omitempty"`
	Text          string `json:"text"`
	RuleID        string `json:"rule_id,omitempty"`
	SourceTag     string `json:"source_tag,omitempty"`
}

// EmailPayload is the email_broadcast job body
type EmailPayload struct {
	CreatorID string `json:"creator_id"`
	Email     string `json:"email"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Enqueue describes one job to insert. A zero RunAt means "now"
type Enqueue struct {
	Type    JobType
	Payload any
	RunAt   time.Time
}

// DrainResult summarizes one worker pass
type DrainResult struct {
	Claimed   int
	Completed int
	Retried   int
	Failed    int
}
