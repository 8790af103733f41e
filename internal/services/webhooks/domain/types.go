// Package domain defines webhook endpoints, delivery records, and ports
package domain

import (
	"encoding/json"
	"time"
)

// Endpoint is a creator-registered webhook subscriber
type Endpoint struct {
	ID             string
	CreatorID      string
	URL            string
	Secret         string
	EventTypes     []string
	Active         bool
	LastDeliveryAt *time.Time
	LastStatusCode int
	CreatedAt      time.Time
}

// Subscribed reports whether the endpoint wants the event type
func (e Endpoint) Subscribed(eventType string) bool {
	for _, t := range e.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// CreateEndpoint is the registration request
type CreateEndpoint struct {
	CreatorID  string
	URL        string
	Secret     string
	EventTypes []string
}

// Delivery is one logical event delivery to one endpoint. Retries mutate
// this record in place; no second row is ever written for the same event
type Delivery struct {
	ID           string
	EndpointID   string
	CreatorID    string
	EventType    string
	Payload      json.RawMessage
	AttemptCount int
	ResponseCode int
	ResponseBody string
	DeliveredAt  *time.Time
	NextRetryAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Result tallies the attempts of one dispatch fan-out or retry sweep
type Result struct {
	Attempted int
	Delivered int
	Failed    int
}
