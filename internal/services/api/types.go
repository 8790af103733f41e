package api

import (
	"time"

	eventdom "replyloop/internal/services/events/domain"
	whdom "replyloop/internal/services/webhooks/domain"
)

// eventRequest is the inbound platform event envelope
type eventRequest struct {
	CreatorID  string `json:"creator_id" validate:"required"`
	Surface    string `json:"surface" validate:"required,oneof=comment dm"`
	SenderID   string `json:"sender_id" validate:"required"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text" validate:"required"`
	PostID     string `json:"post_id"`
	CommentID  string `json:"comment_id"`
}

type eventResponse struct {
	Source    eventdom.Source `json:"source"`
	Outcome   string          `json:"outcome,omitempty"`
	RuleID    string          `json:"rule_id,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
}

// endpointRequest registers a webhook subscriber
type endpointRequest struct {
	CreatorID  string   `json:"creator_id" validate:"required"`
	URL        string   `json:"url" validate:"required,url"`
	Secret     string   `json:"secret" validate:"required,min=8"`
	EventTypes []string `json:"event_types" validate:"required,min=1,dive,required"`
}

type endpointResponse struct {
	ID             string     `json:"id"`
	CreatorID      string     `json:"creator_id"`
	URL            string     `json:"url"`
	EventTypes     []string   `json:"event_types"`
	Active         bool       `json:"active"`
	LastDeliveryAt *time.Time `json:"last_delivery_at,omitempty"`
	LastStatusCode int        `json:"last_status_code,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toEndpointResponse(e whdom.Endpoint) endpointResponse {
	return endpointResponse{
		ID:             e.ID,
		CreatorID:      e.CreatorID,
		URL:            e.URL,
		EventTypes:     e.EventTypes,
		Active:         e.Active,
		LastDeliveryAt: e.LastDeliveryAt,
		LastStatusCode: e.LastStatusCode,
		CreatedAt:      e.CreatedAt,
	}
}

type deliveryResponse struct {
	ID           string     `json:"id"`
	EndpointID   string     `json:"endpoint_id"`
	EventType    string     `json:"event_type"`
	AttemptCount int        `json:"attempt_count"`
	ResponseCode int        `json:"response_code,omitempty"`
	ResponseBody string     `json:"response_body,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func toDeliveryResponse(d whdom.Delivery) deliveryResponse {
	return deliveryResponse{
		ID:           d.ID,
		EndpointID:   d.EndpointID,
		EventType:    d.EventType,
		AttemptCount: d.AttemptCount,
		ResponseCode: d.ResponseCode,
		ResponseBody: d.ResponseBody,
		DeliveredAt:  d.DeliveredAt,
		NextRetryAt:  d.NextRetryAt,
		CreatedAt:    d.CreatedAt,
	}
}

// dispatchRequest hands a domain event to the webhook dispatcher
type dispatchRequest struct {
	CreatorID string         `json:"creator_id" validate:"required"`
	EventType string         `json:"event_type" validate:"required"`
	Payload   map[string]any `json:"payload" validate:"required"`
}
