package domain

import (
	"context"
	"time"
)

// DispatcherPort sends signed event payloads to subscriber endpoints
type DispatcherPort interface {
	// Dispatch fans an event out to every active endpoint of the creator
	// subscribed to eventType. No matching endpoint is a silent no-op
	Dispatch(ctx context.Context, creatorID, eventType string, payload any) (Result, error)

	// Retry re-signs and re-sends a delivery's original stored payload,
	// mutating the same record
	Retry(ctx context.Context, endpointID, deliveryID string) (Delivery, error)

	// Test sends a synthetic test.ping through the regular delivery path
	Test(ctx context.Context, endpointID string) (Delivery, error)

	// RunDue retries deliveries whose next_retry_at has passed
	RunDue(ctx context.Context, now time.Time) (Result, error)
}

// RegistryPort manages endpoints and exposes delivery history
type RegistryPort interface {
	CreateEndpoint(ctx context.Context, args CreateEndpoint) (Endpoint, error)
	ListEndpoints(ctx context.Context, creatorID string) ([]Endpoint, error)
	DeleteEndpoint(ctx context.Context, creatorID, endpointID string) error
	Deliveries(ctx context.Context, creatorID string, limit int) ([]Delivery, error)
}
