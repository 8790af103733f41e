// Package repo provides webhook endpoint and delivery persistence
package repo

import (
	"context"
	"time"

	"replyloop/internal/modkit/repokit"
	"replyloop/internal/services/webhooks/domain"
)

// Repo is the webhook store used by the service layer
type Repo interface {
	InsertEndpoint(ctx context.Context, e domain.Endpoint) error
	EndpointByID(ctx context.Context, id string) (domain.Endpoint, error)
	ListEndpoints(ctx context.Context, creatorID string) ([]domain.Endpoint, error)
	DeleteEndpoint(ctx context.Context, creatorID, id string) (bool, error)

	// ActiveEndpoints returns the creator's active endpoints, oldest first
	ActiveEndpoints(ctx context.Context, creatorID string) ([]domain.Endpoint, error)

	// TouchEndpoint stamps last_delivery_at and last_status_code
	TouchEndpoint(ctx context.Context, id string, statusCode int, now time.Time) error

	InsertDelivery(ctx context.Context, d domain.Delivery) error
	DeliveryByID(ctx context.Context, id string) (domain.Delivery, error)
	ListDeliveries(ctx context.Context, creatorID string, limit int) ([]domain.Delivery, error)

	// MarkDelivered finalizes a successful attempt and clears next_retry_at
	MarkDelivered(ctx context.Context, id string, attempts, code int, body string, now time.Time) error

	// MarkFailed records a failed attempt. A nil nextRetryAt exhausts retries
	MarkFailed(ctx context.Context, id string, attempts, code int, body string, nextRetryAt *time.Time, now time.Time) error

	// ClaimDue atomically leases a bounded batch of undelivered rows whose
	// next_retry_at has passed, pushing next_retry_at to leaseUntil so
	// overlapping dispatch runs never pick up the same row. A finished
	// attempt overwrites the lease; a crashed run's lease lapses on its own
	ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]domain.Delivery, error)
}

type (
	// PG is a Postgres implementation of the webhook repo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a binder for the Postgres implementation
func NewPG() repokit.Binder[Repo] { return PG{} }

// Bind attaches a Queryer to the Postgres implementation
func (PG) Bind(q repokit.Queryer) Repo { return &queries{q: q} }

const endpointCols = `id, creator_id, url, secret, event_types, active, last_delivery_at, last_status_code, created_at`

func scanEndpoint(row repokit.Row) (domain.Endpoint, error) {
	var e domain.Endpoint
	err := row.Scan(
		&e.ID, &e.CreatorID, &e.URL, &e.Secret, &e.EventTypes,
		&e.Active, &e.LastDeliveryAt, &e.LastStatusCode, &e.CreatedAt,
	)
	return e, err
}

func (r *queries) InsertEndpoint(ctx context.Context, e domain.Endpoint) error {
	const sql = `
		INSERT INTO webhook_endpoints (` + endpointCols + `)
		VALUES ($1, $2, $3, $4, $5, TRUE, NULL, 0, $6)
	`
	_, err := r.q.Exec(ctx, sql, e.ID, e.CreatorID, e.URL, e.Secret, e.EventTypes, e.CreatedAt)
	return err
}

func (r *queries) EndpointByID(ctx context.Context, id string) (domain.Endpoint, error) {
	const sql = `SELECT ` + endpointCols + ` FROM webhook_endpoints WHERE id = $1`
	return scanEndpoint(r.q.QueryRow(ctx, sql, id))
}

func (r *queries) ListEndpoints(ctx context.Context, creatorID string) ([]domain.Endpoint, error) {
	const sql = `
		SELECT ` + endpointCols + `
		FROM webhook_endpoints
		WHERE creator_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.q.Query(ctx, sql, creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *queries) DeleteEndpoint(ctx context.Context, creatorID, id string) (bool, error) {
	const sql = `DELETE FROM webhook_endpoints WHERE id = $1 AND creator_id = $2`
	tag, err := r.q.Exec(ctx, sql, id, creatorID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *queries) ActiveEndpoints(ctx context.Context, creatorID string) ([]domain.Endpoint, error) {
	const sql = `
		SELECT ` + endpointCols + `
		FROM webhook_endpoints
		WHERE creator_id = $1 AND active
		ORDER BY created_at ASC
	`
	rows, err := r.q.Query(ctx, sql, creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *queries) TouchEndpoint(ctx context.Context, id string, statusCode int, now time.Time) error {
	const sql = `
		UPDATE webhook_endpoints
		SET last_delivery_at = $2, last_status_code = $3
		WHERE id = $1
	`
	_, err := r.q.Exec(ctx, sql, id, now, statusCode)
	return err
}

const deliveryCols = `id, endpoint_id, creator_id, event_type, payload, attempt_count,
	response_code, response_body, delivered_at, next_retry_at, created_at, updated_at`

func scanDelivery(row repokit.Row) (domain.Delivery, error) {
	var d domain.Delivery
	err := row.Scan(
		&d.ID, &d.EndpointID, &d.CreatorID, &d.EventType, &d.Payload, &d.AttemptCount,
		&d.ResponseCode, &d.ResponseBody, &d.DeliveredAt, &d.NextRetryAt, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

func (r *queries) InsertDelivery(ctx context.Context, d domain.Delivery) error {
	const sql = `
		INSERT INTO webhook_deliveries (` + deliveryCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, 0, '', NULL, NULL, $7, $7)
	`
	_, err := r.q.Exec(ctx, sql, d.ID, d.EndpointID, d.CreatorID, d.EventType, d.Payload, d.AttemptCount, d.CreatedAt)
	return err
}

func (r *queries) DeliveryByID(ctx context.Context, id string) (domain.Delivery, error) {
	const sql = `SELECT ` + deliveryCols + ` FROM webhook_deliveries WHERE id = $1`
	return scanDelivery(r.q.QueryRow(ctx, sql, id))
}

func (r *queries) ListDeliveries(ctx context.Context, creatorID string, limit int) ([]domain.Delivery, error) {
	const sql = `
		SELECT ` + deliveryCols + `
		FROM webhook_deliveries
		WHERE creator_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.q.Query(ctx, sql, creatorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *queries) MarkDelivered(ctx context.Context, id string, attempts, code int, body string, now time.Time) error {
	const sql = `
		UPDATE webhook_deliveries
		SET attempt_count = $2, response_code = $3, response_body = $4,
		    delivered_at = $5, next_retry_at = NULL, updated_at = $5
		WHERE id = $1
	`
	_, err := r.q.Exec(ctx, sql, id, attempts, code, body, now)
	return err
}

func (r *queries) MarkFailed(ctx context.Context, id string, attempts, code int, body string, nextRetryAt *time.Time, now time.Time) error {
	const sql = `
		UPDATE webhook_deliveries
		SET attempt_count = $2, response_code = $3, response_body = $4,
		    next_retry_at = $5, updated_at = $6
		WHERE id = $1
	`
	_, err := r.q.Exec(ctx, sql, id, attempts, code, body, nextRetryAt, now)
	return err
}

func (r *queries) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]domain.Delivery, error) {
	const sql = `
		UPDATE webhook_deliveries
		SET next_retry_at = $2, updated_at = $1
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE delivered_at IS NULL AND next_retry_at IS NOT NULL AND next_retry_at <= $1
			ORDER BY next_retry_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + deliveryCols
	rows, err := r.q.Query(ctx, sql, now, leaseUntil, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
