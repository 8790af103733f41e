// Package repo provides the queue job persistence surface
package repo

import (
	"context"
	"time"

	"replyloop/internal/modkit/repokit"
	"replyloop/internal/services/queue/domain"
)

// Repo is the job store used by the service layer
type Repo interface {
	InsertJob(ctx context.Context, j domain.Job) error

	// ClaimDue atomically flips a bounded batch of due pending jobs to
	// processing and returns them, oldest next_run_at first. Two workers
	// never receive the same job
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)

	Complete(ctx context.Context, id string, now time.Time) error

	// Reschedule returns a claimed job to pending with a new run time
	Reschedule(ctx context.Context, id string, attempts int, nextRunAt time.Time, lastErr string, now time.Time) error

	// Fail marks a job terminally failed
	Fail(ctx context.Context, id string, attempts int, lastErr string, now time.Time) error

	// RecordDMOutcome journals a delivery outcome so the creator can see
	// it alongside the rest of the DM history
	RecordDMOutcome(ctx context.Context, creatorID, ruleID, recipientID, outcome, detail string) error
}

type (
	// PG is a Postgres implementation of the queue repo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a binder for the Postgres implementation
func NewPG() repokit.Binder[Repo] { return PG{} }

// Bind attaches a Queryer to the Postgres implementation
func (PG) Bind(q repokit.Queryer) Repo { return &queries{q: q} }

const jobCols = `id, type, payload, status, next_run_at, attempts, max_attempts, last_error, created_at, updated_at`

func (r *queries) InsertJob(ctx context.Context, j domain.Job) error {
	const sql = `
		INSERT INTO queue_jobs (` + jobCols + `)
		VALUES ($1, $2, $3, 'pending', $4, 0, $5, '', $6, $6)
	`
	_, err := r.q.Exec(ctx, sql, j.ID, string(j.Type), j.Payload, j.NextRunAt, j.MaxAttempts, j.CreatedAt)
	return err
}

func (r *queries) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	const sql = `
		UPDATE queue_jobs
		SET status = 'processing', updated_at = $1
		WHERE id IN (
			SELECT id FROM queue_jobs
			WHERE status = 'pending' AND next_run_at <= $1
			ORDER BY next_run_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobCols
	rows, err := r.q.Query(ctx, sql, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(
			&j.ID, &j.Type, &j.Payload, &j.Status, &j.NextRunAt,
			&j.Attempts, &j.MaxAttempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *queries) Complete(ctx context.Context, id string, now time.Time) error {
	const sql = `
		UPDATE queue_jobs
		SET status = 'completed', updated_at = $2
		WHERE id = $1 AND status = 'processing'
	`
	_, err := r.q.Exec(ctx, sql, id, now)
	return err
}

func (r *queries) Reschedule(ctx context.Context, id string, attempts int, nextRunAt time.Time, lastErr string, now time.Time) error {
	const sql = `
		UPDATE queue_jobs
		SET status = 'pending', attempts = $2, next_run_at = $3, last_error = $4, updated_at = $5
		WHERE id = $1 AND status = 'processing'
	`
	_, err := r.q.Exec(ctx, sql, id, attempts, nextRunAt, lastErr, now)
	return err
}

func (r *queries) Fail(ctx context.Context, id string, attempts int, lastErr string, now time.Time) error {
	const sql = `
		UPDATE queue_jobs
		SET status = 'failed', attempts = $2, last_error = $3, updated_at = $4
		WHERE id = $1 AND status = 'processing'
	`
	_, err := r.q.Exec(ctx, sql, id, attempts, lastErr, now)
	return err
}

func (r *queries) RecordDMOutcome(ctx context.Context, creatorID, ruleID, recipientID, outcome, detail string) error {
	const sql = `
		INSERT INTO dm_logs (creator_id, rule_id, recipient_id, outcome, message_id, detail, created_at)
		VALUES ($1, $2, $3, $4, '', $5, NOW())
	`
	_, err := r.q.Exec(ctx, sql, creatorID, ruleID, recipientID, outcome, detail)
	return err
}
