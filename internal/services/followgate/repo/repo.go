// Package repo provides the pending-follower persistence surface
package repo

import (
	"context"
	"time"

	"replyloop/internal/modkit/repokit"
	"replyloop/internal/services/followgate/domain"
)

// Repo is the pending-follower store used by the service layer
type Repo interface {
	// InsertPending creates a pending row unless one is already outstanding
	// for the (recipient, rule) pair. Returns false on the duplicate path
	InsertPending(ctx context.Context, args domain.CreatePending, now time.Time) (bool, error)

	// ClaimDue atomically stamps a bounded batch of pending rows as checked
	// and returns them, oldest first. Rows checked after checkedBefore are
	// skipped, so overlapping sweeps never check the same row twice
	ClaimDue(ctx context.Context, now, checkedBefore time.Time, limit int) ([]domain.PendingFollower, error)

	// MarkDMSent finalizes a converted row and stamps the delivery times
	MarkDMSent(ctx context.Context, id string, now time.Time) error

	// ExpireDue bulk-expires pending rows whose window has passed
	ExpireDue(ctx context.Context, now time.Time) (int64, error)

	// BumpRuleConverted increments the rule's conversion and DM counters
	BumpRuleConverted(ctx context.Context, ruleID string) error
}

type (
	// PG is a Postgres implementation of the follow-gate repo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a binder for the Postgres implementation
func NewPG() repokit.Binder[Repo] { return PG{} }

// Bind attaches a Queryer to the Postgres implementation
func (PG) Bind(q repokit.Queryer) Repo { return &queries{q: q} }

func (r *queries) InsertPending(ctx context.Context, args domain.CreatePending, now time.Time) (bool, error) {
	// the partial unique index on (recipient_id, rule_id) WHERE status='pending'
	// makes re-matching while one is outstanding a no-op
	const sql = `
		INSERT INTO pending_followers (
			creator_id, recipient_id, recipient_name, rule_id,
			dm_text, status, check_count, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, $7)
		ON CONFLICT (recipient_id, rule_id) WHERE status = 'pending'
		DO NOTHING
	`
	tag, err := r.q.Exec(ctx, sql,
		args.CreatorID, args.RecipientID, args.RecipientName, args.RuleID,
		args.DMText, now, now.Add(args.Window),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *queries) ClaimDue(ctx context.Context, now, checkedBefore time.Time, limit int) ([]domain.PendingFollower, error) {
	// the claiming UPDATE doubles as the check record; SKIP LOCKED keeps
	// concurrent sweeps disjoint, the checkedBefore cutoff keeps
	// back-to-back ones from re-checking the same rows
	const sql = `
		UPDATE pending_followers
		SET check_count = check_count + 1, last_checked_at = $1
		WHERE id IN (
			SELECT id FROM pending_followers
			WHERE status = 'pending' AND expires_at > $1
			  AND (last_checked_at IS NULL OR last_checked_at <= $2)
			ORDER BY created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, creator_id, recipient_id, recipient_name, rule_id, dm_text,
		          status, check_count, last_checked_at, followed_at, dm_sent_at,
		          created_at, expires_at
	`
	rows, err := r.q.Query(ctx, sql, now, checkedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingFollower
	for rows.Next() {
		var p domain.PendingFollower
		if err := rows.Scan(
			&p.ID, &p.CreatorID, &p.RecipientID, &p.RecipientName, &p.RuleID, &p.DMText,
			&p.Status, &p.CheckCount, &p.LastCheckedAt, &p.FollowedAt, &p.DMSentAt,
			&p.CreatedAt, &p.ExpiresAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *queries) MarkDMSent(ctx context.Context, id string, now time.Time) error {
	// the claim already counted this check
	const sql = `
		UPDATE pending_followers
		SET status = 'dm_sent', followed_at = $2, dm_sent_at = $2
		WHERE id = $1 AND status = 'pending'
	`
	_, err := r.q.Exec(ctx, sql, id, now)
	return err
}

func (r *queries) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	const sql = `
		UPDATE pending_followers
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= $1
	`
	tag, err := r.q.Exec(ctx, sql, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *queries) BumpRuleConverted(ctx context.Context, ruleID string) error {
	const sql = `
		UPDATE trigger_rules
		SET total_dms_sent = total_dms_sent + 1,
		    total_gate_converted = total_gate_converted + 1
		WHERE id = $1
	`
	_, err := r.q.Exec(ctx, sql, ruleID)
	return err
}
