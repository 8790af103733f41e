// Package repo provides the flow and session persistence surface
package repo

import (
	"context"
	"encoding/json"

	"replyloop/internal/modkit/repokit"
	perr "replyloop/internal/platform/errors"
	"replyloop/internal/services/flows/domain"
)

// Repo is the flow store used by the executor
type Repo interface {
	ActiveFlows(ctx context.Context, creatorID string) ([]domain.Flow, error)
	FlowByID(ctx context.Context, id string) (domain.Flow, error)

	SessionFor(ctx context.Context, recipientID, creatorID string) (domain.Session, bool, error)

	// UpsertSession creates or replaces the singleton session for the
	// (recipient, creator) pair in one statement
	UpsertSession(ctx context.Context, s domain.Session) error
	UpdateSessionStep(ctx context.Context, recipientID, creatorID, stepID string) error
	DeleteSession(ctx context.Context, recipientID, creatorID string) error

	// UpsertSubscriber is idempotent on (creator, email)
	UpsertSubscriber(ctx context.Context, creatorID, email, source string) error
	BumpEmailsCollected(ctx context.Context, flowID string) error
}

type (
	// PG is a Postgres implementation of the flows repo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a binder for the Postgres implementation
func NewPG() repokit.Binder[Repo] { return PG{} }

// Bind attaches a Queryer to the Postgres implementation
func (PG) Bind(q repokit.Queryer) Repo { return &queries{q: q} }

func scanFlow(row repokit.Row) (domain.Flow, error) {
	var (
		f        domain.Flow
		stepsRaw []byte
	)
	if err := row.Scan(&f.ID, &f.CreatorID, &f.Keyword, &stepsRaw, &f.Active, &f.EmailsCollected, &f.CreatedAt); err != nil {
		return domain.Flow{}, err
	}
	if err := json.Unmarshal(stepsRaw, &f.Steps); err != nil {
		return domain.Flow{}, perr.Wrapf(err, perr.ErrorCodeDB, "decode flow steps")
	}
	return f, nil
}

func (r *queries) ActiveFlows(ctx context.Context, creatorID string) ([]domain.Flow, error) {
	const sql = `
		SELECT id, creator_id, keyword, steps, active, emails_collected, created_at
		FROM flows
		WHERE creator_id = $1 AND active
		ORDER BY created_at DESC
	`
	rows, err := r.q.Query(ctx, sql, creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Flow
	for rows.Next() {
		var (
			f        domain.Flow
			stepsRaw []byte
		)
		if err := rows.Scan(&f.ID, &f.CreatorID, &f.Keyword, &stepsRaw, &f.Active, &f.EmailsCollected, &f.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(stepsRaw, &f.Steps); err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeDB, "decode flow steps")
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *queries) FlowByID(ctx context.Context, id string) (domain.Flow, error) {
	const sql = `
		SELECT id, creator_id, keyword, steps, active, emails_collected, created_at
		FROM flows
		WHERE id = $1
	`
	f, err := scanFlow(r.q.QueryRow(ctx, sql, id))
	if err != nil {
		if perr.IsNoRows(err) {
			return domain.Flow{}, perr.NotFoundf("flow %s not found", id)
		}
		return domain.Flow{}, err
	}
	return f, nil
}

func (r *queries) SessionFor(ctx context.Context, recipientID, creatorID string) (domain.Session, bool, error) {
	const sql = `
		SELECT recipient_id, creator_id, flow_id, current_step_id,
		       access_token, platform_user_id, created_at
		FROM flow_sessions
		WHERE recipient_id = $1 AND creator_id = $2
	`
	var s domain.Session
	err := r.q.QueryRow(ctx, sql, recipientID, creatorID).Scan(
		&s.RecipientID, &s.CreatorID, &s.FlowID, &s.CurrentStepID,
		&s.AccessToken, &s.PlatformUserID, &s.CreatedAt,
	)
	if err != nil {
		if perr.IsNoRows(err) {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, err
	}
	return s, true, nil
}

func (r *queries) UpsertSession(ctx context.Context, s domain.Session) error {
	const sql = `
		INSERT INTO flow_sessions (
			recipient_id, creator_id, flow_id, current_step_id,
			access_token, platform_user_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (recipient_id, creator_id) DO UPDATE
		SET flow_id = EXCLUDED.flow_id,
		    current_step_id = EXCLUDED.current_step_id,
		    access_token = EXCLUDED.access_token,
		    platform_user_id = EXCLUDED.platform_user_id
	`
	_, err := r.q.Exec(ctx, sql,
		s.RecipientID, s.CreatorID, s.FlowID, s.CurrentStepID,
		s.AccessToken, s.PlatformUserID,
	)
	return err
}

func (r *queries) UpdateSessionStep(ctx context.Context, recipientID, creatorID, stepID string) error {
	const sql = `
		UPDATE flow_sessions
		SET current_step_id = $3
		WHERE recipient_id = $1 AND creator_id = $2
	`
	_, err := r.q.Exec(ctx, sql, recipientID, creatorID, stepID)
	return err
}

func (r *queries) DeleteSession(ctx context.Context, recipientID, creatorID string) error {
	const sql = `DELETE FROM flow_sessions WHERE recipient_id = $1 AND creator_id = $2`
	_, err := r.q.Exec(ctx, sql, recipientID, creatorID)
	return err
}

func (r *queries) UpsertSubscriber(ctx context.Context, creatorID, email, source string) error {
	const sql = `
		INSERT INTO subscribers (creator_id, email, source, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (creator_id, email) DO NOTHING
	`
	_, err := r.q.Exec(ctx, sql, creatorID, email, source)
	return err
}

func (r *queries) BumpEmailsCollected(ctx context.Context, flowID string) error {
	const sql = `UPDATE flows SET emails_collected = emails_collected + 1 WHERE id = $1`
	_, err := r.q.Exec(ctx, sql, flowID)
	return err
}
