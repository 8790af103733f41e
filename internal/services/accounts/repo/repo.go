// Package repo provides the social account persistence surface
package repo

import (
	"context"
	"time"

	"replyloop/internal/modkit/repokit"
	perr "replyloop/internal/platform/errors"
	"replyloop/internal/services/accounts/domain"
)

// Repo is the account store used by the service layer
type Repo interface {
	AccountByCreator(ctx context.Context, creatorID string) (domain.Account, error)
	ExpiringAccounts(ctx context.Context, before time.Time, limit int) ([]domain.Account, error)
	UpdateToken(ctx context.Context, accountID, token string, expiresAt time.Time) error
	MarkInactive(ctx context.Context, accountID string) error
}

type (
	// PG is a Postgres implementation of the account repo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a binder for the Postgres implementation
func NewPG() repokit.Binder[Repo] { return PG{} }

// Bind attaches a Queryer to the Postgres implementation
func (PG) Bind(q repokit.Queryer) Repo { return &queries{q: q} }

const accountCols = `
	id, creator_id, platform, platform_user_id, username,
	access_token, token_expires_at, active, connected_at
`

func scanAccount(row repokit.Row) (domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID, &a.CreatorID, &a.Platform, &a.PlatformUserID, &a.Username,
		&a.AccessToken, &a.TokenExpiresAt, &a.Active, &a.ConnectedAt,
	)
	return a, err
}

func (r *queries) AccountByCreator(ctx context.Context, creatorID string) (domain.Account, error) {
	const sql = `
		SELECT ` + accountCols + `
		FROM social_accounts
		WHERE creator_id = $1 AND active
		ORDER BY connected_at DESC
		LIMIT 1
	`
	a, err := scanAccount(r.q.QueryRow(ctx, sql, creatorID))
	if err != nil {
		if perr.IsNoRows(err) {
			return domain.Account{}, perr.NotFoundf("no active account for creator %s", creatorID)
		}
		return domain.Account{}, err
	}
	return a, nil
}

func (r *queries) ExpiringAccounts(ctx context.Context, before time.Time, limit int) ([]domain.Account, error) {
	const sql = `
		SELECT ` + accountCols + `
		FROM social_accounts
		WHERE active AND token_expires_at <= $1
		ORDER BY token_expires_at ASC
		LIMIT $2
	`
	rows, err := r.q.Query(ctx, sql, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(
			&a.ID, &a.CreatorID, &a.Platform, &a.PlatformUserID, &a.Username,
			&a.AccessToken, &a.TokenExpiresAt, &a.Active, &a.ConnectedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *queries) UpdateToken(ctx context.Context, accountID, token string, expiresAt time.Time) error {
	const sql = `
		UPDATE social_accounts
		SET access_token = $2, token_expires_at = $3, last_refreshed_at = NOW()
		WHERE id = $1
	`
	_, err := r.q.Exec(ctx, sql, accountID, token, expiresAt)
	return err
}

func (r *queries) MarkInactive(ctx context.Context, accountID string) error {
	const sql = `UPDATE social_accounts SET active = FALSE WHERE id = $1`
	_, err := r.q.Exec(ctx, sql, accountID)
	return err
}
