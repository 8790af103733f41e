// Package service implements connected-account lookup and token renewal
package service

import (
	"context"
	"time"

	"replyloop/internal/modkit"
	"replyloop/internal/modkit/repokit"
	perr "replyloop/internal/platform/errors"
	"replyloop/internal/platform/logger"
	"replyloop/internal/services/accounts/domain"
	"replyloop/internal/services/accounts/repo"
)

// TokenExchanger is the slice of the graph client this service needs
type TokenExchanger interface {
	RefreshToken(ctx context.Context, accessToken string) (string, time.Duration, error)
}

// Config controls the refresh sweep
type Config struct {
	// RefreshWindow renews tokens expiring within this horizon
	RefreshWindow time.Duration
	// Batch bounds how many accounts one sweep touches
	Batch int
}

// Service resolves accounts and keeps their tokens fresh
type Service struct {
	deps   modkit.Deps
	cfg    Config
	gw     TokenExchanger
	binder repokit.Binder[repo.Repo]
	log    logger.Logger
}

// New constructs the accounts service
func New(deps modkit.Deps, cfg Config, gw TokenExchanger) *Service {
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = 7 * 24 * time.Hour
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	return &Service{
		deps:   deps,
		cfg:    cfg,
		gw:     gw,
		binder: repo.NewPG(),
		log:    *logger.Named("accounts"),
	}
}

// AccountByCreator returns the creator's active connected account
func (s *Service) AccountByCreator(ctx context.Context, creatorID string) (domain.Account, error) {
	if creatorID == "" {
		return domain.Account{}, perr.InvalidArgf("creator id is required")
	}
	var a domain.Account
	err := s.deps.PG.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		a, err = s.binder.Bind(q).AccountByCreator(ctx, creatorID)
		return err
	})
	return a, err
}

// RefreshExpiring exchanges tokens that expire inside the refresh window.
// An account whose exchange fails permanently is deactivated so delivery
// paths stop picking up a dead token
func (s *Service) RefreshExpiring(ctx context.Context, now time.Time) (domain.RefreshResult, error) {
	var res domain.RefreshResult

	var due []domain.Account
	err := s.deps.PG.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		due, err = s.binder.Bind(q).ExpiringAccounts(ctx, now.Add(s.cfg.RefreshWindow), s.cfg.Batch)
		return err
	})
	if err != nil {
		return res, perr.Wrapf(err, perr.ErrorCodeDB, "load expiring accounts")
	}
	res.Checked = len(due)

	for _, a := range due {
		newTok, ttl, err := s.gw.RefreshToken(ctx, a.AccessToken)
		if err != nil {
			res.Failed++
			s.log.Warn().Err(err).Str("account_id", a.ID).Msg("token refresh failed")
			if !perr.Retryable(err) {
				uerr := s.deps.PG.Tx(ctx, func(q repokit.Queryer) error {
					return s.binder.Bind(q).MarkInactive(ctx, a.ID)
				})
				if uerr != nil {
					s.log.Error().Err(uerr).Str("account_id", a.ID).Msg("deactivate failed")
				}
			}
			continue
		}

		uerr := s.deps.PG.Tx(ctx, func(q repokit.Queryer) error {
			return s.binder.Bind(q).UpdateToken(ctx, a.ID, newTok, now.Add(ttl))
		})
		if uerr != nil {
			res.Failed++
			s.log.Error().Err(uerr).Str("account_id", a.ID).Msg("store refreshed token failed")
			continue
		}
		res.Refreshed++
	}

	s.log.Info().
		Int("checked", res.Checked).
		Int("refreshed", res.Refreshed).
		Int("failed", res.Failed).
		Msg("token refresh sweep done")
	return res, nil
}
