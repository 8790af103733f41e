// Package service implements the follow-gate deferred DM state machine
package service

import (
	"context"
	"time"

	"replyloop/internal/adapters/graph"
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/repokit"
	perr "replyloop/internal/platform/errors"
	"replyloop/internal/platform/logger"
	acctdom "replyloop/internal/services/accounts/domain"
	"replyloop/internal/services/followgate/domain"
	"replyloop/internal/services/followgate/repo"
)

// Gateway is the slice of the graph client the sweep needs
type Gateway interface {
	SendDM(ctx context.Context, recipientID, text, accessToken string) (graph.SendResult, error)
	IsFollowing(ctx context.Context, userID, accessToken string) (bool, error)
}

// Config controls the sweep batch size and recheck cadence
type Config struct {
	Batch int

	// RecheckAfter is how long a claimed row is left alone before another
	// sweep may check it again
	RecheckAfter time.Duration
}

// Service owns pending-follower creation and the periodic sweep
type Service struct {
	deps     modkit.Deps
	cfg      Config
	gw       Gateway
	accounts acctdom.ReaderPort
	binder   repokit.Binder[repo.Repo]
	log      logger.Logger
}

// New constructs the follow-gate service
func New(deps modkit.Deps, cfg Config, gw Gateway, accounts acctdom.ReaderPort) *Service {
	if cfg.Batch <= 0 {
		cfg.Batch = 200
	}
	if cfg.RecheckAfter <= 0 {
		cfg.RecheckAfter = 10 * time.Minute
	}
	return &Service{
		deps:     deps,
		cfg:      cfg,
		gw:       gw,
		accounts: accounts,
		binder:   repo.NewPG(),
		log:      *logger.Named("followgate"),
	}
}

// Create defers a DM until the recipient follows. Creating for an
// already-pending (recipient, rule) pair is a no-op
func (s *Service) Create(ctx context.Context, args domain.CreatePending) (bool, error) {
	if args.CreatorID == "" || args.RecipientID == "" || args.RuleID == "" {
		return false, perr.InvalidArgf("creator, recipient, and rule ids are required")
	}
	if args.Window <= 0 {
		return false, perr.InvalidArgf("check window must be positive")
	}

	var created bool
	err := s.deps.PG.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		created, err = s.binder.Bind(q).InsertPending(ctx, args, time.Now().UTC())
		return err
	})
	if err != nil {
		return false, perr.Wrapf(err, perr.ErrorCodeDB, "create pending follower")
	}
	return created, nil
}

// Sweep re-checks pending rows, delivers DMs for fresh follows, and expires
// rows past their window. Delivery failure leaves the row pending; the sweep
// itself is the retry loop, bounded by expires_at
func (s *Service) Sweep(ctx context.Context, now time.Time) (domain.SweepResult, error) {
	var res domain.SweepResult

	err := s.deps.PG.Tx(ctx, func(q repokit.Queryer) error {
		n, err := s.binder.Bind(q).ExpireDue(ctx, now)
		res.Expired = int(n)
		return err
	})
	if err != nil {
		return res, perr.Wrapf(err, perr.ErrorCodeDB, "expire pending followers")
	}

	// claiming the batch records the check and keeps overlapping sweep
	// invocations off each other's rows
	var due []domain.PendingFollower
	err = s.deps.PG.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		due, err = s.binder.Bind(q).ClaimDue(ctx, now, now.Add(-s.cfg.RecheckAfter), s.cfg.Batch)
		return err
	})
	if err != nil {
		return res, perr.Wrapf(err, perr.ErrorCodeDB, "claim pending followers")
	}

	tokens := map[string]string{}
	for _, p := range due {
		res.Processed++

		token, ok := tokens[p.CreatorID]
		if !ok {
			acct, err := s.accounts.AccountByCreator(ctx, p.CreatorID)
			if err != nil {
				s.log.Warn().Err(err).Str("creator_id", p.CreatorID).Msg("no account for pending follower")
				continue
			}
			token = acct.AccessToken
			tokens[p.CreatorID] = token
		}

		following, err := s.gw.IsFollowing(ctx, p.RecipientID, token)
		if err != nil {
			// could not check; the row is retried once RecheckAfter lapses
			s.log.Warn().Err(err).Str("pending_id", p.ID).Msg("follow check failed")
			continue
		}

		// not following yet: the claim already stamped the check
		if !following {
			continue
		}

		if _, err := s.gw.SendDM(ctx, p.RecipientID, p.DMText, token); err != nil {
			// row stays pending and the next sweep retries delivery
			s.log.Warn().Err(err).Str("pending_id", p.ID).Msg("gated dm delivery failed")
			continue
		}

		uerr := s.deps.PG.Tx(ctx, func(q repokit.Queryer) error {
			r := s.binder.Bind(q)
			if err := r.MarkDMSent(ctx, p.ID, now); err != nil {
				return err
			}
			return r.BumpRuleConverted(ctx, p.RuleID)
		})
		if uerr != nil {
			s.log.Error().Err(uerr).Str("pending_id", p.ID).Msg("finalize converted row failed")
			continue
		}
		res.DMsSent++
	}

	s.log.Info().
		Int("processed", res.Processed).
		Int("dms_sent", res.DMsSent).
		Int("expired", res.Expired).
		Msg("follow gate sweep done")
	return res, nil
}
