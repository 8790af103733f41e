// Package service executes matched trigger rules against inbound events
package service

import (
	"context"
	"time"

	"replyloop/internal/adapters/graph"
	"replyloop/internal/core/match"
	"replyloop/internal/core/render"
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/repokit"
	perr "replyloop/internal/platform/errors"
	"replyloop/internal/platform/logger"
	acctdom "replyloop/internal/services/accounts/domain"
	fgdom "replyloop/internal/services/followgate/domain"
	rldom "replyloop/internal/services/ratelimit/domain"
	"replyloop/internal/services/rules/domain"
	"replyloop/internal/services/rules/repo"
)

// Gateway is the slice of the graph client rule execution needs
type Gateway interface {
	SendDM(ctx context.Context, recipientID, text, accessToken string) (graph.SendResult, error)
	ReplyToComment(ctx context.Context, commentID, text, accessToken string) (string, error)
	IsFollowing(ctx context.Context, userID, accessToken string) (bool, error)
}

// Config controls the per-creator send limiter
type Config struct {
	SendLimit  int64
	SendWindow time.Duration
}

// Service matches inbound events against trigger rules and acts on them
type Service struct {
	deps     modkit.Deps
	cfg      Config
	gw       Gateway
	accounts acctdom.ReaderPort
	gate     fgdom.GatePort
	limiter  rldom.LimiterPort
	binder   repokit.Binder[repo.Repo]
	log      logger.Logger
	now      func() time.Time
}

// New constructs the rules service
func New(
	deps modkit.Deps, cfg Config,
	gw Gateway, accounts acctdom.ReaderPort, gate fgdom.GatePort, limiter rldom.LimiterPort,
) *Service {
	if cfg.SendLimit <= 0 {
		cfg.SendLimit = 100
	}
	if cfg.SendWindow <= 0 {
		cfg.SendWindow = time.Hour
	}
	return &Service{
		deps:     deps,
		cfg:      cfg,
		gw:       gw,
		accounts: accounts,
		gate:     gate,
		limiter:  limiter,
		binder:   repo.NewPG(),
		log:      *logger.Named("rules"),
		now:      time.Now,
	}
}

// HandleEvent selects at most one active rule for ev and executes it.
// No match is a quiet no-op; delivery failures are journaled, never
// propagated, so the inbound handler always answers quickly
func (s *Service) HandleEvent(ctx context.Context, ev domain.InboundEvent) (domain.Result, error) {
	if ev.CreatorID == "" || ev.SenderID == "" {
		return domain.Result{}, perr.InvalidArgf("creator and sender ids are required")
	}

	var rules []domain.TriggerRule
	err := s.deps.PG.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		rules, err = s.binder.Bind(q).ActiveRules(ctx, ev.CreatorID, ev.Surface)
		return err
	})
	if err != nil {
		return domain.Result{}, perr.Wrapf(err, perr.ErrorCodeDB, "load active rules")
	}

	rule, ok := s.selectRule(rules, ev)
	if !ok {
		return domain.Result{Outcome: domain.OutcomeUnhandled}, nil
	}

	if err := s.repoTx(ctx, func(r repo.Repo) error { return r.BumpTriggered(ctx, rule.ID) }); err != nil {
		s.log.Error().Err(err).Str("rule_id", rule.ID).Msg("bump triggered failed")
	}

	acct, err := s.accounts.AccountByCreator(ctx, ev.CreatorID)
	if err != nil {
		return domain.Result{}, err
	}

	vars := map[string]string{"username": ev.SenderName, "keyword": rule.Keyword}

	// a comment match gets a public reply regardless of how the DM leg goes
	if ev.Surface == match.SurfaceComment && !rule.FollowGate.Enabled {
		s.replyWithVariant(ctx, rule, ev, acct.AccessToken, vars)
	}

	if rule.FollowGate.Enabled {
		return s.handleGated(ctx, rule, ev, acct, vars)
	}
	return s.handleDirect(ctx, rule, ev, acct, vars)
}

// selectRule converts rules to match predicates and picks the winner
func (s *Service) selectRule(rules []domain.TriggerRule, ev domain.InboundEvent) (domain.TriggerRule, bool) {
	byID := make(map[string]domain.TriggerRule, len(rules))
	preds := make([]match.Rule, 0, len(rules))
	for _, t := range rules {
		byID[t.ID] = t
		preds = append(preds, match.Rule{
			ID:            t.ID,
			Keyword:       t.Keyword,
			Mode:          t.MatchMode,
			Surface:       t.Surface,
			PostID:        t.PostID,
			CaseSensitive: t.CaseSensitive,
			Priority:      t.Priority,
			CreatedAt:     t.CreatedAt,
		})
	}
	won, ok := match.Select(preds, match.Event{
		Surface:  ev.Surface,
		SenderID: ev.SenderID,
		Text:     ev.Text,
		PostID:   ev.PostID,
	})
	if !ok {
		return domain.TriggerRule{}, false
	}
	return byID[won.ID], true
}

// handleDirect is the non-gated path: dedupe, cap, limit, send
func (s *Service) handleDirect(
	ctx context.Context, rule domain.TriggerRule, ev domain.InboundEvent,
	acct acctdom.Account, vars map[string]string,
) (domain.Result, error) {
	res := domain.Result{RuleID: rule.ID}

	if rule.DMTemplate == "" {
		res.Outcome = domain.OutcomeUnhandled
		return res, nil
	}

	// claiming the dedupe slot up front makes concurrent matches for the
	// same sender race on an insert; every bail-out below releases it
	release := func() {}
	if rule.DMOncePerUser {
		var claimed bool
		err := s.repoTx(ctx, func(r repo.Repo) error {
			var err error
			claimed, err = r.ClaimDMOnce(ctx, ev.CreatorID, rule.ID, ev.SenderID)
			return err
		})
		if err != nil {
			return res, perr.Wrapf(err, perr.ErrorCodeDB, "dm dedupe claim")
		}
		if !claimed {
			res.Outcome = domain.OutcomeSkippedOnce
			return res, nil
		}
		release = func() {
			err := s.repoTx(ctx, func(r repo.Repo) error {
				return r.ReleaseDMOnce(ctx, rule.ID, ev.SenderID)
			})
			if err != nil {
				s.log.Error().Err(err).Str("rule_id", rule.ID).Msg("dm dedupe release failed")
			}
		}
	}

	now := s.now().UTC()

	d, err := s.limiter.Allow(ctx, "dm:"+ev.CreatorID, s.cfg.SendLimit, s.cfg.SendWindow, now)
	if err != nil {
		release()
		return res, err
	}
	if !d.Allowed {
		release()
		res.Outcome = domain.OutcomeRateLimited
		s.journal(ctx, rule, ev, domain.OutcomeRateLimited, "", "send limiter denied")
		return res, nil
	}

	if rule.DailyLimit > 0 {
		var claimed bool
		err := s.repoTx(ctx, func(r repo.Repo) error {
			var err error
			claimed, err = r.TryIncrementDaily(ctx, rule.ID, now)
			return err
		})
		if err != nil {
			release()
			return res, perr.Wrapf(err, perr.ErrorCodeDB, "daily cap claim")
		}
		if !claimed {
			release()
			res.Outcome = domain.OutcomeSkippedDailyCap
			return res, nil
		}
	}

	sent, err := s.gw.SendDM(ctx, ev.SenderID, s.renderText(rule.ID, rule.DMTemplate, vars), acct.AccessToken)
	if err != nil {
		release()
		res.Outcome = domain.OutcomeFailed
		s.journal(ctx, rule, ev, domain.OutcomeFailed, "", err.Error())
		return res, nil
	}

	res.Outcome = domain.OutcomeDMSent
	res.MessageID = sent.MessageID
	s.journal(ctx, rule, ev, domain.OutcomeDMSent, sent.MessageID, "")
	if err := s.repoTx(ctx, func(r repo.Repo) error { return r.BumpDMSent(ctx, rule.ID) }); err != nil {
		s.log.Error().Err(err).Str("rule_id", rule.ID).Msg("bump dms sent failed")
	}
	return res, nil
}

// handleGated consults follow status; the check fails open so a flaky
// graph API degrades to sending rather than silently dropping
func (s *Service) handleGated(
	ctx context.Context, rule domain.TriggerRule, ev domain.InboundEvent,
	acct acctdom.Account, vars map[string]string,
) (domain.Result, error) {
	res := domain.Result{RuleID: rule.ID}

	following, err := s.gw.IsFollowing(ctx, ev.SenderID, acct.AccessToken)
	if err != nil {
		s.log.Warn().Err(err).Str("rule_id", rule.ID).Msg("follow check failed, assuming follower")
		following = true
	}

	if following {
		sent, err := s.gw.SendDM(ctx, ev.SenderID, s.renderText(rule.ID, rule.FollowGate.PostFollowDM, vars), acct.AccessToken)
		if err != nil {
			res.Outcome = domain.OutcomeFailed
			s.journal(ctx, rule, ev, domain.OutcomeFailed, "", err.Error())
			return res, nil
		}
		res.Outcome = domain.OutcomeGateConverted
		res.MessageID = sent.MessageID
		s.journal(ctx, rule, ev, domain.OutcomeDMSent, sent.MessageID, "gate converted")
		err = s.repoTx(ctx, func(r repo.Repo) error {
			if err := r.BumpDMSent(ctx, rule.ID); err != nil {
				return err
			}
			return r.BumpGateConverted(ctx, rule.ID)
		})
		if err != nil {
			s.log.Error().Err(err).Str("rule_id", rule.ID).Msg("bump converted failed")
		}
		return res, nil
	}

	// non-follower: public reply only, never a DM
	if ev.CommentID != "" && rule.FollowGate.NonFollowerReply != "" {
		text := s.renderText(rule.ID, rule.FollowGate.NonFollowerReply, vars)
		if _, err := s.gw.ReplyToComment(ctx, ev.CommentID, text, acct.AccessToken); err != nil {
			s.log.Warn().Err(err).Str("rule_id", rule.ID).Msg("non-follower reply failed")
		}
	}

	created, err := s.gate.Create(ctx, fgdom.CreatePending{
		CreatorID:     ev.CreatorID,
		RecipientID:   ev.SenderID,
		RecipientName: ev.SenderName,
		RuleID:        rule.ID,
		DMText:        s.renderText(rule.ID, rule.FollowGate.PostFollowDM, vars),
		Window:        rule.FollowGate.CheckWindow,
	})
	if err != nil {
		return res, err
	}
	if created {
		if err := s.repoTx(ctx, func(r repo.Repo) error { return r.BumpGateBlocked(ctx, rule.ID) }); err != nil {
			s.log.Error().Err(err).Str("rule_id", rule.ID).Msg("bump gate blocked failed")
		}
	}
	res.Outcome = domain.OutcomeGatePending
	return res, nil
}

// replyWithVariant rotates through the rule's reply templates and posts
// a public reply; failures are logged and never block the DM leg
func (s *Service) replyWithVariant(
	ctx context.Context, rule domain.TriggerRule, ev domain.InboundEvent,
	token string, vars map[string]string,
) {
	if ev.CommentID == "" || len(rule.ReplyTemplates) == 0 {
		return
	}
	idx := 0
	if len(rule.ReplyTemplates) > 1 {
		err := s.repoTx(ctx, func(r repo.Repo) error {
			var err error
			idx, err = r.RotateVariant(ctx, rule.ID, len(rule.ReplyTemplates))
			return err
		})
		if err != nil {
			s.log.Error().Err(err).Str("rule_id", rule.ID).Msg("variant rotation failed")
			idx = 0
		}
	}
	text := s.renderText(rule.ID, rule.ReplyTemplates[idx], vars)
	if _, err := s.gw.ReplyToComment(ctx, ev.CommentID, text, token); err != nil {
		s.log.Warn().Err(err).Str("rule_id", rule.ID).Msg("comment reply failed")
	}
}

// renderText fills tmpl and warn-logs slots with no value. Render
// leaves unknown slots in the message, so the log entry names the typo
func (s *Service) renderText(ruleID, tmpl string, vars map[string]string) string {
	for _, slot := range render.Slots(tmpl) {
		if _, ok := vars[slot]; !ok {
			s.log.Warn().Str("rule_id", ruleID).Str("slot", slot).Msg("template slot has no value")
		}
	}
	return render.Render(tmpl, vars)
}

// journal records the attempt on dm_logs; the journal is best effort
func (s *Service) journal(
	ctx context.Context, rule domain.TriggerRule, ev domain.InboundEvent,
	outcome domain.Outcome, messageID, detail string,
) {
	err := s.repoTx(ctx, func(r repo.Repo) error {
		return r.InsertDMLog(ctx, repo.DMLog{
			CreatorID:   ev.CreatorID,
			RuleID:      rule.ID,
			RecipientID: ev.SenderID,
			Outcome:     outcome,
			MessageID:   messageID,
			Detail:      detail,
		})
	})
	if err != nil {
		s.log.Error().Err(err).Str("rule_id", rule.ID).Msg("dm log insert failed")
	}
}

func (s *Service) repoTx(ctx context.Context, fn func(r repo.Repo) error) error {
	return s.deps.PG.Tx(ctx, func(q repokit.Queryer) error {
		return fn(s.binder.Bind(q))
	})
}
