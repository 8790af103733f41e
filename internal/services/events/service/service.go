// Package service routes inbound platform events to flows or rules
package service

import (
	"context"

	"replyloop/internal/core/match"
	perr "replyloop/internal/platform/errors"
	"replyloop/internal/platform/logger"
	"replyloop/internal/services/events/domain"
	flowdom "replyloop/internal/services/flows/domain"
	rulesdom "replyloop/internal/services/rules/domain"
)

// Service is the intake orchestrator. An open flow session always wins;
// only unclaimed events reach rule matching
type Service struct {
	flows   flowdom.ExecutorPort
	matcher rulesdom.MatcherPort
	log     logger.Logger
}

// New constructs the intake service
func New(flows flowdom.ExecutorPort, matcher rulesdom.MatcherPort) *Service {
	return &Service{flows: flows, matcher: matcher, log: *logger.Named("events")}
}

// Handle routes one event. Downstream delivery failures are journaled by
// the owning service and absorbed here; the caller always gets a fast
// answer
func (s *Service) Handle(ctx context.Context, ev rulesdom.InboundEvent) (domain.Result, error) {
	if ev.CreatorID == "" || ev.SenderID == "" {
		return domain.Result{}, perr.InvalidArgf("creator and sender ids are required")
	}
	if ev.Surface != match.SurfaceComment && ev.Surface != match.SurfaceDM {
		return domain.Result{}, perr.InvalidArgf("unknown surface %q", ev.Surface)
	}

	if ev.Surface == match.SurfaceDM {
		handled, err := s.flows.HandleInbound(ctx, flowdom.Inbound{
			CreatorID:  ev.CreatorID,
			SenderID:   ev.SenderID,
			SenderName: ev.SenderName,
			Text:       ev.Text,
		})
		if err != nil {
			s.log.Warn().Err(err).Str("creator_id", ev.CreatorID).Msg("flow handling failed")
			// an open session must not leak into rule matching
			return domain.Result{Source: domain.SourceFlow, Outcome: rulesdom.OutcomeFailed}, nil
		}
		if handled {
			return domain.Result{Source: domain.SourceFlow}, nil
		}
	}

	res, err := s.matcher.HandleEvent(ctx, ev)
	if err != nil {
		s.log.Warn().Err(err).Str("creator_id", ev.CreatorID).Msg("rule handling failed")
		return domain.Result{Source: domain.SourceRule, Outcome: rulesdom.OutcomeFailed}, nil
	}
	if res.Outcome == rulesdom.OutcomeUnhandled {
		return domain.Result{Source: domain.SourceNone, Outcome: res.Outcome}, nil
	}
	return domain.Result{
		Source:    domain.SourceRule,
		Outcome:   res.Outcome,
		RuleID:    res.RuleID,
		MessageID: res.MessageID,
	}, nil
}
