// Package service implements the multi-step conversation executor
package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"replyloop/internal/adapters/graph"
	"replyloop/internal/core/match"
	"replyloop/internal/core/render"
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/repokit"
	perr "replyloop/internal/platform/errors"
	"replyloop/internal/platform/logger"
	acctdom "replyloop/internal/services/accounts/domain"
	"replyloop/internal/services/flows/domain"
	"replyloop/internal/services/flows/repo"
	qdom "replyloop/internal/services/queue/domain"
)

// Gateway is the slice of the graph client flow execution needs
type Gateway interface {
	SendDM(ctx context.Context, recipientID, text, accessToken string) (graph.SendResult, error)
}

// Scheduler defers delay-step sends through the job queue
type Scheduler interface {
	Enqueue(ctx context.Context, e qdom.Enqueue) (string, error)
}

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// stepHandler advances one step of an open session
type stepHandler func(ctx context.Context, f domain.Flow, st domain.Step, s domain.Session, in domain.Inbound) error

// Service routes inbound messages through active sessions and entry triggers
type Service struct {
	deps     modkit.Deps
	gw       Gateway
	accounts acctdom.ReaderPort
	sched    Scheduler
	binder   repokit.Binder[repo.Repo]
	handlers map[domain.StepType]stepHandler
	log      logger.Logger
	now      func() time.Time
}

// New constructs the flow executor. sched may be nil, in which case
// delay steps send immediately
func New(deps modkit.Deps, gw Gateway, accounts acctdom.ReaderPort, sched Scheduler) *Service {
	s := &Service{
		deps:     deps,
		gw:       gw,
		accounts: accounts,
		sched:    sched,
		binder:   repo.NewPG(),
		log:      *logger.Named("flows"),
		now:      time.Now,
	}
	s.handlers = map[domain.StepType]stepHandler{
		domain.StepMessage:      s.stepMessage,
		domain.StepQuestion:     s.stepMessage,
		domain.StepDelay:        s.stepMessage,
		domain.StepEmailCollect: s.stepEmailCollect,
	}
	return s
}

// HandleInbound advances an existing session or starts a flow whose entry
// trigger matches. handled=false hands the event back to rule matching
func (s *Service) HandleInbound(ctx context.Context, in domain.Inbound) (bool, error) {
	if in.CreatorID == "" || in.SenderID == "" {
		return false, perr.InvalidArgf("creator and sender ids are required")
	}

	var (
		sess   domain.Session
		exists bool
	)
	err := s.repoTx(ctx, func(r repo.Repo) error {
		var err error
		sess, exists, err = r.SessionFor(ctx, in.SenderID, in.CreatorID)
		return err
	})
	if err != nil {
		return false, perr.Wrapf(err, perr.ErrorCodeDB, "session lookup")
	}

	if exists {
		return true, s.advance(ctx, sess, in)
	}
	return s.tryStart(ctx, in)
}

// advance dispatches the session's current step to its handler
func (s *Service) advance(ctx context.Context, sess domain.Session, in domain.Inbound) error {
	var flow domain.Flow
	err := s.repoTx(ctx, func(r repo.Repo) error {
		var err error
		flow, err = r.FlowByID(ctx, sess.FlowID)
		return err
	})
	if err != nil {
		// flow definition vanished under the session; drop the session
		s.log.Warn().Err(err).Str("flow_id", sess.FlowID).Msg("session flow missing, cancelling")
		return s.deleteSession(ctx, sess)
	}

	step, ok := flow.StepByID(sess.CurrentStepID)
	if !ok {
		s.log.Warn().Str("flow_id", flow.ID).Str("step_id", sess.CurrentStepID).Msg("unknown step, cancelling session")
		return s.deleteSession(ctx, sess)
	}

	h, ok := s.handlers[step.Type]
	if !ok {
		s.log.Warn().Str("step_type", string(step.Type)).Msg("unhandled step type, cancelling session")
		return s.deleteSession(ctx, sess)
	}
	return h(ctx, flow, step, sess, in)
}

// tryStart matches the text against flow entry triggers
func (s *Service) tryStart(ctx context.Context, in domain.Inbound) (bool, error) {
	var flows []domain.Flow
	err := s.repoTx(ctx, func(r repo.Repo) error {
		var err error
		flows, err = r.ActiveFlows(ctx, in.CreatorID)
		return err
	})
	if err != nil {
		return false, perr.Wrapf(err, perr.ErrorCodeDB, "load flows")
	}

	var flow domain.Flow
	found := false
	for _, f := range flows {
		if len(f.Steps) == 0 {
			continue
		}
		ok := match.Matches(match.Rule{
			Keyword: f.Keyword,
			Mode:    match.ModeContains,
			Surface: match.SurfaceDM,
		}, match.Event{Surface: match.SurfaceDM, Text: in.Text})
		if ok {
			flow = f
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}

	acct, err := s.accounts.AccountByCreator(ctx, in.CreatorID)
	if err != nil {
		return false, err
	}

	first := flow.Steps[0]
	err = s.repoTx(ctx, func(r repo.Repo) error {
		return r.UpsertSession(ctx, domain.Session{
			RecipientID:    in.SenderID,
			CreatorID:      in.CreatorID,
			FlowID:         flow.ID,
			CurrentStepID:  first.ID,
			AccessToken:    acct.AccessToken,
			PlatformUserID: acct.PlatformUserID,
		})
	})
	if err != nil {
		return false, perr.Wrapf(err, perr.ErrorCodeDB, "create session")
	}

	s.deliver(ctx, flow, first, in, acct.AccessToken, "")
	return true, nil
}

// deliver sends a step's rendered content, deferring through the job
// queue when the step declares a delay
func (s *Service) deliver(ctx context.Context, f domain.Flow, st domain.Step, in domain.Inbound, token, email string) {
	text := render.Render(st.Content, s.vars(in, email))

	if st.Type == domain.StepDelay && st.DelaySecs > 0 && s.sched != nil {
		_, err := s.sched.Enqueue(ctx, qdom.Enqueue{
			Type: qdom.JobDMDelivery,
			Payload: qdom.DMPayload{
				CreatorID:     in.CreatorID,
				RecipientID:   in.SenderID,
				RecipientName: in.SenderName,
				Text:          text,
				SourceTag:     "flow:" + f.ID,
			},
			RunAt: s.now().UTC().Add(time.Duration(st.DelaySecs) * time.Second),
		})
		if err != nil {
			s.log.Warn().Err(err).Str("flow_id", f.ID).Msg("delayed step enqueue failed")
		}
		return
	}

	if _, err := s.gw.SendDM(ctx, in.SenderID, text, token); err != nil {
		s.log.Warn().Err(err).Str("flow_id", f.ID).Msg("step send failed")
	}
}

// stepMessage sends content and moves the session to the declared next step,
// completing the flow when there is none
func (s *Service) stepMessage(ctx context.Context, f domain.Flow, st domain.Step, sess domain.Session, in domain.Inbound) error {
	next, hasNext := f.StepByID(st.NextStepID)
	if hasNext {
		err := s.repoTx(ctx, func(r repo.Repo) error {
			return r.UpdateSessionStep(ctx, sess.RecipientID, sess.CreatorID, next.ID)
		})
		if err != nil {
			return perr.Wrapf(err, perr.ErrorCodeDB, "advance session")
		}
		s.deliver(ctx, f, next, in, sess.AccessToken, "")
		return nil
	}
	return s.deleteSession(ctx, sess)
}

// stepEmailCollect validates the inbound text as an email address.
// Invalid input re-prompts in place with no attempt limit; valid input
// stores the subscriber, sends confirmation, and completes the flow
func (s *Service) stepEmailCollect(ctx context.Context, f domain.Flow, st domain.Step, sess domain.Session, in domain.Inbound) error {
	email := strings.ToLower(strings.TrimSpace(in.Text))

	if !emailRe.MatchString(email) {
		prompt := st.RetryText
		if prompt == "" {
			prompt = "That doesn't look like an email address, mind trying again?"
		}
		if _, err := s.gw.SendDM(ctx, in.SenderID, prompt, sess.AccessToken); err != nil {
			s.log.Warn().Err(err).Str("flow_id", f.ID).Msg("retry prompt send failed")
		}
		return nil
	}

	err := s.repoTx(ctx, func(r repo.Repo) error {
		if err := r.UpsertSubscriber(ctx, sess.CreatorID, email, "flow:"+f.ID); err != nil {
			return err
		}
		return r.BumpEmailsCollected(ctx, f.ID)
	})
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "store subscriber")
	}

	if next, ok := f.StepByID(st.NextStepID); ok {
		s.deliver(ctx, f, next, in, sess.AccessToken, email)
	}
	return s.deleteSession(ctx, sess)
}

func (s *Service) deleteSession(ctx context.Context, sess domain.Session) error {
	err := s.repoTx(ctx, func(r repo.Repo) error {
		return r.DeleteSession(ctx, sess.RecipientID, sess.CreatorID)
	})
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "delete session")
	}
	return nil
}

func (s *Service) vars(in domain.Inbound, email string) map[string]string {
	v := map[string]string{"username": in.SenderName}
	if email != "" {
		v["email"] = email
	}
	return v
}

func (s *Service) repoTx(ctx context.Context, fn func(r repo.Repo) error) error {
	return s.deps.PG.Tx(ctx, func(q repokit.Queryer) error {
		return fn(s.binder.Bind(q))
	})
}
