// Package service implements the durable job queue and its worker pass
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"replyloop/internal/adapters/graph"
	"replyloop/internal/core/backoff"
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/repokit"
	perr "replyloop/internal/platform/errors"
	"replyloop/internal/platform/logger"
	acctdom "replyloop/internal/services/accounts/domain"
	"replyloop/internal/services/queue/domain"
	"replyloop/internal/services/queue/repo"
	rldom "replyloop/internal/services/ratelimit/domain"
)

// Gateway is the slice of the graph client job delivery needs
type Gateway interface {
	SendDM(ctx context.Context, recipientID, text, accessToken string) (graph.SendResult, error)
}

// Mailer delivers broadcast emails. The provider lives outside this
// module; the queue only needs the send call
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Handler processes one claimed job. A nil return completes the job;
// a retryable error reschedules it, anything else fails it terminally
type Handler func(ctx context.Context, job domain.Job) error

// Config bounds the worker pass and the retry policy
type Config struct {
	Batch       int
	MaxAttempts int
	RetryBase   time.Duration
	SendLimit   int64
	SendWindow  time.Duration
}

// Service owns enqueue and drain over queue_jobs
type Service struct {
	deps     modkit.Deps
	cfg      Config
	gw       Gateway
	mailer   Mailer
	limiter  rldom.LimiterPort
	accounts acctdom.ReaderPort
	binder   repokit.Binder[repo.Repo]
	handlers map[domain.JobType]Handler
	log      logger.Logger
	now      func() time.Time
}

// New constructs the queue service with the built-in job handlers
func New(deps modkit.Deps, cfg Config, gw Gateway, mailer Mailer, limiter rldom.LimiterPort, accounts acctdom.ReaderPort) *Service {
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Minute
	}
	if cfg.SendLimit <= 0 {
		cfg.SendLimit = 100
	}
	if cfg.SendWindow <= 0 {
		cfg.SendWindow = time.Hour
	}
	s := &Service{
		deps:     deps,
		cfg:      cfg,
		gw:       gw,
		mailer:   mailer,
		limiter:  limiter,
		accounts: accounts,
		binder:   repo.NewPG(),
		log:      *logger.Named("queue"),
		now:      time.Now,
	}
	s.handlers = map[domain.JobType]Handler{
		domain.JobDMDelivery:     s.deliverDM,
		domain.JobEmailBroadcast: s.deliverEmail,
	}
	return s
}

// Register installs or replaces the handler for a job type
func (s *Service) Register(t domain.JobType, h Handler) { s.handlers[t] = h }

// Enqueue inserts one pending job and returns its id
func (s *Service) Enqueue(ctx context.Context, job domain.Enqueue) (string, error) {
	ids, err := s.EnqueueFanOut(ctx, []domain.Enqueue{job}, 0)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// EnqueueFanOut inserts a batch, spacing next_run_at by stagger per item
func (s *Service) EnqueueFanOut(ctx context.Context, jobs []domain.Enqueue, stagger time.Duration) ([]string, error) {
	if len(jobs) == 0 {
		return nil, perr.InvalidArgf("no jobs to enqueue")
	}
	now := s.now().UTC()

	rows := make([]domain.Job, 0, len(jobs))
	ids := make([]string, 0, len(jobs))
	for i, j := range jobs {
		if j.Type == "" {
			return nil, perr.InvalidArgf("job %d has no type", i)
		}
		payload, err := json.Marshal(j.Payload)
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "encode payload")
		}
		runAt := j.RunAt
		if runAt.IsZero() {
			runAt = now
		}
		runAt = runAt.Add(time.Duration(i) * stagger)

		id := uuid.NewString()
		ids = append(ids, id)
		rows = append(rows, domain.Job{
			ID:          id,
			Type:        j.Type,
			Payload:     payload,
			NextRunAt:   runAt,
			MaxAttempts: s.cfg.MaxAttempts,
			CreatedAt:   now,
		})
	}

	err := s.repoTx(ctx, func(r repo.Repo) error {
		for _, row := range rows {
			if err := r.InsertJob(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "enqueue jobs")
	}
	return ids, nil
}

// Drain claims one bounded batch of due jobs and runs each through its
// handler. Jobs in the batch run in next_run_at order; their outcomes
// are independent
func (s *Service) Drain(ctx context.Context, now time.Time) (domain.DrainResult, error) {
	var res domain.DrainResult

	var batch []domain.Job
	err := s.repoTx(ctx, func(r repo.Repo) error {
		var err error
		batch, err = r.ClaimDue(ctx, now, s.cfg.Batch)
		return err
	})
	if err != nil {
		return res, perr.Wrapf(err, perr.ErrorCodeDB, "claim jobs")
	}
	res.Claimed = len(batch)

	for _, job := range batch {
		s.settle(ctx, job, s.run(ctx, job), now, &res)
	}

	if res.Claimed > 0 {
		s.log.Info().
			Int("claimed", res.Claimed).
			Int("completed", res.Completed).
			Int("retried", res.Retried).
			Int("failed", res.Failed).
			Msg("queue drain pass")
	}
	return res, nil
}

func (s *Service) run(ctx context.Context, job domain.Job) error {
	h, ok := s.handlers[job.Type]
	if !ok {
		return perr.InvalidArgf("no handler for job type %q", job.Type)
	}
	return h(ctx, job)
}

// settle moves a claimed job to its post-attempt state
func (s *Service) settle(ctx context.Context, job domain.Job, runErr error, now time.Time, res *domain.DrainResult) {
	attempts := job.Attempts + 1

	switch {
	case runErr == nil:
		if err := s.repoTx(ctx, func(r repo.Repo) error { return r.Complete(ctx, job.ID, now) }); err != nil {
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("complete failed")
			return
		}
		res.Completed++

	case perr.Retryable(runErr) && attempts < job.MaxAttempts:
		delay := backoff.Exponential(s.cfg.RetryBase, job.Attempts, 0)
		err := s.repoTx(ctx, func(r repo.Repo) error {
			return r.Reschedule(ctx, job.ID, attempts, now.Add(delay), runErr.Error(), now)
		})
		if err != nil {
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("reschedule failed")
			return
		}
		res.Retried++

	default:
		err := s.repoTx(ctx, func(r repo.Repo) error {
			if err := r.Fail(ctx, job.ID, attempts, runErr.Error(), now); err != nil {
				return err
			}
			if job.Type == domain.JobDMDelivery {
				var p domain.DMPayload
				if jerr := json.Unmarshal(job.Payload, &p); jerr == nil {
					return r.RecordDMOutcome(ctx, p.CreatorID, p.RuleID, p.RecipientID, "failed", runErr.Error())
				}
			}
			return nil
		})
		if err != nil {
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("fail transition failed")
			return
		}
		res.Failed++
	}
}

// deliverDM is the dm_delivery handler. The rate limit is checked before
// the send; a denied window reads as a transient failure so the job
// reschedules instead of burning an attempt on the API
func (s *Service) deliverDM(ctx context.Context, job domain.Job) error {
	var p domain.DMPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "decode dm payload")
	}
	if p.CreatorID == "" || p.RecipientID == "" || p.Text == "" {
		return perr.InvalidArgf("dm payload missing creator, recipient, or text")
	}

	now := s.now().UTC()
	dec, err := s.limiter.Allow(ctx, "dm:"+p.CreatorID, s.cfg.SendLimit, s.cfg.SendWindow, now)
	if err != nil {
		return err
	}
	if !dec.Allowed {
		s.journalRateLimited(ctx, p)
		return perr.RateLimitedf("creator %s send window exhausted", p.CreatorID)
	}

	acct, err := s.accounts.AccountByCreator(ctx, p.CreatorID)
	if err != nil {
		return err
	}
	_, err = s.gw.SendDM(ctx, p.RecipientID, p.Text, acct.AccessToken)
	return err
}

func (s *Service) journalRateLimited(ctx context.Context, p domain.DMPayload) {
	err := s.repoTx(ctx, func(r repo.Repo) error {
		return r.RecordDMOutcome(ctx, p.CreatorID, p.RuleID, p.RecipientID, "rate_limited", "send window exhausted")
	})
	if err != nil {
		s.log.Warn().Err(err).Str("creator_id", p.CreatorID).Msg("rate-limit journal failed")
	}
}

// deliverEmail is the email_broadcast handler
func (s *Service) deliverEmail(ctx context.Context, job domain.Job) error {
	var p domain.EmailPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "decode email payload")
	}
	if p.Email == "" {
		return perr.InvalidArgf("email payload missing recipient")
	}
	return s.mailer.Send(ctx, p.Email, p.Subject, p.Body)
}

func (s *Service) repoTx(ctx context.Context, fn func(r repo.Repo) error) error {
	return s.deps.PG.Tx(ctx, func(q repokit.Queryer) error {
		return fn(s.binder.Bind(q))
	})
}
