// Package service implements signed webhook delivery with retry scheduling
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"replyloop/internal/core/backoff"
	"replyloop/internal/core/signing"
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/repokit"
	perr "replyloop/internal/platform/errors"
	"replyloop/internal/platform/logger"
	pstrings "replyloop/internal/platform/strings"
	ptime "replyloop/internal/platform/time"
	"replyloop/internal/services/webhooks/domain"
	"replyloop/internal/services/webhooks/repo"
)

const (
	headerSignature = "X-Replyloop-Signature"
	headerEvent     = "X-Replyloop-Event"

	defaultTimeout    = 10 * time.Second
	defaultSweepBatch = 100
	defaultLease      = 5 * time.Minute

	// one initial attempt plus one retry per schedule entry
	defaultMaxAttempts = 1 + 5

	responseBodyLimit = 1000
)

// Config bounds delivery and the retry sweep. Lease is how long a
// claimed delivery stays off-limits to other sweep runs; it must
// comfortably exceed Timeout
type Config struct {
	Timeout     time.Duration
	SweepBatch  int
	MaxAttempts int
	Lease       time.Duration
}

// Service owns endpoint registration and signed delivery
type Service struct {
	deps   modkit.Deps
	cfg    Config
	binder repokit.Binder[repo.Repo]
	http   *http.Client
	log    logger.Logger
	now    func() time.Time
}

// New constructs the webhook service
func New(deps modkit.Deps, cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = defaultSweepBatch
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLease
	}
	return &Service{
		deps:   deps,
		cfg:    cfg,
		binder: repo.NewPG(),
		http:   &http.Client{Timeout: cfg.Timeout},
		log:    *logger.Named("webhooks"),
		now:    time.Now,
	}
}

// CreateEndpoint registers a subscriber endpoint
func (s *Service) CreateEndpoint(ctx context.Context, args domain.CreateEndpoint) (domain.Endpoint, error) {
	if args.CreatorID == "" || args.URL == "" || args.Secret == "" {
		return domain.Endpoint{}, perr.InvalidArgf("creator, url, and secret are required")
	}
	if len(args.EventTypes) == 0 {
		return domain.Endpoint{}, perr.InvalidArgf("at least one event type is required")
	}

	e := domain.Endpoint{
		ID:         uuid.NewString(),
		CreatorID:  args.CreatorID,
		URL:        args.URL,
		Secret:     args.Secret,
		EventTypes: args.EventTypes,
		Active:     true,
		CreatedAt:  s.now().UTC(),
	}
	err := s.repoTx(ctx, func(r repo.Repo) error { return r.InsertEndpoint(ctx, e) })
	if err != nil {
		return domain.Endpoint{}, perr.Wrapf(err, perr.ErrorCodeDB, "create endpoint")
	}
	return e, nil
}

// ListEndpoints returns the creator's endpoints, newest first
func (s *Service) ListEndpoints(ctx context.Context, creatorID string) ([]domain.Endpoint, error) {
	var out []domain.Endpoint
	err := s.repoTx(ctx, func(r repo.Repo) error {
		var err error
		out, err = r.ListEndpoints(ctx, creatorID)
		return err
	})
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "list endpoints")
	}
	return out, nil
}

// DeleteEndpoint removes an endpoint owned by the creator
func (s *Service) DeleteEndpoint(ctx context.Context, creatorID, endpointID string) error {
	var deleted bool
	err := s.repoTx(ctx, func(r repo.Repo) error {
		var err error
		deleted, err = r.DeleteEndpoint(ctx, creatorID, endpointID)
		return err
	})
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "delete endpoint")
	}
	if !deleted {
		return perr.NotFoundf("endpoint %s", endpointID)
	}
	return nil
}

// Deliveries returns the creator's delivery history, newest first
func (s *Service) Deliveries(ctx context.Context, creatorID string, limit int) ([]domain.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.Delivery
	err := s.repoTx(ctx, func(r repo.Repo) error {
		var err error
		out, err = r.ListDeliveries(ctx, creatorID, limit)
		return err
	})
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "list deliveries")
	}
	return out, nil
}

// Dispatch fans an event out to every subscribed endpoint. A creator
// with no matching endpoint is a silent no-op
func (s *Service) Dispatch(ctx context.Context, creatorID, eventType string, payload any) (domain.Result, error) {
	var res domain.Result

	body, err := json.Marshal(payload)
	if err != nil {
		return res, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "encode payload")
	}

	var endpoints []domain.Endpoint
	err = s.repoTx(ctx, func(r repo.Repo) error {
		var err error
		endpoints, err = r.ActiveEndpoints(ctx, creatorID)
		return err
	})
	if err != nil {
		return res, perr.Wrapf(err, perr.ErrorCodeDB, "load endpoints")
	}

	now := s.now().UTC()
	for _, ep := range endpoints {
		if !ep.Subscribed(eventType) {
			continue
		}
		d := domain.Delivery{
			ID:           uuid.NewString(),
			EndpointID:   ep.ID,
			CreatorID:    creatorID,
			EventType:    eventType,
			Payload:      body,
			AttemptCount: 1,
			CreatedAt:    now,
		}
		if err := s.repoTx(ctx, func(r repo.Repo) error { return r.InsertDelivery(ctx, d) }); err != nil {
			return res, perr.Wrapf(err, perr.ErrorCodeDB, "record delivery")
		}
		res.Attempted++
		if s.attempt(ctx, ep, d, 1) {
			res.Delivered++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

// Retry re-sends the original stored payload and mutates the same record
func (s *Service) Retry(ctx context.Context, endpointID, deliveryID string) (domain.Delivery, error) {
	ep, d, err := s.loadPair(ctx, endpointID, deliveryID)
	if err != nil {
		return domain.Delivery{}, err
	}
	s.attempt(ctx, ep, d, d.AttemptCount+1)
	return s.reload(ctx, deliveryID)
}

// Test sends a synthetic test.ping through the regular delivery path
func (s *Service) Test(ctx context.Context, endpointID string) (domain.Delivery, error) {
	var ep domain.Endpoint
	err := s.repoTx(ctx, func(r repo.Repo) error {
		var err error
		ep, err = r.EndpointByID(ctx, endpointID)
		return err
	})
	if err != nil {
		if perr.IsNoRows(err) {
			return domain.Delivery{}, perr.NotFoundf("endpoint %s", endpointID)
		}
		return domain.Delivery{}, perr.Wrapf(err, perr.ErrorCodeDB, "load endpoint")
	}

	now := s.now().UTC()
	body, _ := json.Marshal(map[string]any{
		"event":     "test.ping",
		"timestamp": now.Unix(),
	})
	d := domain.Delivery{
		ID:           uuid.NewString(),
		EndpointID:   ep.ID,
		CreatorID:    ep.CreatorID,
		EventType:    "test.ping",
		Payload:      body,
		AttemptCount: 1,
		CreatedAt:    now,
	}
	if err := s.repoTx(ctx, func(r repo.Repo) error { return r.InsertDelivery(ctx, d) }); err != nil {
		return domain.Delivery{}, perr.Wrapf(err, perr.ErrorCodeDB, "record delivery")
	}
	s.attempt(ctx, ep, d, 1)
	return s.reload(ctx, d.ID)
}

// RunDue retries every undelivered record whose next_retry_at has
// passed. The claim leases each row so concurrent runs split the
// backlog instead of double-posting
func (s *Service) RunDue(ctx context.Context, now time.Time) (domain.Result, error) {
	var res domain.Result

	var due []domain.Delivery
	err := s.repoTx(ctx, func(r repo.Repo) error {
		var err error
		due, err = r.ClaimDue(ctx, now, now.Add(s.cfg.Lease), s.cfg.SweepBatch)
		return err
	})
	if err != nil {
		return res, perr.Wrapf(err, perr.ErrorCodeDB, "claim due deliveries")
	}

	for _, d := range due {
		var ep domain.Endpoint
		err := s.repoTx(ctx, func(r repo.Repo) error {
			var err error
			ep, err = r.EndpointByID(ctx, d.EndpointID)
			return err
		})
		if err != nil {
			s.log.Warn().Err(err).Str("delivery_id", d.ID).Msg("endpoint lookup failed")
			continue
		}
		res.Attempted++
		if s.attempt(ctx, ep, d, d.AttemptCount+1) {
			res.Delivered++
		} else {
			res.Failed++
		}
	}

	if res.Attempted > 0 {
		s.log.Info().
			Int("attempted", res.Attempted).
			Int("delivered", res.Delivered).
			Int("failed", res.Failed).
			Msg("webhook retry sweep")
	}
	return res, nil
}

// attempt posts one signed delivery and records the outcome on both the
// delivery and its endpoint. Reports whether the endpoint accepted it
func (s *Service) attempt(ctx context.Context, ep domain.Endpoint, d domain.Delivery, attempt int) bool {
	code, body := s.post(ctx, ep, d)
	now := s.now().UTC()
	delivered := code >= 200 && code < 300

	err := s.repoTx(ctx, func(r repo.Repo) error {
		if delivered {
			if err := r.MarkDelivered(ctx, d.ID, attempt, code, body, now); err != nil {
				return err
			}
		} else {
			var nextRetry *time.Time
			if attempt < s.cfg.MaxAttempts {
				nextRetry = ptime.Ptr(now.Add(backoff.Table(backoff.WebhookSchedule, attempt)))
			}
			if err := r.MarkFailed(ctx, d.ID, attempt, code, body, nextRetry, now); err != nil {
				return err
			}
		}
		return r.TouchEndpoint(ctx, ep.ID, code, now)
	})
	if err != nil {
		s.log.Error().Err(err).Str("delivery_id", d.ID).Msg("record attempt failed")
	}
	return delivered
}

// post performs the signed POST. Transport errors report as code 0 with
// the error text in place of a response body
func (s *Service) post(ctx context.Context, ep domain.Endpoint, d domain.Delivery) (int, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return 0, pstrings.Truncate(err.Error(), responseBodyLimit)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerSignature, signing.Sign(ep.Secret, d.Payload))
	req.Header.Set(headerEvent, d.EventType)

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, pstrings.Truncate(err.Error(), responseBodyLimit)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit+1))
	return resp.StatusCode, pstrings.Truncate(string(raw), responseBodyLimit)
}

func (s *Service) loadPair(ctx context.Context, endpointID, deliveryID string) (domain.Endpoint, domain.Delivery, error) {
	var (
		ep domain.Endpoint
		d  domain.Delivery
	)
	err := s.repoTx(ctx, func(r repo.Repo) error {
		var err error
		if d, err = r.DeliveryByID(ctx, deliveryID); err != nil {
			return err
		}
		ep, err = r.EndpointByID(ctx, endpointID)
		return err
	})
	if err != nil {
		if perr.IsNoRows(err) {
			return ep, d, perr.NotFoundf("delivery %s on endpoint %s", deliveryID, endpointID)
		}
		return ep, d, perr.Wrapf(err, perr.ErrorCodeDB, "load delivery")
	}
	if d.EndpointID != ep.ID {
		return ep, d, perr.InvalidArgf("delivery %s does not belong to endpoint %s", deliveryID, endpointID)
	}
	return ep, d, nil
}

func (s *Service) reload(ctx context.Context, deliveryID string) (domain.Delivery, error) {
	var d domain.Delivery
	err := s.repoTx(ctx, func(r repo.Repo) error {
		var err error
		d, err = r.DeliveryByID(ctx, deliveryID)
		return err
	})
	if err != nil {
		return domain.Delivery{}, perr.Wrapf(err, perr.ErrorCodeDB, "reload delivery")
	}
	return d, nil
}

func (s *Service) repoTx(ctx context.Context, fn func(r repo.Repo) error) error {
	return s.deps.PG.Tx(ctx, func(q repokit.Queryer) error {
		return fn(s.binder.Bind(q))
	})
}
