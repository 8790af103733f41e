package service

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"replyloop/internal/adapters/graph"
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/repokit"
	perr "replyloop/internal/platform/errors"
	acctdom "replyloop/internal/services/accounts/domain"
	"replyloop/internal/services/queue/domain"
	"replyloop/internal/services/queue/repo"
	rldom "replyloop/internal/services/ratelimit/domain"
)

type nopTx struct{ repokit.Queryer }

func (nopTx) Tx(ctx context.Context, fn func(q repokit.Queryer) error) error { return fn(nil) }

type dmLogEntry struct {
	creatorID, ruleID, recipientID, outcome, detail string
}

// fakeRepo is an in-memory job store
type fakeRepo struct {
	jobs map[string]*domain.Job
	logs []dmLogEntry
}

func newFakeRepo() *fakeRepo { return &fakeRepo{jobs: map[string]*domain.Job{}} }

func (f *fakeRepo) Bind(repokit.Queryer) repo.Repo { return f }

func (f *fakeRepo) InsertJob(ctx context.Context, j domain.Job) error {
	j.Status = domain.StatusPending
	f.jobs[j.ID] = &j
	return nil
}

func (f *fakeRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	var due []*domain.Job
	for _, j := range f.jobs {
		if j.Status == domain.StatusPending && !j.NextRunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].NextRunAt.Before(due[k].NextRunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]domain.Job, 0, len(due))
	for _, j := range due {
		j.Status = domain.StatusProcessing
		out = append(out, *j)
	}
	return out, nil
}

func (f *fakeRepo) Complete(ctx context.Context, id string, now time.Time) error {
	f.jobs[id].Status = domain.StatusCompleted
	return nil
}

func (f *fakeRepo) Reschedule(ctx context.Context, id string, attempts int, nextRunAt time.Time, lastErr string, now time.Time) error {
	j := f.jobs[id]
	j.Status = domain.StatusPending
	j.Attempts = attempts
	j.NextRunAt = nextRunAt
	j.LastError = lastErr
	return nil
}

func (f *fakeRepo) Fail(ctx context.Context, id string, attempts int, lastErr string, now time.Time) error {
	j := f.jobs[id]
	j.Status = domain.StatusFailed
	j.Attempts = attempts
	j.LastError = lastErr
	return nil
}

func (f *fakeRepo) RecordDMOutcome(ctx context.Context, creatorID, ruleID, recipientID, outcome, detail string) error {
	f.logs = append(f.logs, dmLogEntry{creatorID, ruleID, recipientID, outcome, detail})
	return nil
}

type fakeGateway struct {
	sendErr error
	sent    []string
}

func (g *fakeGateway) SendDM(ctx context.Context, recipientID, text, accessToken string) (graph.SendResult, error) {
	if g.sendErr != nil {
		return graph.SendResult{}, g.sendErr
	}
	g.sent = append(g.sent, recipientID+":"+text)
	return graph.SendResult{MessageID: "m1", RecipientID: recipientID}, nil
}

type fakeAccounts struct{}

func (fakeAccounts) AccountByCreator(ctx context.Context, creatorID string) (acctdom.Account, error) {
	return acctdom.Account{CreatorID: creatorID, AccessToken: "tok", Active: true}, nil
}

type fakeLimiter struct{ deny bool }

func (l fakeLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (rldom.Decision, error) {
	if l.deny {
		return rldom.Decision{Allowed: false, Count: limit + 1}, nil
	}
	return rldom.Decision{Allowed: true, Count: 1, Remaining: limit - 1}, nil
}

type fakeMailer struct {
	sendErr error
	sent    []string
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, to)
	return nil
}

func newTestService(fr *fakeRepo, gw *fakeGateway, mailer *fakeMailer, limiter fakeLimiter, base time.Time) *Service {
	s := New(modkit.Deps{PG: nopTx{}}, Config{}, gw, mailer, limiter, fakeAccounts{})
	s.binder = fr
	s.now = func() time.Time { return base }
	return s
}

func dmPayload() domain.DMPayload {
	return domain.DMPayload{CreatorID: "c1", RecipientID: "u1", Text: "hi", RuleID: "r1"}
}

func TestEnqueueFanOut_StaggersRunTimes(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fr := newFakeRepo()
	s := newTestService(fr, &fakeGateway{}, &fakeMailer{}, fakeLimiter{}, base)

	jobs := []domain.Enqueue{
		{Type: domain.JobDMDelivery, Payload: dmPayload()},
		{Type: domain.JobDMDelivery, Payload: dmPayload()},
		{Type: domain.JobDMDelivery, Payload: dmPayload()},
	}
	ids, err := s.EnqueueFanOut(context.Background(), jobs, 2*time.Second)
	if err != nil {
		t.Fatalf("EnqueueFanOut: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3", len(ids))
	}
	for i, id := range ids {
		j := fr.jobs[id]
		want := base.Add(time.Duration(i) * 2 * time.Second)
		if !j.NextRunAt.Equal(want) {
			t.Fatalf("job %d NextRunAt = %v, want %v", i, j.NextRunAt, want)
		}
		if j.Attempts != 0 || j.Status != domain.StatusPending {
			t.Fatalf("job %d = %+v, want fresh pending", i, j)
		}
	}
}

func TestDrain_CompletesDeliveredJob(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fr := newFakeRepo()
	gw := &fakeGateway{}
	s := newTestService(fr, gw, &fakeMailer{}, fakeLimiter{}, base)

	id, err := s.Enqueue(context.Background(), domain.Enqueue{Type: domain.JobDMDelivery, Payload: dmPayload()})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	res, err := s.Drain(context.Background(), base)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Claimed != 1 || res.Completed != 1 {
		t.Fatalf("res = %+v, want 1 claimed, 1 completed", res)
	}
	if fr.jobs[id].Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", fr.jobs[id].Status)
	}
	if len(gw.sent) != 1 {
		t.Fatalf("sent = %v, want one delivery", gw.sent)
	}
}

func TestDrain_SkipsFutureJobs(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fr := newFakeRepo()
	s := newTestService(fr, &fakeGateway{}, &fakeMailer{}, fakeLimiter{}, base)

	_, err := s.Enqueue(context.Background(), domain.Enqueue{
		Type: domain.JobDMDelivery, Payload: dmPayload(), RunAt: base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	res, err := s.Drain(context.Background(), base)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Claimed != 0 {
		t.Fatalf("claimed %d future jobs, want 0", res.Claimed)
	}
}

func TestDrain_TransientFailureReschedulesWithBackoff(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fr := newFakeRepo()
	gw := &fakeGateway{sendErr: perr.Unavailablef("api down")}
	s := newTestService(fr, gw, &fakeMailer{}, fakeLimiter{}, base)

	id, err := s.Enqueue(context.Background(), domain.Enqueue{Type: domain.JobDMDelivery, Payload: dmPayload()})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// first attempt, delay = base
	res, err := s.Drain(context.Background(), base)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Retried != 1 {
		t.Fatalf("res = %+v, want 1 retried", res)
	}
	j := fr.jobs[id]
	if j.Attempts != 1 || j.Status != domain.StatusPending {
		t.Fatalf("job = %+v, want pending with 1 attempt", j)
	}
	if want := base.Add(time.Minute); !j.NextRunAt.Equal(want) {
		t.Fatalf("NextRunAt = %v, want %v", j.NextRunAt, want)
	}

	// second attempt, delay doubles
	t2 := j.NextRunAt
	if _, err := s.Drain(context.Background(), t2); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if j.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", j.Attempts)
	}
	if want := t2.Add(2 * time.Minute); !j.NextRunAt.Equal(want) {
		t.Fatalf("NextRunAt = %v, want %v", j.NextRunAt, want)
	}

	// third attempt exhausts the bound
	res, err = s.Drain(context.Background(), j.NextRunAt)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("res = %+v, want 1 failed", res)
	}
	if j.Status != domain.StatusFailed || j.Attempts != 3 {
		t.Fatalf("job = %+v, want terminal failed after 3 attempts", j)
	}
	if len(fr.logs) != 1 || fr.logs[0].outcome != "failed" {
		t.Fatalf("logs = %+v, want one failed journal entry", fr.logs)
	}
}

func TestDrain_PermanentFailureFailsImmediately(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fr := newFakeRepo()
	gw := &fakeGateway{sendErr: perr.Forbiddenf("recipient unreachable")}
	s := newTestService(fr, gw, &fakeMailer{}, fakeLimiter{}, base)

	id, err := s.Enqueue(context.Background(), domain.Enqueue{Type: domain.JobDMDelivery, Payload: dmPayload()})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	res, err := s.Drain(context.Background(), base)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Failed != 1 || res.Retried != 0 {
		t.Fatalf("res = %+v, want immediate terminal failure", res)
	}
	if j := fr.jobs[id]; j.Status != domain.StatusFailed || j.Attempts != 1 {
		t.Fatalf("job = %+v, want failed after a single attempt", j)
	}
}

func TestDrain_RateLimitDenialIsTransient(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fr := newFakeRepo()
	gw := &fakeGateway{}
	s := newTestService(fr, gw, &fakeMailer{}, fakeLimiter{deny: true}, base)

	id, err := s.Enqueue(context.Background(), domain.Enqueue{Type: domain.JobDMDelivery, Payload: dmPayload()})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	res, err := s.Drain(context.Background(), base)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Retried != 1 {
		t.Fatalf("res = %+v, want reschedule on denial", res)
	}
	if fr.jobs[id].Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", fr.jobs[id].Status)
	}
	if len(gw.sent) != 0 {
		t.Fatalf("sent = %v, want no delivery", gw.sent)
	}
	if len(fr.logs) != 1 || fr.logs[0].outcome != "rate_limited" {
		t.Fatalf("logs = %+v, want one rate_limited entry", fr.logs)
	}
}

func TestDrain_EmailBroadcast(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fr := newFakeRepo()
	mailer := &fakeMailer{}
	s := newTestService(fr, &fakeGateway{}, mailer, fakeLimiter{}, base)

	_, err := s.Enqueue(context.Background(), domain.Enqueue{
		Type:    domain.JobEmailBroadcast,
		Payload: domain.EmailPayload{CreatorID: "c1", Email: "ana@example.com", Subject: "drop", Body: "new launch"},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	res, err := s.Drain(context.Background(), base)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Completed != 1 {
		t.Fatalf("res = %+v, want 1 completed", res)
	}
	if len(mailer.sent) != 1 || mailer.sent[0] != "ana@example.com" {
		t.Fatalf("sent = %v", mailer.sent)
	}
}

func TestDrain_UnknownTypeFailsTerminally(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fr := newFakeRepo()
	s := newTestService(fr, &fakeGateway{}, &fakeMailer{}, fakeLimiter{}, base)

	raw, _ := json.Marshal(map[string]string{"k": "v"})
	fr.jobs["j1"] = &domain.Job{
		ID: "j1", Type: "mystery", Payload: raw,
		Status: domain.StatusPending, NextRunAt: base, MaxAttempts: 3,
	}

	res, err := s.Drain(context.Background(), base)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("res = %+v, want terminal failure", res)
	}
	if fr.jobs["j1"].Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", fr.jobs["j1"].Status)
	}
}
