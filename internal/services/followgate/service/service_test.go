package service

import (
	"context"
	"testing"
	"time"

	"replyloop/internal/adapters/graph"
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/repokit"
	perr "replyloop/internal/platform/errors"
	acctdom "replyloop/internal/services/accounts/domain"
	"replyloop/internal/services/followgate/domain"
	"replyloop/internal/services/followgate/repo"
)

type nopTx struct{ repokit.Queryer }

func (nopTx) Tx(ctx context.Context, fn func(q repokit.Queryer) error) error { return fn(nil) }

// fakeRepo is an in-memory pending-follower store
type fakeRepo struct {
	rows      map[string]*domain.PendingFollower
	converted map[string]int
	nextID    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[string]*domain.PendingFollower{}, converted: map[string]int{}}
}

func (f *fakeRepo) Bind(repokit.Queryer) repo.Repo { return f }

func (f *fakeRepo) InsertPending(ctx context.Context, args domain.CreatePending, now time.Time) (bool, error) {
	for _, p := range f.rows {
		if p.RecipientID == args.RecipientID && p.RuleID == args.RuleID && p.Status == domain.StatusPending {
			return false, nil
		}
	}
	f.nextID++
	id := string(rune('a' + f.nextID))
	f.rows[id] = &domain.PendingFollower{
		ID: id, CreatorID: args.CreatorID, RecipientID: args.RecipientID,
		RecipientName: args.RecipientName, RuleID: args.RuleID, DMText: args.DMText,
		Status: domain.StatusPending, CreatedAt: now, ExpiresAt: now.Add(args.Window),
	}
	return true, nil
}

func (f *fakeRepo) ClaimDue(ctx context.Context, now, checkedBefore time.Time, limit int) ([]domain.PendingFollower, error) {
	var out []domain.PendingFollower
	for _, p := range f.rows {
		if p.Status != domain.StatusPending || !p.ExpiresAt.After(now) {
			continue
		}
		if p.LastCheckedAt != nil && p.LastCheckedAt.After(checkedBefore) {
			continue
		}
		p.CheckCount++
		checked := now
		p.LastCheckedAt = &checked
		out = append(out, *p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) MarkDMSent(ctx context.Context, id string, now time.Time) error {
	p := f.rows[id]
	p.Status = domain.StatusDMSent
	p.FollowedAt = &now
	p.DMSentAt = &now
	return nil
}

func (f *fakeRepo) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for _, p := range f.rows {
		if p.Status == domain.StatusPending && !p.ExpiresAt.After(now) {
			p.Status = domain.StatusExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) BumpRuleConverted(ctx context.Context, ruleID string) error {
	f.converted[ruleID]++
	return nil
}

// fakeGateway scripts follow checks and DM outcomes
type fakeGateway struct {
	following map[string]bool
	checkErr  error
	sendErr   error
	sent      []string
}

func (g *fakeGateway) SendDM(ctx context.Context, recipientID, text, token string) (graph.SendResult, error) {
	if g.sendErr != nil {
		return graph.SendResult{}, g.sendErr
	}
	g.sent = append(g.sent, recipientID)
	return graph.SendResult{MessageID: "m", RecipientID: recipientID}, nil
}

func (g *fakeGateway) IsFollowing(ctx context.Context, userID, token string) (bool, error) {
	if g.checkErr != nil {
		return false, g.checkErr
	}
	return g.following[userID], nil
}

type fakeAccounts struct{}

func (fakeAccounts) AccountByCreator(ctx context.Context, creatorID string) (acctdom.Account, error) {
	return acctdom.Account{ID: "acct", CreatorID: creatorID, AccessToken: "tok"}, nil
}

func newTestService(fr *fakeRepo, gw *fakeGateway) *Service {
	s := New(modkit.Deps{PG: nopTx{}}, Config{}, gw, fakeAccounts{})
	s.binder = fr
	return s
}

func TestCreate_IdempotentPerRecipientRule(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	s := newTestService(fr, &fakeGateway{})

	args := domain.CreatePending{
		CreatorID: "c1", RecipientID: "u1", RuleID: "r1",
		DMText: "here you go", Window: 24 * time.Hour,
	}
	created, err := s.Create(context.Background(), args)
	if err != nil || !created {
		t.Fatalf("first create = %v, %v; want true, nil", created, err)
	}
	created, err = s.Create(context.Background(), args)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatalf("duplicate pending pair must be a no-op")
	}
	if len(fr.rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(fr.rows))
	}
}

func TestCreate_Validation(t *testing.T) {
	t.Parallel()

	s := newTestService(newFakeRepo(), &fakeGateway{})
	_, err := s.Create(context.Background(), domain.CreatePending{CreatorID: "c1"})
	if !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestSweep_NotFollowingIncrementsCheck(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	gw := &fakeGateway{following: map[string]bool{}}
	s := newTestService(fr, gw)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fr.InsertPending(context.Background(), domain.CreatePending{
		CreatorID: "c1", RecipientID: "u1", RuleID: "r1", DMText: "dm", Window: time.Hour,
	}, now)

	res, err := s.Sweep(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Processed != 1 || res.DMsSent != 0 || res.Expired != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, p := range fr.rows {
		if p.CheckCount != 1 || p.Status != domain.StatusPending {
			t.Fatalf("expected checked pending row, got %+v", p)
		}
	}
}

func TestSweep_FollowedSendsDMAndConverts(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	gw := &fakeGateway{following: map[string]bool{"u1": true}}
	s := newTestService(fr, gw)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fr.InsertPending(context.Background(), domain.CreatePending{
		CreatorID: "c1", RecipientID: "u1", RuleID: "r1", DMText: "dm", Window: time.Hour,
	}, now)

	res, err := s.Sweep(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.DMsSent != 1 {
		t.Fatalf("expected 1 dm sent, got %+v", res)
	}
	if len(gw.sent) != 1 || gw.sent[0] != "u1" {
		t.Fatalf("gateway sends = %v", gw.sent)
	}
	if fr.converted["r1"] != 1 {
		t.Fatalf("rule conversion counter = %d, want 1", fr.converted["r1"])
	}
	for _, p := range fr.rows {
		if p.Status != domain.StatusDMSent || p.DMSentAt == nil || p.FollowedAt == nil {
			t.Fatalf("row not finalized: %+v", p)
		}
	}
}

func TestSweep_DeliveryFailureLeavesPending(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	gw := &fakeGateway{
		following: map[string]bool{"u1": true},
		sendErr:   perr.Unavailablef("platform down"),
	}
	s := newTestService(fr, gw)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fr.InsertPending(context.Background(), domain.CreatePending{
		CreatorID: "c1", RecipientID: "u1", RuleID: "r1", DMText: "dm", Window: time.Hour,
	}, now)

	res, err := s.Sweep(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.DMsSent != 0 {
		t.Fatalf("failed delivery must not count as sent: %+v", res)
	}
	for _, p := range fr.rows {
		if p.Status != domain.StatusPending {
			t.Fatalf("row must stay pending for the next sweep, got %s", p.Status)
		}
	}
}

func TestSweep_ExpiresPastDueRows(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	s := newTestService(fr, &fakeGateway{following: map[string]bool{}})

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fr.InsertPending(context.Background(), domain.CreatePending{
		CreatorID: "c1", RecipientID: "u1", RuleID: "r1", DMText: "dm", Window: time.Hour,
	}, now)

	res, err := s.Sweep(context.Background(), now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Expired != 1 || res.Processed != 0 {
		t.Fatalf("expected expiry only, got %+v", res)
	}
}

func TestSweep_CheckErrorKeepsRowPending(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	gw := &fakeGateway{checkErr: perr.Unavailablef("graph down")}
	s := newTestService(fr, gw)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fr.InsertPending(context.Background(), domain.CreatePending{
		CreatorID: "c1", RecipientID: "u1", RuleID: "r1", DMText: "dm", Window: time.Hour,
	}, now)

	if _, err := s.Sweep(context.Background(), now.Add(time.Minute)); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	for _, p := range fr.rows {
		if p.Status != domain.StatusPending || p.LastCheckedAt == nil {
			t.Fatalf("row must stay pending with the check stamped, got %+v", p)
		}
	}
}

func TestSweep_ClaimedRowsSkippedUntilRecheckWindowLapses(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	gw := &fakeGateway{following: map[string]bool{}}
	s := newTestService(fr, gw)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fr.InsertPending(context.Background(), domain.CreatePending{
		CreatorID: "c1", RecipientID: "u1", RuleID: "r1", DMText: "dm", Window: 24 * time.Hour,
	}, now)

	res, err := s.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("first Sweep: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("first sweep processed = %d, want 1", res.Processed)
	}

	// a second sweep inside the recheck window finds nothing to claim, so
	// overlapping invocations never double-check the same row
	res, err = s.Sweep(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if res.Processed != 0 {
		t.Fatalf("freshly checked row must not be reclaimed, processed = %d", res.Processed)
	}

	res, err = s.Sweep(context.Background(), now.Add(s.cfg.RecheckAfter+time.Minute))
	if err != nil {
		t.Fatalf("third Sweep: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("row must be rechecked after the window lapses, processed = %d", res.Processed)
	}
	for _, p := range fr.rows {
		if p.CheckCount != 2 {
			t.Fatalf("check count = %d, want 2", p.CheckCount)
		}
	}
}
