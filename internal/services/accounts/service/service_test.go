package service

import (
	"context"
	"testing"
	"time"

	"replyloop/internal/modkit"
	"replyloop/internal/modkit/repokit"
	perr "replyloop/internal/platform/errors"
	"replyloop/internal/services/accounts/domain"
	"replyloop/internal/services/accounts/repo"
)

type nopTx struct{ repokit.Queryer }

func (nopTx) Tx(ctx context.Context, fn func(q repokit.Queryer) error) error { return fn(nil) }

type fakeRepo struct {
	accounts map[string]*domain.Account // keyed by account ID

	inactive []string
}

func (f *fakeRepo) Bind(repokit.Queryer) repo.Repo { return f }

func (f *fakeRepo) AccountByCreator(ctx context.Context, creatorID string) (domain.Account, error) {
	var best *domain.Account
	for _, a := range f.accounts {
		if a.CreatorID != creatorID || !a.Active {
			continue
		}
		if best == nil || a.ConnectedAt.After(best.ConnectedAt) {
			best = a
		}
	}
	if best == nil {
		return domain.Account{}, perr.NotFoundf("no active account for creator %s", creatorID)
	}
	return *best, nil
}

func (f *fakeRepo) ExpiringAccounts(ctx context.Context, before time.Time, limit int) ([]domain.Account, error) {
	var out []domain.Account
	for _, a := range f.accounts {
		if a.Active && a.TokenExpiresAt.Before(before) {
			out = append(out, *a)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdateToken(ctx context.Context, accountID, token string, expiresAt time.Time) error {
	a := f.accounts[accountID]
	a.AccessToken = token
	a.TokenExpiresAt = expiresAt
	return nil
}

func (f *fakeRepo) MarkInactive(ctx context.Context, accountID string) error {
	f.accounts[accountID].Active = false
	f.inactive = append(f.inactive, accountID)
	return nil
}

type fakeExchanger struct {
	err   error
	calls int
}

func (f *fakeExchanger) RefreshToken(ctx context.Context, accessToken string) (string, time.Duration, error) {
	f.calls++
	if f.err != nil {
		return "", 0, f.err
	}
	return "fresh-" + accessToken, 60 * 24 * time.Hour, nil
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func account(id, creatorID string, expires time.Time) *domain.Account {
	return &domain.Account{
		ID:             id,
		CreatorID:      creatorID,
		Platform:       "instagram",
		PlatformUserID: "pu-" + id,
		Username:       "user-" + id,
		AccessToken:    "tok-" + id,
		TokenExpiresAt: expires,
		Active:         true,
		ConnectedAt:    base.Add(-24 * time.Hour),
	}
}

func newTestService(fr *fakeRepo, gw TokenExchanger) *Service {
	s := New(modkit.Deps{PG: nopTx{}}, Config{RefreshWindow: 7 * 24 * time.Hour, Batch: 10}, gw)
	s.binder = fr
	return s
}

func TestAccountByCreator_PicksNewestActive(t *testing.T) {
	t.Parallel()

	older := account("a1", "c1", base.Add(30*24*time.Hour))
	newer := account("a2", "c1", base.Add(30*24*time.Hour))
	newer.ConnectedAt = base.Add(-time.Hour)
	fr := &fakeRepo{accounts: map[string]*domain.Account{"a1": older, "a2": newer}}
	s := newTestService(fr, &fakeExchanger{})

	a, err := s.AccountByCreator(context.Background(), "c1")
	if err != nil {
		t.Fatalf("AccountByCreator: %v", err)
	}
	if a.ID != "a2" {
		t.Fatalf("expected newest account a2, got %s", a.ID)
	}
}

func TestAccountByCreator_RequiresCreator(t *testing.T) {
	t.Parallel()

	s := newTestService(&fakeRepo{accounts: map[string]*domain.Account{}}, &fakeExchanger{})
	_, err := s.AccountByCreator(context.Background(), "")
	if !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestRefreshExpiring_RenewsDueTokens(t *testing.T) {
	t.Parallel()

	due := account("a1", "c1", base.Add(48*time.Hour))
	far := account("a2", "c2", base.Add(60*24*time.Hour))
	fr := &fakeRepo{accounts: map[string]*domain.Account{"a1": due, "a2": far}}
	gw := &fakeExchanger{}
	s := newTestService(fr, gw)

	res, err := s.RefreshExpiring(context.Background(), base)
	if err != nil {
		t.Fatalf("RefreshExpiring: %v", err)
	}
	if res.Checked != 1 || res.Refreshed != 1 || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if gw.calls != 1 {
		t.Fatalf("expected one exchange, got %d", gw.calls)
	}
	if due.AccessToken != "fresh-tok-a1" {
		t.Fatalf("token not rotated: %s", due.AccessToken)
	}
	if want := base.Add(60 * 24 * time.Hour); !due.TokenExpiresAt.Equal(want) {
		t.Fatalf("expiry = %v, want %v", due.TokenExpiresAt, want)
	}
	if far.AccessToken != "tok-a2" {
		t.Fatalf("far-future token should be untouched")
	}
}

func TestRefreshExpiring_TransientFailureKeepsAccountActive(t *testing.T) {
	t.Parallel()

	due := account("a1", "c1", base.Add(time.Hour))
	fr := &fakeRepo{accounts: map[string]*domain.Account{"a1": due}}
	s := newTestService(fr, &fakeExchanger{err: perr.Unavailablef("graph is down")})

	res, err := s.RefreshExpiring(context.Background(), base)
	if err != nil {
		t.Fatalf("RefreshExpiring: %v", err)
	}
	if res.Failed != 1 || res.Refreshed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !due.Active {
		t.Fatalf("transient failure must not deactivate the account")
	}
	if len(fr.inactive) != 0 {
		t.Fatalf("MarkInactive should not be called")
	}
}

func TestRefreshExpiring_PermanentFailureDeactivates(t *testing.T) {
	t.Parallel()

	due := account("a1", "c1", base.Add(time.Hour))
	fr := &fakeRepo{accounts: map[string]*domain.Account{"a1": due}}
	s := newTestService(fr, &fakeExchanger{err: perr.Unauthorizedf("token revoked")})

	res, err := s.RefreshExpiring(context.Background(), base)
	if err != nil {
		t.Fatalf("RefreshExpiring: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if due.Active {
		t.Fatalf("revoked token should deactivate the account")
	}
	if len(fr.inactive) != 1 || fr.inactive[0] != "a1" {
		t.Fatalf("expected a1 deactivated, got %v", fr.inactive)
	}
}
