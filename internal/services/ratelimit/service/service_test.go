package service

import (
	"context"
	"testing"
	"time"

	"replyloop/internal/modkit"
	"replyloop/internal/modkit/repokit"
	perr "replyloop/internal/platform/errors"
)

// fakeTx satisfies repokit.TxRunner over an in-memory counter map
type fakeTx struct {
	repokit.Queryer
	counts map[string]int64
}

func (f *fakeTx) Tx(ctx context.Context, fn func(q repokit.Queryer) error) error {
	return fn(fakeQueryer{f})
}

type fakeQueryer struct{ tx *fakeTx }

func (q fakeQueryer) Exec(ctx context.Context, sql string, args ...any) (repokit.CommandTag, error) {
	return nil, nil
}

func (q fakeQueryer) Query(ctx context.Context, sql string, args ...any) (repokit.Rows, error) {
	return nil, nil
}

func (q fakeQueryer) QueryRow(ctx context.Context, sql string, args ...any) repokit.Row {
	key := args[0].(string) + "|" + args[1].(time.Time).String()
	q.tx.counts[key]++
	return fakeRow{n: q.tx.counts[key]}
}

type fakeRow struct{ n int64 }

func (r fakeRow) Scan(dst ...any) error {
	*(dst[0].(*int64)) = r.n
	return nil
}

func newTestService() *Service {
	return New(modkit.Deps{PG: &fakeTx{counts: map[string]int64{}}})
}

func TestAllow_WithinLimit(t *testing.T) {
	t.Parallel()

	s := newTestService()
	now := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)

	for i := 0; i < 3; i++ {
		d, err := s.Allow(context.Background(), "creator:c1", 3, time.Hour, now)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	d, err := s.Allow(context.Background(), "creator:c1", 3, time.Hour, now)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed {
		t.Fatalf("fourth call should be denied, count=%d", d.Count)
	}
}

func TestAllow_WindowsAreIndependent(t *testing.T) {
	t.Parallel()

	s := newTestService()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if d, _ := s.Allow(context.Background(), "k", 1, time.Minute, base.Add(time.Duration(i)*time.Minute)); !d.Allowed {
			t.Fatalf("first call of window %d should be allowed", i)
		}
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	s := newTestService()
	now := time.Unix(1735689600, 0).UTC()

	if d, _ := s.Allow(context.Background(), "a", 1, time.Hour, now); !d.Allowed {
		t.Fatalf("key a should be allowed")
	}
	if d, _ := s.Allow(context.Background(), "b", 1, time.Hour, now); !d.Allowed {
		t.Fatalf("key b should be allowed")
	}
	if d, _ := s.Allow(context.Background(), "a", 1, time.Hour, now); d.Allowed {
		t.Fatalf("second call on key a should be denied")
	}
}

func TestAllow_BadArgs(t *testing.T) {
	t.Parallel()

	s := newTestService()
	_, err := s.Allow(context.Background(), "", 1, time.Hour, time.Now())
	if !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	_, err = s.Allow(context.Background(), "k", 0, time.Hour, time.Now())
	if !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("expected invalid argument for zero limit, got %v", err)
	}
}
