//go:build integration_pg
// +build integration_pg

package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"replyloop/internal/modkit/repokit"
	"replyloop/internal/platform/store"
	"replyloop/internal/services/queue/domain"
)

// startPostgres launches a disposable Postgres and returns DSN + stop func
func startPostgres(t *testing.T) (dsn string, stop func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)

	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_DB":       "postgres",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections"),
		).WithDeadline(2 * time.Minute),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		cancel()
		t.Fatalf("failed to start postgres container: %v", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(context.Background())
		cancel()
		t.Fatalf("failed to get container host: %v", err)
	}
	mp, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = c.Terminate(context.Background())
		cancel()
		t.Fatalf("failed to get mapped port: %v", err)
	}

	dsn = fmt.Sprintf("postgres://postgres:postgres@%s:%s/postgres?sslmode=disable", host, mp.Port())
	stop = func() {
		_ = c.Terminate(context.Background())
		cancel()
	}
	return dsn, stop
}

func openStore(t *testing.T, ctx context.Context, dsn string) *store.Store {
	t.Helper()

	st, err := store.Open(ctx, store.Config{
		PG: store.PGConfig{Enabled: true, URL: dsn, MaxConns: 4},
	}, store.WithLogger(zerolog.New(io.Discard)))
	if err != nil {
		t.Fatalf("store open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(context.Background()) })

	sql, err := os.ReadFile("../../../../migrations/0005_queue.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if err := st.PG.Tx(ctx, func(q repokit.Queryer) error {
		_, err := q.Exec(ctx, string(sql))
		return err
	}); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	return st
}

func insertJobs(t *testing.T, ctx context.Context, st *store.Store, now time.Time, n int) []string {
	t.Helper()

	ids := make([]string, n)
	err := st.PG.Tx(ctx, func(q repokit.Queryer) error {
		r := NewPG().Bind(q)
		for i := 0; i < n; i++ {
			ids[i] = fmt.Sprintf("00000000-0000-0000-0000-%012d", i+1)
			j := domain.Job{
				ID:          ids[i],
				Type:        domain.JobDMDelivery,
				Payload:     json.RawMessage(`{"creator_id":"c1"}`),
				NextRunAt:   now.Add(time.Duration(i) * time.Second),
				MaxAttempts: 3,
				CreatedAt:   now,
			}
			if err := r.InsertJob(ctx, j); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert jobs: %v", err)
	}
	return ids
}

func TestClaimDue_Integration_ConcurrentWorkersNeverShareJobs(t *testing.T) {
	dsn, stop := startPostgres(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	st := openStore(t, ctx, dsn)
	now := time.Now().UTC()
	insertJobs(t, ctx, st, now.Add(-time.Minute), 4)

	// two workers claim in parallel; SKIP LOCKED must hand each a
	// disjoint half of the due set
	var (
		mu      sync.Mutex
		claimed []string
		wg      sync.WaitGroup
	)
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.PG.Tx(ctx, func(q repokit.Queryer) error {
				jobs, err := NewPG().Bind(q).ClaimDue(ctx, now, 2)
				if err != nil {
					return err
				}
				mu.Lock()
				for _, j := range jobs {
					claimed = append(claimed, j.ID)
				}
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("claim: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(claimed) != 4 {
		t.Fatalf("expected 4 claims total, got %d: %v", len(claimed), claimed)
	}
	sort.Strings(claimed)
	for i := 1; i < len(claimed); i++ {
		if claimed[i] == claimed[i-1] {
			t.Fatalf("job %s claimed twice", claimed[i])
		}
	}

	// nothing pending remains, so a third claim comes back empty
	err := st.PG.Tx(ctx, func(q repokit.Queryer) error {
		jobs, err := NewPG().Bind(q).ClaimDue(ctx, now, 10)
		if err != nil {
			return err
		}
		if len(jobs) != 0 {
			t.Errorf("expected empty claim, got %d jobs", len(jobs))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("third claim: %v", err)
	}
}

func TestClaimDue_Integration_FutureJobsStayPut(t *testing.T) {
	dsn, stop := startPostgres(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	st := openStore(t, ctx, dsn)
	now := time.Now().UTC()
	ids := insertJobs(t, ctx, st, now.Add(time.Hour), 2)

	err := st.PG.Tx(ctx, func(q repokit.Queryer) error {
		r := NewPG().Bind(q)

		jobs, err := r.ClaimDue(ctx, now, 10)
		if err != nil {
			return err
		}
		if len(jobs) != 0 {
			t.Errorf("future jobs should not be claimed, got %d", len(jobs))
		}

		// once due they come back oldest first
		jobs, err = r.ClaimDue(ctx, now.Add(2*time.Hour), 10)
		if err != nil {
			return err
		}
		if len(jobs) != 2 || jobs[0].ID != ids[0] || jobs[1].ID != ids[1] {
			t.Errorf("unexpected claim order: %+v", jobs)
		}
		for _, j := range jobs {
			if j.Status != domain.StatusProcessing {
				t.Errorf("claimed job %s status = %s", j.ID, j.Status)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
}

func TestLifecycle_Integration_RescheduleThenComplete(t *testing.T) {
	dsn, stop := startPostgres(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	st := openStore(t, ctx, dsn)
	now := time.Now().UTC()
	ids := insertJobs(t, ctx, st, now.Add(-time.Minute), 1)

	err := st.PG.Tx(ctx, func(q repokit.Queryer) error {
		r := NewPG().Bind(q)

		jobs, err := r.ClaimDue(ctx, now, 1)
		if err != nil {
			return err
		}
		if len(jobs) != 1 {
			t.Fatalf("expected one claim, got %d", len(jobs))
		}

		retryAt := now.Add(time.Minute)
		if err := r.Reschedule(ctx, ids[0], 1, retryAt, "send failed", now); err != nil {
			return err
		}

		// pending again, but not before its retry time
		if jobs, err = r.ClaimDue(ctx, now, 1); err != nil {
			return err
		}
		if len(jobs) != 0 {
			t.Errorf("rescheduled job claimed before its retry time")
		}

		if jobs, err = r.ClaimDue(ctx, retryAt, 1); err != nil {
			return err
		}
		if len(jobs) != 1 || jobs[0].Attempts != 1 || jobs[0].LastError != "send failed" {
			t.Fatalf("unexpected rescheduled job: %+v", jobs)
		}

		if err := r.Complete(ctx, ids[0], retryAt); err != nil {
			return err
		}

		// Complete guards on processing, so a second call is a no-op
		// and the job never reappears
		if err := r.Complete(ctx, ids[0], retryAt); err != nil {
			return err
		}
		if jobs, err = r.ClaimDue(ctx, retryAt.Add(time.Hour), 1); err != nil {
			return err
		}
		if len(jobs) != 0 {
			t.Errorf("completed job was claimed again")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
}
