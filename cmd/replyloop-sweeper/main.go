package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"replyloop/internal/adapters/graph"
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/module"
	"replyloop/internal/platform/config"
	"replyloop/internal/platform/logger"
	"replyloop/internal/platform/store"

	acctmod "replyloop/internal/services/accounts/module"
	fgmod "replyloop/internal/services/followgate/module"
	rlmod "replyloop/internal/services/ratelimit/module"
	rlsvc "replyloop/internal/services/ratelimit/service"
	whmod "replyloop/internal/services/webhooks/module"
)

// The sweeper runs the periodic loops that are not tied to inbound
// traffic: follow-gate rechecks, webhook retry delivery, token refresh,
// and rate-counter pruning. Each pass is bounded and idempotent, so
// overlapping with the scheduler endpoints is harmless
func main() {
	_ = godotenv.Load()

	root := config.New()
	pgCfg := root.Prefix("SERVICE_PGSQL_")
	graphCfg := root.Prefix("GRAPH_")
	sweepCfg := root.Prefix("SWEEPER_")

	l := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		PG: store.PGConfig{
			Enabled:     true,
			URL:         pgCfg.MustString("DBURL"),
			MaxConns:    int32(pgCfg.MayInt("MAX_CONNS", 4)),
			SlowQueryMs: pgCfg.MayInt("SLOW_MS", 500),
			LogSQL:      pgCfg.MayBool("LOG_SQL", false),
		},
	}, store.WithLogger(*l))
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	deps := modkit.Deps{Cfg: root, PG: st.PG, Log: *l}

	gw := graph.NewClient(graph.Options{
		BaseURL:   graphCfg.MayString("BASE_URL", ""),
		UserAgent: graphCfg.MayString("USER_AGENT", ""),
	})

	accounts := acctmod.New(deps, gw)
	accountPorts := accounts.Ports().(acctmod.Ports)

	gate := fgmod.New(deps, gw, accountPorts.Reader)
	webhooks := whmod.New(deps)
	limiter := rlsvc.New(deps)

	for _, m := range []modkit.Module{accounts, gate, webhooks, rlmod.New(deps)} {
		module.Register(m.Name(), m.Ports())
	}

	var (
		gateEvery    = sweepCfg.MayDuration("FOLLOWGATE_INTERVAL", time.Minute)
		webhookEvery = sweepCfg.MayDuration("WEBHOOKS_INTERVAL", time.Minute)
		tokenEvery   = sweepCfg.MayDuration("TOKENS_INTERVAL", time.Hour)
		pruneEvery   = sweepCfg.MayDuration("PRUNE_INTERVAL", time.Hour)
		counterKeep  = sweepCfg.MayDuration("COUNTER_KEEP", 48*time.Hour)
	)

	l.Info().
		Dur("followgate", gateEvery).
		Dur("webhooks", webhookEvery).
		Dur("tokens", tokenEvery).
		Msg("sweeper started")

	gateTick := time.NewTicker(gateEvery)
	webhookTick := time.NewTicker(webhookEvery)
	tokenTick := time.NewTicker(tokenEvery)
	pruneTick := time.NewTicker(pruneEvery)
	defer func() {
		gateTick.Stop()
		webhookTick.Stop()
		tokenTick.Stop()
		pruneTick.Stop()
	}()

	sweeper := gate.Ports().(fgmod.Ports).Sweeper
	dispatcher := webhooks.Ports().(whmod.Ports).Dispatcher

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("sweeper stopping")
			return

		case <-gateTick.C:
			if _, err := sweeper.Sweep(ctx, time.Now().UTC()); err != nil {
				l.Error().Err(err).Msg("follow-gate sweep failed")
			}

		case <-webhookTick.C:
			if _, err := dispatcher.RunDue(ctx, time.Now().UTC()); err != nil {
				l.Error().Err(err).Msg("webhook retry sweep failed")
			}

		case <-tokenTick.C:
			if _, err := accountPorts.Refresher.RefreshExpiring(ctx, time.Now().UTC()); err != nil {
				l.Error().Err(err).Msg("token refresh sweep failed")
			}

		case <-pruneTick.C:
			if _, err := limiter.Prune(ctx, time.Now().UTC(), counterKeep); err != nil {
				l.Error().Err(err).Msg("rate counter prune failed")
			}
		}
	}
}
