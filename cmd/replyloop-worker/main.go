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
	qmod "replyloop/internal/services/queue/module"
	qsvc "replyloop/internal/services/queue/service"
	rlmod "replyloop/internal/services/ratelimit/module"
)

func main() {
	_ = godotenv.Load()

	root := config.New()
	pgCfg := root.Prefix("SERVICE_PGSQL_")
	graphCfg := root.Prefix("GRAPH_")
	workerCfg := root.Prefix("WORKER_")

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

	limiterMod := rlmod.New(deps)
	accounts := acctmod.New(deps, gw)
	queue := qmod.New(deps, gw, qsvc.NewLogMailer(),
		limiterMod.Ports().(rlmod.Ports).Limiter,
		accounts.Ports().(acctmod.Ports).Reader,
	)
	module.Register(queue.Name(), queue.Ports())

	drainer := queue.Ports().(qmod.Ports).Drainer
	interval := workerCfg.MayDuration("INTERVAL", 15*time.Second)

	l.Info().Dur("interval", interval).Msg("queue worker started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := drainer.Drain(ctx, time.Now().UTC()); err != nil {
			l.Error().Err(err).Msg("drain pass failed")
		}
		select {
		case <-ctx.Done():
			l.Info().Msg("queue worker stopping")
			return
		case <-ticker.C:
		}
	}
}
