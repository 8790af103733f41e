package main

import (
	"context"

	"github.com/joho/godotenv"

	"replyloop/internal/adapters/graph"
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/httpkit"
	"replyloop/internal/modkit/module"
	"replyloop/internal/platform/config"
	"replyloop/internal/platform/logger"
	phttp "replyloop/internal/platform/net/http"
	"replyloop/internal/platform/net/middleware"
	"replyloop/internal/platform/store"

	acctmod "replyloop/internal/services/accounts/module"
	"replyloop/internal/services/api"
	eventmod "replyloop/internal/services/events/module"
	flowmod "replyloop/internal/services/flows/module"
	fgmod "replyloop/internal/services/followgate/module"
	qmod "replyloop/internal/services/queue/module"
	qsvc "replyloop/internal/services/queue/service"
	rlmod "replyloop/internal/services/ratelimit/module"
	rulesmod "replyloop/internal/services/rules/module"
	whmod "replyloop/internal/services/webhooks/module"
)

func main() {
	_ = godotenv.Load()

	root := config.New()
	apiCfg := root.Prefix("API_")
	pgCfg := root.Prefix("SERVICE_PGSQL_")
	graphCfg := root.Prefix("GRAPH_")

	l := logger.Get()

	st, err := store.Open(context.Background(), store.Config{
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
	limiter := limiterMod.Ports().(rlmod.Ports).Limiter

	accounts := acctmod.New(deps, gw)
	accountPorts := accounts.Ports().(acctmod.Ports)

	gate := fgmod.New(deps, gw, accountPorts.Reader)
	gatePorts := gate.Ports().(fgmod.Ports)

	// the drain worker binary owns the queue loop; the api needs the
	// enqueue port for delayed flow steps and the drain port behind the
	// scheduler sweep endpoint
	queue := qmod.New(deps, gw, qsvc.NewLogMailer(), limiter, accountPorts.Reader)
	queuePorts := queue.Ports().(qmod.Ports)

	rules := rulesmod.New(deps, gw, accountPorts.Reader, gatePorts.Gate, limiter)
	flows := flowmod.New(deps, gw, accountPorts.Reader, queuePorts.Enqueue)

	webhooks := whmod.New(deps)
	webhookPorts := webhooks.Ports().(whmod.Ports)

	events := eventmod.New(deps,
		flows.Ports().(flowmod.Ports).Executor,
		rules.Ports().(rulesmod.Ports).Matcher,
	)

	for _, m := range []modkit.Module{limiterMod, accounts, gate, queue, rules, flows, webhooks, events} {
		module.Register(m.Name(), m.Ports())
	}

	apiMod := api.New(deps,
		events.Ports().(eventmod.Ports).Intake,
		api.Sweeps{
			FollowGate: gatePorts.Sweeper,
			Queue:      queuePorts.Drainer,
			Webhooks:   webhookPorts.Dispatcher,
			Tokens:     accountPorts.Refresher,
		},
		webhookPorts.Registry,
	)

	srv := phttp.NewServer(apiCfg)
	r := srv.Router()
	r.Use(middleware.Defaults()...)
	r.Use(middleware.Heartbeat("/healthz"))
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.AccessLogZerolog(middleware.AccessLogOptions{}))
	httpkit.MountUnder(r, "/api/v1", nil, apiMod.MountRoutes)

	if err := srv.Run(context.Background()); err != nil {
		l.Panic().Err(err).Msg("http server stopped")
	}
}
