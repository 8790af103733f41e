// Package api exposes the HTTP surface: event intake, scheduler sweeps,
// and webhook endpoint management
package api

import (
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/httpkit"
	phttp "replyloop/internal/platform/net/http"
	"replyloop/internal/platform/net/middleware"
	acctdom "replyloop/internal/services/accounts/domain"
	eventdom "replyloop/internal/services/events/domain"
	fgdom "replyloop/internal/services/followgate/domain"
	qdom "replyloop/internal/services/queue/domain"
	whdom "replyloop/internal/services/webhooks/domain"
)

// Sweeps bundles the scheduler-invoked ports
type Sweeps struct {
	FollowGate fgdom.SweeperPort
	Queue      qdom.DrainPort
	Webhooks   whdom.DispatcherPort
	Tokens     acctdom.RefresherPort
}

// Module defines the api module
type Module struct {
	deps       modkit.Deps
	cronSecret string
	intake     eventdom.IntakePort
	sweeps     Sweeps
	dispatcher whdom.DispatcherPort
	registry   whdom.RegistryPort
}

// New constructs the api module
func New(deps modkit.Deps, intake eventdom.IntakePort, sweeps Sweeps, registry whdom.RegistryPort) *Module {
	return &Module{
		deps:       deps,
		cronSecret: deps.Cfg.MayString("CRON_SECRET", ""),
		intake:     intake,
		sweeps:     sweeps,
		dispatcher: sweeps.Webhooks,
		registry:   registry,
	}
}

// Ports returns the module ports
func (m *Module) Ports() any { return nil }

// Name returns the module name
func (m *Module) Name() string { return "api" }

// MountRoutes mounts the API surface on the given router
func (m *Module) MountRoutes(r httpkit.Router) {
	r.Post("/events", m.handleEvent())

	// scheduler and platform-internal routes share the cron secret
	r.Group(func(g httpkit.Router) {
		g.Use(middleware.BearerSecret(m.cronSecret, phttp.JSON))

		g.Post("/sweeps/followgate", m.handleSweepFollowGate())
		g.Post("/sweeps/queue", m.handleSweepQueue())
		g.Post("/sweeps/webhooks", m.handleSweepWebhooks())
		g.Post("/sweeps/tokens", m.handleSweepTokens())

		g.Post("/webhooks/dispatch", m.handleDispatch())
	})

	r.Route("/webhooks/endpoints", func(w httpkit.Router) {
		w.Post("/", m.handleCreateEndpoint())
		w.Get("/", m.handleListEndpoints())
		w.Delete("/{endpointID}", m.handleDeleteEndpoint())
		w.Post("/{endpointID}/test", m.handleTestEndpoint())
		w.Post("/{endpointID}/deliveries/{deliveryID}/retry", m.handleRetryDelivery())
	})
	r.Get("/webhooks/deliveries", m.handleListDeliveries())
}
