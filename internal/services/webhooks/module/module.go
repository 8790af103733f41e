// Package module wires the webhook dispatcher and exposes its ports
package module

import (
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/httpkit"
	"replyloop/internal/services/webhooks/service"
)

// Module defines the webhooks module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the webhooks module
func New(deps modkit.Deps) *Module {
	opts := FromConfig(deps.Cfg)
	svc := service.New(deps, service.Config{
		Timeout:     opts.Timeout,
		SweepBatch:  opts.SweepBatch,
		MaxAttempts: opts.MaxAttempts,
		Lease:       opts.Lease,
	})

	m := &Module{deps: deps}
	m.ports = Ports{Dispatcher: svc, Registry: svc}
	return m
}

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Name returns the module name
func (m *Module) Name() string { return "webhooks" }

// MountRoutes returns no HTTP routes; the api module owns the surface
func (m *Module) MountRoutes(_ httpkit.Router) {}
