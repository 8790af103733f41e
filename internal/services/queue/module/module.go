// Package module wires the job queue and exposes its ports
package module

import (
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/httpkit"
	acctdom "replyloop/internal/services/accounts/domain"
	"replyloop/internal/services/queue/service"
	rldom "replyloop/internal/services/ratelimit/domain"
)

// Module defines the queue module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the queue module
func New(deps modkit.Deps, gw service.Gateway, mailer service.Mailer, limiter rldom.LimiterPort, accounts acctdom.ReaderPort) *Module {
	opts := FromConfig(deps.Cfg)
	svc := service.New(deps, service.Config{
		Batch:       opts.Batch,
		MaxAttempts: opts.MaxAttempts,
		RetryBase:   opts.RetryBase,
		SendLimit:   opts.SendLimit,
		SendWindow:  opts.SendWindow,
	}, gw, mailer, limiter, accounts)

	m := &Module{deps: deps}
	m.ports = Ports{Enqueue: svc, Drainer: svc}
	return m
}

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Name returns the module name
func (m *Module) Name() string { return "queue" }

// MountRoutes returns no HTTP routes
func (m *Module) MountRoutes(_ httpkit.Router) {}
