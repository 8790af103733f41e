// Package module wires the follow-gate service and exposes its ports
package module

import (
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/httpkit"
	acctdom "replyloop/internal/services/accounts/domain"
	"replyloop/internal/services/followgate/service"
)

// Module defines the follow-gate module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the follow-gate module
func New(deps modkit.Deps, gw service.Gateway, accounts acctdom.ReaderPort) *Module {
	opts := FromConfig(deps.Cfg)
	svc := service.New(deps, service.Config{Batch: opts.Batch, RecheckAfter: opts.RecheckAfter}, gw, accounts)

	m := &Module{deps: deps}
	m.ports = Ports{Gate: svc, Sweeper: svc}
	return m
}

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Name returns the module name
func (m *Module) Name() string { return "followgate" }

// MountRoutes returns no HTTP routes
func (m *Module) MountRoutes(_ httpkit.Router) {}
