// Package module wires the accounts service and exposes its ports
package module

import (
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/httpkit"
	"replyloop/internal/services/accounts/service"
)

// Module defines the accounts module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the accounts module
func New(deps modkit.Deps, gw service.TokenExchanger) *Module {
	opts := FromConfig(deps.Cfg)
	svc := service.New(deps, service.Config{
		RefreshWindow: opts.RefreshWindow,
		Batch:         opts.Batch,
	}, gw)

	m := &Module{deps: deps}
	m.ports = Ports{Reader: svc, Refresher: svc}
	return m
}

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Name returns the module name
func (m *Module) Name() string { return "accounts" }

// MountRoutes returns no HTTP routes
func (m *Module) MountRoutes(_ httpkit.Router) {}
