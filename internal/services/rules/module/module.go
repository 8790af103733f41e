// Package module wires the rules service and exposes its ports
package module

import (
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/httpkit"
	acctdom "replyloop/internal/services/accounts/domain"
	fgdom "replyloop/internal/services/followgate/domain"
	rldom "replyloop/internal/services/ratelimit/domain"
	"replyloop/internal/services/rules/service"
)

// Module defines the rules module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the rules module
func New(
	deps modkit.Deps,
	gw service.Gateway,
	accounts acctdom.ReaderPort,
	gate fgdom.GatePort,
	limiter rldom.LimiterPort,
) *Module {
	opts := FromConfig(deps.Cfg)
	svc := service.New(deps, service.Config{
		SendLimit:  opts.SendLimit,
		SendWindow: opts.SendWindow,
	}, gw, accounts, gate, limiter)

	m := &Module{deps: deps}
	m.ports = Ports{Matcher: svc}
	return m
}

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Name returns the module name
func (m *Module) Name() string { return "rules" }

// MountRoutes returns no HTTP routes
func (m *Module) MountRoutes(_ httpkit.Router) {}
