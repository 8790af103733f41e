// Package module wires the flow executor and exposes its ports
package module

import (
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/httpkit"
	acctdom "replyloop/internal/services/accounts/domain"
	"replyloop/internal/services/flows/service"
)

// Module defines the flows module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the flows module. sched may be nil when no queue is
// wired; delay steps then send immediately
func New(deps modkit.Deps, gw service.Gateway, accounts acctdom.ReaderPort, sched service.Scheduler) *Module {
	svc := service.New(deps, gw, accounts, sched)

	m := &Module{deps: deps}
	m.ports = Ports{Executor: svc}
	return m
}

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Name returns the module name
func (m *Module) Name() string { return "flows" }

// MountRoutes returns no HTTP routes
func (m *Module) MountRoutes(_ httpkit.Router) {}
