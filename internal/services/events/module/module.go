// Package module wires event intake and exposes its port
package module

import (
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/httpkit"
	"replyloop/internal/services/events/service"
	flowdom "replyloop/internal/services/flows/domain"
	rulesdom "replyloop/internal/services/rules/domain"
)

// Module defines the events module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the events module
func New(deps modkit.Deps, flows flowdom.ExecutorPort, matcher rulesdom.MatcherPort) *Module {
	m := &Module{deps: deps}
	m.ports = Ports{Intake: service.New(flows, matcher)}
	return m
}

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Name returns the module name
func (m *Module) Name() string { return "events" }

// MountRoutes returns no HTTP routes; the api module owns the surface
func (m *Module) MountRoutes(_ httpkit.Router) {}
