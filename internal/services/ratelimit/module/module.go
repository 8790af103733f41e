// Package module wires the rate limiter and exposes its port
package module

import (
	"replyloop/internal/modkit"
	"replyloop/internal/modkit/httpkit"
	"replyloop/internal/services/ratelimit/service"
)

// Module defines the ratelimit module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the ratelimit module
func New(deps modkit.Deps) *Module {
	m := &Module{deps: deps}
	m.ports = Ports{Limiter: service.New(deps)}
	return m
}

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Name returns the module name
func (m *Module) Name() string { return "ratelimit" }

// MountRoutes returns no HTTP routes
func (m *Module) MountRoutes(_ httpkit.Router) {}
