package hub

import (
	"context"
	"log"

	"github.com/example/webinar-chat/events"
	"github.com/example/webinar-chat/modules/registry"
	"github.com/go-monolith/mono"
)

// Module wraps the Hub as a mono module so it participates in lifecycle,
// health reporting and event emission.
type Module struct {
	hub *Hub
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.EventBusAwareModule = (*Module)(nil)
var _ mono.EventEmitterModule = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates the hub module over a shared registry.
func NewModule(reg *registry.RoomRegistry) *Module {
	return &Module{hub: New(reg)}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "hub"
}

// Hub returns the underlying Hub for direct injection into the gateway.
func (m *Module) Hub() *Hub {
	return m.hub
}

// SetEventBus receives the shared event bus from the application.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.hub.SetEventBus(bus)
}

// EmitEvents declares the events this module publishes.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.ParticipantJoinedV1.ToBase(),
		events.ParticipantLeftV1.ToBase(),
		events.MessageRelayedV1.ToBase(),
	}
}

// Start initializes the module.
func (m *Module) Start(_ context.Context) error {
	log.Println("[hub] Module started")
	return nil
}

// Stop closes all live sessions.
func (m *Module) Stop(_ context.Context) error {
	m.hub.Shutdown()
	log.Println("[hub] Module stopped - all sessions closed")
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connections": m.hub.ConnectionCount(),
		},
	}
}
