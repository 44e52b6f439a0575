package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// Module exposes the RoomRegistry as a mono module. The hub mutates the
// registry directly; other modules read it through request-reply services.
type Module struct {
	registry *RoomRegistry
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.ServiceProviderModule = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates a new registry module.
func NewModule() *Module {
	return &Module{registry: New()}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "registry"
}

// Registry returns the underlying RoomRegistry for direct injection into the
// hub (done in main.go, the same way the broadcast hub is shared).
func (m *Module) Registry() *RoomRegistry {
	return m.registry
}

// RegisterServices registers the read-only request-reply services.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceRoomSnapshot,
		json.Unmarshal,
		json.Marshal,
		m.roomSnapshot,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceRoomSnapshot, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceListRooms,
		json.Unmarshal,
		json.Marshal,
		m.listRooms,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceListRooms, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceRegistryStatus,
		json.Unmarshal,
		json.Marshal,
		m.status,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceRegistryStatus, err)
	}

	log.Printf("[registry] Registered services: %s, %s, %s", ServiceRoomSnapshot, ServiceListRooms, ServiceRegistryStatus)
	return nil
}

func (m *Module) roomSnapshot(_ context.Context, req SnapshotRequest, _ *mono.Msg) (SnapshotResponse, error) {
	participants, found := m.registry.Snapshot(req.RoomID)
	return SnapshotResponse{Found: found, Participants: participants}, nil
}

func (m *Module) listRooms(_ context.Context, _ ListRoomsRequest, _ *mono.Msg) (ListRoomsResponse, error) {
	return ListRoomsResponse{Rooms: m.registry.Rooms()}, nil
}

func (m *Module) status(_ context.Context, _ StatusRequest, _ *mono.Msg) (StatusResponse, error) {
	return StatusResponse{
		RoomCount:        m.registry.RoomCount(),
		ParticipantCount: m.registry.ParticipantCount(),
	}, nil
}

// Start initializes the module.
func (m *Module) Start(_ context.Context) error {
	log.Println("[registry] Module started")
	return nil
}

// Stop shuts down the module.
func (m *Module) Stop(_ context.Context) error {
	log.Printf("[registry] Module stopped - %d rooms were live", m.registry.RoomCount())
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"rooms":        m.registry.RoomCount(),
			"participants": m.registry.ParticipantCount(),
		},
	}
}
