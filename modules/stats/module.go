package stats

import (
	"context"
	"log"
	"sync"

	"github.com/example/webinar-chat/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// Counters is a point-in-time copy of the usage counters.
type Counters struct {
	Joins           uint64 `json:"joins"`
	Leaves          uint64 `json:"leaves"`
	Disconnects     uint64 `json:"disconnects"`
	MessagesRelayed uint64 `json:"messages_relayed"`
	FramesFannedOut uint64 `json:"frames_fanned_out"`
	RoomsCreated    uint64 `json:"rooms_created"`
	RoomsDeleted    uint64 `json:"rooms_deleted"`
}

// Module accumulates usage counters from the presence events. It observes
// only; nothing in the delivery path depends on it.
type Module struct {
	mu       sync.Mutex
	counters Counters
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.EventConsumerModule = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates a new stats module.
func NewModule() *Module {
	return &Module{}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "stats"
}

// RegisterEventConsumers subscribes to the presence events.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry,
		events.ParticipantJoinedV1,
		m.onParticipantJoined,
		m,
	); err != nil {
		return err
	}

	if err := helper.RegisterTypedEventConsumer(
		registry,
		events.ParticipantLeftV1,
		m.onParticipantLeft,
		m,
	); err != nil {
		return err
	}

	if err := helper.RegisterTypedEventConsumer(
		registry,
		events.MessageRelayedV1,
		m.onMessageRelayed,
		m,
	); err != nil {
		return err
	}

	log.Println("[stats] Registered event consumers")
	return nil
}

func (m *Module) onParticipantJoined(_ context.Context, event events.ParticipantJoinedEvent, _ *mono.Msg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.Joins++
	if event.RoomCreated {
		m.counters.RoomsCreated++
	}
	return nil
}

func (m *Module) onParticipantLeft(_ context.Context, event events.ParticipantLeftEvent, _ *mono.Msg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.Reason == events.ReasonDisconnect {
		m.counters.Disconnects++
	} else {
		m.counters.Leaves++
	}
	if event.RoomDeleted {
		m.counters.RoomsDeleted++
	}
	return nil
}

func (m *Module) onMessageRelayed(_ context.Context, event events.MessageRelayedEvent, _ *mono.Msg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.MessagesRelayed++
	m.counters.FramesFannedOut += uint64(event.Recipients)
	return nil
}

// Counters returns a copy of the current counters.
func (m *Module) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// Start initializes the module.
func (m *Module) Start(_ context.Context) error {
	log.Println("[stats] Module started")
	return nil
}

// Stop logs the final counters.
func (m *Module) Stop(_ context.Context) error {
	c := m.Counters()
	log.Printf("[stats] Module stopped - joins=%d leaves=%d disconnects=%d messages=%d",
		c.Joins, c.Leaves, c.Disconnects, c.MessagesRelayed)
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	c := m.Counters()
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"joins":            c.Joins,
			"leaves":           c.Leaves,
			"disconnects":      c.Disconnects,
			"messages_relayed": c.MessagesRelayed,
		},
	}
}
