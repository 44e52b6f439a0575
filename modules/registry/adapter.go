package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/webinar-chat/domain/presence"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// Port is the read-only view of the registry offered to dependent modules.
type Port interface {
	Snapshot(ctx context.Context, roomID string) ([]presence.Participant, bool, error)
	ListRooms(ctx context.Context) ([]RoomInfo, error)
	Status(ctx context.Context) (StatusResponse, error)
}

// Adapter implements Port over the service container.
type Adapter struct {
	container mono.ServiceContainer
}

// NewAdapter creates a new Adapter.
func NewAdapter(container mono.ServiceContainer) Port {
	if container == nil {
		panic("registry: ServiceContainer is nil")
	}
	return &Adapter{container: container}
}

// Snapshot returns the live member list of a room.
func (a *Adapter) Snapshot(ctx context.Context, roomID string) ([]presence.Participant, bool, error) {
	req := SnapshotRequest{RoomID: roomID}
	var resp SnapshotResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceRoomSnapshot,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, false, fmt.Errorf("failed to get room snapshot: %w", err)
	}
	return resp.Participants, resp.Found, nil
}

// ListRooms returns all live rooms with member counts.
func (a *Adapter) ListRooms(ctx context.Context) ([]RoomInfo, error) {
	req := ListRoomsRequest{}
	var resp ListRoomsResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceListRooms,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return resp.Rooms, nil
}

// Status returns overall registry counters.
func (a *Adapter) Status(ctx context.Context) (StatusResponse, error) {
	req := StatusRequest{}
	var resp StatusResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceRegistryStatus,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return StatusResponse{}, fmt.Errorf("failed to get registry status: %w", err)
	}
	return resp, nil
}
