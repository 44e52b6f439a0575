package registry

import "github.com/example/webinar-chat/domain/presence"

// Request-reply service names registered in the service container.
const (
	ServiceRoomSnapshot   = "room-snapshot"
	ServiceListRooms      = "list-rooms"
	ServiceRegistryStatus = "registry-status"
)

// SnapshotRequest asks for the live member list of one room.
type SnapshotRequest struct {
	RoomID string `json:"room_id"`
}

// SnapshotResponse carries the ordered member list. Found is false when the
// room does not exist (an empty room is always purged, so "empty" and
// "missing" are the same observable state).
type SnapshotResponse struct {
	Found        bool                   `json:"found"`
	Participants []presence.Participant `json:"participants"`
}

// ListRoomsRequest asks for all live rooms.
type ListRoomsRequest struct{}

// ListRoomsResponse carries the room listing.
type ListRoomsResponse struct {
	Rooms []RoomInfo `json:"rooms"`
}

// StatusRequest asks for overall registry counters.
type StatusRequest struct{}

// StatusResponse carries overall registry counters.
type StatusResponse struct {
	RoomCount        int `json:"room_count"`
	ParticipantCount int `json:"participant_count"`
}
