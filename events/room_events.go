package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// ParticipantJoinedEvent is emitted after a connection joins a room.
type ParticipantJoinedEvent struct {
	RoomID       string    `json:"room_id"`
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	RoomCreated  bool      `json:"room_created"`
	Timestamp    time.Time `json:"timestamp"`
}

// Departure reasons shared by the ParticipantLeft event and the user-left
// wire notices, so producers and consumers agree on the contract.
const (
	ReasonLeft       = "left"
	ReasonDisconnect = "disconnect"
)

// ParticipantLeftEvent is emitted after a connection leaves a room, either
// explicitly or through the disconnect cleanup path.
type ParticipantLeftEvent struct {
	RoomID       string    `json:"room_id"`
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Reason       string    `json:"reason"` // ReasonLeft or ReasonDisconnect
	RoomDeleted  bool      `json:"room_deleted"`
	Timestamp    time.Time `json:"timestamp"`
}

// MessageRelayedEvent is emitted after a chat message has been fanned out.
type MessageRelayedEvent struct {
	MessageID  string    `json:"message_id"`
	RoomID     string    `json:"room_id"`
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Recipients int       `json:"recipients"`
	Timestamp  time.Time `json:"timestamp"`
}

// Event definitions for the presence domain.
var (
	ParticipantJoinedV1 = helper.EventDefinition[ParticipantJoinedEvent](
		"presence",
		"ParticipantJoined",
		"v1",
	)

	ParticipantLeftV1 = helper.EventDefinition[ParticipantLeftEvent](
		"presence",
		"ParticipantLeft",
		"v1",
	)

	MessageRelayedV1 = helper.EventDefinition[MessageRelayedEvent](
		"presence",
		"MessageRelayed",
		"v1",
	)
)
