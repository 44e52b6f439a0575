package hub

import "encoding/json"

// Inbound event names.
const (
	EventJoinRoom    = "join-room"
	EventSendMessage = "send-message"
	EventLeaveRoom   = "leave-room"
	EventTyping      = "typing"
	EventStopTyping  = "stop-typing"
)

// Outbound event names.
const (
	EventConnected      = "connected"
	EventJoinedRoom     = "joined-room"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventRoomUsers      = "room-users"
	EventReceiveMessage = "receive-message"
	EventUserTyping     = "user-typing"
	EventUserStopTyping = "user-stop-typing"
	EventError          = "error"
)

// Error codes returned to the offending connection only. A rejected event is
// never broadcast and never tears down the connection.
const (
	CodeInvalidInput  = "INVALID_INPUT"
	CodeNotInRoom     = "NOT_IN_ROOM"
	CodeInternalError = "INTERNAL_ERROR"
)

// Validation limits.
const (
	MaxDisplayNameLength = 50
	MaxMessageBody       = 4096
)

// Envelope is the wire unit in both directions: one named event with a JSON
// payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload is the inbound payload for join-room.
type JoinPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

// MessagePayload is the inbound payload for send-message. Any client-supplied
// id or timestamp is ignored: both are server-assigned on relay.
type MessagePayload struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

// RoomPayload is the inbound payload for leave-room and typing events.
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// ConnectedPayload acknowledges a successful upgrade.
type ConnectedPayload struct {
	ConnectionID string `json:"id"`
	UserID       string `json:"userId"`
}

// JoinedPayload acknowledges a successful join to the joiner.
type JoinedPayload struct {
	RoomID string `json:"roomId"`
}

// PresencePayload is the outbound payload for user-joined and user-left.
type PresencePayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Message  string `json:"message"`
	Reason   string `json:"reason,omitempty"`
}

// RoomUsersPayload carries the ordered member snapshot of one room.
type RoomUsersPayload struct {
	RoomID string `json:"roomId"`
	Users  any    `json:"users"`
}

// ErrorPayload is the rejection sent back to the offending connection.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// encodeEvent marshals a named event with its payload into one wire frame.
func encodeEvent(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: payload})
}
