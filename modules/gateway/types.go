package gateway

import "github.com/example/webinar-chat/domain/presence"

// ErrorResponse is the JSON error body for REST endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the response for GET /healthz.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// RoomSummary is one entry of the room listing.
type RoomSummary struct {
	ID      string `json:"id"`
	Members int    `json:"members"`
}

// RoomListResponse is the response for GET /api/v1/rooms.
type RoomListResponse struct {
	Rooms []RoomSummary `json:"rooms"`
	Total int           `json:"total"`
}

// RoomDetailResponse is the response for GET /api/v1/rooms/:id.
type RoomDetailResponse struct {
	ID           string                 `json:"id"`
	Participants []presence.Participant `json:"participants"`
	Total        int                    `json:"total"`
}
