package gateway

import (
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/example/webinar-chat/modules/hub"
)

// setupRoutes configures all HTTP and WebSocket routes.
func (m *Module) setupRoutes(app *fiber.App) {
	// Health check
	app.Get("/healthz", m.healthHandler)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(m.handleWebSocket))

	// Read-only REST API
	api := app.Group("/api/v1")
	api.Get("/rooms", m.listRooms)
	api.Get("/rooms/:id", m.getRoom)
}

// healthHandler handles GET /healthz.
func (m *Module) healthHandler(c *fiber.Ctx) error {
	status, err := m.rooms.Status(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(HealthResponse{
			Status: "degraded",
		})
	}
	return c.JSON(HealthResponse{
		Status: "healthy",
		Details: map[string]any{
			"rooms":        status.RoomCount,
			"participants": status.ParticipantCount,
			"connections":  m.hub.ConnectionCount(),
		},
	})
}

// listRooms handles GET /api/v1/rooms.
func (m *Module) listRooms(c *fiber.Ctx) error {
	rooms, err := m.rooms.ListRooms(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "list_failed",
			Message: "Failed to list rooms",
		})
	}

	response := RoomListResponse{
		Rooms: make([]RoomSummary, 0, len(rooms)),
		Total: len(rooms),
	}
	for _, room := range rooms {
		response.Rooms = append(response.Rooms, RoomSummary{
			ID:      room.ID,
			Members: room.Members,
		})
	}

	return c.JSON(response)
}

// getRoom handles GET /api/v1/rooms/:id.
func (m *Module) getRoom(c *fiber.Ctx) error {
	roomID := c.Params("id")

	participants, found, err := m.rooms.Snapshot(c.UserContext(), roomID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "snapshot_failed",
			Message: "Failed to get room snapshot",
		})
	}
	if !found {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "Room not found",
		})
	}

	return c.JSON(RoomDetailResponse{
		ID:           roomID,
		Participants: participants,
		Total:        len(participants),
	})
}

// handleWebSocket handles WebSocket connections at /ws.
func (m *Module) handleWebSocket(c *websocket.Conn) {
	username := c.Query("username", "anonymous")
	userID := c.Query("userId")

	session := hub.NewSession(c, userID, username)
	m.hub.Attach(session)
	defer m.hub.Disconnect(session)

	log.Printf("[gateway] WebSocket client connected: %s (%s)", session.ID, username)

	m.hub.Welcome(session)

	// Read loop; writes go through the session writer goroutine.
	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[gateway] Client %s closed connection", session.ID)
			} else {
				log.Printf("[gateway] Read error from %s: %v", session.ID, err)
			}
			break
		}
		m.hub.Dispatch(session, msgBytes)
	}

	log.Printf("[gateway] WebSocket client disconnected: %s", session.ID)
}
