package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/webinar-chat/domain/presence"
	"github.com/example/webinar-chat/events"
	"github.com/example/webinar-chat/modules/registry"
	"github.com/go-monolith/mono"
	"github.com/google/uuid"
)

// orderStripes is the number of room-level ordering locks. Striped with the
// same hash as the registry shards so distinct rooms rarely serialize.
const orderStripes = 16

// Hub translates inbound protocol events into registry operations and fans
// the resulting notifications out to the sessions subscribed to the affected
// room. It owns no room state itself; the registry does.
type Hub struct {
	registry *registry.RoomRegistry
	bus      mono.EventBus
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session // connectionID -> session

	// order serializes registry mutation plus the resulting enqueues per
	// room, so every recipient observes snapshots in apply order. Enqueues
	// are non-blocking channel sends; no I/O happens under these locks.
	order [orderStripes]sync.Mutex
}

// New creates a Hub over the given registry.
func New(reg *registry.RoomRegistry) *Hub {
	return &Hub{
		registry: reg,
		logger:   slog.Default(),
		sessions: make(map[string]*Session),
	}
}

// SetEventBus wires the bus used for observability events. Delivery to
// subscribers never goes through the bus.
func (h *Hub) SetEventBus(bus mono.EventBus) {
	h.bus = bus
}

// Attach registers a session so fan-out can reach it. Must be called before
// the first Dispatch for that session.
func (h *Hub) Attach(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	h.logger.Info("connection attached", "connectionId", s.ID, "userId", s.UserID)
}

// Welcome sends the connected acknowledgement carrying the server-assigned
// connection id.
func (h *Hub) Welcome(s *Session) {
	h.send(s, EventConnected, ConnectedPayload{ConnectionID: s.ID, UserID: s.UserID})
}

// ConnectionCount returns the number of attached sessions.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Dispatch decodes one inbound frame and routes it. Malformed frames are
// rejected to the sender only and never affect other participants.
func (h *Hub) Dispatch(s *Session, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.reject(s, CodeInvalidInput, "malformed event")
		return
	}

	switch env.Event {
	case EventJoinRoom:
		h.handleJoin(s, env.Data)
	case EventSendMessage:
		h.handleSendMessage(s, env.Data)
	case EventLeaveRoom:
		h.handleLeave(s, env.Data)
	case EventTyping:
		h.handleTyping(s, env.Data, true)
	case EventStopTyping:
		h.handleTyping(s, env.Data, false)
	default:
		h.reject(s, CodeInvalidInput, "unknown event: "+env.Event)
	}
}

func (h *Hub) handleJoin(s *Session, data json.RawMessage) {
	var p JoinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.reject(s, CodeInvalidInput, "invalid join-room payload")
		return
	}
	if p.RoomID == "" {
		h.reject(s, CodeInvalidInput, "roomId is required")
		return
	}
	name := p.Username
	if name == "" {
		name = s.Username
	}
	if len(name) > MaxDisplayNameLength {
		h.reject(s, CodeInvalidInput, "username exceeds maximum length")
		return
	}

	lock := h.roomLock(p.RoomID)
	lock.Lock()
	members, created, err := h.registry.Join(p.RoomID, s.ID, s.UserID, name)
	if err != nil {
		lock.Unlock()
		if errors.Is(err, registry.ErrInvalidInput) {
			h.reject(s, CodeInvalidInput, err.Error())
		} else {
			h.logger.Error("registry join failed", "connectionId", s.ID, "roomId", p.RoomID, "error", err)
			h.reject(s, CodeInternalError, "join failed")
		}
		return
	}
	s.trackJoin(p.RoomID)

	h.send(s, EventJoinedRoom, JoinedPayload{RoomID: p.RoomID})

	h.broadcast(members, s.ID, EventUserJoined, PresencePayload{
		RoomID:   p.RoomID,
		UserID:   s.UserID,
		Username: name,
		Message:  fmt.Sprintf("%s joined the room", name),
	})
	h.broadcast(members, "", EventRoomUsers, RoomUsersPayload{RoomID: p.RoomID, Users: members})
	lock.Unlock()

	h.publishJoined(p.RoomID, s, name, created)
	h.logger.Info("participant joined", "connectionId", s.ID, "roomId", p.RoomID, "username", name, "roomCreated", created)
}

func (h *Hub) handleSendMessage(s *Session, data json.RawMessage) {
	var p MessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.reject(s, CodeInvalidInput, "invalid send-message payload")
		return
	}
	if p.RoomID == "" {
		h.reject(s, CodeInvalidInput, "roomId is required")
		return
	}
	if p.Message == "" {
		h.reject(s, CodeInvalidInput, "message body is required")
		return
	}
	if len(p.Message) > MaxMessageBody {
		h.reject(s, CodeInvalidInput, "message exceeds maximum length")
		return
	}
	if !s.InRoom(p.RoomID) {
		h.rejectNotInRoom(s, EventSendMessage, p.RoomID)
		return
	}

	lock := h.roomLock(p.RoomID)
	lock.Lock()
	members, found := h.registry.Snapshot(p.RoomID)
	if !found {
		lock.Unlock()
		h.rejectNotInRoom(s, EventSendMessage, p.RoomID)
		return
	}

	msg := presence.ChatMessage{
		ID:                 uuid.New().String(),
		RoomID:             p.RoomID,
		SenderConnectionID: s.ID,
		SenderUserID:       s.UserID,
		SenderDisplayName:  displayNameIn(members, s.ID, s.Username),
		Body:               p.Message,
		SentAt:             time.Now().UTC(),
	}

	// The sender is included so its own view orders messages consistently.
	h.broadcast(members, "", EventReceiveMessage, msg)
	lock.Unlock()

	h.publishRelayed(msg, len(members))
}

func (h *Hub) handleTyping(s *Session, data json.RawMessage, active bool) {
	inbound := EventTyping
	if !active {
		inbound = EventStopTyping
	}

	var p RoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.reject(s, CodeInvalidInput, "invalid "+inbound+" payload")
		return
	}
	if p.RoomID == "" {
		h.reject(s, CodeInvalidInput, "roomId is required")
		return
	}
	if !s.InRoom(p.RoomID) {
		h.rejectNotInRoom(s, inbound, p.RoomID)
		return
	}

	lock := h.roomLock(p.RoomID)
	lock.Lock()
	defer lock.Unlock()
	members, found := h.registry.Snapshot(p.RoomID)
	if !found {
		h.rejectNotInRoom(s, inbound, p.RoomID)
		return
	}

	signal := presence.TypingSignal{
		RoomID:       p.RoomID,
		ConnectionID: s.ID,
		UserID:       s.UserID,
		DisplayName:  displayNameIn(members, s.ID, s.Username),
		Active:       active,
	}
	outbound := EventUserTyping
	if !active {
		outbound = EventUserStopTyping
	}
	h.broadcast(members, s.ID, outbound, signal)
}

func (h *Hub) handleLeave(s *Session, data json.RawMessage) {
	var p RoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.reject(s, CodeInvalidInput, "invalid leave-room payload")
		return
	}
	if p.RoomID == "" {
		h.reject(s, CodeInvalidInput, "roomId is required")
		return
	}
	if !s.InRoom(p.RoomID) {
		// Leaving a room never joined is a no-op, not an error.
		return
	}

	lock := h.roomLock(p.RoomID)
	lock.Lock()

	// Capture the room-scoped display name before removal.
	name := s.Username
	if members, found := h.registry.Snapshot(p.RoomID); found {
		name = displayNameIn(members, s.ID, s.Username)
	}

	remaining, roomDeleted, err := h.registry.Leave(p.RoomID, s.ID)
	if err != nil {
		lock.Unlock()
		h.reject(s, CodeInvalidInput, err.Error())
		return
	}
	s.trackLeave(p.RoomID)

	if !roomDeleted && len(remaining) > 0 {
		h.broadcast(remaining, "", EventUserLeft, PresencePayload{
			RoomID:   p.RoomID,
			UserID:   s.UserID,
			Username: name,
			Message:  fmt.Sprintf("%s left the room", name),
		})
	}
	lock.Unlock()

	h.publishLeft(p.RoomID, s, name, events.ReasonLeft, roomDeleted)
	h.logger.Info("participant left", "connectionId", s.ID, "roomId", p.RoomID, "roomDeleted", roomDeleted)
}

// Disconnect runs the abnormal-disconnect cleanup path: the connection is
// removed from every room it joined and each affected room is notified.
// Calling it again for the same session is a no-op.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	_, attached := h.sessions[s.ID]
	delete(h.sessions, s.ID)
	h.mu.Unlock()

	if !attached {
		return
	}

	// Every membership went through handleJoin, so the session's room set
	// covers every room the registry may still hold this connection in.
	locks := h.orderLocksFor(s.roomsSnapshot())
	for _, l := range locks {
		l.Lock()
	}
	departures := h.registry.RemoveConnectionEverywhere(s.ID)
	for _, dep := range departures {
		if !dep.RoomDeleted && len(dep.Remaining) > 0 {
			h.broadcast(dep.Remaining, "", EventUserLeft, PresencePayload{
				RoomID:   dep.RoomID,
				UserID:   dep.Removed.UserID,
				Username: dep.Removed.DisplayName,
				Message:  fmt.Sprintf("%s left the room", dep.Removed.DisplayName),
				Reason:   events.ReasonDisconnect,
			})
		}
	}
	for i := len(locks) - 1; i >= 0; i-- {
		locks[i].Unlock()
	}

	for _, dep := range departures {
		h.publishLeft(dep.RoomID, s, dep.Removed.DisplayName, events.ReasonDisconnect, dep.RoomDeleted)
	}

	s.Close()
	h.logger.Info("connection detached", "connectionId", s.ID, "rooms", len(departures))
}

// Shutdown closes every attached session. Used on module stop.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

func orderStripe(roomID string) uint32 {
	hash := fnv.New32a()
	hash.Write([]byte(roomID))
	return hash.Sum32() % orderStripes
}

// roomLock returns the ordering lock covering a room.
func (h *Hub) roomLock(roomID string) *sync.Mutex {
	return &h.order[orderStripe(roomID)]
}

// orderLocksFor returns the distinct ordering locks covering the given rooms
// in ascending stripe order, so multi-room callers acquire them without
// deadlocking against single-room handlers.
func (h *Hub) orderLocksFor(rooms []string) []*sync.Mutex {
	seen := make(map[uint32]struct{}, len(rooms))
	stripes := make([]int, 0, len(rooms))
	for _, roomID := range rooms {
		stripe := orderStripe(roomID)
		if _, ok := seen[stripe]; ok {
			continue
		}
		seen[stripe] = struct{}{}
		stripes = append(stripes, int(stripe))
	}
	sort.Ints(stripes)

	locks := make([]*sync.Mutex, len(stripes))
	for i, stripe := range stripes {
		locks[i] = &h.order[stripe]
	}
	return locks
}

// broadcast encodes the event once and enqueues it independently per
// recipient. The session with connection id exclude is skipped.
func (h *Hub) broadcast(members []presence.Participant, exclude, event string, data any) {
	frame, err := encodeEvent(event, data)
	if err != nil {
		h.logger.Error("failed to encode broadcast frame", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, m := range members {
		if m.ConnectionID == exclude {
			continue
		}
		if sess, ok := h.sessions[m.ConnectionID]; ok {
			sess.Enqueue(frame)
		}
	}
}

// send delivers one event to a single session.
func (h *Hub) send(s *Session, event string, data any) {
	frame, err := encodeEvent(event, data)
	if err != nil {
		h.logger.Error("failed to encode frame", "event", event, "error", err)
		return
	}
	s.Enqueue(frame)
}

func (h *Hub) reject(s *Session, code, message string) {
	h.send(s, EventError, ErrorPayload{Code: code, Message: message})
}

func (h *Hub) rejectNotInRoom(s *Session, event, roomID string) {
	h.logger.Warn("event for room the connection has not joined",
		"connectionId", s.ID, "event", event, "roomId", roomID)
	h.reject(s, CodeNotInRoom, "not a member of room "+roomID)
}

func (h *Hub) publishJoined(roomID string, s *Session, name string, created bool) {
	if h.bus == nil {
		return
	}
	event := events.ParticipantJoinedEvent{
		RoomID:       roomID,
		ConnectionID: s.ID,
		UserID:       s.UserID,
		Username:     name,
		RoomCreated:  created,
		Timestamp:    time.Now().UTC(),
	}
	if err := events.ParticipantJoinedV1.Publish(h.bus, event, nil); err != nil {
		h.logger.Warn("failed to publish ParticipantJoined event", "error", err)
	}
}

func (h *Hub) publishLeft(roomID string, s *Session, name, reason string, roomDeleted bool) {
	if h.bus == nil {
		return
	}
	event := events.ParticipantLeftEvent{
		RoomID:       roomID,
		ConnectionID: s.ID,
		UserID:       s.UserID,
		Username:     name,
		Reason:       reason,
		RoomDeleted:  roomDeleted,
		Timestamp:    time.Now().UTC(),
	}
	if err := events.ParticipantLeftV1.Publish(h.bus, event, nil); err != nil {
		h.logger.Warn("failed to publish ParticipantLeft event", "error", err)
	}
}

func (h *Hub) publishRelayed(msg presence.ChatMessage, recipients int) {
	if h.bus == nil {
		return
	}
	event := events.MessageRelayedEvent{
		MessageID:  msg.ID,
		RoomID:     msg.RoomID,
		UserID:     msg.SenderUserID,
		Username:   msg.SenderDisplayName,
		Recipients: recipients,
		Timestamp:  msg.SentAt,
	}
	if err := events.MessageRelayedV1.Publish(h.bus, event, nil); err != nil {
		h.logger.Warn("failed to publish MessageRelayed event", "error", err)
	}
}

// displayNameIn resolves the room-scoped display name for a connection from a
// member snapshot, falling back to the connect-time name.
func displayNameIn(members []presence.Participant, connectionID, fallback string) string {
	for _, m := range members {
		if m.ConnectionID == connectionID {
			return m.DisplayName
		}
	}
	return fallback
}
