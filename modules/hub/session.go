package hub

import (
	"log/slog"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// Conn is the subset of the websocket connection the session writes to.
// *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// outboundQueueSize bounds the per-connection outbound buffer. When the
// buffer is full the oldest pending frame is dropped so a slow consumer
// absorbs its own backpressure instead of stalling the broadcaster.
const outboundQueueSize = 64

// Session is the server-side state of one persistent connection. All
// transport writes go through a single writer goroutine; broadcasters only
// ever enqueue.
type Session struct {
	ID       string
	UserID   string
	Username string

	conn Conn
	out  chan []byte
	done chan struct{}

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

// NewSession wraps a connection and starts its writer goroutine. An empty
// userID falls back to the generated connection id.
func NewSession(conn Conn, userID, username string) *Session {
	id := uuid.New().String()
	if userID == "" {
		userID = id
	}
	s := &Session{
		ID:       id,
		UserID:   userID,
		Username: username,
		conn:     conn,
		out:      make(chan []byte, outboundQueueSize),
		done:     make(chan struct{}),
		rooms:    make(map[string]struct{}),
	}
	go s.writeLoop()
	return s
}

// Enqueue queues one outbound frame without ever blocking the caller. When
// the queue is full, the oldest pending frame is dropped to make room.
func (s *Session) Enqueue(frame []byte) {
	for {
		select {
		case <-s.done:
			return
		case s.out <- frame:
			return
		default:
		}
		select {
		case <-s.out:
			slog.Warn("session outbound queue full, dropping oldest frame", "connectionId", s.ID)
		default:
		}
	}
}

// writeLoop is the only goroutine that touches the transport for writes.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.out:
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Debug("session write failed", "connectionId", s.ID, "error", err)
				s.Close()
				return
			}
		}
	}
}

// Close stops the writer and closes the transport. Safe to call more than
// once and from any goroutine.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	_ = s.conn.Close()
}

func (s *Session) trackJoin(roomID string) {
	s.mu.Lock()
	s.rooms[roomID] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) trackLeave(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}

// roomsSnapshot copies the set of rooms this connection has joined.
func (s *Session) roomsSnapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for roomID := range s.rooms {
		out = append(out, roomID)
	}
	return out
}

// InRoom reports whether this connection has joined the given room.
func (s *Session) InRoom(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID]
	return ok
}
