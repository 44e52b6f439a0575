package hub

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/webinar-chat/domain/presence"
	"github.com/example/webinar-chat/events"
	"github.com/example/webinar-chat/modules/registry"
)

func newTestHub() *Hub {
	return New(registry.New())
}

func attach(t *testing.T, h *Hub, userID, username string) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	s := NewSession(conn, userID, username)
	h.Attach(s)
	t.Cleanup(s.Close)
	return s, conn
}

func dispatch(h *Hub, s *Session, event string, data any) {
	payload, _ := json.Marshal(data)
	frame, _ := json.Marshal(Envelope{Event: event, Data: payload})
	h.Dispatch(s, frame)
}

func joinRoom(h *Hub, s *Session, roomID string) {
	dispatch(h, s, EventJoinRoom, JoinPayload{RoomID: roomID})
}

// waitForEvent polls until the connection has received the named event and
// returns its envelope.
func waitForEvent(t *testing.T, conn *fakeConn, name string) Envelope {
	t.Helper()
	var found Envelope
	require.Eventually(t, func() bool {
		for _, env := range conn.envelopes() {
			if env.Event == name {
				found = env
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "event %q never arrived", name)
	return found
}

func countEvents(conn *fakeConn, name string) int {
	n := 0
	for _, env := range conn.envelopes() {
		if env.Event == name {
			n++
		}
	}
	return n
}

func TestWelcome(t *testing.T) {
	h := newTestHub()
	s, conn := attach(t, h, "user-a", "alice")

	h.Welcome(s)

	env := waitForEvent(t, conn, EventConnected)
	var p ConnectedPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, s.ID, p.ConnectionID)
	assert.Equal(t, "user-a", p.UserID)
}

func TestJoinRoom(t *testing.T) {
	h := newTestHub()
	alice, aliceConn := attach(t, h, "user-a", "alice")
	bob, bobConn := attach(t, h, "user-b", "bob")

	joinRoom(h, alice, "room-1")
	waitForEvent(t, aliceConn, EventJoinedRoom)

	joinRoom(h, bob, "room-1")
	waitForEvent(t, bobConn, EventJoinedRoom)

	// Alice sees bob arrive; bob never sees his own arrival notice.
	env := waitForEvent(t, aliceConn, EventUserJoined)
	var notice PresencePayload
	require.NoError(t, json.Unmarshal(env.Data, &notice))
	assert.Equal(t, "room-1", notice.RoomID)
	assert.Equal(t, "user-b", notice.UserID)
	assert.Equal(t, "bob", notice.Username)
	assert.Zero(t, countEvents(bobConn, EventUserJoined))

	// Both receive the ordered member snapshot.
	env = waitForEvent(t, bobConn, EventRoomUsers)
	var users struct {
		RoomID string                 `json:"roomId"`
		Users  []presence.Participant `json:"users"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &users))
	require.Len(t, users.Users, 2)
	assert.Equal(t, alice.ID, users.Users[0].ConnectionID)
	assert.Equal(t, bob.ID, users.Users[1].ConnectionID)
}

func TestJoinRoomValidation(t *testing.T) {
	h := newTestHub()
	s, conn := attach(t, h, "user-a", "alice")

	tests := []struct {
		name  string
		frame string
	}{
		{"malformed frame", `{not json`},
		{"unknown event", `{"event":"speak","data":{}}`},
		{"missing room id", `{"event":"join-room","data":{}}`},
		{"oversized username", fmt.Sprintf(
			`{"event":"join-room","data":{"roomId":"room-1","username":%q}}`,
			strings.Repeat("x", MaxDisplayNameLength+1))},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.Dispatch(s, []byte(tt.frame))
			require.Eventually(t, func() bool {
				return countEvents(conn, EventError) == i+1
			}, time.Second, 5*time.Millisecond)
		})
	}

	envs := conn.envelopes()
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(envs[0].Data, &p))
	assert.Equal(t, CodeInvalidInput, p.Code)
	assert.Equal(t, 0, h.registry.RoomCount(), "rejected joins must not create rooms")
}

func TestSendMessage(t *testing.T) {
	h := newTestHub()
	alice, aliceConn := attach(t, h, "user-a", "alice")
	bob, bobConn := attach(t, h, "user-b", "bob")
	joinRoom(h, alice, "room-1")
	joinRoom(h, bob, "room-1")

	dispatch(h, alice, EventSendMessage, MessagePayload{RoomID: "room-1", Message: "hello"})

	// Sender and the other member both receive the relayed message.
	for _, conn := range []*fakeConn{aliceConn, bobConn} {
		env := waitForEvent(t, conn, EventReceiveMessage)
		var msg presence.ChatMessage
		require.NoError(t, json.Unmarshal(env.Data, &msg))
		assert.NotEmpty(t, msg.ID, "message id is server-assigned")
		assert.False(t, msg.SentAt.IsZero(), "timestamp is server-assigned")
		assert.Equal(t, "room-1", msg.RoomID)
		assert.Equal(t, "user-a", msg.SenderUserID)
		assert.Equal(t, "alice", msg.SenderDisplayName)
		assert.Equal(t, "hello", msg.Body)
		// The sender's connection id never leaks onto the wire.
		assert.NotContains(t, string(env.Data), alice.ID)
	}
}

func TestSendMessageNotInRoom(t *testing.T) {
	h := newTestHub()
	alice, aliceConn := attach(t, h, "user-a", "alice")
	bob, bobConn := attach(t, h, "user-b", "bob")
	joinRoom(h, bob, "room-1")

	dispatch(h, alice, EventSendMessage, MessagePayload{RoomID: "room-1", Message: "hello"})

	env := waitForEvent(t, aliceConn, EventError)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, CodeNotInRoom, p.Code)

	// The room member saw nothing.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, countEvents(bobConn, EventReceiveMessage))
}

func TestSendMessageValidation(t *testing.T) {
	h := newTestHub()
	alice, conn := attach(t, h, "user-a", "alice")
	joinRoom(h, alice, "room-1")

	dispatch(h, alice, EventSendMessage, MessagePayload{RoomID: "room-1"})
	dispatch(h, alice, EventSendMessage, MessagePayload{
		RoomID:  "room-1",
		Message: strings.Repeat("x", MaxMessageBody+1),
	})

	require.Eventually(t, func() bool {
		return countEvents(conn, EventError) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, countEvents(conn, EventReceiveMessage))
}

func TestTypingExcludesSender(t *testing.T) {
	h := newTestHub()
	alice, aliceConn := attach(t, h, "user-a", "alice")
	bob, bobConn := attach(t, h, "user-b", "bob")
	joinRoom(h, alice, "room-1")
	joinRoom(h, bob, "room-1")

	dispatch(h, alice, EventTyping, RoomPayload{RoomID: "room-1"})

	env := waitForEvent(t, bobConn, EventUserTyping)
	var signal presence.TypingSignal
	require.NoError(t, json.Unmarshal(env.Data, &signal))
	assert.Equal(t, "user-a", signal.UserID)
	assert.Equal(t, "alice", signal.DisplayName)
	assert.Zero(t, countEvents(aliceConn, EventUserTyping))

	dispatch(h, alice, EventStopTyping, RoomPayload{RoomID: "room-1"})
	waitForEvent(t, bobConn, EventUserStopTyping)
	assert.Zero(t, countEvents(aliceConn, EventUserStopTyping))
}

func TestTypingRequiresMembership(t *testing.T) {
	h := newTestHub()
	alice, conn := attach(t, h, "user-a", "alice")

	dispatch(h, alice, EventTyping, RoomPayload{RoomID: "room-1"})

	env := waitForEvent(t, conn, EventError)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, CodeNotInRoom, p.Code)
}

func TestLeaveRoom(t *testing.T) {
	h := newTestHub()
	alice, _ := attach(t, h, "user-a", "alice")
	bob, bobConn := attach(t, h, "user-b", "bob")
	joinRoom(h, alice, "room-1")
	joinRoom(h, bob, "room-1")

	dispatch(h, alice, EventLeaveRoom, RoomPayload{RoomID: "room-1"})

	env := waitForEvent(t, bobConn, EventUserLeft)
	var notice PresencePayload
	require.NoError(t, json.Unmarshal(env.Data, &notice))
	assert.Equal(t, "alice", notice.Username)
	assert.Empty(t, notice.Reason)

	members, found := h.registry.Snapshot("room-1")
	require.True(t, found)
	require.Len(t, members, 1)
	assert.Equal(t, bob.ID, members[0].ConnectionID)

	// A second leave is a no-op: no duplicate departure notice.
	dispatch(h, alice, EventLeaveRoom, RoomPayload{RoomID: "room-1"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, countEvents(bobConn, EventUserLeft))
}

func TestLastLeaveDeletesRoom(t *testing.T) {
	h := newTestHub()
	alice, _ := attach(t, h, "user-a", "alice")
	joinRoom(h, alice, "room-1")

	dispatch(h, alice, EventLeaveRoom, RoomPayload{RoomID: "room-1"})

	assert.Equal(t, 0, h.registry.RoomCount())
	assert.False(t, alice.InRoom("room-1"))
}

func TestDisconnectCleansUpEverywhere(t *testing.T) {
	h := newTestHub()
	alice, aliceConn := attach(t, h, "user-a", "alice")
	bob, bobConn := attach(t, h, "user-b", "bob")
	joinRoom(h, alice, "room-a")
	joinRoom(h, alice, "room-b")
	joinRoom(h, bob, "room-a")

	h.Disconnect(alice)

	env := waitForEvent(t, bobConn, EventUserLeft)
	var notice PresencePayload
	require.NoError(t, json.Unmarshal(env.Data, &notice))
	assert.Equal(t, "room-a", notice.RoomID)
	assert.Equal(t, "alice", notice.Username)
	assert.Equal(t, events.ReasonDisconnect, notice.Reason)

	// room-b emptied out and is gone; room-a keeps bob.
	_, found := h.registry.Snapshot("room-b")
	assert.False(t, found)
	members, _ := h.registry.Snapshot("room-a")
	require.Len(t, members, 1)
	assert.Equal(t, bob.ID, members[0].ConnectionID)

	assert.Equal(t, 1, h.ConnectionCount())
	require.Eventually(t, func() bool {
		return aliceConn.closeCount() == 1
	}, time.Second, 5*time.Millisecond)

	// Cleanup runs exactly once.
	h.Disconnect(alice)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, countEvents(bobConn, EventUserLeft))
	assert.Equal(t, 1, aliceConn.closeCount())
}

func TestShutdownClosesSessions(t *testing.T) {
	h := newTestHub()
	_, conn1 := attach(t, h, "user-a", "alice")
	_, conn2 := attach(t, h, "user-b", "bob")

	h.Shutdown()

	assert.Equal(t, 0, h.ConnectionCount())
	assert.Equal(t, 1, conn1.closeCount())
	assert.Equal(t, 1, conn2.closeCount())
}

// Re-joins refresh the display name in place, so racing mutators plus one
// observer detect any snapshot delivered out of apply order: a later snapshot
// can never carry an older name version for a connection.
func TestRoomSnapshotsFollowApplyOrder(t *testing.T) {
	h := newTestHub()
	observer, obsConn := attach(t, h, "user-obs", "observer")
	joinRoom(h, observer, "room-1")

	const mutators = 4
	const rejoins = 50

	sessions := make([]*Session, mutators)
	for i := range sessions {
		s, _ := attach(t, h, fmt.Sprintf("user-%d", i), "m")
		sessions[i] = s
	}

	var version atomic.Int64
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			for j := 0; j < rejoins; j++ {
				v := version.Add(1)
				dispatch(h, s, EventJoinRoom, JoinPayload{
					RoomID:   "room-1",
					Username: strconv.FormatInt(v, 10),
				})
			}
		}(s)
	}
	wg.Wait()

	// Wait for the observer's writer goroutine to drain.
	var prev int
	require.Eventually(t, func() bool {
		n := obsConn.frameCount()
		stable := n > 0 && n == prev
		prev = n
		return stable
	}, 2*time.Second, 20*time.Millisecond)

	last := make(map[string]int64)
	snapshots := 0
	for _, env := range obsConn.envelopes() {
		if env.Event != EventRoomUsers {
			continue
		}
		snapshots++
		var p struct {
			Users []presence.Participant `json:"users"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &p))
		for _, u := range p.Users {
			v, err := strconv.ParseInt(u.DisplayName, 10, 64)
			if err != nil {
				continue // the observer entry
			}
			if seen, ok := last[u.ConnectionID]; ok {
				assert.GreaterOrEqual(t, v, seen,
					"stale snapshot delivered after a newer one for %s", u.ConnectionID)
			}
			last[u.ConnectionID] = v
		}
	}
	require.Greater(t, snapshots, 0, "observer received no member snapshots")
}

func TestJoinUsesConnectTimeNameAsFallback(t *testing.T) {
	h := newTestHub()
	alice, _ := attach(t, h, "user-a", "alice")

	dispatch(h, alice, EventJoinRoom, JoinPayload{RoomID: "room-1"})

	members, found := h.registry.Snapshot("room-1")
	require.True(t, found)
	require.Len(t, members, 1)
	assert.Equal(t, "alice", members[0].DisplayName)
}
