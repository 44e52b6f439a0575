package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records written frames. When started/release are set, WriteMessage
// signals started and then parks until release is closed, so tests can hold
// the writer goroutine mid-write.
type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	closes   int
	writeErr error

	started chan struct{}
	release chan struct{}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	if c.started != nil {
		select {
		case c.started <- struct{}{}:
		default:
		}
	}
	if c.release != nil {
		<-c.release
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) allFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// envelopes decodes every recorded frame.
func (c *fakeConn) envelopes() []Envelope {
	var out []Envelope
	for _, frame := range c.allFrames() {
		var env Envelope
		if err := json.Unmarshal(frame, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

func TestSessionGeneratesIDs(t *testing.T) {
	conn := &fakeConn{}
	s := NewSession(conn, "", "alice")
	defer s.Close()

	require.NotEmpty(t, s.ID)
	assert.Equal(t, s.ID, s.UserID, "empty userID must fall back to the connection id")

	s2 := NewSession(&fakeConn{}, "user-7", "bob")
	defer s2.Close()
	assert.Equal(t, "user-7", s2.UserID)
	assert.NotEqual(t, s.ID, s2.ID)
}

func TestSessionDeliversInOrder(t *testing.T) {
	conn := &fakeConn{}
	s := NewSession(conn, "user-1", "alice")
	defer s.Close()

	for i := 0; i < 10; i++ {
		s.Enqueue([]byte(fmt.Sprintf("frame-%d", i)))
	}

	require.Eventually(t, func() bool {
		return conn.frameCount() == 10
	}, time.Second, 5*time.Millisecond)

	for i, frame := range conn.allFrames() {
		assert.Equal(t, fmt.Sprintf("frame-%d", i), string(frame))
	}
}

func TestSessionDropsOldestWhenFull(t *testing.T) {
	conn := &fakeConn{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s := NewSession(conn, "user-1", "alice")
	defer s.Close()

	// Park the writer on the first frame so the queue fills deterministically.
	s.Enqueue([]byte("frame-0"))
	<-conn.started

	overflow := 3
	total := outboundQueueSize + overflow
	for i := 1; i <= total; i++ {
		s.Enqueue([]byte(fmt.Sprintf("frame-%d", i)))
	}

	close(conn.release)

	require.Eventually(t, func() bool {
		return conn.frameCount() == outboundQueueSize+1
	}, time.Second, 5*time.Millisecond)

	frames := conn.allFrames()
	// The in-flight frame lands first; the oldest queued frames were dropped.
	assert.Equal(t, "frame-0", string(frames[0]))
	assert.Equal(t, fmt.Sprintf("frame-%d", overflow+1), string(frames[1]))
	assert.Equal(t, fmt.Sprintf("frame-%d", total), string(frames[len(frames)-1]))
}

func TestSessionCloseIdempotent(t *testing.T) {
	conn := &fakeConn{}
	s := NewSession(conn, "user-1", "alice")

	s.Close()
	s.Close()
	assert.Equal(t, 1, conn.closeCount())

	// Enqueue after close must not block.
	done := make(chan struct{})
	go func() {
		s.Enqueue([]byte("late"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked after Close")
	}
}

func TestSessionClosesOnWriteError(t *testing.T) {
	conn := &fakeConn{writeErr: fmt.Errorf("broken pipe")}
	s := NewSession(conn, "user-1", "alice")

	s.Enqueue([]byte("frame"))

	require.Eventually(t, func() bool {
		return conn.closeCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSessionRoomTracking(t *testing.T) {
	s := NewSession(&fakeConn{}, "user-1", "alice")
	defer s.Close()

	assert.False(t, s.InRoom("room-1"))
	s.trackJoin("room-1")
	assert.True(t, s.InRoom("room-1"))
	s.trackLeave("room-1")
	assert.False(t, s.InRoom("room-1"))
}
