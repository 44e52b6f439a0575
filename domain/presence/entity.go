package presence

import "time"

// Participant is one connection's membership record within one room. The same
// physical connection joining two rooms is modeled as two independent
// Participant records sharing a ConnectionID.
type Participant struct {
	ConnectionID string    `json:"id"`
	UserID       string    `json:"userId"`
	DisplayName  string    `json:"username"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// ChatMessage is a relayed chat message. It is transient: the core never
// stores it beyond the immediate broadcast attempt. ID and SentAt are always
// server-assigned.
type ChatMessage struct {
	ID                 string    `json:"id"`
	RoomID             string    `json:"roomId"`
	SenderConnectionID string    `json:"-"`
	SenderUserID       string    `json:"userId"`
	SenderDisplayName  string    `json:"username"`
	Body               string    `json:"message"`
	SentAt             time.Time `json:"timestamp"`
}

// TypingSignal represents "user is typing" / "user stopped typing". It is not
// buffered anywhere; last write wins at the subscriber.
type TypingSignal struct {
	RoomID       string `json:"roomId"`
	ConnectionID string `json:"-"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"username"`
	Active       bool   `json:"-"`
}
