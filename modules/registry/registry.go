package registry

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/example/webinar-chat/domain/presence"
)

// shardCount is the number of independent locks the room map is split across.
// Operations on rooms in different shards never block each other.
const shardCount = 16

// roomState holds the members of one room. The order slice preserves join
// order so snapshots are stable for "room-users" notifications.
type roomState struct {
	order   []string
	members map[string]*presence.Participant
}

type shard struct {
	mu    sync.RWMutex
	rooms map[string]*roomState
}

// RoomRegistry owns the authoritative mapping from room id to the set of
// connected participants. It is pure state: it never touches a socket.
type RoomRegistry struct {
	shards [shardCount]*shard
}

// Departure describes the removal of one connection from one room, with
// enough information for the caller to broadcast a departure notice.
type Departure struct {
	RoomID      string
	Removed     presence.Participant
	Remaining   []presence.Participant
	RoomDeleted bool
}

// RoomInfo is a lightweight room listing entry.
type RoomInfo struct {
	ID      string `json:"id"`
	Members int    `json:"members"`
}

// New creates an empty RoomRegistry.
func New() *RoomRegistry {
	r := &RoomRegistry{}
	for i := range r.shards {
		r.shards[i] = &shard{rooms: make(map[string]*roomState)}
	}
	return r
}

func (r *RoomRegistry) shardFor(roomID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(roomID))
	return r.shards[h.Sum32()%shardCount]
}

// Join adds a connection to a room, creating the room if it does not exist.
// Idempotent per connection id: a repeated join refreshes the participant's
// user id and display name in place without creating a duplicate entry.
// It returns an ordered snapshot of the room after the join.
func (r *RoomRegistry) Join(roomID, connectionID, userID, displayName string) ([]presence.Participant, bool, error) {
	if roomID == "" || connectionID == "" {
		return nil, false, ErrInvalidInput
	}

	s := r.shardFor(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[roomID]
	if !exists {
		room = &roomState{members: make(map[string]*presence.Participant)}
		s.rooms[roomID] = room
	}

	if member, ok := room.members[connectionID]; ok {
		// Re-sent join without an intervening leave: refresh in place,
		// keeping the original join-order slot.
		member.UserID = userID
		member.DisplayName = displayName
	} else {
		room.members[connectionID] = &presence.Participant{
			ConnectionID: connectionID,
			UserID:       userID,
			DisplayName:  displayName,
			JoinedAt:     time.Now().UTC(),
		}
		room.order = append(room.order, connectionID)
	}

	return room.snapshot(), !exists, nil
}

// Leave removes a connection from a room. Removing an absent participant is a
// no-op, not an error. When the last participant leaves, the room entry is
// deleted inside the same locked mutation and roomDeleted reports true.
func (r *RoomRegistry) Leave(roomID, connectionID string) ([]presence.Participant, bool, error) {
	if roomID == "" || connectionID == "" {
		return nil, false, ErrInvalidInput
	}

	s := r.shardFor(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[roomID]
	if !exists {
		return nil, false, nil
	}
	if _, ok := room.members[connectionID]; !ok {
		return room.snapshot(), false, nil
	}

	room.remove(connectionID)
	if len(room.members) == 0 {
		delete(s.rooms, roomID)
		return nil, true, nil
	}
	return room.snapshot(), false, nil
}

// RemoveConnectionEverywhere removes a connection from every room it is a
// member of. Used on abnormal disconnect. Removal is atomic per room with
// respect to concurrent Join/Leave on that room, and removing an already
// absent connection is a no-op.
func (r *RoomRegistry) RemoveConnectionEverywhere(connectionID string) []Departure {
	if connectionID == "" {
		return nil
	}

	var departures []Departure
	for _, s := range r.shards {
		s.mu.Lock()
		for roomID, room := range s.rooms {
			member, ok := room.members[connectionID]
			if !ok {
				continue
			}
			removed := *member
			room.remove(connectionID)

			dep := Departure{RoomID: roomID, Removed: removed}
			if len(room.members) == 0 {
				delete(s.rooms, roomID)
				dep.RoomDeleted = true
			} else {
				dep.Remaining = room.snapshot()
			}
			departures = append(departures, dep)
		}
		s.mu.Unlock()
	}
	return departures
}

// Snapshot returns an ordered copy of a room's participants. The second
// return value is false when the room does not exist.
func (r *RoomRegistry) Snapshot(roomID string) ([]presence.Participant, bool) {
	s := r.shardFor(roomID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, exists := s.rooms[roomID]
	if !exists {
		return nil, false
	}
	return room.snapshot(), true
}

// Rooms lists all live rooms with their member counts, sorted by room id.
func (r *RoomRegistry) Rooms() []RoomInfo {
	var infos []RoomInfo
	for _, s := range r.shards {
		s.mu.RLock()
		for roomID, room := range s.rooms {
			infos = append(infos, RoomInfo{ID: roomID, Members: len(room.members)})
		}
		s.mu.RUnlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// RoomCount returns the number of live rooms.
func (r *RoomRegistry) RoomCount() int {
	count := 0
	for _, s := range r.shards {
		s.mu.RLock()
		count += len(s.rooms)
		s.mu.RUnlock()
	}
	return count
}

// ParticipantCount returns the total number of room memberships. A connection
// joined to two rooms counts twice.
func (r *RoomRegistry) ParticipantCount() int {
	count := 0
	for _, s := range r.shards {
		s.mu.RLock()
		for _, room := range s.rooms {
			count += len(room.members)
		}
		s.mu.RUnlock()
	}
	return count
}

// snapshot copies the member set in join order. Callers must hold the shard
// lock.
func (rs *roomState) snapshot() []presence.Participant {
	out := make([]presence.Participant, 0, len(rs.order))
	for _, id := range rs.order {
		if member, ok := rs.members[id]; ok {
			out = append(out, *member)
		}
	}
	return out
}

// remove deletes one member and its order slot. Callers must hold the shard
// lock.
func (rs *roomState) remove(connectionID string) {
	delete(rs.members, connectionID)
	for i, id := range rs.order {
		if id == connectionID {
			rs.order = append(rs.order[:i], rs.order[i+1:]...)
			break
		}
	}
}
