package ws

import (
	"sync"

	"coach-chat/internal/logger"
	"coach-chat/internal/models"
	"coach-chat/internal/observability"
)

// Presence slots kept per room.
const (
	PresenceOperatorOnline    = "operatorOnline"
	PresenceActiveParticipant = "activeParticipant"
)

type room struct {
	members  map[*Session]struct{}
	presence map[string]string
}

// Registry maps conversations to their connected sessions and ephemeral
// presence. A session belongs to at most one room.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	sessions map[*Session]string
	locks    roomLocks
	log      *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		rooms:    make(map[string]*room),
		sessions: make(map[*Session]string),
		log:      log.With("component", "ws.registry"),
	}
}

// Join adds the session to the conversation's room, moving it out of any
// room it was in before.
func (r *Registry) Join(conversationID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[s]; ok {
		if current == conversationID {
			return
		}
		r.removeLocked(current, s)
	}
	rm, ok := r.rooms[conversationID]
	if !ok {
		rm = &room{members: make(map[*Session]struct{}), presence: make(map[string]string)}
		r.rooms[conversationID] = rm
	}
	rm.members[s] = struct{}{}
	r.sessions[s] = conversationID
}

// Leave removes the session from its room and reports which room that was.
func (r *Registry) Leave(s *Session) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversationID, ok := r.sessions[s]
	if !ok {
		return "", false
	}
	r.removeLocked(conversationID, s)
	return conversationID, true
}

func (r *Registry) removeLocked(conversationID string, s *Session) {
	delete(r.sessions, s)
	rm, ok := r.rooms[conversationID]
	if !ok {
		return
	}
	delete(rm.members, s)
	if len(rm.members) == 0 {
		delete(r.rooms, conversationID)
	}
}

// RoomOf returns the conversation the session is joined to.
func (r *Registry) RoomOf(s *Session) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conversationID, ok := r.sessions[s]
	return conversationID, ok
}

// Members returns the number of sessions joined to the conversation.
func (r *Registry) Members(conversationID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rm, ok := r.rooms[conversationID]; ok {
		return len(rm.members)
	}
	return 0
}

// Broadcast queues frame on every member of the room except exclude. Delivery
// is fire-and-forget; the number of sessions that accepted the frame is
// returned.
func (r *Registry) Broadcast(conversationID string, frame models.Frame, exclude *Session) int {
	r.mu.RLock()
	rm, ok := r.rooms[conversationID]
	if !ok {
		r.mu.RUnlock()
		return 0
	}
	targets := make([]*Session, 0, len(rm.members))
	for s := range rm.members {
		if s != exclude {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.Send(frame) {
			delivered++
			continue
		}
		observability.IncBroadcastDropped(frame.Event)
		r.log.Warn("dropped frame for slow or closed session", "conversation_id", conversationID, "event", frame.Event, "conn_id", s.ID)
	}
	return delivered
}

// SetPresence stores a presence slot and broadcasts the room's snapshot under
// event. Rooms without members keep no presence.
func (r *Registry) SetPresence(conversationID, event, key, value string) models.Frame {
	return r.SetPresenceSlots(conversationID, event, map[string]string{key: value})
}

// SetPresenceSlots stores several presence slots and broadcasts a single
// snapshot under event.
func (r *Registry) SetPresenceSlots(conversationID, event string, slots map[string]string) models.Frame {
	r.mu.Lock()
	if rm, ok := r.rooms[conversationID]; ok {
		for k, v := range slots {
			rm.presence[k] = v
		}
	}
	frame := r.snapshotLocked(conversationID, event)
	r.mu.Unlock()

	r.Broadcast(conversationID, frame, nil)
	return frame
}

// ClearPresence removes presence slots and broadcasts the resulting snapshot.
func (r *Registry) ClearPresence(conversationID, event string, keys ...string) models.Frame {
	r.mu.Lock()
	if rm, ok := r.rooms[conversationID]; ok {
		for _, key := range keys {
			delete(rm.presence, key)
		}
	}
	frame := r.snapshotLocked(conversationID, event)
	r.mu.Unlock()

	r.Broadcast(conversationID, frame, nil)
	return frame
}

// Presence returns a copy of the room's presence slots.
func (r *Registry) Presence(conversationID string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]string{}
	if rm, ok := r.rooms[conversationID]; ok {
		for k, v := range rm.presence {
			out[k] = v
		}
	}
	return out
}

func (r *Registry) snapshotLocked(conversationID, event string) models.Frame {
	frame := models.NewFrame(event, conversationID, "")
	if rm, ok := r.rooms[conversationID]; ok {
		for k, v := range rm.presence {
			frame.Data[k] = v
		}
	}
	return frame
}

// Serialize runs fn while holding the conversation's ordering lock. Work for
// other conversations is not blocked.
func (r *Registry) Serialize(conversationID string, fn func() error) error {
	lk := r.locks.acquire(conversationID)
	defer r.locks.release(conversationID, lk)
	return fn()
}
