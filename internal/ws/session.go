package ws

import (
	"sync"

	"github.com/google/uuid"

	"coach-chat/internal/models"
)

// Session is one realtime connection. Frames are queued and written by the
// connection's write pump; a full queue drops the frame.
type Session struct {
	ID   string
	Info ConnInfo

	mu     sync.Mutex
	send   chan models.Frame
	closed bool
}

// NewSession creates a session with a bounded outbound queue.
func NewSession(info ConnInfo, buffer int) *Session {
	if buffer <= 0 {
		buffer = 1
	}
	if info.ConnID == "" {
		info.ConnID = uuid.NewString()
	}
	return &Session{ID: info.ConnID, Info: info, send: make(chan models.Frame, buffer)}
}

// Outbound exposes queued frames. The channel is closed by Close.
func (s *Session) Outbound() <-chan models.Frame {
	return s.send
}

// Send queues a frame without blocking. It reports false when the session is
// closed or its queue is full.
func (s *Session) Send(frame models.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops accepting frames and closes the outbound queue. Safe to call
// more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}
