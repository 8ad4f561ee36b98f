// Package delivery exposes seen-state for conversations. Unseen counts are
// always derived from the message store; nothing here caches or increments a
// counter, so a new message is unseen simply by existing.
package delivery

import (
	"context"

	"coach-chat/internal/logger"
	"coach-chat/internal/repositories"
)

// Tracker answers seen and unseen queries for conversations.
type Tracker struct {
	messages repositories.MessageRepository
	log      *logger.Logger
}

// NewTracker constructs a Tracker over the message store.
func NewTracker(messages repositories.MessageRepository, log *logger.Logger) *Tracker {
	if log == nil {
		log = logger.Nop()
	}
	return &Tracker{messages: messages, log: log.With("component", "delivery")}
}

// MarkSeen flags every unseen message of the conversation and returns how
// many changed. Repeating it with nothing new returns zero.
func (t *Tracker) MarkSeen(ctx context.Context, conversationID string) (int64, error) {
	n, err := t.messages.MarkSeen(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.log.Debug("marked messages seen", "conversation_id", conversationID, "count", n)
	}
	return n, nil
}

// UnseenCount returns the number of messages not yet marked seen.
func (t *Tracker) UnseenCount(ctx context.Context, conversationID string) (int64, error) {
	return t.messages.UnseenCount(ctx, conversationID)
}
