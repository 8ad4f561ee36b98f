package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"coach-chat/internal/apperr"
	"coach-chat/internal/models"
)

// MemoryMessageRepo keeps the message log in process memory. Insertion order
// is the tie breaker for equal timestamps, so a per-conversation slice is the
// whole index.
type MemoryMessageRepo struct {
	mu     sync.RWMutex
	byConv map[string][]*models.Message
	byID   map[string]*models.Message
	now    func() time.Time
}

// NewMemoryMessageRepo constructs an empty MemoryMessageRepo.
func NewMemoryMessageRepo() *MemoryMessageRepo {
	return &MemoryMessageRepo{
		byConv: make(map[string][]*models.Message),
		byID:   make(map[string]*models.Message),
		now:    time.Now,
	}
}

// Append stores a message and returns it with server-assigned id and timestamp.
func (r *MemoryMessageRepo) Append(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	if err := validateNew(msg); err != nil {
		return models.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Message{}, apperr.Persistence("messages.append", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return models.Message{}, apperr.Persistence("messages.append", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	createdAt := r.now().UTC()
	log := r.byConv[msg.ConversationID]
	if n := len(log); n > 0 && createdAt.Before(log[n-1].CreatedAt) {
		createdAt = log[n-1].CreatedAt
	}

	stored := &models.Message{
		ID:             id.String(),
		ConversationID: msg.ConversationID,
		Body:           msg.Body,
		Origin:         msg.Origin,
		UserError:      msg.UserError,
		CreatedAt:      createdAt,
	}
	if msg.ReplyTo != nil {
		ref := *msg.ReplyTo
		stored.ReplyTo = &ref
	}
	r.byConv[msg.ConversationID] = append(log, stored)
	r.byID[stored.ID] = stored
	return copyMessage(stored), nil
}

// ListRecent returns one page of messages, newest first.
func (r *MemoryMessageRepo) ListRecent(ctx context.Context, conversationID string, pageSize, pageIndex int) ([]models.Message, error) {
	offset, err := Offset(pageSize, pageIndex)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	log := r.byConv[conversationID]
	msgs := make([]models.Message, 0, pageSize)
	for i := len(log) - 1 - offset; i >= 0 && len(msgs) < pageSize; i-- {
		msgs = append(msgs, copyMessage(log[i]))
	}
	return msgs, nil
}

// MarkSeen flags every unseen message in the conversation as seen.
func (r *MemoryMessageRepo) MarkSeen(ctx context.Context, conversationID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, msg := range r.byConv[conversationID] {
		if !msg.Seen {
			msg.Seen = true
			count++
		}
	}
	return count, nil
}

// Latest returns the newest message of the conversation.
func (r *MemoryMessageRepo) Latest(ctx context.Context, conversationID string) (models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	log := r.byConv[conversationID]
	if len(log) == 0 {
		return models.Message{}, apperr.NotFound("messages.latest", ErrMessageNotFound)
	}
	return copyMessage(log[len(log)-1]), nil
}

// UnseenCount counts messages that have not been marked seen.
func (r *MemoryMessageRepo) UnseenCount(ctx context.Context, conversationID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, msg := range r.byConv[conversationID] {
		if !msg.Seen {
			count++
		}
	}
	return count, nil
}

// Get retrieves a single message.
func (r *MemoryMessageRepo) Get(ctx context.Context, messageID string) (models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.byID[messageID]
	if !ok {
		return models.Message{}, apperr.NotFound("messages.get", ErrMessageNotFound)
	}
	return copyMessage(msg), nil
}

func copyMessage(m *models.Message) models.Message {
	out := *m
	if m.ReplyTo != nil {
		ref := *m.ReplyTo
		out.ReplyTo = &ref
	}
	return out
}

var (
	_ MessageRepository      = (*MessageRepo)(nil)
	_ MessageRepository      = (*MemoryMessageRepo)(nil)
	_ ConversationRepository = (*ConversationRepo)(nil)
	_ ConversationRepository = (*MemoryConversationRepo)(nil)
)
