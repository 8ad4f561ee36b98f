package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"coach-chat/internal/apperr"
	"coach-chat/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository is a read-only view of conversations owned by the
// assignment service.
type ConversationRepository interface {
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, operator_id, assistant_id, created_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, apperr.NotFound("conversations.get", ErrConversationNotFound)
	}
	if err != nil {
		return models.Conversation{}, apperr.Persistence("conversations.get", err)
	}
	return conv, nil
}

// MemoryConversationRepo serves conversations registered in process.
type MemoryConversationRepo struct {
	mu            sync.RWMutex
	convs         map[string]models.Conversation
	acceptUnknown bool
}

// NewMemoryConversationRepo constructs a MemoryConversationRepo seeded with ids.
func NewMemoryConversationRepo(ids ...string) *MemoryConversationRepo {
	r := &MemoryConversationRepo{convs: make(map[string]models.Conversation)}
	for _, id := range ids {
		r.Put(models.Conversation{ID: id})
	}
	return r
}

// NewOpenConversationRepo returns a repo that treats every id as an existing,
// unassigned conversation. Used with the in-process message store.
func NewOpenConversationRepo() *MemoryConversationRepo {
	r := NewMemoryConversationRepo()
	r.acceptUnknown = true
	return r
}

// Put registers or replaces a conversation.
func (r *MemoryConversationRepo) Put(conv models.Conversation) {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	r.convs[conv.ID] = conv
	r.mu.Unlock()
}

// GetConversation fetches a conversation by id.
func (r *MemoryConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.convs[conversationID]
	if !ok && r.acceptUnknown && conversationID != "" {
		return models.Conversation{ID: conversationID}, nil
	}
	if !ok {
		return models.Conversation{}, apperr.NotFound("conversations.get", ErrConversationNotFound)
	}
	return conv, nil
}
