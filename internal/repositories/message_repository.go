package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"coach-chat/internal/apperr"
	"coach-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository is the durable, append-only message log.
type MessageRepository interface {
	Append(ctx context.Context, msg models.NewMessage) (models.Message, error)
	ListRecent(ctx context.Context, conversationID string, pageSize, pageIndex int) ([]models.Message, error)
	MarkSeen(ctx context.Context, conversationID string) (int64, error)
	Latest(ctx context.Context, conversationID string) (models.Message, error)
	UnseenCount(ctx context.Context, conversationID string) (int64, error)
	Get(ctx context.Context, messageID string) (models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

type messageRow struct {
	ID             string         `db:"id"`
	ConversationID string         `db:"conversation_id"`
	Body           string         `db:"body"`
	Origin         string         `db:"origin"`
	Seen           bool           `db:"seen"`
	UserError      bool           `db:"user_error"`
	ReplyMessageID sql.NullString `db:"reply_message_id"`
	ReplyExcerpt   sql.NullString `db:"reply_excerpt"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r messageRow) toModel() models.Message {
	msg := models.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Body:           r.Body,
		Origin:         models.Origin(r.Origin),
		Seen:           r.Seen,
		UserError:      r.UserError,
		CreatedAt:      r.CreatedAt.UTC(),
	}
	if r.ReplyMessageID.Valid {
		msg.ReplyTo = &models.ReplyRef{MessageID: r.ReplyMessageID.String, Excerpt: r.ReplyExcerpt.String}
	}
	return msg
}

const messageColumns = `id, conversation_id, body, origin, seen, user_error, reply_message_id, reply_excerpt, created_at`

// Append stores a message and returns it with server-assigned id and timestamp.
func (r *MessageRepo) Append(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	if err := validateNew(msg); err != nil {
		return models.Message{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return models.Message{}, apperr.Persistence("messages.append", err)
	}

	var replyID, replyExcerpt sql.NullString
	if msg.ReplyTo != nil {
		replyID = sql.NullString{String: msg.ReplyTo.MessageID, Valid: true}
		replyExcerpt = sql.NullString{String: msg.ReplyTo.Excerpt, Valid: true}
	}

	var row messageRow
	err = r.db.QueryRowxContext(ctx, `INSERT INTO messages (id, conversation_id, body, origin, user_error, reply_message_id, reply_excerpt)
        VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+messageColumns,
		id.String(), msg.ConversationID, msg.Body, string(msg.Origin), msg.UserError, replyID, replyExcerpt).
		StructScan(&row)
	if err != nil {
		return models.Message{}, apperr.Persistence("messages.append", err)
	}
	return row.toModel(), nil
}

// ListRecent returns one page of messages, newest first.
func (r *MessageRepo) ListRecent(ctx context.Context, conversationID string, pageSize, pageIndex int) ([]models.Message, error) {
	offset, err := Offset(pageSize, pageIndex)
	if err != nil {
		return nil, err
	}
	var rows []messageRow
	err = r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1
        ORDER BY created_at DESC, seq DESC
        LIMIT $2 OFFSET $3`, conversationID, pageSize, offset)
	if err != nil {
		return nil, apperr.Persistence("messages.list_recent", err)
	}
	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toModel())
	}
	return msgs, nil
}

// MarkSeen flags every unseen message in the conversation as seen.
func (r *MessageRepo) MarkSeen(ctx context.Context, conversationID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET seen = TRUE WHERE conversation_id=$1 AND seen = FALSE`, conversationID)
	if err != nil {
		return 0, apperr.Persistence("messages.mark_seen", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Persistence("messages.mark_seen", err)
	}
	return count, nil
}

// Latest returns the newest message of the conversation.
func (r *MessageRepo) Latest(ctx context.Context, conversationID string) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1
        ORDER BY created_at DESC, seq DESC
        LIMIT 1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, apperr.NotFound("messages.latest", ErrMessageNotFound)
	}
	if err != nil {
		return models.Message{}, apperr.Persistence("messages.latest", err)
	}
	return row.toModel(), nil
}

// UnseenCount counts messages that have not been marked seen.
func (r *MessageRepo) UnseenCount(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE conversation_id=$1 AND seen = FALSE`, conversationID); err != nil {
		return 0, apperr.Persistence("messages.unseen_count", err)
	}
	return count, nil
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID string) (models.Message, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return models.Message{}, apperr.NotFound("messages.get", ErrMessageNotFound)
	}
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, apperr.NotFound("messages.get", ErrMessageNotFound)
	}
	if err != nil {
		return models.Message{}, apperr.Persistence("messages.get", err)
	}
	return row.toModel(), nil
}

func validateNew(msg models.NewMessage) error {
	if strings.TrimSpace(msg.ConversationID) == "" {
		return apperr.Validationf("messages.append", "conversation id is required")
	}
	if !msg.Origin.Valid() {
		return apperr.Validationf("messages.append", "invalid origin %q", msg.Origin)
	}
	return nil
}
