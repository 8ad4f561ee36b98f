package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"coach-chat/internal/apperr"
	"coach-chat/internal/delivery"
	"coach-chat/internal/logger"
	"coach-chat/internal/middleware"
	"coach-chat/internal/models"
	"coach-chat/internal/repositories"
)

// MessagePoster creates a message outside a realtime connection and fans it
// out to the conversation's room.
type MessagePoster interface {
	Post(ctx context.Context, conversationID, event, message string) (models.Message, error)
}

// ConversationHandler serves history and delivery state for conversations.
type ConversationHandler struct {
	convRepo    repositories.ConversationRepository
	messageRepo repositories.MessageRepository
	tracker     *delivery.Tracker
	poster      MessagePoster
	log         *logger.Logger
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(convRepo repositories.ConversationRepository, messageRepo repositories.MessageRepository, tracker *delivery.Tracker, poster MessagePoster, log *logger.Logger) *ConversationHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ConversationHandler{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		tracker:     tracker,
		poster:      poster,
		log:         log.With("component", "handlers.conversation"),
	}
}

// Register mounts the conversation routes on g.
func (h *ConversationHandler) Register(g gin.IRoutes) {
	g.GET("/conversations/:conversation_id/messages", h.ListMessages)
	g.GET("/conversations/:conversation_id/messages/latest", h.LatestMessage)
	g.GET("/conversations/:conversation_id/messages/:message_id", h.GetMessage)
	g.POST("/conversations/:conversation_id/messages", h.PostMessage)
	g.POST("/conversations/:conversation_id/seen", h.MarkSeen)
	g.GET("/conversations/:conversation_id/unseen", h.UnseenCount)
}

// ListMessages returns one page of history, newest first.
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	conversationID, ok := h.conversation(c)
	if !ok {
		return
	}

	page := 0
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
			return
		}
		page = n
	}
	compact, _ := strconv.ParseBool(c.Query("compact"))
	pageSize := repositories.PageSize(compact)

	msgs, err := h.messageRepo.ListRecent(c.Request.Context(), conversationID, pageSize, page)
	if err != nil {
		h.fail(c, err, "failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs, "page": page, "page_size": pageSize})
}

// LatestMessage returns the most recent message of the conversation.
func (h *ConversationHandler) LatestMessage(c *gin.Context) {
	conversationID, ok := h.conversation(c)
	if !ok {
		return
	}

	msg, err := h.messageRepo.Latest(c.Request.Context(), conversationID)
	if err != nil {
		h.fail(c, err, "message not found")
		return
	}
	c.JSON(http.StatusOK, msg)
}

// GetMessage returns a single message of the conversation, such as the
// target of a reply excerpt.
func (h *ConversationHandler) GetMessage(c *gin.Context) {
	conversationID, ok := h.conversation(c)
	if !ok {
		return
	}

	msg, err := h.messageRepo.Get(c.Request.Context(), c.Param("message_id"))
	if err != nil {
		h.fail(c, err, "message not found")
		return
	}
	if msg.ConversationID != conversationID {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	c.JSON(http.StatusOK, msg)
}

// PostMessage stores a message-producing event and broadcasts it to the room.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	conversationID, ok := h.conversation(c)
	if !ok {
		return
	}

	var req struct {
		Event   string `json:"event" binding:"required"`
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.poster.Post(c.Request.Context(), conversationID, req.Event, req.Message)
	if err != nil {
		h.fail(c, err, "failed to store message")
		return
	}
	if id, ok := middleware.IdentityFrom(c); ok {
		h.log.Debug("message posted over http", "conversation_id", conversationID, "message_id", msg.ID, "user_id", id.UserID, "role", id.Role)
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkSeen flags every unseen message of the conversation.
func (h *ConversationHandler) MarkSeen(c *gin.Context) {
	conversationID, ok := h.conversation(c)
	if !ok {
		return
	}

	n, err := h.tracker.MarkSeen(c.Request.Context(), conversationID)
	if err != nil {
		h.fail(c, err, "failed to update messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// UnseenCount reports how many messages are still unseen.
func (h *ConversationHandler) UnseenCount(c *gin.Context) {
	conversationID, ok := h.conversation(c)
	if !ok {
		return
	}

	n, err := h.tracker.UnseenCount(c.Request.Context(), conversationID)
	if err != nil {
		h.fail(c, err, "failed to count messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unseen": n})
}

func (h *ConversationHandler) conversation(c *gin.Context) (string, bool) {
	conversationID := c.Param("conversation_id")
	if _, err := h.convRepo.GetConversation(c.Request.Context(), conversationID); err != nil {
		h.fail(c, err, "conversation not found")
		return "", false
	}
	return conversationID, true
}

// fail writes err as a JSON error. Validation messages are returned to the
// caller; everything else gets fallback.
func (h *ConversationHandler) fail(c *gin.Context, err error, fallback string) {
	status := apperr.HTTPStatus(err)
	msg := fallback
	if apperr.Is(err, apperr.KindValidation) {
		msg = err.Error()
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.FullPath(), "conversation_id", c.Param("conversation_id"), "error", err)
	}
	c.JSON(status, gin.H{"error": msg})
}

// Healthz reports liveness.
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
