package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"coach-chat/internal/apperr"
	"coach-chat/internal/auth"
	"coach-chat/internal/logger"
	"coach-chat/internal/models"
	"coach-chat/internal/observability"
	"coach-chat/internal/repositories"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 << 10
	defaultBufSize = 64
)

// Dispatcher handles one inbound frame for a joined session.
type Dispatcher interface {
	Dispatch(ctx context.Context, s *Session, frame models.Frame) error
}

// ChatWebSocketHandler upgrades conversation connections and runs their pumps.
type ChatWebSocketHandler struct {
	registry   *Registry
	dispatcher Dispatcher
	convRepo   repositories.ConversationRepository
	validator  *auth.Validator
	log        *logger.Logger
	sendBuffer int
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(registry *Registry, dispatcher Dispatcher, convRepo repositories.ConversationRepository, validator *auth.Validator, log *logger.Logger, sendBuffer int) *ChatWebSocketHandler {
	if sendBuffer <= 0 {
		sendBuffer = defaultBufSize
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ChatWebSocketHandler{
		registry:   registry,
		dispatcher: dispatcher,
		convRepo:   convRepo,
		validator:  validator,
		log:        log.With("component", "ws.chat"),
		sendBuffer: sendBuffer,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, joins the session to its room and starts the pumps.
// The room comes from the path, or the room query parameter.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if conversationID == "" {
		conversationID = c.Query("room")
	}
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing room"})
		return
	}

	ctx, span := otel.Tracer("coach-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	id, err := h.validator.Validate(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if _, err := h.convRepo.GetConversation(ctx, conversationID); err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": "conversation not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "conversation_id", conversationID, "error", err)
		return
	}

	meta := observability.RequestMetaFrom(c.Request)
	session := NewSession(ConnInfo{
		UserID:      id.UserID,
		Role:        string(id.Role),
		DeviceID:    meta.DeviceID,
		IP:          meta.IP,
		RequestID:   meta.RequestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}, h.sendBuffer)
	h.registry.Join(conversationID, session)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(ctx, "ws_connect", conversationID, session, "")
	h.log.Info("session joined", "conversation_id", conversationID, "conn_id", session.ID, "user_id", id.UserID, "role", id.Role)

	// The request context ends when this handler returns; the pumps outlive it.
	connCtx := context.WithoutCancel(ctx)
	go h.writePump(conn, session)
	go h.readPump(connCtx, conn, conversationID, session)
}

func (h *ChatWebSocketHandler) readPump(ctx context.Context, conn *websocket.Conn, conversationID string, s *Session) {
	var closeReason string
	defer func() {
		h.registry.Leave(s)
		s.Close()
		conn.Close()
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishLifecycle(ctx, "ws_disconnect", conversationID, s, closeReason)
		h.log.Info("session left", "conversation_id", conversationID, "conn_id", s.ID, "reason", closeReason)
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}
		h.handleFrame(ctx, conversationID, s, data)
	}
}

func (h *ChatWebSocketHandler) handleFrame(ctx context.Context, conversationID string, s *Session, data []byte) {
	var frame models.Frame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
		if err == nil {
			err = apperr.Validationf("ws.read", "frame has no event")
		} else {
			err = apperr.Validation("ws.read", err)
		}
		s.Send(ErrorFrame(conversationID, err))
		return
	}
	if frame.Data == nil {
		frame.Data = map[string]string{}
	}

	if err := h.dispatcher.Dispatch(ctx, s, frame); err != nil {
		if !apperr.Is(err, apperr.KindValidation) {
			h.log.Error("event failed", "conversation_id", conversationID, "event", frame.Event, "conn_id", s.ID, "error", err)
		}
		s.Send(ErrorFrame(conversationID, err))
	}
}

func (h *ChatWebSocketHandler) writePump(conn *websocket.Conn, s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(frame); err != nil {
				h.log.Debug("websocket write failed", "conn_id", s.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *ChatWebSocketHandler) publishLifecycle(ctx context.Context, event, conversationID string, s *Session, reason string) {
	_ = observability.PublishEvent(ctx, observability.RoutingWSEvents, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"conversation_id": conversationID,
				"event":           event,
				"conn_id":         s.ID,
				"duration_ms":     time.Since(s.Info.ConnectedAt).Milliseconds(),
				"reason":          reason,
			},
			"identity": map[string]interface{}{
				"user_id":   s.Info.UserID,
				"role":      s.Info.Role,
				"device_id": s.Info.DeviceID,
				"ip":        s.Info.IP,
			},
		},
	}, observability.BuildHeaders(s.Info.RequestID, s.Info.TraceID))
}
