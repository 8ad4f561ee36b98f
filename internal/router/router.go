package router

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"coach-chat/internal/apperr"
	"coach-chat/internal/logger"
	"coach-chat/internal/models"
	"coach-chat/internal/observability"
	"coach-chat/internal/replythread"
	"coach-chat/internal/repositories"
	"coach-chat/internal/ws"
)

// createdAtLayout matches the millisecond ISO timestamps clients parse.
const createdAtLayout = "2006-01-02T15:04:05.000Z07:00"

// Router validates inbound events, persists the message-like ones and fans
// the resulting frames out to the conversation's room.
type Router struct {
	messages repositories.MessageRepository
	registry *ws.Registry
	codec    replythread.Codec
	log      *logger.Logger
	tracer   trace.Tracer
}

// New constructs a Router. A nil codec selects the separator codec.
func New(messages repositories.MessageRepository, registry *ws.Registry, codec replythread.Codec, log *logger.Logger) *Router {
	if codec == nil {
		codec = replythread.NewHashCodec()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Router{
		messages: messages,
		registry: registry,
		codec:    codec,
		log:      log.With("component", "router"),
		tracer:   otel.Tracer("coach-chat/router"),
	}
}

// Dispatch handles one frame received from a realtime session. A non-nil
// error never affects other events or rooms.
func (r *Router) Dispatch(ctx context.Context, s *ws.Session, frame models.Frame) error {
	room, ok := r.registry.RoomOf(s)
	if !ok {
		return r.reject(frame.Event, apperr.Validationf("router.dispatch", "session %s is not joined to a room", s.ID))
	}
	if claimed := frame.Room(); claimed != "" && claimed != room {
		return r.reject(frame.Event, apperr.Validationf("router.dispatch", "frame addressed to room %q but session is in %q", claimed, room))
	}
	_, err := r.handle(ctx, room, frame, s)
	return err
}

// Post creates a message outside a realtime connection. Only events that
// persist a message are accepted.
func (r *Router) Post(ctx context.Context, conversationID, event, message string) (models.Message, error) {
	if !Persisted(event) {
		return models.Message{}, r.reject(event, apperr.Validationf("router.post", "event %q does not create a message", event))
	}
	return r.handle(ctx, conversationID, models.NewFrame(event, conversationID, message), nil)
}

func (r *Router) handle(ctx context.Context, room string, frame models.Frame, sender *ws.Session) (models.Message, error) {
	spec, ok := catalog[frame.Event]
	if !ok {
		return models.Message{}, r.reject(frame.Event, apperr.Validationf("router.handle", "unknown event %q", frame.Event))
	}

	ctx, span := r.tracer.Start(ctx, "router."+frame.Event, trace.WithAttributes(
		attribute.String("conversation_id", room),
		attribute.String("event", frame.Event),
	))
	defer span.End()

	var (
		msg models.Message
		err error
	)
	if spec.kind.persisted() {
		msg, err = r.handleMessage(ctx, room, frame, spec)
	} else {
		err = r.handleSignal(room, frame, spec, sender)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.Message{}, err
	}
	observability.IncRouterEvent(frame.Event, observability.OutcomeOK)
	return msg, nil
}

func (r *Router) handleMessage(ctx context.Context, room string, frame models.Frame, spec eventSpec) (models.Message, error) {
	raw := frame.Message()
	if raw == "" && !(spec.kind == kindWidget && spec.request) {
		return models.Message{}, r.reject(frame.Event, apperr.Validationf("router.handle", "event %q requires a message", frame.Event))
	}

	nm := models.NewMessage{ConversationID: room, Origin: spec.origin}
	var outbound func(models.Message) string

	switch spec.kind {
	case kindMessage:
		th := replythread.Thread{Body: raw}
		if spec.decodeReply {
			th = r.codec.Decode(raw)
		}
		nm.Body, nm.ReplyTo = th.Body, th.ReplyTo
		outbound = func(m models.Message) string {
			return r.codec.Encode(r.codec.Join(th.Body, m.ID), th.ReplyTo)
		}
	case kindUserError:
		nm.Body, nm.UserError = raw, true
		outbound = func(m models.Message) string { return r.codec.Join(raw, m.ID) }
	case kindImage:
		nm.Body = raw
		outbound = func(m models.Message) string {
			return r.codec.Join(raw, m.ID, m.CreatedAt.UTC().Format(createdAtLayout))
		}
	case kindWidget:
		nm.Body = spec.widget.sentence(spec.request, raw)
		outbound = func(m models.Message) string { return r.codec.Join(raw, m.ID) }
	}

	var msg models.Message
	err := r.registry.Serialize(room, func() error {
		start := time.Now()
		stored, err := r.messages.Append(ctx, nm)
		observability.ObservePersist(frame.Event, time.Since(start))
		if err != nil {
			return err
		}
		msg = stored
		r.registry.Broadcast(room, models.NewFrame(frame.Event, room, outbound(stored)), nil)
		return nil
	})
	if err != nil {
		if apperr.Is(err, apperr.KindValidation) {
			return models.Message{}, r.reject(frame.Event, err)
		}
		if !apperr.Is(err, apperr.KindPersistence) {
			err = apperr.Persistence("router.append", err)
		}
		observability.IncRouterEvent(frame.Event, observability.OutcomePersistFailed)
		r.log.Error("message persist failed, broadcast suppressed", "conversation_id", room, "event", frame.Event, "error", err)
		return models.Message{}, err
	}

	r.publishCreated(ctx, frame.Event, msg)
	return msg, nil
}

func (r *Router) handleSignal(room string, frame models.Frame, spec eventSpec, sender *ws.Session) error {
	return r.registry.Serialize(room, func() error {
		switch spec.kind {
		case kindPassthrough:
			out := models.Frame{Event: frame.Event, Data: make(map[string]string, len(frame.Data)+1)}
			for k, v := range frame.Data {
				out.Data[k] = v
			}
			out.Data[models.FieldRoom] = room
			r.registry.Broadcast(room, out, nil)
		case kindTyping:
			r.registry.Broadcast(room, models.NewFrame(frame.Event, room, ""), sender)
		case kindPresenceConnect:
			r.registry.SetPresenceSlots(room, frame.Event, map[string]string{
				ws.PresenceActiveParticipant: frame.Message(),
				ws.PresenceOperatorOnline:    "true",
			})
		case kindPresenceOnline:
			r.registry.SetPresence(room, frame.Event, ws.PresenceOperatorOnline, "true")
		case kindPresenceOffline:
			r.registry.ClearPresence(room, frame.Event, ws.PresenceOperatorOnline, ws.PresenceActiveParticipant)
		}
		return nil
	})
}

func (r *Router) reject(event string, err error) error {
	observability.IncRouterEvent(metricEvent(event), observability.OutcomeInvalid)
	r.log.Debug("rejected event", "event", event, "error", err)
	return err
}

// metricEvent bounds label cardinality to the catalog.
func metricEvent(event string) string {
	if Known(event) {
		return event
	}
	return "unknown"
}

func (r *Router) publishCreated(ctx context.Context, event string, msg models.Message) {
	traceID := ""
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	err := observability.PublishEvent(ctx, observability.RoutingMessageCreated, observability.EventEnvelope{
		EventType: "chat_message",
		EventName: "message.created",
		Payload: map[string]interface{}{
			"event":           event,
			"conversation_id": msg.ConversationID,
			"message":         msg,
		},
	}, observability.BuildHeaders("", traceID))
	if err != nil {
		r.log.Warn("message.created publish failed", "conversation_id", msg.ConversationID, "message_id", msg.ID, "error", err)
	}
}
