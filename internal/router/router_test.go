package router

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coach-chat/internal/apperr"
	"coach-chat/internal/mocks"
	"coach-chat/internal/models"
	"coach-chat/internal/observability"
	"coach-chat/internal/repositories"
	"coach-chat/internal/ws"
)

type fixture struct {
	repo     *repositories.MemoryMessageRepo
	registry *ws.Registry
	router   *Router
}

func newFixture() fixture {
	repo := repositories.NewMemoryMessageRepo()
	reg := ws.NewRegistry(nil)
	return fixture{repo: repo, registry: reg, router: New(repo, reg, nil, nil)}
}

func (f fixture) join(room string) *ws.Session {
	s := ws.NewSession(ws.ConnInfo{UserID: "u"}, 16)
	f.registry.Join(room, s)
	return s
}

func recv(t *testing.T, s *ws.Session) models.Frame {
	t.Helper()
	select {
	case fr := <-s.Outbound():
		return fr
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return models.Frame{}
}

func assertSilent(t *testing.T, s *ws.Session) {
	t.Helper()
	select {
	case fr := <-s.Outbound():
		t.Fatalf("unexpected frame %+v", fr)
	default:
	}
}

func latest(t *testing.T, repo repositories.MessageRepository, room string) models.Message {
	t.Helper()
	msg, err := repo.Latest(context.Background(), room)
	require.NoError(t, err)
	return msg
}

func TestOperatorReplyIsStoredAndReEncoded(t *testing.T) {
	f := newFixture()
	sender := f.join("abc")
	peer := f.join("abc")

	err := f.router.Dispatch(context.Background(), sender, models.NewFrame(EventOperatorMessage, "abc", "hello#m1#earlier text"))
	require.NoError(t, err)

	stored := latest(t, f.repo, "abc")
	assert.Equal(t, "hello", stored.Body)
	assert.Equal(t, models.OriginOperator, stored.Origin)
	require.NotNil(t, stored.ReplyTo)
	assert.Equal(t, "m1", stored.ReplyTo.MessageID)
	assert.Equal(t, "earlier text", stored.ReplyTo.Excerpt)
	assert.False(t, stored.Seen)

	want := "hello#" + stored.ID + "#m1#earlier text"
	for _, s := range []*ws.Session{sender, peer} {
		fr := recv(t, s)
		assert.Equal(t, EventOperatorMessage, fr.Event)
		assert.Equal(t, "abc", fr.Room())
		assert.Equal(t, want, fr.Message())
	}
}

func TestPlainUserMessage(t *testing.T) {
	f := newFixture()
	s := f.join("abc")

	require.NoError(t, f.router.Dispatch(context.Background(), s, models.NewFrame(EventUserMessage, "abc", "hi there")))

	stored := latest(t, f.repo, "abc")
	assert.Equal(t, "hi there", stored.Body)
	assert.Equal(t, models.OriginUser, stored.Origin)
	assert.Nil(t, stored.ReplyTo)
	assert.Equal(t, "hi there#"+stored.ID, recv(t, s).Message())
}

func TestDoctorMessageKeepsSeparatorsInBody(t *testing.T) {
	f := newFixture()
	s := f.join("abc")

	require.NoError(t, f.router.Dispatch(context.Background(), s, models.NewFrame(EventDoctorMessage, "abc", "take #2 daily")))

	stored := latest(t, f.repo, "abc")
	assert.Equal(t, "take #2 daily", stored.Body)
	assert.Equal(t, models.OriginDoctor, stored.Origin)
	assert.Nil(t, stored.ReplyTo)
	recv(t, s)
}

func TestUserErrorIsFlagged(t *testing.T) {
	f := newFixture()
	s := f.join("abc")

	require.NoError(t, f.router.Dispatch(context.Background(), s, models.NewFrame(EventUserError, "abc", "app crashed")))

	stored := latest(t, f.repo, "abc")
	assert.True(t, stored.UserError)
	assert.Equal(t, models.OriginUser, stored.Origin)
	assert.Equal(t, "app crashed#"+stored.ID, recv(t, s).Message())
}

func TestImageMessageCarriesCreatedAt(t *testing.T) {
	f := newFixture()
	s := f.join("abc")

	require.NoError(t, f.router.Dispatch(context.Background(), s, models.NewFrame(EventImageMessage, "abc", "https://cdn/x.png")))

	stored := latest(t, f.repo, "abc")
	parts := strings.Split(recv(t, s).Message(), "#")
	require.Len(t, parts, 3)
	assert.Equal(t, "https://cdn/x.png", parts[0])
	assert.Equal(t, stored.ID, parts[1])
	ts, err := time.Parse(createdAtLayout, parts[2])
	require.NoError(t, err)
	assert.WithinDuration(t, stored.CreatedAt, ts, time.Millisecond)
}

func TestWidgetEventsStoreSentences(t *testing.T) {
	f := newFixture()
	s := f.join("abc")
	ctx := context.Background()

	require.NoError(t, f.router.Dispatch(ctx, s, models.NewFrame(WidgetRequestEvent("pulse"), "abc", "")))
	req := latest(t, f.repo, "abc")
	assert.Equal(t, "Please measure your pulse.", req.Body)
	assert.Equal(t, models.OriginOperator, req.Origin)
	assert.Equal(t, "#"+req.ID, recv(t, s).Message())

	require.NoError(t, f.router.Dispatch(ctx, s, models.NewFrame(WidgetResponseEvent("pulse"), "abc", "72")))
	resp := latest(t, f.repo, "abc")
	assert.Equal(t, "My pulse: 72 bpm", resp.Body)
	assert.Equal(t, models.OriginUser, resp.Origin)
	assert.Equal(t, "72#"+resp.ID, recv(t, s).Message())
}

func TestWidgetResponseRequiresValue(t *testing.T) {
	f := newFixture()
	s := f.join("abc")

	err := f.router.Dispatch(context.Background(), s, models.NewFrame(WidgetResponseEvent("mood"), "abc", ""))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assertSilent(t, s)
}

func TestPersistFailureSuppressesBroadcast(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	repo.On("Append", mock.Anything, mock.Anything).Return(nil, assert.AnError)
	reg := ws.NewRegistry(nil)
	r := New(repo, reg, nil, nil)
	s := ws.NewSession(ws.ConnInfo{}, 4)
	reg.Join("abc", s)

	err := r.Dispatch(context.Background(), s, models.NewFrame(EventUserMessage, "abc", "lost"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPersistence))
	assertSilent(t, s)
	repo.AssertExpectations(t)
}

func TestTypingExcludesSender(t *testing.T) {
	f := newFixture()
	sender := f.join("abc")
	peer := f.join("abc")

	require.NoError(t, f.router.Dispatch(context.Background(), sender, models.NewFrame(EventUserTyping, "abc", "")))

	fr := recv(t, peer)
	assert.Equal(t, EventUserTyping, fr.Event)
	assert.Equal(t, "abc", fr.Room())
	assertSilent(t, sender)
	_, err := f.repo.Latest(context.Background(), "abc")
	assert.ErrorIs(t, err, repositories.ErrMessageNotFound)
}

func TestWidgetCancelPassesThrough(t *testing.T) {
	f := newFixture()
	s := f.join("abc")
	in := models.Frame{Event: EventWidgetCancel, Data: map[string]string{"widget": "pulse"}}

	require.NoError(t, f.router.Dispatch(context.Background(), s, in))

	fr := recv(t, s)
	assert.Equal(t, "pulse", fr.Data["widget"])
	assert.Equal(t, "abc", fr.Room())
	_, err := f.repo.Latest(context.Background(), "abc")
	assert.ErrorIs(t, err, repositories.ErrMessageNotFound)
}

func TestPresenceLifecycle(t *testing.T) {
	f := newFixture()
	s := f.join("abc")
	ctx := context.Background()

	require.NoError(t, f.router.Dispatch(ctx, s, models.NewFrame(EventOperatorOnline, "abc", "")))
	fr := recv(t, s)
	assert.Equal(t, "true", fr.Data[ws.PresenceOperatorOnline])

	require.NoError(t, f.router.Dispatch(ctx, s, models.NewFrame(EventOperatorConnect, "abc", "op-7")))
	fr = recv(t, s)
	assert.Equal(t, "op-7", fr.Data[ws.PresenceActiveParticipant])
	assert.Equal(t, "true", fr.Data[ws.PresenceOperatorOnline])

	require.NoError(t, f.router.Dispatch(ctx, s, models.NewFrame(EventOperatorOffline, "abc", "")))
	fr = recv(t, s)
	assert.Equal(t, map[string]string{models.FieldRoom: "abc"}, fr.Data)
	assert.Empty(t, f.registry.Presence("abc"))
}

func TestOperatorConnectMarksOperatorOnline(t *testing.T) {
	f := newFixture()
	s := f.join("abc")

	require.NoError(t, f.router.Dispatch(context.Background(), s, models.NewFrame(EventOperatorConnect, "abc", "op-7")))

	fr := recv(t, s)
	assert.Equal(t, EventOperatorConnect, fr.Event)
	assert.Equal(t, map[string]string{
		models.FieldRoom:             "abc",
		ws.PresenceActiveParticipant: "op-7",
		ws.PresenceOperatorOnline:    "true",
	}, fr.Data)
	assertSilent(t, s)
}

func TestDispatchRejectsInvalidFrames(t *testing.T) {
	f := newFixture()
	s := f.join("abc")
	ctx := context.Background()

	cases := []struct {
		name  string
		frame models.Frame
	}{
		{"unknown event", models.NewFrame("launch_rockets", "abc", "x")},
		{"other room", models.NewFrame(EventUserMessage, "xyz", "x")},
		{"empty message", models.NewFrame(EventUserMessage, "abc", "")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.router.Dispatch(ctx, s, tc.frame)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
			assertSilent(t, s)
		})
	}

	lonely := ws.NewSession(ws.ConnInfo{}, 1)
	err := f.router.Dispatch(ctx, lonely, models.NewFrame(EventUserMessage, "abc", "x"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestRoomsAreIsolated(t *testing.T) {
	f := newFixture()
	a := f.join("a")
	b := f.join("b")

	require.NoError(t, f.router.Dispatch(context.Background(), a, models.NewFrame(EventUserMessage, "a", "only a")))

	recv(t, a)
	assertSilent(t, b)
}

func TestPostPersistsAndBroadcasts(t *testing.T) {
	f := newFixture()
	s := f.join("abc")

	msg, err := f.router.Post(context.Background(), "abc", EventOperatorMessage, "from http")
	require.NoError(t, err)
	assert.Equal(t, "from http", msg.Body)
	assert.Equal(t, "from http#"+msg.ID, recv(t, s).Message())

	_, err = f.router.Post(context.Background(), "abc", EventUserTyping, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestMessageCreatedIsPublished(t *testing.T) {
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, observability.RoutingMessageCreated, mock.Anything, mock.Anything).Return(nil).Once()
	observability.SetPublisher(pub)
	t.Cleanup(func() { observability.SetPublisher(nil) })

	f := newFixture()
	f.join("abc")
	_, err := f.router.Post(context.Background(), "abc", EventUserMessage, "tracked")
	require.NoError(t, err)

	pub.AssertExpectations(t)
	env, ok := pub.Calls[0].Arguments.Get(2).(observability.EventEnvelope)
	require.True(t, ok)
	assert.Equal(t, "message.created", env.EventName)
}

func TestPublishFailureDoesNotFailEvent(t *testing.T) {
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)
	observability.SetPublisher(pub)
	t.Cleanup(func() { observability.SetPublisher(nil) })

	f := newFixture()
	s := f.join("abc")
	require.NoError(t, f.router.Dispatch(context.Background(), s, models.NewFrame(EventUserMessage, "abc", "still delivered")))
	recv(t, s)
}

func TestCatalog(t *testing.T) {
	assert.True(t, Known(EventOperatorOffline))
	assert.False(t, Persisted(EventOperatorOffline))
	assert.True(t, Persisted(WidgetRequestEvent("weight")))
	assert.False(t, Known("weight"))
}
