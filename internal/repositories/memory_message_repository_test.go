package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coach-chat/internal/apperr"
	"coach-chat/internal/models"
)

func appendN(t *testing.T, repo MessageRepository, conv string, n int) []models.Message {
	t.Helper()
	out := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		msg, err := repo.Append(context.Background(), models.NewMessage{
			ConversationID: conv,
			Body:           fmt.Sprintf("m%d", i),
			Origin:         models.OriginUser,
		})
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func TestMemoryAppendAssignsServerFields(t *testing.T) {
	repo := NewMemoryMessageRepo()
	msg, err := repo.Append(context.Background(), models.NewMessage{
		ConversationID: "abc",
		Body:           "hello",
		Origin:         models.OriginOperator,
		ReplyTo:        &models.ReplyRef{MessageID: "m1", Excerpt: "earlier text"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.False(t, msg.Seen)
	assert.Equal(t, models.OriginOperator, msg.Origin)
	require.NotNil(t, msg.ReplyTo)
	assert.Equal(t, "m1", msg.ReplyTo.MessageID)

	got, err := repo.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestMemoryAppendRejectsInvalidInput(t *testing.T) {
	repo := NewMemoryMessageRepo()

	_, err := repo.Append(context.Background(), models.NewMessage{ConversationID: "", Origin: models.OriginUser})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = repo.Append(context.Background(), models.NewMessage{ConversationID: "abc", Origin: "robot"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestMemoryListRecentPagesWithoutGapsOrDuplicates(t *testing.T) {
	repo := NewMemoryMessageRepo()
	stamp := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return stamp }

	appended := appendN(t, repo, "abc", 7)
	appendN(t, repo, "other", 3)

	var seen []string
	for page := 0; ; page++ {
		msgs, err := repo.ListRecent(context.Background(), "abc", 3, page)
		require.NoError(t, err)
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			seen = append(seen, m.ID)
		}
	}

	require.Len(t, seen, len(appended))
	for i, id := range seen {
		assert.Equal(t, appended[len(appended)-1-i].ID, id, "position %d", i)
	}
}

func TestMemoryListRecentRejectsNegativePage(t *testing.T) {
	repo := NewMemoryMessageRepo()
	_, err := repo.ListRecent(context.Background(), "abc", DefaultPageSize, -1)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestMemoryCreatedAtNeverGoesBackwards(t *testing.T) {
	repo := NewMemoryMessageRepo()
	stamps := []time.Time{
		time.Date(2024, 1, 1, 12, 0, 5, 0, time.UTC),
		time.Date(2024, 1, 1, 12, 0, 1, 0, time.UTC),
	}
	i := 0
	repo.now = func() time.Time { ts := stamps[i]; i++; return ts }

	msgs := appendN(t, repo, "abc", 2)
	assert.False(t, msgs[1].CreatedAt.Before(msgs[0].CreatedAt))

	latest, err := repo.Latest(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, msgs[1].ID, latest.ID)
}

func TestMemoryMarkSeenUpdatesOnlyUnseen(t *testing.T) {
	repo := NewMemoryMessageRepo()
	ctx := context.Background()

	appendN(t, repo, "abc", 2)
	updated, err := repo.MarkSeen(ctx, "abc")
	require.NoError(t, err)
	require.EqualValues(t, 2, updated)

	appendN(t, repo, "abc", 3)
	unseen, err := repo.UnseenCount(ctx, "abc")
	require.NoError(t, err)
	assert.EqualValues(t, 3, unseen)

	updated, err = repo.MarkSeen(ctx, "abc")
	require.NoError(t, err)
	assert.EqualValues(t, 3, updated)

	unseen, err = repo.UnseenCount(ctx, "abc")
	require.NoError(t, err)
	assert.EqualValues(t, 0, unseen)

	updated, err = repo.MarkSeen(ctx, "abc")
	require.NoError(t, err)
	assert.EqualValues(t, 0, updated)
}

func TestMemoryLatestAndGetNotFound(t *testing.T) {
	repo := NewMemoryMessageRepo()

	_, err := repo.Latest(context.Background(), "empty")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.ErrorIs(t, err, ErrMessageNotFound)

	_, err = repo.Get(context.Background(), "nope")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestPageSizeAndOffset(t *testing.T) {
	assert.Equal(t, CompactPageSize, PageSize(true))
	assert.Equal(t, DefaultPageSize, PageSize(false))
	assert.Less(t, CompactPageSize, DefaultPageSize)

	off, err := Offset(DefaultPageSize, 2)
	require.NoError(t, err)
	assert.Equal(t, 2*DefaultPageSize, off)

	_, err = Offset(0, 1)
	assert.Error(t, err)
}

func TestConversationRepos(t *testing.T) {
	closed := NewMemoryConversationRepo("abc")
	_, err := closed.GetConversation(context.Background(), "abc")
	require.NoError(t, err)
	_, err = closed.GetConversation(context.Background(), "zzz")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	open := NewOpenConversationRepo()
	conv, err := open.GetConversation(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "anything", conv.ID)
}
