package delivery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coach-chat/internal/mocks"
	"coach-chat/internal/models"
	"coach-chat/internal/repositories"
)

func seed(t *testing.T, repo repositories.MessageRepository, conv string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := repo.Append(context.Background(), models.NewMessage{ConversationID: conv, Body: "x", Origin: models.OriginUser})
		require.NoError(t, err)
	}
}

func TestMarkSeenThreeUnseenTwoSeen(t *testing.T) {
	repo := repositories.NewMemoryMessageRepo()
	tracker := NewTracker(repo, nil)
	ctx := context.Background()

	seed(t, repo, "abc", 2)
	_, err := tracker.MarkSeen(ctx, "abc")
	require.NoError(t, err)
	seed(t, repo, "abc", 3)

	updated, err := tracker.MarkSeen(ctx, "abc")
	require.NoError(t, err)
	assert.EqualValues(t, 3, updated)

	unseen, err := tracker.UnseenCount(ctx, "abc")
	require.NoError(t, err)
	assert.EqualValues(t, 0, unseen)
}

func TestMarkSeenIsIdempotent(t *testing.T) {
	repo := repositories.NewMemoryMessageRepo()
	tracker := NewTracker(repo, nil)
	seed(t, repo, "abc", 4)

	first, err := tracker.MarkSeen(context.Background(), "abc")
	require.NoError(t, err)
	second, err := tracker.MarkSeen(context.Background(), "abc")
	require.NoError(t, err)

	assert.EqualValues(t, 4, first)
	assert.EqualValues(t, 0, second)
}

func TestUnseenCountIsDerivedFromStore(t *testing.T) {
	repo := repositories.NewMemoryMessageRepo()
	tracker := NewTracker(repo, nil)

	seed(t, repo, "abc", 1)
	n, err := tracker.UnseenCount(context.Background(), "abc")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	seed(t, repo, "abc", 2)
	n, err = tracker.UnseenCount(context.Background(), "abc")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestUnseenCountIncludesEveryOrigin(t *testing.T) {
	repo := repositories.NewMemoryMessageRepo()
	tracker := NewTracker(repo, nil)
	ctx := context.Background()

	for _, origin := range []models.Origin{models.OriginUser, models.OriginOperator, models.OriginDoctor} {
		_, err := repo.Append(ctx, models.NewMessage{ConversationID: "abc", Body: "x", Origin: origin})
		require.NoError(t, err)
	}

	n, err := tracker.UnseenCount(ctx, "abc")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestMarkSeenPropagatesStoreError(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	repo.On("MarkSeen", context.Background(), "abc").Return(int64(0), assert.AnError).Once()

	_, err := NewTracker(repo, nil).MarkSeen(context.Background(), "abc")
	assert.ErrorIs(t, err, assert.AnError)
	repo.AssertExpectations(t)
}
