package repo

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/cafebot/internal/core/error"
)

func newTestRepo(t *testing.T, ttl time.Duration) (*RedisConversationRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisConversationRepository(rdb, "cafebot", ttl), mr
}

func userTurn(content string, confidence float64) model.Turn {
	return model.Turn{Role: model.RoleUser, Content: content, Confidence: &confidence}
}

func TestAppendAndLoadHistory(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRepo(t, time.Hour)

	require.NoError(t, r.AppendTurn(ctx, "c1", userTurn("hi", 0.9)))
	require.NoError(t, r.AppendTurn(ctx, "c1", model.Turn{Role: model.RoleAssistant, Content: "Hello!"}))
	require.NoError(t, r.AppendTurn(ctx, "c1", userTurn("menu?", 0.8)))

	all, err := r.LoadHistory(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "hi", all[0].Content)
	assert.False(t, all[0].CreatedAt.IsZero())
	require.NotNil(t, all[2].Confidence)
	assert.InDelta(t, 0.8, *all[2].Confidence, 1e-9)

	recent, err := r.LoadHistory(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "Hello!", recent[0].Content)

	n, err := r.GetTurnCount(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, time.Hour, mr.TTL("cafebot:conversation:c1:turns"))
}

func TestLoadHistoryMissingConversation(t *testing.T) {
	r, _ := newTestRepo(t, time.Hour)
	turns, err := r.LoadHistory(context.Background(), "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestLoadHistorySkipsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRepo(t, 0)
	require.NoError(t, r.AppendTurn(ctx, "c1", userTurn("hi", 0.9)))
	_, err := mr.RPush("cafebot:conversation:c1:turns", "{broken")
	require.NoError(t, err)

	turns, err := r.LoadHistory(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestClearHistory(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t, time.Hour)
	require.NoError(t, r.AppendTurn(ctx, "c1", userTurn("hi", 0.9)))
	require.NoError(t, r.ClearHistory(ctx, "c1"))

	n, err := r.GetTurnCount(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHumanHandlingStatus(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRepo(t, time.Hour)

	on, err := r.IsHumanHandling(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, r.SetHumanHandling(ctx, "c1", true))
	on, err = r.IsHumanHandling(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, "true", mr.HGet("cafebot:conversation:c1:status", "human_handling"))

	require.NoError(t, r.SetHumanHandling(ctx, "c1", false))
	on, err = r.IsHumanHandling(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, on)
}

func TestRecordEscalation(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRepo(t, time.Hour)

	e := model.Escalation{TurnID: "t1", Reason: "Customer requested human assistance", Urgency: model.UrgencyHigh, Triggers: []string{"human_request"}}
	require.NoError(t, r.RecordEscalation(ctx, "c1", e))
	require.NoError(t, r.RecordEscalation(ctx, "c1", e))

	assert.Equal(t, "2", mr.HGet("cafebot:conversation:c1:status", "escalation_count"))
	got, err := r.Escalations(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.UrgencyHigh, got[0].Urgency)
	assert.False(t, got[0].At.IsZero())

	on, err := r.IsHumanHandling(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, on)
}

func TestStorageErrorsAreWrapped(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRepo(t, time.Hour)
	mr.Close()

	err := r.AppendTurn(ctx, "c1", userTurn("hi", 0.9))
	require.Error(t, err)
	assert.Equal(t, errx.KindStorage, errx.KindOf(err))

	_, err = r.LoadHistory(ctx, "c1", 5)
	assert.Equal(t, errx.KindStorage, errx.KindOf(err))
}
