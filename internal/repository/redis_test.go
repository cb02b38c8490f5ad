package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestPresenceTouchAndSamples(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	repo := NewPresenceRepository(rdb, 6*time.Hour)

	id := uuid.New()
	missing := uuid.New()
	seen := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Touch(ctx, id, model.PresenceSample{LastSeen: seen, QuestionIndex: 2}))
	require.NoError(t, repo.Touch(ctx, id, model.PresenceSample{LastSeen: seen.Add(5 * time.Second), QuestionIndex: 3}))

	key := config.CacheKey.AttemptPresenceKey(id.String())
	assert.Equal(t, 6*time.Hour, mr.TTL(key))

	samples, err := repo.Samples(ctx, []uuid.UUID{id, missing})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, seen.Add(5*time.Second), samples[id].LastSeen)
	assert.Equal(t, 3, samples[id].QuestionIndex)
}

func TestPresenceSurfacesRedisErrors(t *testing.T) {
	mr, rdb := newRedis(t)
	repo := NewPresenceRepository(rdb, time.Hour)
	mr.Close()

	err := repo.Touch(context.Background(), uuid.New(), model.PresenceSample{LastSeen: time.Now()})
	assert.Error(t, err)
}

type countingSource struct {
	mu    sync.Mutex
	calls int
	quiz  *model.Quiz
	err   error
}

func (s *countingSource) GetQuiz(context.Context, string) (*model.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.quiz, s.err
}

func TestQuizCacheFillsOnce(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	source := &countingSource{quiz: &model.Quiz{
		ID: "quiz-1",
		Questions: []model.Question{
			{ID: "q1", Type: model.QuestionTypeMCQ, Points: 2, Options: []model.QuestionOption{{ID: "a", IsCorrect: true}}},
		},
	}}
	cache := NewQuizCache(rdb, source, 10*time.Minute)

	first, err := cache.GetQuiz(ctx, "quiz-1")
	require.NoError(t, err)
	second, err := cache.GetQuiz(ctx, "quiz-1")
	require.NoError(t, err)

	assert.Equal(t, 1, source.calls)
	assert.Equal(t, first, second)

	ttl := mr.TTL(config.CacheKey.QuizAnswerKeyKey("quiz-1"))
	assert.GreaterOrEqual(t, ttl, 10*time.Minute)
	assert.LessOrEqual(t, ttl, 11*time.Minute)

	require.NoError(t, cache.Invalidate(ctx, "quiz-1"))
	_, err = cache.GetQuiz(ctx, "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestQuizCachePassesThroughErrors(t *testing.T) {
	_, rdb := newRedis(t)
	cache := NewQuizCache(rdb, &countingSource{err: model.ErrQuizNotFound}, time.Minute)

	_, err := cache.GetQuiz(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrQuizNotFound)
}

func TestEventQueuePushesJSON(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)
	queue := NewEventQueue(rdb)

	attemptID := uuid.New()
	e := model.SecurityEvent{
		ID:         uuid.New(),
		AttemptID:  &attemptID,
		BatchID:    uuid.New(),
		ActorID:    "s1",
		Kind:       model.EventFocusLost,
		OccurredAt: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, queue.Enqueue(ctx, e))

	raw, err := rdb.LPop(ctx, config.WorkerKey.PersistSecurityEventsQueue).Result()
	require.NoError(t, err)

	var got model.SecurityEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, e, got)
}

func TestMonitorChannelRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, rdb := newRedis(t)
	ch := NewMonitorChannel(rdb, zerolog.Nop())

	batchID := uuid.New()
	notices, err := ch.Subscribe(ctx, batchID)
	require.NoError(t, err)

	want := model.MonitorNotice{
		Type:      "attempt_status",
		BatchID:   batchID,
		AttemptID: uuid.New(),
		ActorID:   "s1",
		Status:    model.AttemptStatusSubmitted,
		At:        time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, ch.Publish(ctx, want))
	require.NoError(t, ch.Publish(ctx, model.MonitorNotice{BatchID: uuid.New()}))

	select {
	case got := <-notices:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("notice not delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-notices:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(errors.New("boom"), seatIndex))
}
