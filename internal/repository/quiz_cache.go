package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// QuizSource loads an answer key from durable storage.
type QuizSource interface {
	GetQuiz(ctx context.Context, quizID string) (*model.Quiz, error)
}

// QuizCache serves answer keys from Redis and falls back to a source on a
// miss. Concurrent misses for the same quiz share one load.
type QuizCache struct {
	rdb    *redis.Client
	source QuizSource
	ttl    time.Duration
	sf     singleflight.Group
}

// NewQuizCache creates a QuizCache. Entries live for ttl plus up to 10% jitter.
func NewQuizCache(rdb *redis.Client, source QuizSource, ttl time.Duration) *QuizCache {
	return &QuizCache{rdb: rdb, source: source, ttl: ttl}
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID string) (*model.Quiz, error) {
	if q, ok := c.cached(ctx, quizID); ok {
		return q, nil
	}

	v, err, _ := c.sf.Do(quizID, func() (any, error) {
		if q, ok := c.cached(ctx, quizID); ok {
			return q, nil
		}

		q, err := c.source.GetQuiz(ctx, quizID)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(q)
		if err == nil {
			// A failed fill only costs another load on the next call.
			_ = c.rdb.Set(ctx, config.CacheKey.QuizAnswerKeyKey(quizID), data, c.ttlWithJitter()).Err()
		}
		return q, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	return v.(*model.Quiz), nil
}

// Invalidate drops the cached answer key of a quiz.
func (c *QuizCache) Invalidate(ctx context.Context, quizID string) error {
	return c.rdb.Del(ctx, config.CacheKey.QuizAnswerKeyKey(quizID)).Err()
}

func (c *QuizCache) cached(ctx context.Context, quizID string) (*model.Quiz, bool) {
	data, err := c.rdb.Get(ctx, config.CacheKey.QuizAnswerKeyKey(quizID)).Bytes()
	if err != nil {
		return nil, false
	}
	var q model.Quiz
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, false
	}
	return &q, true
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	return c.ttl + time.Duration(rand.Int64N(int64(c.ttl)/10+1))
}
