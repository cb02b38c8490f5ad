package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	presenceFieldLastSeen = "last_seen"
	presenceFieldQuestion = "question_index"
)

var errNoSample = errors.New("no presence sample")

// PresenceRepository stores heartbeats as one Redis hash per attempt.
type PresenceRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPresenceRepository creates a new PresenceRepository.
func NewPresenceRepository(rdb *redis.Client, ttl time.Duration) *PresenceRepository {
	return &PresenceRepository{rdb: rdb, ttl: ttl}
}

// Touch overwrites the attempt's sample and refreshes its TTL in one pipeline.
func (r *PresenceRepository) Touch(ctx context.Context, attemptID uuid.UUID, sample model.PresenceSample) error {
	key := config.CacheKey.AttemptPresenceKey(attemptID.String())

	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, key,
		presenceFieldLastSeen, sample.LastSeen.UnixMilli(),
		presenceFieldQuestion, sample.QuestionIndex,
	)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch presence: %w", err)
	}
	return nil
}

// Samples reads the samples of many attempts with one pipelined HGETALL per key.
func (r *PresenceRepository) Samples(ctx context.Context, attemptIDs []uuid.UUID) (map[uuid.UUID]model.PresenceSample, error) {
	out := make(map[uuid.UUID]model.PresenceSample, len(attemptIDs))
	if len(attemptIDs) == 0 {
		return out, nil
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(attemptIDs))
	for i, id := range attemptIDs {
		cmds[i] = pipe.HGetAll(ctx, config.CacheKey.AttemptPresenceKey(id.String()))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read presence: %w", err)
	}

	for i, cmd := range cmds {
		sample, err := parseSample(cmd.Val())
		if err != nil {
			continue
		}
		out[attemptIDs[i]] = sample
	}
	return out, nil
}

func parseSample(fields map[string]string) (model.PresenceSample, error) {
	raw, ok := fields[presenceFieldLastSeen]
	if !ok {
		return model.PresenceSample{}, errNoSample
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return model.PresenceSample{}, fmt.Errorf("parse last_seen: %w", err)
	}
	idx, _ := strconv.Atoi(fields[presenceFieldQuestion])
	return model.PresenceSample{
		LastSeen:      time.UnixMilli(ms).UTC(),
		QuestionIndex: idx,
	}, nil
}
