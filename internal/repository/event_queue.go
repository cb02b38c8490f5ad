package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// EventQueue pushes security events onto the Redis list drained by the
// event worker.
type EventQueue struct {
	rdb *redis.Client
}

// NewEventQueue creates a new EventQueue.
func NewEventQueue(rdb *redis.Client) *EventQueue {
	return &EventQueue{rdb: rdb}
}

// Enqueue appends one event as JSON.
func (q *EventQueue) Enqueue(ctx context.Context, e model.SecurityEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal security event: %w", err)
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.PersistSecurityEventsQueue, data).Err(); err != nil {
		return fmt.Errorf("push security event: %w", err)
	}
	return nil
}
