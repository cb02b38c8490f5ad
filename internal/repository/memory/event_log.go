package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// EventLog is an append-only in-memory security event log. It serves as
// both the sink and the reader, so events are visible immediately.
type EventLog struct {
	mu     sync.RWMutex
	events []model.SecurityEvent
}

// NewEventLog creates an empty EventLog.
func NewEventLog() *EventLog {
	return &EventLog{}
}

func (l *EventLog) Enqueue(_ context.Context, e model.SecurityEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

// InsertBatch appends events as the event worker would.
func (l *EventLog) InsertBatch(ctx context.Context, events []model.SecurityEvent) error {
	for _, e := range events {
		_ = l.Enqueue(ctx, e)
	}
	return nil
}

// Insert appends one event.
func (l *EventLog) Insert(ctx context.Context, e model.SecurityEvent) error {
	return l.Enqueue(ctx, e)
}

func (l *EventLog) ListByBatch(_ context.Context, batchID uuid.UUID, actorID *string) ([]model.SecurityEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []model.SecurityEvent{}
	for _, e := range l.events {
		if e.BatchID != batchID {
			continue
		}
		if actorID != nil && e.ActorID != *actorID {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

func (l *EventLog) CountByAttempt(_ context.Context, batchID uuid.UUID) (map[uuid.UUID]int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[uuid.UUID]int)
	for _, e := range l.events {
		if e.BatchID == batchID && e.AttemptID != nil {
			out[*e.AttemptID]++
		}
	}
	return out, nil
}

// Len returns the number of stored events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
