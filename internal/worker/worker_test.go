package worker

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

type fakeWriter struct {
	mu        sync.Mutex
	failBulk  bool
	failRows  map[uuid.UUID]bool
	persisted []model.SecurityEvent
}

func (f *fakeWriter) InsertBatch(_ context.Context, events []model.SecurityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBulk {
		return errors.New("copy failed")
	}
	f.persisted = append(f.persisted, events...)
	return nil
}

func (f *fakeWriter) Insert(_ context.Context, e model.SecurityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRows[e.ID] {
		return errors.New("row failed")
	}
	f.persisted = append(f.persisted, e)
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.persisted)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func event(kind model.EventKind) model.SecurityEvent {
	return model.SecurityEvent{
		ID:         uuid.New(),
		BatchID:    uuid.New(),
		ActorID:    "s1",
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
	}
}

func push(t *testing.T, mr *miniredis.Miniredis, events ...model.SecurityEvent) {
	t.Helper()
	for _, e := range events {
		data, err := json.Marshal(e)
		require.NoError(t, err)
		_, err = mr.RPush(config.WorkerKey.PersistSecurityEventsQueue, string(data))
		require.NoError(t, err)
	}
}

func TestEventWorkerDrainsQueueAndFlushesOnShutdown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	writer := &fakeWriter{}
	w := NewEventWorker(rdb, writer, zerolog.Nop())
	w.SetBackoff(0)

	push(t, mr, event(model.EventFocusLost), event(model.EventCopyAttempt), event(model.EventFocusGained))
	_, err := mr.RPush(config.WorkerKey.PersistSecurityEventsQueue, "{not json")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		n, err := rdb.LLen(context.Background(), config.WorkerKey.PersistSecurityEventsQueue).Result()
		return err == nil && n == 0
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, 3, writer.count())
}

func TestFlushFallsBackToRowsAndRequeuesFailures(t *testing.T) {
	mr, rdb := newTestRedis(t)
	bad := event(model.EventPasteAttempt)
	writer := &fakeWriter{failBulk: true, failRows: map[uuid.UUID]bool{bad.ID: true}}
	w := NewEventWorker(rdb, writer, zerolog.Nop())
	w.SetBackoff(0)

	good := event(model.EventFocusLost)
	w.flushSafe(context.Background(), []model.SecurityEvent{good, bad})

	assert.Equal(t, 1, writer.count())

	left, err := mr.List(config.WorkerKey.PersistSecurityEventsQueue)
	require.NoError(t, err)
	require.Len(t, left, 1)

	var requeued model.SecurityEvent
	require.NoError(t, json.Unmarshal([]byte(left[0]), &requeued))
	assert.Equal(t, bad.ID, requeued.ID)
	assert.Equal(t, bad.Kind, requeued.Kind)
}

type countingExpirer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingExpirer) ExpireOverdue(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 1, c.err
}

func (c *countingExpirer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestExpiryWorkerSweepsUntilCancelled(t *testing.T) {
	exp := &countingExpirer{err: nil}
	w := NewExpiryWorker(exp, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return exp.Calls() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	n := exp.Calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, exp.Calls())
}

func TestExpiryWorkerSurvivesErrors(t *testing.T) {
	exp := &countingExpirer{err: errors.New("db down")}
	w := NewExpiryWorker(exp, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	require.Eventually(t, func() bool { return exp.Calls() >= 2 }, time.Second, 5*time.Millisecond)
}
