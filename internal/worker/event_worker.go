package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/observability"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// EventWriter persists security events.
type EventWriter interface {
	InsertBatch(ctx context.Context, events []model.SecurityEvent) error
	Insert(ctx context.Context, e model.SecurityEvent) error
}

// EventWorker drains the security event queue into Postgres in batches.
type EventWorker struct {
	rdb    *redis.Client
	writer EventWriter
	queue  string
	log    zerolog.Logger

	// backoff is slept after a Redis error or a requeue.
	backoff time.Duration
}

func NewEventWorker(rdb *redis.Client, writer EventWriter, log zerolog.Logger) *EventWorker {
	return &EventWorker{
		rdb:     rdb,
		writer:  writer,
		queue:   config.WorkerKey.PersistSecurityEventsQueue,
		log:     log.With().Str("component", "event_worker").Logger(),
		backoff: 2 * time.Second,
	}
}

// SetBackoff overrides the pause after failures.
func (w *EventWorker) SetBackoff(d time.Duration) { w.backoff = d }

// Start blocks until ctx is cancelled, then flushes what it holds.
func (w *EventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("EventWorker started")

	buffer := make([]model.SecurityEvent, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlushTime = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, w.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Dur("backoff", w.backoff).Msg("Redis connection error")
			w.sleep(ctx)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var e model.SecurityEvent
		if err := json.Unmarshal([]byte(result[1]), &e); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed event")
			continue
		}
		buffer = append(buffer, e)
	}
}

// flushSafe tries a bulk insert, then row-by-row, then requeues what is left.
func (w *EventWorker) flushSafe(ctx context.Context, batch []model.SecurityEvent) {
	if err := w.writer.InsertBatch(ctx, batch); err == nil {
		observability.EventsPersisted().WithLabelValues("bulk").Add(float64(len(batch)))
		return
	} else {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
	}
	w.fallbackInsert(ctx, batch)
}

func (w *EventWorker) fallbackInsert(ctx context.Context, batch []model.SecurityEvent) {
	requeueList := make([]model.SecurityEvent, 0)
	for _, e := range batch {
		if err := w.writer.Insert(ctx, e); err != nil {
			w.log.Error().Err(err).Str("event_id", e.ID.String()).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, e)
			continue
		}
		observability.EventsPersisted().WithLabelValues("row").Inc()
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *EventWorker) requeue(ctx context.Context, items []model.SecurityEvent) {
	// The caller's ctx may already be cancelled during shutdown.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	pipe := w.rdb.Pipeline()
	for _, e := range items {
		data, _ := json.Marshal(e)
		pipe.RPush(rctx, w.queue, data)
	}
	if _, err := pipe.Exec(rctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue events to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed events back to Redis")
	w.sleep(ctx)
}

func (w *EventWorker) sleep(ctx context.Context) {
	if w.backoff <= 0 {
		return
	}
	t := time.NewTimer(w.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *EventWorker) shutdown(buffer []model.SecurityEvent) {
	w.log.Info().Int("buffered", len(buffer)).Msg("EventWorker stopping, flushing remaining buffer")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
