package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/observability"
)

const (
	maxEventKindLen   = 64
	maxEventDetailLen = 4096
)

// EventService is the security event logger. Writes are best-effort: no
// method on the write path returns an error, and nothing is deduplicated.
type EventService struct {
	sink      EventSink
	reader    EventReader
	attempts AttemptRepository
	log      zerolog.Logger
	now      func() time.Time
}

// NewEventService creates a new EventService.
func NewEventService(sink EventSink, reader EventReader, attempts AttemptRepository, log zerolog.Logger) *EventService {
	return &EventService{
		sink:     sink,
		reader:   reader,
		attempts: attempts,
		log:      log.With().Str("component", "event_service").Logger(),
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *EventService) SetClock(now func() time.Time) { s.now = now }

// Record logs a client-reported signal for an attempt on behalf of
// callerID. A caller that does not own the attempt gets an
// EVENT_FORGERY_ATTEMPT against itself and the claimed event is not stored.
func (s *EventService) Record(ctx context.Context, attemptID uuid.UUID, callerID, kind, detail string) {
	actx, cancel := advisoryContext(ctx)
	defer cancel()

	a, err := s.attempts.GetByID(actx, attemptID)
	if err != nil {
		s.fail(err, attemptID.String(), kind)
		return
	}
	if a.ActorID != callerID {
		s.log.Warn().
			Str("attempt_id", a.ID.String()).
			Str("caller_id", callerID).
			Msg("Event posted for a foreign attempt")
		s.RecordBatch(actx, a.BatchID, callerID, model.EventForgeryAttempt,
			fmt.Sprintf("attempt=%s kind=%s", a.ID, kind))
		return
	}
	s.RecordFor(actx, a, model.EventKind(kind), detail)
}

// RecordFor logs an event for an attempt the caller already holds.
func (s *EventService) RecordFor(ctx context.Context, a *model.Attempt, kind model.EventKind, detail string) {
	id := a.ID
	s.enqueue(ctx, model.SecurityEvent{
		AttemptID: &id,
		BatchID:   a.BatchID,
		ActorID:   a.ActorID,
		Kind:      kind,
		Detail:    detail,
	})
}

// RecordBatch logs a batch-scoped event such as a freeze.
func (s *EventService) RecordBatch(ctx context.Context, batchID uuid.UUID, actorID string, kind model.EventKind, detail string) {
	s.enqueue(ctx, model.SecurityEvent{
		BatchID: batchID,
		ActorID: actorID,
		Kind:    kind,
		Detail:  detail,
	})
}

// EventLog lists a batch's events in occurrence order, optionally for one actor.
func (s *EventService) EventLog(ctx context.Context, batchID uuid.UUID, actorID *string) ([]model.SecurityEvent, error) {
	events, err := s.reader.ListByBatch(ctx, batchID, actorID)
	if err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	if events == nil {
		events = []model.SecurityEvent{}
	}
	return events, nil
}

func (s *EventService) enqueue(ctx context.Context, e model.SecurityEvent) {
	e.ID = uuid.New()
	e.Kind = normalizeKind(e.Kind)
	e.Detail = truncateRunes(e.Detail, maxEventDetailLen)
	e.OccurredAt = stamp(s.now)

	actx, cancel := advisoryContext(ctx)
	defer cancel()

	if err := s.sink.Enqueue(actx, e); err != nil {
		id := ""
		if e.AttemptID != nil {
			id = e.AttemptID.String()
		}
		s.fail(err, id, string(e.Kind))
	}
}

func (s *EventService) fail(err error, attemptID, kind string) {
	observability.AdvisoryFailures().WithLabelValues("security_event").Inc()
	s.log.Warn().Err(err).
		Str("attempt_id", attemptID).
		Str("kind", kind).
		Msg("Security event dropped")
}

// normalizeKind keeps the client's tag as sent apart from surrounding
// whitespace and the length cap.
func normalizeKind(kind model.EventKind) model.EventKind {
	k := strings.TrimSpace(string(kind))
	if k == "" {
		k = "UNSPECIFIED"
	}
	return model.EventKind(truncateRunes(k, maxEventKindLen))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
