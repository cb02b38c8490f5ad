package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/observability"
)

const tracerName = "github.com/stemsi/exstem-proctor/internal/service/batch"

// CascadeResult reports what a freeze, resume or finish did to the roster.
type CascadeResult struct {
	Batch    *model.Batch `json:"batch"`
	Affected int          `json:"affected"`
}

// BatchService schedules batches and freezes or resumes them as a unit.
type BatchService struct {
	batches     BatchRepository
	attempts    AttemptRepository
	lifecycle   *AttemptService
	events      *EventService
	concurrency int
	sanitizer   *bluemonday.Policy
	log         zerolog.Logger
	now         func() time.Time
}

// NewBatchService creates a new BatchService. concurrency bounds the number
// of attempts a cascade updates at once.
func NewBatchService(
	batches BatchRepository,
	attempts AttemptRepository,
	lifecycle *AttemptService,
	events *EventService,
	concurrency int,
	log zerolog.Logger,
) *BatchService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchService{
		batches:     batches,
		attempts:    attempts,
		lifecycle:   lifecycle,
		events:      events,
		concurrency: concurrency,
		sanitizer:   bluemonday.StrictPolicy(),
		log:         log.With().Str("component", "batch_service").Logger(),
		now:         time.Now,
	}
}

// SetClock replaces the time source of the service and its attempt lifecycle.
func (s *BatchService) SetClock(now func() time.Time) {
	s.now = now
	if s.lifecycle != nil {
		s.lifecycle.SetClock(now)
	}
}

// Create schedules a new batch.
func (s *BatchService) Create(ctx context.Context, req model.CreateBatchRequest, createdBy string) (*model.Batch, error) {
	if !req.StartTime.Before(req.EndTime) || req.DurationMinutes <= 0 || strings.TrimSpace(req.QuizID) == "" {
		return nil, model.ErrInvalidBatchWindow
	}

	now := stamp(s.now)
	allowed := req.AllowedActors
	if allowed == nil {
		allowed = []string{}
	}

	b := &model.Batch{
		ID:              uuid.New(),
		QuizID:          req.QuizID,
		Name:            strings.TrimSpace(s.sanitizer.Sanitize(req.Name)),
		EntryToken:      strings.TrimSpace(req.EntryToken),
		StartTime:       req.StartTime.UTC().Truncate(time.Microsecond),
		EndTime:         req.EndTime.UTC().Truncate(time.Microsecond),
		DurationMinutes: req.DurationMinutes,
		Status:          model.BatchStatusScheduled,
		AllowedActors:   allowed,
		CreatedBy:       createdBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.batches.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	s.log.Info().
		Str("batch_id", b.ID.String()).
		Str("quiz_id", b.QuizID).
		Time("start_time", b.StartTime).
		Time("end_time", b.EndTime).
		Msg("Batch scheduled")
	return b, nil
}

// Get returns a batch after applying its clock-driven status.
func (s *BatchService) Get(ctx context.Context, batchID uuid.UUID) (*model.Batch, error) {
	b, err := loadBatch(ctx, s.batches, batchID, stamp(s.now))
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}
	return b, nil
}

// Freeze stops the clock of every ACTIVE attempt in the batch. Freezing a
// frozen batch re-runs the cascade.
func (s *BatchService) Freeze(ctx context.Context, batchID uuid.UUID, operatorID string) (*CascadeResult, error) {
	ctx, span := s.startSpan(ctx, "batch.freeze", batchID)
	defer span.End()

	now := stamp(s.now)
	var batch *model.Batch
	err := retryOnConflict(func() error {
		cur, err := loadBatch(ctx, s.batches, batchID, now)
		if err != nil {
			return err
		}
		switch cur.Status {
		case model.BatchStatusFrozen:
			batch = cur
			return nil
		case model.BatchStatusFinished:
			return model.ErrBatchNotFreezable
		}
		next := *cur
		next.Status = model.BatchStatusFrozen
		next.FrozenAt = &now
		next.ResumedAt = nil
		next.UpdatedAt = now
		if err := s.batches.CompareAndSwap(ctx, &next); err != nil {
			return err
		}
		batch = &next
		return nil
	})
	if err != nil {
		return nil, s.spanError(span, fmt.Errorf("freeze batch: %w", err))
	}

	frozenAt := *batch.FrozenAt
	affected, err := s.cascade(ctx, "freeze", batch.ID, func(ctx context.Context, id uuid.UUID) (bool, error) {
		return s.lifecycle.freezeOne(ctx, id, frozenAt)
	})
	span.SetAttributes(attribute.Int("cascade.affected", affected))
	if err != nil {
		return nil, s.spanError(span, fmt.Errorf("freeze cascade: %w", err))
	}

	s.events.RecordBatch(ctx, batch.ID, operatorID, model.EventBatchFrozen, fmt.Sprintf("affected=%d", affected))
	s.log.Info().
		Str("batch_id", batch.ID.String()).
		Str("operator_id", operatorID).
		Int("affected", affected).
		Msg("Batch frozen")

	return &CascadeResult{Batch: batch, Affected: affected}, nil
}

// Resume restarts every FROZEN attempt, crediting the frozen interval. The
// batch end moves by the same interval. Resuming an already resumed batch
// re-runs the cascade with the current instant.
func (s *BatchService) Resume(ctx context.Context, batchID uuid.UUID, operatorID string) (*CascadeResult, error) {
	ctx, span := s.startSpan(ctx, "batch.resume", batchID)
	defer span.End()

	now := stamp(s.now)
	var (
		batch   *model.Batch
		shiftAt time.Time
	)
	err := retryOnConflict(func() error {
		cur, err := loadBatch(ctx, s.batches, batchID, now)
		if err != nil {
			return err
		}
		switch {
		case cur.Status == model.BatchStatusActive && cur.ResumedAt != nil:
			batch, shiftAt = cur, now
			return nil
		case cur.Status != model.BatchStatusFrozen:
			return model.ErrBatchNotFrozen
		}

		next := *cur
		frozenAt := now
		if cur.FrozenAt != nil {
			frozenAt = *cur.FrozenAt
		}
		next.EndTime = cur.EndTime.Add(now.Sub(frozenAt))
		next.ResumedAt = &now
		next.Status = model.BatchStatusScheduled
		next.Status = next.ClockStatus(now)
		next.UpdatedAt = now
		if err := s.batches.CompareAndSwap(ctx, &next); err != nil {
			return err
		}
		batch, shiftAt = &next, now
		return nil
	})
	if err != nil {
		return nil, s.spanError(span, fmt.Errorf("resume batch: %w", err))
	}

	fallback := shiftAt
	if batch.FrozenAt != nil {
		fallback = *batch.FrozenAt
	}
	affected, err := s.cascade(ctx, "resume", batch.ID, func(ctx context.Context, id uuid.UUID) (bool, error) {
		return s.lifecycle.thawOne(ctx, id, shiftAt, fallback)
	})
	span.SetAttributes(attribute.Int("cascade.affected", affected))
	if err != nil {
		return nil, s.spanError(span, fmt.Errorf("resume cascade: %w", err))
	}

	s.events.RecordBatch(ctx, batch.ID, operatorID, model.EventBatchResumed, fmt.Sprintf("affected=%d", affected))
	s.log.Info().
		Str("batch_id", batch.ID.String()).
		Str("operator_id", operatorID).
		Int("affected", affected).
		Time("end_time", batch.EndTime).
		Msg("Batch resumed")

	return &CascadeResult{Batch: batch, Affected: affected}, nil
}

// Finish closes the batch. ACTIVE attempts expire with a score, suspended
// ones are interrupted. Finishing a finished batch sweeps stragglers.
func (s *BatchService) Finish(ctx context.Context, batchID uuid.UUID, operatorID string) (*CascadeResult, error) {
	ctx, span := s.startSpan(ctx, "batch.finish", batchID)
	defer span.End()

	now := stamp(s.now)
	var batch *model.Batch
	err := retryOnConflict(func() error {
		cur, err := loadBatch(ctx, s.batches, batchID, now)
		if err != nil {
			return err
		}
		if cur.Status == model.BatchStatusFinished {
			batch = cur
			return nil
		}
		next := *cur
		next.Status = model.BatchStatusFinished
		next.UpdatedAt = now
		if err := s.batches.CompareAndSwap(ctx, &next); err != nil {
			return err
		}
		batch = &next
		return nil
	})
	if err != nil {
		return nil, s.spanError(span, fmt.Errorf("finish batch: %w", err))
	}

	affected, err := s.cascade(ctx, "finish", batch.ID, func(ctx context.Context, id uuid.UUID) (bool, error) {
		return s.lifecycle.endOne(ctx, id, batch, now)
	})
	span.SetAttributes(attribute.Int("cascade.affected", affected))
	if err != nil {
		return nil, s.spanError(span, fmt.Errorf("finish cascade: %w", err))
	}

	s.events.RecordBatch(ctx, batch.ID, operatorID, model.EventBatchFinished, fmt.Sprintf("affected=%d", affected))
	s.log.Info().
		Str("batch_id", batch.ID.String()).
		Str("operator_id", operatorID).
		Int("affected", affected).
		Msg("Batch finished")

	return &CascadeResult{Batch: batch, Affected: affected}, nil
}

// cascade applies step to every attempt of the batch with bounded fan-out.
// The first failure cancels the rest and is returned.
func (s *BatchService) cascade(
	ctx context.Context,
	op string,
	batchID uuid.UUID,
	step func(context.Context, uuid.UUID) (bool, error),
) (int, error) {
	started := time.Now()
	defer func() {
		observability.CascadeDuration().WithLabelValues(op).Observe(time.Since(started).Seconds())
	}()

	attempts, err := s.attempts.ListByBatch(ctx, batchID)
	if err != nil {
		return 0, fmt.Errorf("list attempts: %w", err)
	}

	var affected atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range attempts {
		if attempts[i].Status.IsTerminal() {
			continue
		}
		id := attempts[i].ID
		g.Go(func() error {
			changed, err := step(gctx, id)
			if err != nil {
				s.log.Warn().Err(err).
					Str("op", op).
					Str("attempt_id", id.String()).
					Msg("Cascade step failed")
				return fmt.Errorf("attempt %s: %w", id, err)
			}
			if changed {
				affected.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	return int(affected.Load()), err
}

func (s *BatchService) startSpan(ctx context.Context, name string, batchID uuid.UUID) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithAttributes(attribute.String("batch.id", batchID.String())))
}

func (s *BatchService) spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
