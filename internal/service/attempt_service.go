package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/observability"
	"github.com/stemsi/exstem-proctor/internal/scoring"
	"github.com/stemsi/exstem-proctor/internal/timing"
)

// expirySweepLimit bounds one sweep over ACTIVE attempts.
const expirySweepLimit = 500

// AttemptService owns the attempt lifecycle. Every transition is a single
// compare-and-swap; a lost race surfaces as model.ErrAttemptStateConflict.
type AttemptService struct {
	attempts AttemptRepository
	batches  BatchRepository
	quizzes  QuizProvider
	events   *EventService
	presence *PresenceService
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attempts AttemptRepository,
	batches BatchRepository,
	quizzes QuizProvider,
	events *EventService,
	presence *PresenceService,
	notifier Notifier,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attempts: attempts,
		batches:  batches,
		quizzes:  quizzes,
		events:   events,
		presence: presence,
		notifier: notifier,
		log:      log.With().Str("component", "attempt_service").Logger(),
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *AttemptService) SetClock(now func() time.Time) { s.now = now }

// Start opens an ACTIVE attempt for actorID in the batch.
func (s *AttemptService) Start(ctx context.Context, batchID uuid.UUID, actorID, entryToken string) (*model.AttemptState, error) {
	now := stamp(s.now)

	batch, err := loadBatch(ctx, s.batches, batchID, now)
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}

	switch {
	case batch.Status == model.BatchStatusFrozen:
		return nil, model.ErrBatchFrozen
	case !batch.AcceptsStarts(now):
		return nil, model.ErrBatchNotOpen
	case !batch.IsEligible(actorID):
		return nil, model.ErrNotEligible
	case batch.EntryToken != "" && subtle.ConstantTimeCompare([]byte(batch.EntryToken), []byte(entryToken)) != 1:
		return nil, model.ErrInvalidEntryToken
	}
	if err := s.checkSeat(ctx, batch.ID, actorID, now); err != nil {
		return nil, err
	}

	attempt := &model.Attempt{
		ID:        uuid.New(),
		BatchID:   batch.ID,
		ActorID:   actorID,
		Status:    model.AttemptStatusActive,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.committed(ctx, attempt, model.EventAttemptStarted, "")

	return &model.AttemptState{
		Attempt:          attempt,
		Answers:          []model.Answer{},
		RemainingSeconds: timing.ForAttempt(attempt, batch, now),
		ServerTime:       now,
	}, nil
}

// checkSeat rejects a start while the actor holds an attempt that was not
// reset. An overdue ACTIVE attempt is expired first so the caller sees the
// completed error rather than a conflict. The store's unique seat still
// settles concurrent starts.
func (s *AttemptService) checkSeat(ctx context.Context, batchID uuid.UUID, actorID string, now time.Time) error {
	all, err := s.attempts.ListByBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("list attempts: %w", err)
	}
	for i := range all {
		a := &all[i]
		if a.ActorID != actorID || !a.Status.HoldsSeat() {
			continue
		}
		if !a.Status.IsTerminal() {
			if a, _, err = s.observe(ctx, a.ID, now); err != nil {
				return err
			}
		}
		if a.Status.IsTerminal() {
			return model.ErrAttemptCompleted
		}
		return model.ErrAlreadyActiveAttempt
	}
	return nil
}

// Get returns the attempt with its answers and clock. Like every status
// check it expires an ACTIVE attempt whose time has run out.
func (s *AttemptService) Get(ctx context.Context, attemptID uuid.UUID) (*model.AttemptState, error) {
	now := stamp(s.now)

	a, batch, err := s.observe(ctx, attemptID, now)
	if err != nil {
		return nil, err
	}

	answers, err := s.attempts.ListAnswers(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	if answers == nil {
		answers = []model.Answer{}
	}

	if s.presence != nil {
		if sample, ok := s.presence.Last(ctx, a.ID); ok {
			seen := sample.LastSeen
			a.LastHeartbeatAt = &seen
		}
	}

	return &model.AttemptState{
		Attempt:          a,
		Answers:          answers,
		RemainingSeconds: remainingOf(a, batch, now),
		ServerTime:       now,
	}, nil
}

// VerifyOwner fails with model.ErrNotAttemptOwner unless actorID owns the attempt.
func (s *AttemptService) VerifyOwner(ctx context.Context, attemptID uuid.UUID, actorID string) error {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("get attempt: %w", err)
	}
	if a.ActorID != actorID {
		return model.ErrNotAttemptOwner
	}
	return nil
}

// SaveAnswer upserts one answer on an ACTIVE attempt. Remaining time is not
// checked here; only submit is rejected after expiry.
func (s *AttemptService) SaveAnswer(ctx context.Context, attemptID uuid.UUID, in model.AnswerInput, questionIndex int) (*model.Attempt, error) {
	now := stamp(s.now)

	if err := s.attempts.SaveAnswer(ctx, in.ToAnswer(attemptID, now), questionIndex); err != nil {
		return nil, fmt.Errorf("save answer: %w", err)
	}

	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// Submit merges the client's working set over the stored answers, scores
// the result and moves the attempt to SUBMITTED. Only ACTIVE attempts with
// time left are submittable.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, inputs []model.AnswerInput) (*model.Attempt, error) {
	ctx, span := otel.Tracer("github.com/stemsi/exstem-proctor/internal/service/attempt").
		Start(ctx, "attempt.submit", trace.WithAttributes(attribute.String("attempt.id", attemptID.String())))
	defer span.End()

	now := stamp(s.now)

	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if a.Status != model.AttemptStatusActive {
		return nil, model.ErrAttemptNotSubmittable
	}

	batch, err := s.batches.GetByID(ctx, a.BatchID)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}

	if timing.ForAttempt(a, batch, now) == 0 {
		if _, err := s.finalize(ctx, a, batch, model.AttemptStatusExpired, now); err != nil && !isConflict(err) {
			return nil, err
		}
		return nil, model.ErrAttemptNotSubmittable
	}

	stored, err := s.attempts.ListAnswers(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	merged := stored
	for _, in := range inputs {
		merged = append(merged, in.ToAnswer(a.ID, now))
	}
	merged = model.DedupeAnswers(merged)

	quiz, err := s.quizzes.GetQuiz(ctx, batch.QuizID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quiz_lookup_failed")
		return nil, fmt.Errorf("get quiz: %w", err)
	}
	res := scoring.Score(quiz, merged)

	next := *a
	next.Status = model.AttemptStatusSubmitted
	next.SubmittedAt = &now
	next.EndedAt = &now
	next.Score = &res.Score
	next.MaxScore = &res.MaxScore
	next.UpdatedAt = now

	if err := s.attempts.CommitWithAnswers(ctx, &next, res.Answers); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit_failed")
		return nil, fmt.Errorf("commit submission: %w", err)
	}
	span.SetAttributes(attribute.Float64("attempt.score", res.Score))

	s.committed(ctx, &next, model.EventAttemptSubmitted, fmt.Sprintf("answers=%d", len(res.Answers)))
	return &next, nil
}

// RemainingTime reports the server clock for an attempt.
func (s *AttemptService) RemainingTime(ctx context.Context, attemptID uuid.UUID) (*model.RemainingTime, error) {
	now := stamp(s.now)

	a, batch, err := s.observe(ctx, attemptID, now)
	if err != nil {
		return nil, err
	}

	return &model.RemainingTime{
		AttemptID:        a.ID,
		Status:           a.Status,
		RemainingSeconds: remainingOf(a, batch, now),
		ServerTime:       now,
	}, nil
}

// Pause suspends a single ACTIVE attempt.
func (s *AttemptService) Pause(ctx context.Context, attemptID uuid.UUID, operatorID string) (*model.Attempt, error) {
	now := stamp(s.now)

	a, _, err := s.observe(ctx, attemptID, now)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AttemptStatusActive {
		return nil, model.ErrAttemptNotActive
	}

	next := *a
	next.Status = model.AttemptStatusPaused
	next.SuspendedAt = &now
	next.UpdatedAt = now
	if err := s.attempts.CompareAndSwap(ctx, &next); err != nil {
		return nil, fmt.Errorf("pause attempt: %w", err)
	}

	s.committed(ctx, &next, model.EventAttemptPaused, "operator="+operatorID)
	return &next, nil
}

// ResumeAttempt continues a PAUSED attempt, shifting its start forward by
// the paused duration. Resuming an ACTIVE attempt is a no-op.
func (s *AttemptService) ResumeAttempt(ctx context.Context, attemptID uuid.UUID, operatorID string) (*model.Attempt, error) {
	now := stamp(s.now)

	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	switch a.Status {
	case model.AttemptStatusActive:
		return a, nil
	case model.AttemptStatusPaused:
	default:
		return nil, model.ErrAttemptNotPaused
	}

	batch, err := s.batches.GetByID(ctx, a.BatchID)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	if batch.Status == model.BatchStatusFrozen {
		return nil, model.ErrBatchFrozen
	}

	next := unsuspend(a, now, now)
	if err := s.attempts.CompareAndSwap(ctx, next); err != nil {
		return nil, fmt.Errorf("resume attempt: %w", err)
	}

	s.committed(ctx, next, model.EventAttemptResumed, "operator="+operatorID)
	return next, nil
}

// ForceSubmit scores whatever answers are on record and submits the attempt
// from any non-terminal status.
func (s *AttemptService) ForceSubmit(ctx context.Context, attemptID uuid.UUID, operatorID string) (*model.Attempt, error) {
	now := stamp(s.now)

	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if a.Status.IsTerminal() {
		return nil, model.ErrAttemptNotSubmittable
	}

	batch, err := s.batches.GetByID(ctx, a.BatchID)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}

	next, err := s.finalizeWith(ctx, a, batch, model.AttemptStatusSubmitted, now, model.EventAttemptForceSubmitted, "operator="+operatorID)
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Reset ends an open attempt as RESET_BY_ADMIN. Answers are kept for audit
// and a fresh Start becomes possible.
func (s *AttemptService) Reset(ctx context.Context, attemptID uuid.UUID, operatorID string) (*model.Attempt, error) {
	now := stamp(s.now)

	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if a.Status.IsTerminal() {
		return nil, model.ErrAttemptTerminal
	}

	next := *a
	next.Status = model.AttemptStatusResetByAdmin
	next.EndedAt = &now
	next.UpdatedAt = now
	if err := s.attempts.CompareAndSwap(ctx, &next); err != nil {
		return nil, fmt.Errorf("reset attempt: %w", err)
	}

	s.committed(ctx, &next, model.EventAttemptReset, "operator="+operatorID)
	return &next, nil
}

// ExpireOverdue expires ACTIVE attempts whose clock reached zero and returns
// how many it moved.
func (s *AttemptService) ExpireOverdue(ctx context.Context) (int, error) {
	now := stamp(s.now)

	active, err := s.attempts.ListActive(ctx, expirySweepLimit)
	if err != nil {
		return 0, fmt.Errorf("list active attempts: %w", err)
	}

	batches := make(map[uuid.UUID]*model.Batch)
	expired := 0
	for i := range active {
		a := &active[i]
		batch, ok := batches[a.BatchID]
		if !ok {
			batch, err = s.batches.GetByID(ctx, a.BatchID)
			if err != nil {
				s.log.Warn().Err(err).Str("batch_id", a.BatchID.String()).Msg("Skipping attempts of unreadable batch")
				continue
			}
			batches[a.BatchID] = batch
		}
		if timing.ForAttempt(a, batch, now) > 0 {
			continue
		}
		if _, err := s.finalize(ctx, a, batch, model.AttemptStatusExpired, now); err != nil {
			if !isConflict(err) {
				s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Expiry failed")
			}
			continue
		}
		expired++
	}
	return expired, nil
}

// observe loads an attempt and its batch and applies the ACTIVE→EXPIRED
// check. A lost race during expiry re-reads the winner's state.
func (s *AttemptService) observe(ctx context.Context, attemptID uuid.UUID, now time.Time) (*model.Attempt, *model.Batch, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, nil, fmt.Errorf("get attempt: %w", err)
	}
	batch, err := s.batches.GetByID(ctx, a.BatchID)
	if err != nil {
		return nil, nil, fmt.Errorf("get batch: %w", err)
	}

	if a.Status != model.AttemptStatusActive || timing.ForAttempt(a, batch, now) > 0 {
		return a, batch, nil
	}

	expired, err := s.finalize(ctx, a, batch, model.AttemptStatusExpired, now)
	switch {
	case err == nil:
		return expired, batch, nil
	case isConflict(err):
		a, err = s.attempts.GetByID(ctx, attemptID)
		if err != nil {
			return nil, nil, fmt.Errorf("reread attempt: %w", err)
		}
		return a, batch, nil
	default:
		return nil, nil, err
	}
}

func (s *AttemptService) finalize(ctx context.Context, a *model.Attempt, batch *model.Batch, status model.AttemptStatus, now time.Time) (*model.Attempt, error) {
	kind := model.EventAttemptExpired
	if status == model.AttemptStatusInterrupted {
		kind = model.EventAttemptInterrupted
	}
	return s.finalizeWith(ctx, a, batch, status, now, kind, "")
}

// finalizeWith moves an open attempt to a terminal status, scoring the
// answers on record. When the answer key is unavailable the status still
// changes and the score stays nil.
func (s *AttemptService) finalizeWith(
	ctx context.Context,
	a *model.Attempt,
	batch *model.Batch,
	status model.AttemptStatus,
	now time.Time,
	kind model.EventKind,
	detail string,
) (*model.Attempt, error) {
	next := *a
	next.Status = status
	next.EndedAt = &now
	next.UpdatedAt = now
	if status == model.AttemptStatusSubmitted {
		next.SubmittedAt = &now
	}

	stored, err := s.attempts.ListAnswers(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	quiz, qerr := s.quizzes.GetQuiz(ctx, batch.QuizID)
	if qerr != nil {
		s.log.Warn().Err(qerr).
			Str("attempt_id", a.ID.String()).
			Str("quiz_id", batch.QuizID).
			Msg("Answer key unavailable, finalizing without score")
		if err := s.attempts.CompareAndSwap(ctx, &next); err != nil {
			return nil, fmt.Errorf("finalize attempt: %w", err)
		}
	} else {
		res := scoring.Score(quiz, stored)
		next.Score = &res.Score
		next.MaxScore = &res.MaxScore
		if err := s.attempts.CommitWithAnswers(ctx, &next, res.Answers); err != nil {
			return nil, fmt.Errorf("finalize attempt: %w", err)
		}
	}

	s.committed(ctx, &next, kind, detail)
	return &next, nil
}

// freezeOne moves an ACTIVE attempt to FROZEN. The suspension instant is
// frozenAt, or the current time when a re-run cascade reaches an attempt
// that kept running after the batch froze. Attempts in any other status are
// left alone.
func (s *AttemptService) freezeOne(ctx context.Context, attemptID uuid.UUID, frozenAt time.Time) (bool, error) {
	changed := false
	err := retryOnConflict(func() error {
		a, err := s.attempts.GetByID(ctx, attemptID)
		if err != nil {
			return err
		}
		if a.Status != model.AttemptStatusActive {
			return nil
		}
		now := stamp(s.now)
		at := frozenAt
		if now.After(at) {
			at = now
		}
		next := *a
		next.Status = model.AttemptStatusFrozen
		next.SuspendedAt = &at
		next.UpdatedAt = now
		if err := s.attempts.CompareAndSwap(ctx, &next); err != nil {
			return err
		}
		changed = true
		s.committed(ctx, &next, "", "")
		return nil
	})
	return changed, err
}

// thawOne moves a FROZEN attempt back to ACTIVE, shifting started_at by
// resumedAt minus its suspension instant.
func (s *AttemptService) thawOne(ctx context.Context, attemptID uuid.UUID, resumedAt, fallbackFrozenAt time.Time) (bool, error) {
	changed := false
	err := retryOnConflict(func() error {
		a, err := s.attempts.GetByID(ctx, attemptID)
		if err != nil {
			return err
		}
		if a.Status != model.AttemptStatusFrozen {
			return nil
		}
		if a.SuspendedAt == nil {
			a.SuspendedAt = &fallbackFrozenAt
		}
		next := unsuspend(a, resumedAt, stamp(s.now))
		if err := s.attempts.CompareAndSwap(ctx, next); err != nil {
			return err
		}
		changed = true
		s.committed(ctx, next, "", "")
		return nil
	})
	return changed, err
}

// endOne finishes an open attempt when its batch is closed by an operator.
func (s *AttemptService) endOne(ctx context.Context, attemptID uuid.UUID, batch *model.Batch, now time.Time) (bool, error) {
	changed := false
	err := retryOnConflict(func() error {
		a, err := s.attempts.GetByID(ctx, attemptID)
		if err != nil {
			return err
		}
		if a.Status.IsTerminal() {
			return nil
		}
		status := model.AttemptStatusExpired
		if a.Status.IsSuspended() {
			status = model.AttemptStatusInterrupted
		}
		if _, err := s.finalize(ctx, a, batch, status, now); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// committed runs the side effects of a committed transition: metrics, the
// optional audit event and a monitor notification.
func (s *AttemptService) committed(ctx context.Context, a *model.Attempt, kind model.EventKind, detail string) {
	observability.AttemptTransitions().WithLabelValues(string(a.Status)).Inc()

	if kind != "" && s.events != nil {
		s.events.RecordFor(ctx, a, kind, detail)
	}

	if s.notifier == nil {
		return
	}
	actx, cancel := advisoryContext(ctx)
	defer cancel()
	err := s.notifier.Publish(actx, model.MonitorNotice{
		Type:      "attempt_status",
		BatchID:   a.BatchID,
		AttemptID: a.ID,
		ActorID:   a.ActorID,
		Status:    a.Status,
		At:        a.UpdatedAt,
	})
	if err != nil {
		observability.AdvisoryFailures().WithLabelValues("monitor_notify").Inc()
		s.log.Debug().Err(err).Str("attempt_id", a.ID.String()).Msg("Monitor notification dropped")
	}
}

// unsuspend returns an ACTIVE copy of a suspended attempt with started_at
// shifted by resumedAt minus the suspension instant.
func unsuspend(a *model.Attempt, resumedAt, now time.Time) *model.Attempt {
	next := *a
	if a.SuspendedAt != nil && resumedAt.After(*a.SuspendedAt) {
		next.StartedAt = a.StartedAt.Add(resumedAt.Sub(*a.SuspendedAt))
	}
	next.Status = model.AttemptStatusActive
	next.SuspendedAt = nil
	next.UpdatedAt = now
	return &next
}

func remainingOf(a *model.Attempt, batch *model.Batch, now time.Time) int64 {
	if a.Status.IsTerminal() {
		return 0
	}
	return timing.ForAttempt(a, batch, now)
}
