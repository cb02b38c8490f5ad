package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stemsi/exstem-proctor/internal/model"
)

const unknownActorName = "Unknown"

// MonitorService builds the live roster of a batch. Nothing is cached: each
// call recomputes from the stores.
type MonitorService struct {
	batches      BatchRepository
	attempts     AttemptRepository
	presence     PresenceStore
	directory    ActorDirectory
	events       EventReader
	onlineWindow time.Duration
	log          zerolog.Logger
	now          func() time.Time
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(
	batches BatchRepository,
	attempts AttemptRepository,
	presence PresenceStore,
	directory ActorDirectory,
	events EventReader,
	onlineWindow time.Duration,
	log zerolog.Logger,
) *MonitorService {
	return &MonitorService{
		batches:      batches,
		attempts:     attempts,
		presence:     presence,
		directory:    directory,
		events:       events,
		onlineWindow: onlineWindow,
		log:          log.With().Str("component", "monitor_service").Logger(),
		now:          time.Now,
	}
}

// SetClock replaces the time source.
func (s *MonitorService) SetClock(now func() time.Time) { s.now = now }

// RosterFor returns one row per attempt in the batch. Presence is required;
// names, answered counts and event counts degrade to defaults when their
// source fails.
func (s *MonitorService) RosterFor(ctx context.Context, batchID uuid.UUID) ([]model.LiveStatus, error) {
	now := stamp(s.now)

	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	attempts, err := s.attempts.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	if len(attempts) == 0 {
		return []model.LiveStatus{}, nil
	}

	ids := make([]uuid.UUID, 0, len(attempts))
	actors := make([]string, 0, len(attempts))
	seen := make(map[string]struct{}, len(attempts))
	for _, a := range attempts {
		ids = append(ids, a.ID)
		if _, ok := seen[a.ActorID]; !ok {
			seen[a.ActorID] = struct{}{}
			actors = append(actors, a.ActorID)
		}
	}

	var (
		samples  map[uuid.UUID]model.PresenceSample
		names    map[string]string
		answered map[uuid.UUID]int
		flagged  map[uuid.UUID]int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		samples, err = s.presence.Samples(gctx, ids)
		if err != nil {
			return fmt.Errorf("read presence: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if names, err = s.directory.DisplayNames(gctx, actors); err != nil {
			s.log.Warn().Err(err).Str("batch_id", batchID.String()).Msg("Display names unavailable")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if answered, err = s.attempts.AnsweredCounts(gctx, batchID); err != nil {
			s.log.Warn().Err(err).Str("batch_id", batchID.String()).Msg("Answered counts unavailable")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if flagged, err = s.events.CountByAttempt(gctx, batchID); err != nil {
			s.log.Warn().Err(err).Str("batch_id", batchID.String()).Msg("Event counts unavailable")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows := make([]model.LiveStatus, 0, len(attempts))
	for i := range attempts {
		a := &attempts[i]

		name := names[a.ActorID]
		if name == "" {
			name = unknownActorName
		}

		row := model.LiveStatus{
			AttemptID:        a.ID,
			ActorID:          a.ActorID,
			DisplayName:      name,
			Status:           a.Status,
			Score:            a.Score,
			MaxScore:         a.MaxScore,
			QuestionIndex:    a.LastQuestionIndex,
			AnsweredCount:    answered[a.ID],
			EventCount:       flagged[a.ID],
			RemainingSeconds: remainingOf(a, batch, now),
			StartedAt:        a.StartedAt,
			SubmittedAt:      a.SubmittedAt,
		}
		if sample, ok := samples[a.ID]; ok {
			seenAt := sample.LastSeen
			row.LastHeartbeatAt = &seenAt
			row.QuestionIndex = sample.QuestionIndex
			row.Online = now.Sub(sample.LastSeen) < s.onlineWindow
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].DisplayName != rows[j].DisplayName {
			return rows[i].DisplayName < rows[j].DisplayName
		}
		if rows[i].ActorID != rows[j].ActorID {
			return rows[i].ActorID < rows[j].ActorID
		}
		return rows[i].StartedAt.Before(rows[j].StartedAt)
	})
	return rows, nil
}

// Summarize totals a roster for the dashboard header.
func Summarize(rows []model.LiveStatus) model.RosterSummary {
	var sum model.RosterSummary
	actors := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		actors[r.ActorID] = struct{}{}
		switch {
		case r.Status == model.AttemptStatusActive:
			sum.Active++
		case r.Status.IsSuspended():
			sum.Suspended++
		case r.Status == model.AttemptStatusSubmitted:
			sum.Submitted++
		default:
			sum.Ended++
		}
		if r.Online {
			sum.Online++
		}
		sum.Events += r.EventCount
	}
	sum.Joined = len(actors)
	return sum
}
