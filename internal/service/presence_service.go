package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/observability"
)

// PresenceService records heartbeats. Presence never gates scoring or timing.
type PresenceService struct {
	store PresenceStore
	log   zerolog.Logger
	now   func() time.Time
}

// NewPresenceService creates a new PresenceService.
func NewPresenceService(store PresenceStore, log zerolog.Logger) *PresenceService {
	return &PresenceService{
		store: store,
		log:   log.With().Str("component", "presence_service").Logger(),
		now:   time.Now,
	}
}

// SetClock replaces the time source.
func (s *PresenceService) SetClock(now func() time.Time) { s.now = now }

// Ping stores a heartbeat regardless of attempt status. Failures are
// swallowed.
func (s *PresenceService) Ping(ctx context.Context, attemptID uuid.UUID, questionIndex int) {
	actx, cancel := advisoryContext(ctx)
	defer cancel()

	sample := model.PresenceSample{LastSeen: stamp(s.now), QuestionIndex: max(questionIndex, 0)}
	if err := s.store.Touch(actx, attemptID, sample); err != nil {
		observability.AdvisoryFailures().WithLabelValues("presence").Inc()
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Heartbeat dropped")
	}
}

// Samples returns the last heartbeat of each attempt that has one.
func (s *PresenceService) Samples(ctx context.Context, attemptIDs []uuid.UUID) (map[uuid.UUID]model.PresenceSample, error) {
	samples, err := s.store.Samples(ctx, attemptIDs)
	if err != nil {
		return nil, fmt.Errorf("read presence: %w", err)
	}
	return samples, nil
}

// Last returns the attempt's last heartbeat, if any. Lookup errors read as absent.
func (s *PresenceService) Last(ctx context.Context, attemptID uuid.UUID) (model.PresenceSample, bool) {
	samples, err := s.store.Samples(ctx, []uuid.UUID{attemptID})
	if err != nil {
		s.log.Debug().Err(err).Str("attempt_id", attemptID.String()).Msg("Presence lookup failed")
		return model.PresenceSample{}, false
	}
	sample, ok := samples[attemptID]
	return sample, ok
}
