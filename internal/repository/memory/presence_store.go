package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// PresenceStore keeps heartbeat samples in memory. Samples never expire.
type PresenceStore struct {
	mu      sync.RWMutex
	samples map[uuid.UUID]model.PresenceSample
}

// NewPresenceStore creates an empty PresenceStore.
func NewPresenceStore() *PresenceStore {
	return &PresenceStore{samples: make(map[uuid.UUID]model.PresenceSample)}
}

func (s *PresenceStore) Touch(_ context.Context, attemptID uuid.UUID, sample model.PresenceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[attemptID] = sample
	return nil
}

func (s *PresenceStore) Samples(_ context.Context, attemptIDs []uuid.UUID) (map[uuid.UUID]model.PresenceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uuid.UUID]model.PresenceSample, len(attemptIDs))
	for _, id := range attemptIDs {
		if sample, ok := s.samples[id]; ok {
			out[id] = sample
		}
	}
	return out, nil
}
