package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// BatchStore is an in-memory batch repository.
type BatchStore struct {
	mu      sync.Mutex
	batches map[uuid.UUID]model.Batch
}

// NewBatchStore creates an empty BatchStore.
func NewBatchStore() *BatchStore {
	return &BatchStore{batches: make(map[uuid.UUID]model.Batch)}
}

func (s *BatchStore) Create(_ context.Context, b *model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b.Version = 1
	s.batches[b.ID] = cloneBatch(*b)
	return nil
}

func (s *BatchStore) GetByID(_ context.Context, id uuid.UUID) (*model.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[id]
	if !ok {
		return nil, model.ErrBatchNotFound
	}
	out := cloneBatch(b)
	return &out, nil
}

func (s *BatchStore) CompareAndSwap(_ context.Context, b *model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.batches[b.ID]
	if !ok {
		return model.ErrBatchNotFound
	}
	if cur.Version != b.Version {
		return model.ErrBatchStateConflict
	}
	b.Version++
	s.batches[b.ID] = cloneBatch(*b)
	return nil
}

func cloneBatch(b model.Batch) model.Batch {
	b.FrozenAt = cloneTime(b.FrozenAt)
	b.ResumedAt = cloneTime(b.ResumedAt)
	b.AllowedActors = slices.Clone(b.AllowedActors)
	return b
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
