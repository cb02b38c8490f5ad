// Package memory holds in-process stores with the same contracts as the
// Postgres and Redis repositories. They back STORAGE_DRIVER=memory and the
// service tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// AttemptStore is an in-memory attempt repository.
type AttemptStore struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]model.Attempt
	answers  map[uuid.UUID]map[string]model.Answer
	order    map[uuid.UUID][]string
}

// NewAttemptStore creates an empty AttemptStore.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[uuid.UUID]model.Attempt),
		answers:  make(map[uuid.UUID]map[string]model.Answer),
		order:    make(map[uuid.UUID][]string),
	}
}

func (s *AttemptStore) Create(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cur := range s.attempts {
		if cur.BatchID != a.BatchID || cur.ActorID != a.ActorID || !cur.Status.HoldsSeat() {
			continue
		}
		if !cur.Status.IsTerminal() {
			return model.ErrAlreadyActiveAttempt
		}
		return model.ErrAttemptCompleted
	}
	a.Version = 1
	s.attempts[a.ID] = cloneAttempt(*a)
	return nil
}

func (s *AttemptStore) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok {
		return nil, model.ErrAttemptNotFound
	}
	out := cloneAttempt(a)
	return &out, nil
}

func (s *AttemptStore) ListByBatch(_ context.Context, batchID uuid.UUID) ([]model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []model.Attempt{}
	for _, a := range s.attempts {
		if a.BatchID == batchID {
			out = append(out, cloneAttempt(a))
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *AttemptStore) ListActive(_ context.Context, limit int) ([]model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []model.Attempt{}
	for _, a := range s.attempts {
		if a.Status == model.AttemptStatusActive {
			out = append(out, cloneAttempt(a))
		}
	}
	sortByStart(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *AttemptStore) CompareAndSwap(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swapLocked(a)
}

func (s *AttemptStore) CommitWithAnswers(_ context.Context, a *model.Attempt, answers []model.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.swapLocked(a); err != nil {
		return err
	}
	set := make(map[string]model.Answer, len(answers))
	order := make([]string, 0, len(answers))
	for _, ans := range answers {
		if _, ok := set[ans.QuestionID]; !ok {
			order = append(order, ans.QuestionID)
		}
		ans.AttemptID = a.ID
		set[ans.QuestionID] = ans
	}
	s.answers[a.ID] = set
	s.order[a.ID] = order
	return nil
}

func (s *AttemptStore) SaveAnswer(_ context.Context, ans model.Answer, questionIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[ans.AttemptID]
	if !ok {
		return model.ErrAttemptNotFound
	}
	if a.Status != model.AttemptStatusActive {
		return model.ErrAttemptNotActive
	}

	set := s.answers[a.ID]
	if set == nil {
		set = make(map[string]model.Answer)
		s.answers[a.ID] = set
	}
	if _, ok := set[ans.QuestionID]; !ok {
		s.order[a.ID] = append(s.order[a.ID], ans.QuestionID)
	}
	set[ans.QuestionID] = ans

	a.LastQuestionIndex = questionIndex
	a.UpdatedAt = ans.AnsweredAt
	a.Version++
	s.attempts[a.ID] = a
	return nil
}

func (s *AttemptStore) ListAnswers(_ context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Answer, 0, len(s.order[attemptID]))
	for _, qid := range s.order[attemptID] {
		out = append(out, s.answers[attemptID][qid])
	}
	return out, nil
}

func (s *AttemptStore) AnsweredCounts(_ context.Context, batchID uuid.UUID) (map[uuid.UUID]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[uuid.UUID]int)
	for id, a := range s.attempts {
		if a.BatchID != batchID {
			continue
		}
		n := 0
		for _, ans := range s.answers[id] {
			if ans.SelectedOptionID != nil || (ans.TextAnswer != nil && *ans.TextAnswer != "") {
				n++
			}
		}
		out[id] = n
	}
	return out, nil
}

func (s *AttemptStore) swapLocked(a *model.Attempt) error {
	cur, ok := s.attempts[a.ID]
	if !ok {
		return model.ErrAttemptNotFound
	}
	if cur.Version != a.Version {
		return model.ErrAttemptStateConflict
	}
	a.Version++
	s.attempts[a.ID] = cloneAttempt(*a)
	return nil
}

func cloneAttempt(a model.Attempt) model.Attempt {
	a.SuspendedAt = cloneTime(a.SuspendedAt)
	a.SubmittedAt = cloneTime(a.SubmittedAt)
	a.EndedAt = cloneTime(a.EndedAt)
	a.LastHeartbeatAt = nil
	if a.Score != nil {
		v := *a.Score
		a.Score = &v
	}
	if a.MaxScore != nil {
		v := *a.MaxScore
		a.MaxScore = &v
	}
	return a
}

func sortByStart(as []model.Attempt) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].StartedAt.Equal(as[j].StartedAt) {
			return as[i].StartedAt.Before(as[j].StartedAt)
		}
		return as[i].ID.String() < as[j].ID.String()
	})
}
