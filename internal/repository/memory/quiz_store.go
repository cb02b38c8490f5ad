package memory

import (
	"context"
	"sync"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// QuizStore serves answer keys from memory.
type QuizStore struct {
	mu      sync.RWMutex
	quizzes map[string]model.Quiz
}

// NewQuizStore creates a QuizStore holding the given quizzes.
func NewQuizStore(quizzes ...model.Quiz) *QuizStore {
	s := &QuizStore{quizzes: make(map[string]model.Quiz, len(quizzes))}
	for _, q := range quizzes {
		s.quizzes[q.ID] = q
	}
	return s
}

// Put adds or replaces a quiz.
func (s *QuizStore) Put(q model.Quiz) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[q.ID] = q
}

func (s *QuizStore) GetQuiz(_ context.Context, quizID string) (*model.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quizzes[quizID]
	if !ok {
		return nil, model.ErrQuizNotFound
	}
	return &q, nil
}

// Directory maps actor ids to display names.
type Directory struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewDirectory creates a Directory from an id to name map.
func NewDirectory(names map[string]string) *Directory {
	d := &Directory{names: make(map[string]string, len(names))}
	for id, name := range names {
		d.names[id] = name
	}
	return d
}

// Put sets the display name of an actor.
func (d *Directory) Put(actorID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[actorID] = name
}

func (d *Directory) DisplayNames(_ context.Context, actorIDs []string) (map[string]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]string, len(actorIDs))
	for _, id := range actorIDs {
		if name, ok := d.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}
