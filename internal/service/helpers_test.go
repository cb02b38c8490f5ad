package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository/memory"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock    *fakeClock
	attempts *memory.AttemptStore
	batches  *memory.BatchStore
	quizzes  *memory.QuizStore
	presence *memory.PresenceStore
	events   *memory.EventLog
	names    *memory.Directory

	eventSvc    *EventService
	presenceSvc *PresenceService
	attemptSvc  *AttemptService
	batchSvc    *BatchService
	monitorSvc  *MonitorService
}

func testQuiz() model.Quiz {
	return model.Quiz{
		ID: "quiz-1",
		Questions: []model.Question{
			{ID: "q1", Type: model.QuestionTypeMCQ, Points: 2, Options: []model.QuestionOption{{ID: "a", IsCorrect: true}, {ID: "b"}}},
			{ID: "q2", Type: model.QuestionTypeTrueFalse, Points: 1, Options: []model.QuestionOption{{ID: "t"}, {ID: "f", IsCorrect: true}}},
			{ID: "q3", Type: model.QuestionTypeEssay, Points: 5},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, memory.NewAttemptStore())
}

func newFixtureWith(t *testing.T, attempts AttemptRepository) *fixture {
	t.Helper()

	f := &fixture{
		clock:    &fakeClock{now: t0},
		batches:  memory.NewBatchStore(),
		quizzes:  memory.NewQuizStore(testQuiz()),
		presence: memory.NewPresenceStore(),
		events:   memory.NewEventLog(),
		names:    memory.NewDirectory(map[string]string{"s1": "Budi", "s2": "Ani"}),
	}
	if store, ok := attempts.(*memory.AttemptStore); ok {
		f.attempts = store
	}

	log := zerolog.Nop()
	f.eventSvc = NewEventService(f.events, f.events, attempts, log)
	f.presenceSvc = NewPresenceService(f.presence, log)
	f.attemptSvc = NewAttemptService(attempts, f.batches, f.quizzes, f.eventSvc, f.presenceSvc, memory.NewNotifier(), log)
	f.batchSvc = NewBatchService(f.batches, attempts, f.attemptSvc, f.eventSvc, 4, log)
	f.monitorSvc = NewMonitorService(f.batches, attempts, f.presence, f.names, f.events, 20*time.Second, log)

	for _, set := range []func(func() time.Time){
		f.eventSvc.SetClock, f.presenceSvc.SetClock, f.batchSvc.SetClock, f.monitorSvc.SetClock,
	} {
		set(f.clock.Now)
	}
	return f
}

// openBatch schedules a 45 minute batch whose window runs from t0 to t0+2h.
func (f *fixture) openBatch(t *testing.T, mutate ...func(*model.CreateBatchRequest)) *model.Batch {
	t.Helper()
	req := model.CreateBatchRequest{
		QuizID:          "quiz-1",
		Name:            "Ujian Tengah Semester",
		StartTime:       t0,
		EndTime:         t0.Add(2 * time.Hour),
		DurationMinutes: 45,
	}
	for _, m := range mutate {
		m(&req)
	}
	b, err := f.batchSvc.Create(context.Background(), req, "op-1")
	require.NoError(t, err)
	return b
}

func (f *fixture) start(t *testing.T, batchID uuid.UUID, actorID string) *model.Attempt {
	t.Helper()
	st, err := f.attemptSvc.Start(context.Background(), batchID, actorID, "")
	require.NoError(t, err)
	return st.Attempt
}

func (f *fixture) remaining(t *testing.T, attemptID uuid.UUID) int64 {
	t.Helper()
	rt, err := f.attemptSvc.RemainingTime(context.Background(), attemptID)
	require.NoError(t, err)
	return rt.RemainingSeconds
}

func strPtr(s string) *string { return &s }
