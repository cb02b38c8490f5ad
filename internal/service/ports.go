package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AttemptRepository is the durable attempt store. Every write that changes an
// attempt is a compare-and-swap on Attempt.Version: the value held by the
// caller is the expected version, and it is incremented on success.
type AttemptRepository interface {
	// Create fails with model.ErrAlreadyActiveAttempt when the (batch, actor)
	// pair already has an open attempt.
	Create(ctx context.Context, a *model.Attempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]model.Attempt, error)
	ListActive(ctx context.Context, limit int) ([]model.Attempt, error)
	CompareAndSwap(ctx context.Context, a *model.Attempt) error
	// CommitWithAnswers swaps the attempt and replaces its answer set in one
	// atomic write.
	CommitWithAnswers(ctx context.Context, a *model.Attempt, answers []model.Answer) error
	// SaveAnswer upserts one answer if and only if the attempt is ACTIVE.
	SaveAnswer(ctx context.Context, ans model.Answer, questionIndex int) error
	ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error)
	AnsweredCounts(ctx context.Context, batchID uuid.UUID) (map[uuid.UUID]int, error)
}

// BatchRepository stores batches. CompareAndSwap follows the same version
// protocol as attempts.
type BatchRepository interface {
	Create(ctx context.Context, b *model.Batch) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Batch, error)
	CompareAndSwap(ctx context.Context, b *model.Batch) error
}

// QuizProvider serves answer keys owned by the authoring layer.
type QuizProvider interface {
	GetQuiz(ctx context.Context, quizID string) (*model.Quiz, error)
}

// ActorDirectory resolves display names owned by the user layer.
type ActorDirectory interface {
	DisplayNames(ctx context.Context, actorIDs []string) (map[string]string, error)
}

// PresenceStore keeps the last heartbeat per attempt. Writes are
// last-writer-wins.
type PresenceStore interface {
	Touch(ctx context.Context, attemptID uuid.UUID, sample model.PresenceSample) error
	Samples(ctx context.Context, attemptIDs []uuid.UUID) (map[uuid.UUID]model.PresenceSample, error)
}

// EventSink accepts security events for durable, append-only storage.
type EventSink interface {
	Enqueue(ctx context.Context, e model.SecurityEvent) error
}

// EventReader is the query side of the security event log.
type EventReader interface {
	ListByBatch(ctx context.Context, batchID uuid.UUID, actorID *string) ([]model.SecurityEvent, error)
	CountByAttempt(ctx context.Context, batchID uuid.UUID) (map[uuid.UUID]int, error)
}

// Notifier tells live monitors that a batch roster changed.
type Notifier interface {
	Publish(ctx context.Context, notice model.MonitorNotice) error
}
