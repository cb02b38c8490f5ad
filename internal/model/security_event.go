package model

import (
	"time"

	"github.com/google/uuid"
)

// EventKind is a free-form tag. The constants below are the kinds emitted by
// the server and the ones the exam client is known to send.
type EventKind string

const (
	EventFocusLost     EventKind = "FOCUS_LOST"
	EventFocusGained   EventKind = "FOCUS_GAINED"
	EventCopyAttempt   EventKind = "COPY_ATTEMPT"
	EventPasteAttempt  EventKind = "PASTE_ATTEMPT"
	EventFullscreenOff EventKind = "FULLSCREEN_EXIT"

	EventAttemptStarted        EventKind = "ATTEMPT_STARTED"
	EventAttemptSubmitted      EventKind = "ATTEMPT_SUBMITTED"
	EventAttemptExpired        EventKind = "ATTEMPT_EXPIRED"
	EventAttemptPaused         EventKind = "ATTEMPT_PAUSED"
	EventAttemptResumed        EventKind = "ATTEMPT_RESUMED"
	EventAttemptForceSubmitted EventKind = "ATTEMPT_FORCE_SUBMITTED"
	EventAttemptReset          EventKind = "ATTEMPT_RESET"
	EventAttemptInterrupted    EventKind = "ATTEMPT_INTERRUPTED"

	EventForgeryAttempt EventKind = "EVENT_FORGERY_ATTEMPT"

	EventBatchFrozen   EventKind = "BATCH_FROZEN"
	EventBatchResumed  EventKind = "BATCH_RESUMED"
	EventBatchFinished EventKind = "BATCH_FINISHED"
)

// SecurityEvent is an immutable audit fact. AttemptID is nil for
// batch-scoped events.
type SecurityEvent struct {
	ID         uuid.UUID  `json:"id"`
	AttemptID  *uuid.UUID `json:"attempt_id,omitempty"`
	BatchID    uuid.UUID  `json:"batch_id"`
	ActorID    string     `json:"actor_id"`
	Kind       EventKind  `json:"kind"`
	Detail     string     `json:"detail"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// LogEventRequest is a client-reported security signal. Nothing is
// validated: the service caps lengths and fills in a missing kind.
type LogEventRequest struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}
