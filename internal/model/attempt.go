package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states.
type AttemptStatus string

const (
	AttemptStatusActive       AttemptStatus = "ACTIVE"
	AttemptStatusFrozen       AttemptStatus = "FROZEN"
	AttemptStatusPaused       AttemptStatus = "PAUSED"
	AttemptStatusSubmitted    AttemptStatus = "SUBMITTED"
	AttemptStatusExpired      AttemptStatus = "EXPIRED"
	AttemptStatusInterrupted  AttemptStatus = "INTERRUPTED"
	AttemptStatusResetByAdmin AttemptStatus = "RESET_BY_ADMIN"
)

// OpenAttemptStatuses are the non-terminal statuses. At most one attempt per
// (batch, actor) may carry one of them.
var OpenAttemptStatuses = []AttemptStatus{
	AttemptStatusActive,
	AttemptStatusFrozen,
	AttemptStatusPaused,
}

var attemptTransitions = map[AttemptStatus][]AttemptStatus{
	AttemptStatusActive: {
		AttemptStatusSubmitted,
		AttemptStatusExpired,
		AttemptStatusPaused,
		AttemptStatusFrozen,
		AttemptStatusResetByAdmin,
	},
	AttemptStatusPaused: {
		AttemptStatusActive,
		AttemptStatusSubmitted,
		AttemptStatusInterrupted,
		AttemptStatusResetByAdmin,
	},
	AttemptStatusFrozen: {
		AttemptStatusActive,
		AttemptStatusSubmitted,
		AttemptStatusInterrupted,
		AttemptStatusResetByAdmin,
	},
}

// IsTerminal reports whether no transition can leave s.
func (s AttemptStatus) IsTerminal() bool {
	return !slices.Contains(OpenAttemptStatuses, s)
}

// HoldsSeat reports whether an attempt in s still uses up the actor's one
// try at its batch. Only an operator reset gives the seat back.
func (s AttemptStatus) HoldsSeat() bool {
	return s != AttemptStatusResetByAdmin
}

// IsSuspended reports whether the attempt clock is stopped.
func (s AttemptStatus) IsSuspended() bool {
	return s == AttemptStatusFrozen || s == AttemptStatusPaused
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s AttemptStatus) CanTransitionTo(next AttemptStatus) bool {
	return slices.Contains(attemptTransitions[s], next)
}

// Attempt is one actor's single try at one batch.
type Attempt struct {
	ID                uuid.UUID     `json:"id"`
	BatchID           uuid.UUID     `json:"batch_id"`
	ActorID           string        `json:"actor_id"`
	Status            AttemptStatus `json:"status"`
	StartedAt         time.Time     `json:"started_at"`
	SuspendedAt       *time.Time    `json:"suspended_at,omitempty"`
	SubmittedAt       *time.Time    `json:"submitted_at,omitempty"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
	Score             *float64      `json:"score,omitempty"`
	MaxScore          *float64      `json:"max_score,omitempty"`
	LastQuestionIndex int           `json:"last_question_index"`
	LastHeartbeatAt   *time.Time    `json:"last_heartbeat_at,omitempty"`
	Version           int           `json:"version"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// ClockInstant is the instant at which the attempt clock should be read:
// the suspension instant while frozen or paused, otherwise now.
func (a *Attempt) ClockInstant(now time.Time) time.Time {
	if a.Status.IsSuspended() && a.SuspendedAt != nil {
		return *a.SuspendedAt
	}
	return now
}

// AttemptState is an attempt together with its server-computed clock.
type AttemptState struct {
	Attempt          *Attempt  `json:"attempt"`
	Answers          []Answer  `json:"answers,omitempty"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	ServerTime       time.Time `json:"server_time"`
}

// RemainingTime is the response of a clock query.
type RemainingTime struct {
	AttemptID        uuid.UUID     `json:"attempt_id"`
	Status           AttemptStatus `json:"status"`
	RemainingSeconds int64         `json:"remaining_seconds"`
	ServerTime       time.Time     `json:"server_time"`
}

// StartAttemptRequest is the payload for opening an attempt.
type StartAttemptRequest struct {
	EntryToken string `json:"entry_token" binding:"omitempty,max=20"`
}

// SaveAnswerRequest upserts one answer.
type SaveAnswerRequest struct {
	AnswerInput
	QuestionIndex int `json:"question_index" binding:"min=0"`
}

// SubmitAttemptRequest carries the client's full working answer set.
type SubmitAttemptRequest struct {
	Answers []AnswerInput `json:"answers" binding:"omitempty,dive"`
}

// PingRequest is a heartbeat. A negative index is clamped, not rejected.
type PingRequest struct {
	QuestionIndex int `json:"question_index"`
}
