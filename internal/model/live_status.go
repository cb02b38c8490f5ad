package model

import (
	"time"

	"github.com/google/uuid"
)

// LiveStatus is one roster row of the live monitor.
type LiveStatus struct {
	AttemptID        uuid.UUID     `json:"attempt_id"`
	ActorID          string        `json:"actor_id"`
	DisplayName      string        `json:"display_name"`
	Status           AttemptStatus `json:"status"`
	Score            *float64      `json:"score,omitempty"`
	MaxScore         *float64      `json:"max_score,omitempty"`
	QuestionIndex    int           `json:"question_index"`
	AnsweredCount    int           `json:"answered_count"`
	EventCount       int           `json:"event_count"`
	Online           bool          `json:"online"`
	LastHeartbeatAt  *time.Time    `json:"last_heartbeat_at,omitempty"`
	RemainingSeconds int64         `json:"remaining_seconds"`
	StartedAt        time.Time     `json:"started_at"`
	SubmittedAt      *time.Time    `json:"submitted_at,omitempty"`
}

// RosterSummary aggregates a roster for the dashboard header.
type RosterSummary struct {
	Joined    int `json:"joined"`
	Active    int `json:"active"`
	Suspended int `json:"suspended"`
	Submitted int `json:"submitted"`
	Ended     int `json:"ended"`
	Online    int `json:"online"`
	Events    int `json:"events"`
}

// PresenceSample is the last heartbeat of an attempt.
type PresenceSample struct {
	LastSeen      time.Time `json:"last_seen"`
	QuestionIndex int       `json:"question_index"`
}

// MonitorNotice is published after an attempt transition so streaming
// monitors can refresh without waiting for the next tick.
type MonitorNotice struct {
	Type      string        `json:"type"`
	BatchID   uuid.UUID     `json:"batch_id"`
	AttemptID uuid.UUID     `json:"attempt_id"`
	ActorID   string        `json:"actor_id"`
	Status    AttemptStatus `json:"status"`
	At        time.Time     `json:"at"`
}
