package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// BatchStatus enumerates the temporal states of a batch.
type BatchStatus string

const (
	BatchStatusScheduled BatchStatus = "scheduled"
	BatchStatusActive    BatchStatus = "active"
	BatchStatusFrozen    BatchStatus = "frozen"
	BatchStatusFinished  BatchStatus = "finished"
)

// Batch is one scheduled administration of a fixed quiz.
type Batch struct {
	ID              uuid.UUID   `json:"id"`
	QuizID          string      `json:"quiz_id"`
	Name            string      `json:"name"`
	EntryToken      string      `json:"-"`
	StartTime       time.Time   `json:"start_time"`
	EndTime         time.Time   `json:"end_time"`
	DurationMinutes int         `json:"duration_minutes"`
	Status          BatchStatus `json:"status"`
	FrozenAt        *time.Time  `json:"frozen_at,omitempty"`
	ResumedAt       *time.Time  `json:"resumed_at,omitempty"`
	AllowedActors   []string    `json:"allowed_actors"`
	CreatedBy       string      `json:"created_by"`
	Version         int         `json:"version"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Duration returns the nominal per-attempt duration.
func (b *Batch) Duration() time.Duration {
	return time.Duration(b.DurationMinutes) * time.Minute
}

// IsEligible reports whether actorID may start an attempt. An empty
// allow-list admits everyone.
func (b *Batch) IsEligible(actorID string) bool {
	if len(b.AllowedActors) == 0 {
		return true
	}
	return slices.Contains(b.AllowedActors, actorID)
}

// ClockStatus returns the status the batch should carry at now once the
// schedule is applied. Frozen and finished batches are never moved by the clock.
func (b *Batch) ClockStatus(now time.Time) BatchStatus {
	switch b.Status {
	case BatchStatusScheduled:
		if !now.Before(b.EndTime) {
			return BatchStatusFinished
		}
		if !now.Before(b.StartTime) {
			return BatchStatusActive
		}
	case BatchStatusActive:
		if !now.Before(b.EndTime) {
			return BatchStatusFinished
		}
	}
	return b.Status
}

// AcceptsStarts reports whether new attempts may be opened at now.
func (b *Batch) AcceptsStarts(now time.Time) bool {
	return b.Status == BatchStatusActive && !now.Before(b.StartTime) && now.Before(b.EndTime)
}

// CreateBatchRequest is the operator payload for scheduling a batch.
type CreateBatchRequest struct {
	QuizID          string    `json:"quiz_id" binding:"required,max=64"`
	Name            string    `json:"name" binding:"required,max=200"`
	EntryToken      string    `json:"entry_token" binding:"omitempty,min=4,max=20"`
	StartTime       time.Time `json:"start_time" binding:"required"`
	EndTime         time.Time `json:"end_time" binding:"required,gtfield=StartTime"`
	DurationMinutes int       `json:"duration_minutes" binding:"required,min=1,max=1440"`
	AllowedActors   []string  `json:"allowed_actors" binding:"omitempty,dive,required,max=64"`
}
