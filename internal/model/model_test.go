package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	all := []AttemptStatus{
		AttemptStatusActive, AttemptStatusFrozen, AttemptStatusPaused,
		AttemptStatusSubmitted, AttemptStatusExpired, AttemptStatusInterrupted, AttemptStatusResetByAdmin,
	}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			assert.Falsef(t, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestOnlyResetFreesTheSeat(t *testing.T) {
	for _, s := range []AttemptStatus{
		AttemptStatusActive, AttemptStatusFrozen, AttemptStatusPaused,
		AttemptStatusSubmitted, AttemptStatusExpired, AttemptStatusInterrupted,
	} {
		assert.Truef(t, s.HoldsSeat(), "%s", s)
	}
	assert.False(t, AttemptStatusResetByAdmin.HoldsSeat())
}

func TestAttemptTransitions(t *testing.T) {
	cases := []struct {
		from, to AttemptStatus
		ok       bool
	}{
		{AttemptStatusActive, AttemptStatusSubmitted, true},
		{AttemptStatusActive, AttemptStatusFrozen, true},
		{AttemptStatusFrozen, AttemptStatusActive, true},
		{AttemptStatusPaused, AttemptStatusSubmitted, true},
		{AttemptStatusFrozen, AttemptStatusPaused, false},
		{AttemptStatusPaused, AttemptStatusFrozen, false},
		{AttemptStatusFrozen, AttemptStatusExpired, false},
		{AttemptStatusActive, AttemptStatusInterrupted, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestBatchClockStatus(t *testing.T) {
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	b := &Batch{StartTime: start, EndTime: start.Add(2 * time.Hour), Status: BatchStatusScheduled}

	assert.Equal(t, BatchStatusScheduled, b.ClockStatus(start.Add(-time.Minute)))
	assert.Equal(t, BatchStatusActive, b.ClockStatus(start))
	assert.Equal(t, BatchStatusFinished, b.ClockStatus(start.Add(2*time.Hour)))

	b.Status = BatchStatusFrozen
	assert.Equal(t, BatchStatusFrozen, b.ClockStatus(start.Add(3*time.Hour)))
}

func TestBatchEligibility(t *testing.T) {
	open := &Batch{}
	assert.True(t, open.IsEligible("anyone"))

	restricted := &Batch{AllowedActors: []string{"s-1", "s-2"}}
	assert.True(t, restricted.IsEligible("s-2"))
	assert.False(t, restricted.IsEligible("s-3"))
}

func TestDedupeAnswersKeepsLatest(t *testing.T) {
	a, b := "A", "B"
	id := uuid.New()
	got := DedupeAnswers([]Answer{
		{AttemptID: id, QuestionID: "q1", SelectedOptionID: &a},
		{AttemptID: id, QuestionID: "q2", SelectedOptionID: &a},
		{AttemptID: id, QuestionID: "q1", SelectedOptionID: &b},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "q1", got[0].QuestionID)
	assert.Equal(t, "B", *got[0].SelectedOptionID)
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("submit attempt: %w", ErrAttemptStateConflict)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, errors.Is(err, ErrAttemptStateConflict))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
}
