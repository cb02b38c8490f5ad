package timing

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

var base = time.Date(2026, 5, 11, 7, 30, 0, 0, time.UTC)

func TestRemainingCappedByDuration(t *testing.T) {
	start := base
	end := base.Add(3 * time.Hour)

	assert.Equal(t, int64(60), RemainingSeconds(start, 45*time.Minute, end, start.Add(44*time.Minute)))
	assert.Equal(t, int64(0), RemainingSeconds(start, 45*time.Minute, end, start.Add(45*time.Minute)))
	assert.Equal(t, int64(0), RemainingSeconds(start, 45*time.Minute, end, start.Add(2*time.Hour)))
}

func TestRemainingCappedByBatchEnd(t *testing.T) {
	// Late starter: ten minutes before the hard end with an hour of duration.
	end := base.Add(time.Hour)
	start := end.Add(-10 * time.Minute)

	assert.Equal(t, int64(600), RemainingSeconds(start, time.Hour, end, start))
	assert.Equal(t, int64(0), RemainingSeconds(start, time.Hour, end, end.Add(time.Second)))
}

func TestRemainingMonotonicAndNonNegative(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for i := 0; i < 500; i++ {
		start := base.Add(time.Duration(rng.IntN(3600)) * time.Second)
		duration := time.Duration(1+rng.IntN(180)) * time.Minute
		end := start.Add(time.Duration(rng.IntN(4*3600)-3600) * time.Second)

		now := start.Add(-time.Hour)
		prev := Remaining(start, duration, end, now)
		for step := 0; step < 60; step++ {
			now = now.Add(time.Duration(rng.IntN(300)) * time.Second)
			got := Remaining(start, duration, end, now)
			require.GreaterOrEqual(t, got, time.Duration(0))
			require.LessOrEqual(t, got, prev)
			prev = got
		}
	}
}

func TestForAttemptReadsSuspensionInstant(t *testing.T) {
	batch := &model.Batch{DurationMinutes: 60, EndTime: base.Add(4 * time.Hour)}
	frozenAt := base.Add(20 * time.Minute)
	attempt := &model.Attempt{
		Status:      model.AttemptStatusFrozen,
		StartedAt:   base,
		SuspendedAt: &frozenAt,
	}

	assert.Equal(t, int64(40*60), ForAttempt(attempt, batch, base.Add(3*time.Hour)))

	attempt.Status = model.AttemptStatusActive
	assert.Equal(t, int64(0), ForAttempt(attempt, batch, base.Add(3*time.Hour)))
}
