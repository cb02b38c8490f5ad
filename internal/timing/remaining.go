// Package timing is the server-side clock authority for attempts. It holds no
// state: every answer is derived from stored instants.
package timing

import (
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Remaining returns the time an attempt has left at now. It is capped both
// by the attempt duration measured from startedAt and by the batch's hard
// end, and is never negative.
func Remaining(startedAt time.Time, duration time.Duration, batchEnd, now time.Time) time.Duration {
	byDuration := duration - now.Sub(startedAt)
	byBatchEnd := batchEnd.Sub(now)

	left := min(byDuration, byBatchEnd)
	if left < 0 {
		return 0
	}
	return left
}

// RemainingSeconds is Remaining truncated to whole seconds.
func RemainingSeconds(startedAt time.Time, duration time.Duration, batchEnd, now time.Time) int64 {
	return int64(Remaining(startedAt, duration, batchEnd, now) / time.Second)
}

// ForAttempt evaluates the clock of a in batch b. A frozen or paused attempt
// is read at its suspension instant so its time does not drain.
func ForAttempt(a *model.Attempt, b *model.Batch, now time.Time) int64 {
	return RemainingSeconds(a.StartedAt, b.Duration(), b.EndTime, a.ClockInstant(now))
}
