package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	// casRetries bounds how often an internal cascade re-reads and retries
	// after losing a compare-and-swap.
	casRetries = 3

	advisoryTimeout = 2 * time.Second
)

// stamp reads the clock at the precision Postgres stores.
func stamp(now func() time.Time) time.Time {
	return now().UTC().Truncate(time.Microsecond)
}

func isConflict(err error) bool {
	return errors.Is(err, model.ErrAttemptStateConflict) || errors.Is(err, model.ErrBatchStateConflict)
}

// retryOnConflict re-runs fn while it loses a CAS race, up to casRetries times.
func retryOnConflict(fn func() error) error {
	var err error
	for i := 0; i < casRetries; i++ {
		if err = fn(); !isConflict(err) {
			return err
		}
	}
	return err
}

// advisoryContext detaches ctx from caller cancellation for best-effort writes.
func advisoryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), advisoryTimeout)
}

// loadBatch reads a batch and persists any clock-driven status change.
func loadBatch(ctx context.Context, repo BatchRepository, id uuid.UUID, now time.Time) (*model.Batch, error) {
	var batch *model.Batch
	err := retryOnConflict(func() error {
		cur, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		status := cur.ClockStatus(now)
		if status == cur.Status {
			batch = cur
			return nil
		}
		next := *cur
		next.Status = status
		next.UpdatedAt = now
		if err := repo.CompareAndSwap(ctx, &next); err != nil {
			return err
		}
		batch = &next
		return nil
	})
	return batch, err
}
