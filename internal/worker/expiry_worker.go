package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Expirer closes attempts whose allowance has run out.
type Expirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// ExpiryWorker periodically sweeps overdue attempts so their scores are
// committed even when the student never comes back.
type ExpiryWorker struct {
	expirer  Expirer
	interval time.Duration
	log      zerolog.Logger
}

func NewExpiryWorker(expirer Expirer, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		expirer:  expirer,
		interval: interval,
		log:      log.With().Str("component", "expiry_worker").Logger(),
	}
}

func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("ExpiryWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ExpiryWorker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	n, err := w.expirer.ExpireOverdue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Expiry sweep failed")
		}
		return
	}
	if n > 0 {
		w.log.Info().Int("expired", n).Msg("Expired overdue attempts")
	}
}
