// Package sweeper runs the periodic booking maintenance jobs.
package sweeper

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
)

const maxRetries = 3

type MissedMarker interface {
	MarkMissed(ctx context.Context) (int, error)
}

type PendingExpirer interface {
	ExpireStalePending(ctx context.Context) (int, error)
}

type Sweeper struct {
	missed  MissedMarker
	expirer PendingExpirer
	logger  observability.Logger
	// backoff is the base delay between retries; attempt i waits backoff<<i.
	backoff time.Duration
}

func New(missed MissedMarker, expirer PendingExpirer, logger observability.Logger) *Sweeper {
	return &Sweeper{missed: missed, expirer: expirer, logger: logger, backoff: time.Second}
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs each job once, retrying failures with exponential backoff.
func (s *Sweeper) Sweep(ctx context.Context) {
	jobs := []struct {
		name string
		run  func(context.Context) (int, error)
	}{
		{"expire_pending", s.expirer.ExpireStalePending},
		{"mark_missed", s.missed.MarkMissed},
	}
	for _, job := range jobs {
		n, err := s.withRetry(ctx, job.run)
		log := s.logger.WithField("job", job.name)
		if err != nil {
			log.WithError(err).Error("sweep job failed after retries")
			continue
		}
		if n > 0 {
			log.WithField("count", n).Info("sweep job done")
		}
	}
}

func (s *Sweeper) withRetry(ctx context.Context, run func(context.Context) (int, error)) (int, error) {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		n, err := run(ctx)
		if err == nil {
			return n, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(s.backoff * time.Duration(1<<i)):
		}
	}
	return 0, errors.Wrapf(lastErr, "failed after %d retries", maxRetries)
}
