package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"thirdcoast.systems/ytharvest/internal/metrics"
	"thirdcoast.systems/ytharvest/internal/parallel"
)

const DefaultAttempts = 3

// Retrying retries the whole launch-and-wait sequence and bounds how many
// launches run at once across all callers sharing it.
type Retrying struct {
	Inner    Launcher
	Attempts int
	Backoff  time.Duration

	sem *semaphore.Weighted
}

func NewRetrying(inner Launcher, maxParallel int) *Retrying {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Retrying{
		Inner:    inner,
		Attempts: DefaultAttempts,
		Backoff:  5 * time.Second,
		sem:      semaphore.NewWeighted(int64(maxParallel)),
	}
}

func (r *Retrying) Launch(ctx context.Context, spec Spec, log *slog.Logger) (*Result, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	attempts := max(r.Attempts, 1)
	base := spec.Name
	if base == "" {
		base = "worker"
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		s := spec
		s.Name = NewRunID(base)
		res, err := r.Inner.Launch(ctx, s, log)
		metrics.ContainerLaunches.WithLabelValues(metrics.Outcome(err)).Inc()
		if err == nil {
			return res, nil
		}
		lastErr = err
		log.Warn("container attempt failed", "run_id", s.Name, "attempt", attempt, "attempts", attempts, "error", err)

		if attempt == attempts || parallel.Stopped(ctx) {
			break
		}
		select {
		case <-time.After(r.Backoff * time.Duration(attempt)):
		case <-ctx.Done():
		}
		if parallel.Stopped(ctx) {
			break
		}
	}
	return nil, fmt.Errorf("container %s failed after %d attempts: %w", base, attempts, lastErr)
}
