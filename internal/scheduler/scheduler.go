// Package scheduler drives the keeper loops: fixed-interval ticks with
// graceful cancellation and bounded exponential backoff while consecutive
// ticks keep failing.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context, now time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration

	// MaxBackoff caps the delay added after consecutive failures. Zero
	// disables backoff entirely.
	MaxBackoff time.Duration
}

// Scheduler drives repeated execution of a keeper tick.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function every interval until ctx is
// cancelled. Tick errors are logged, never fatal; each consecutive failure
// doubles the extra delay before the next attempt, up to MaxBackoff, and any
// success resets it.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	failures := 0
	for {
		now := time.Now().UTC()
		s.logger.Debug().Time("tick", now).Msg("executing scheduled tick")

		if err := tick(ctx, now); err != nil {
			failures++
			s.logger.Error().Err(err).Int("consecutive_failures", failures).Msg("tick execution failed")
		} else {
			failures = 0
		}

		delay := s.opts.Interval + s.Backoff(failures)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Backoff returns the extra delay applied after the given number of
// consecutive failures: interval doubled per failure beyond the first,
// capped at MaxBackoff.
func (s *Scheduler) Backoff(failures int) time.Duration {
	if failures <= 1 || s.opts.MaxBackoff <= 0 {
		return 0
	}
	backoff := s.opts.Interval
	for i := 2; i < failures; i++ {
		backoff *= 2
		if backoff >= s.opts.MaxBackoff {
			return s.opts.MaxBackoff
		}
	}
	if backoff > s.opts.MaxBackoff {
		return s.opts.MaxBackoff
	}
	return backoff
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
