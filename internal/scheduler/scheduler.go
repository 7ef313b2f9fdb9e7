package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PassFunc runs one settlement pass. at is the slot the pass belongs to.
type PassFunc func(ctx context.Context, at time.Time) error

// Options tune the settlement cadence.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	RunOnStart   bool
}

// Scheduler runs settlement passes on a fixed cadence. Passes never overlap.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks, invoking pass on every slot until ctx is cancelled. A failed pass is
// logged and the next slot still runs.
func (s *Scheduler) Run(ctx context.Context, pass PassFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunOnStart {
		s.runPass(ctx, pass, s.now())
	}

	next := s.nextSlot(s.now())
	for {
		now := s.now()
		if next.Before(now) {
			skipped := now.Sub(next) / s.opts.Interval
			if skipped > 0 {
				s.logger.Warn().Int64("skipped", int64(skipped)).Msg("settlement pass overran its slot")
			}
			next = s.nextSlot(now)
		}

		s.logger.Debug().Time("next_slot", next).Msg("waiting for next settlement slot")
		if err := sleep(ctx, next.Sub(now)); err != nil {
			return err
		}

		s.runPass(ctx, pass, s.slotStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) runPass(ctx context.Context, pass PassFunc, at time.Time) {
	started := s.now()
	if err := pass(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("slot", at).Msg("settlement pass failed")
		return
	}
	s.logger.Debug().Time("slot", at).Dur("took", s.now().Sub(started)).Msg("settlement pass finished")
}

func (s *Scheduler) nextSlot(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	slot := now.Truncate(s.opts.Interval)
	if !slot.After(now) {
		slot = slot.Add(s.opts.Interval)
	}
	return slot
}

func (s *Scheduler) slotStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
