package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// TickFunc is invoked on every slot of a job.
type TickFunc func(ctx context.Context, slot time.Time) error

// Schedule yields the first slot strictly after now.
type Schedule interface {
	Next(now time.Time) time.Time
}

// Every fires at a fixed interval, optionally aligned to interval boundaries.
type Every struct {
	Interval     time.Duration
	AlignToStart bool
}

// Next implements Schedule.
func (e Every) Next(now time.Time) time.Time {
	if !e.AlignToStart {
		return now.Add(e.Interval)
	}
	slot := now.Truncate(e.Interval)
	if !slot.After(now) {
		slot = slot.Add(e.Interval)
	}
	return slot
}

// Daily fires once a day at Hour:Minute in Location.
type Daily struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// Next implements Schedule.
func (d Daily) Next(now time.Time) time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	slot := time.Date(local.Year(), local.Month(), local.Day(), d.Hour, d.Minute, 0, 0, loc)
	if !slot.After(local) {
		slot = slot.AddDate(0, 0, 1)
	}
	return slot
}

// Job is a named unit of periodic work.
type Job struct {
	Name       string
	Schedule   Schedule
	Tick       TickFunc
	RunOnStart bool
}

// Options tune scheduler behaviour.
type Options struct {
	StartupDelay time.Duration
	// Grace is how late a slot may start before it is skipped. Zero
	// disables skipping.
	Grace time.Duration
}

// Scheduler drives periodic jobs. Each job runs on its own goroutine and
// never overlaps with itself.
type Scheduler struct {
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	return &Scheduler{opts: opts, now: time.Now, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Validate checks that every job can be scheduled.
func Validate(jobs ...Job) error {
	if len(jobs) == 0 {
		return errors.New("scheduler: no jobs")
	}
	for _, j := range jobs {
		if j.Name == "" || j.Tick == nil || j.Schedule == nil {
			return fmt.Errorf("scheduler: job %q is incomplete", j.Name)
		}
		if e, ok := j.Schedule.(Every); ok && e.Interval <= 0 {
			return fmt.Errorf("scheduler: job %q interval must be positive", j.Name)
		}
	}
	return nil
}

// Run blocks, driving every job until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, jobs ...Job) error {
	if err := Validate(jobs...); err != nil {
		return err
	}

	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	var wg conc.WaitGroup
	for _, job := range jobs {
		wg.Go(func() { s.loop(ctx, job) })
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	logger := s.logger.With().Str("job", job.Name).Logger()

	if job.RunOnStart {
		s.execute(ctx, logger, job, s.now())
	}

	next := job.Schedule.Next(s.now())
	for {
		timer := time.NewTimer(time.Until(next))
		logger.Debug().Time("next_slot", next).Msg("waiting for next slot")

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		now := s.now()
		if s.missed(next, now) {
			logger.Warn().Time("slot", next).Dur("late_by", now.Sub(next)).Msg("slot missed grace window, skipping")
		} else {
			s.execute(ctx, logger, job, next)
		}

		next = job.Schedule.Next(next)
		if now = s.now(); s.missed(next, now) {
			logger.Warn().Time("slot", next).Msg("job overran its next slot, skipping")
			next = job.Schedule.Next(now)
		}
	}
}

// missed reports whether slot started later than the grace window allows.
func (s *Scheduler) missed(slot, now time.Time) bool {
	return s.opts.Grace > 0 && now.Sub(slot) > s.opts.Grace
}

func (s *Scheduler) execute(ctx context.Context, logger zerolog.Logger, job Job, slot time.Time) {
	start := s.now()
	logger.Info().Time("slot", slot).Msg("executing scheduled job")
	if err := job.Tick(ctx, slot); err != nil {
		logger.Error().Err(err).Time("slot", slot).Msg("job execution failed")
		return
	}
	logger.Debug().Dur("elapsed", s.now().Sub(start)).Msg("job finished")
}
