package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryNext(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 17, 30, 0, time.UTC)

	aligned := Every{Interval: time.Hour, AlignToStart: true}
	assert.Equal(t, time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC), aligned.Next(now))
	assert.Equal(t, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), aligned.Next(time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC)))

	free := Every{Interval: 15 * time.Minute}
	assert.Equal(t, now.Add(15*time.Minute), free.Next(now))
}

func TestDailyNext(t *testing.T) {
	caracas := time.FixedZone("VET", -4*3600)
	d := Daily{Hour: 2, Location: caracas}

	before := time.Date(2025, 3, 10, 5, 0, 0, 0, time.UTC) // 01:00 local
	assert.Equal(t, time.Date(2025, 3, 10, 2, 0, 0, 0, caracas), d.Next(before))

	after := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC) // 03:00 local
	assert.Equal(t, time.Date(2025, 3, 11, 2, 0, 0, 0, caracas), d.Next(after))

	exact := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC) // 02:00 local
	assert.Equal(t, time.Date(2025, 3, 11, 2, 0, 0, 0, caracas), d.Next(exact))

	assert.Equal(t, time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC), Daily{Hour: 2}.Next(after))
}

func TestMissed(t *testing.T) {
	s := New(Options{Grace: time.Hour}, zerolog.Nop())
	slot := time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC)
	assert.False(t, s.missed(slot, slot.Add(59*time.Minute)))
	assert.True(t, s.missed(slot, slot.Add(61*time.Minute)))

	noGrace := New(Options{}, zerolog.Nop())
	assert.False(t, noGrace.missed(slot, slot.Add(24*time.Hour)))
}

func TestValidate(t *testing.T) {
	tick := func(context.Context, time.Time) error { return nil }
	assert.Error(t, Validate())
	assert.Error(t, Validate(Job{Name: "x", Schedule: Every{}, Tick: tick}))
	assert.Error(t, Validate(Job{Name: "x", Schedule: Every{Interval: time.Second}}))
	assert.NoError(t, Validate(Job{Name: "x", Schedule: Daily{Hour: 2}, Tick: tick}))
}

func TestRunDrivesJobsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fast, started atomic.Int32
	jobs := []Job{
		{
			Name:     "fast",
			Schedule: Every{Interval: 10 * time.Millisecond},
			Tick: func(context.Context, time.Time) error {
				if fast.Add(1) >= 3 {
					cancel()
				}
				return errors.New("logged, not fatal")
			},
		},
		{
			Name:       "daily",
			Schedule:   Daily{Hour: 2},
			RunOnStart: true,
			Tick: func(context.Context, time.Time) error {
				started.Add(1)
				return nil
			},
		},
	}

	done := make(chan error, 1)
	go func() { done <- New(Options{}, zerolog.Nop()).Run(ctx, jobs...) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, fast.Load(), int32(3))
	assert.Equal(t, int32(1), started.Load())
}

func TestRunHonoursStartupDelayCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(Options{StartupDelay: time.Hour}, zerolog.Nop()).Run(ctx, Job{
		Name:     "noop",
		Schedule: Every{Interval: time.Minute},
		Tick:     func(context.Context, time.Time) error { return nil },
	})
	require.ErrorIs(t, err, context.Canceled)
}
