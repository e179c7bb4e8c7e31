package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avoronov/gitpulse/internal/apperrors"
)

func TestScheduler_RunsDueJobs(t *testing.T) {
	s := New(slog.Default(), WithTick(10*time.Millisecond))

	var runs atomic.Int32
	s.Register("counter", 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 2 },
		2*time.Second, 10*time.Millisecond)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "counter", jobs[0].Name)
	assert.False(t, jobs[0].LastRun.IsZero())
	assert.Empty(t, jobs[0].LastError)
}

func TestScheduler_FailingJobStaysRegistered(t *testing.T) {
	s := New(slog.Default(), WithTick(10*time.Millisecond))

	var runs atomic.Int32
	s.Register("flaky", 15*time.Millisecond, func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("boom")
		}
		return nil
	})

	s.Start(context.Background())
	defer s.Stop()

	// Fails once, then fires again at its next tick and recovers.
	require.Eventually(t, func() bool { return runs.Load() >= 2 },
		2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return s.Jobs()[0].LastError == ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_PanickingJobIsCaught(t *testing.T) {
	s := New(slog.Default(), WithTick(10*time.Millisecond))

	s.Register("panicky", time.Hour, func(ctx context.Context) error {
		panic("unexpected")
	})

	err := s.RunJob(context.Background(), "panicky")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Contains(t, jobs[0].LastError, "panic")
}

func TestScheduler_RunJobOutOfBand(t *testing.T) {
	s := New(slog.Default())

	var runs atomic.Int32
	s.Register("manual", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	// Loop not started; out-of-band execution works anyway.
	require.NoError(t, s.RunJob(context.Background(), "manual"))
	assert.Equal(t, int32(1), runs.Load())

	err := s.RunJob(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrJobNotFound)
}

func TestScheduler_UpdateJobSchedule(t *testing.T) {
	s := New(slog.Default())

	s.Register("job", time.Hour, func(ctx context.Context) error { return nil })

	require.NoError(t, s.UpdateJobSchedule("job", time.Minute))
	assert.Equal(t, time.Minute, s.Jobs()[0].Interval)

	assert.ErrorIs(t, s.UpdateJobSchedule("missing", time.Minute), apperrors.ErrJobNotFound)
	assert.ErrorIs(t, s.UpdateJobSchedule("job", 0), apperrors.ErrInvalidRequest)
}

func TestScheduler_StartStopRestart(t *testing.T) {
	s := New(slog.Default(), WithTick(10*time.Millisecond))
	ctx := context.Background()

	assert.False(t, s.Running())

	s.Start(ctx)
	assert.True(t, s.Running())

	// Idempotent start.
	s.Start(ctx)
	assert.True(t, s.Running())

	s.Stop()
	assert.False(t, s.Running())

	// Idempotent stop.
	s.Stop()

	s.Restart(ctx)
	assert.True(t, s.Running())
	s.Stop()
}
