package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 2 * time.Second

func stats(t *testing.T, s *Scheduler, name string) TaskStats {
	t.Helper()
	st, ok := s.TaskStats(name)
	require.True(t, ok)
	return st
}

func TestScheduler_TicksOnInterval(t *testing.T) {
	mock := clock.NewMock()
	s := New(WithClock(mock))
	var runs atomic.Int32
	require.NoError(t, s.Add(Task{Name: "fast", Interval: time.Minute, Run: func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	mock.Add(time.Minute)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, eventually, time.Millisecond)
	mock.Add(time.Minute)
	require.Eventually(t, func() bool { return runs.Load() == 2 }, eventually, time.Millisecond)
}

func TestScheduler_OverlappingTickIsSkipped(t *testing.T) {
	mock := clock.NewMock()
	s := New(WithClock(mock))
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, s.Add(Task{Name: "fast", Interval: time.Minute, Run: func(ctx context.Context) error {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}}))
	require.NoError(t, s.Start(context.Background()))

	mock.Add(time.Minute)
	select {
	case <-started:
	case <-time.After(eventually):
		t.Fatal("first tick never started")
	}

	mock.Add(time.Minute)
	require.Eventually(t, func() bool { return stats(t, s, "fast").Skipped == 1 }, eventually, time.Millisecond)

	err := s.RunNow(context.Background(), "fast")
	assert.ErrorIs(t, err, ErrTickInProgress)
	assert.Equal(t, int64(2), stats(t, s, "fast").Skipped)

	close(release)
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, int64(1), stats(t, s, "fast").Runs)
}

func TestScheduler_TasksAreIndependent(t *testing.T) {
	s := New()
	release := make(chan struct{})
	require.NoError(t, s.Add(Task{Name: "slow", Interval: time.Hour, Run: func(ctx context.Context) error {
		<-release
		return nil
	}}))
	require.NoError(t, s.Add(Task{Name: "fast", Interval: time.Minute, Run: func(ctx context.Context) error {
		return nil
	}}))

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	require.Eventually(t, func() bool { return stats(t, s, "slow").Running }, eventually, time.Millisecond)

	assert.NoError(t, s.RunNow(context.Background(), "fast"), "a running slow tick does not block the fast tick")

	close(release)
	assert.NoError(t, <-done)
}

func TestScheduler_FailuresAndPanicsAreRecovered(t *testing.T) {
	s := New()
	var calls atomic.Int32
	require.NoError(t, s.Add(Task{Name: "flaky", Interval: time.Minute, Run: func(ctx context.Context) error {
		switch calls.Add(1) {
		case 1:
			return errors.New("store unavailable")
		case 2:
			panic("nil map")
		}
		return nil
	}}))

	err := s.RunNow(context.Background(), "flaky")
	assert.EqualError(t, err, "store unavailable")

	err = s.RunNow(context.Background(), "flaky")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	assert.NoError(t, s.RunNow(context.Background(), "flaky"))

	st := stats(t, s, "flaky")
	assert.Equal(t, int64(3), st.Runs)
	assert.Equal(t, int64(2), st.Failures)
	assert.Empty(t, st.LastError)
}

func TestScheduler_StopDrainsInFlightTick(t *testing.T) {
	mock := clock.NewMock()
	s := New(WithClock(mock), WithShutdownTimeout(eventually))
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, s.Add(Task{Name: "fast", Interval: time.Minute, Run: func(ctx context.Context) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	}}))
	require.NoError(t, s.Start(context.Background()))

	mock.Add(time.Minute)
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight tick finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)
	assert.True(t, finished.Load())

	assert.ErrorIs(t, s.RunNow(context.Background(), "fast"), ErrStopped)
}

func TestScheduler_StopAbandonsAfterTimeout(t *testing.T) {
	s := New(WithShutdownTimeout(50 * time.Millisecond))
	var cancelled atomic.Bool
	require.NoError(t, s.Add(Task{Name: "stuck", Interval: time.Minute, Run: func(ctx context.Context) error {
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}}))
	require.NoError(t, s.Start(context.Background()))

	// fire the tick directly; the real clock would take a minute
	task := s.tasks["stuck"]
	s.fire(task)
	require.Eventually(t, func() bool { return stats(t, s, "stuck").Running }, eventually, time.Millisecond)

	err := s.Stop(context.Background())
	assert.ErrorIs(t, err, ErrShutdownTimeout)
	require.Eventually(t, cancelled.Load, eventually, time.Millisecond)
}

func TestScheduler_AddValidation(t *testing.T) {
	s := New()
	run := func(ctx context.Context) error { return nil }

	assert.Error(t, s.Add(Task{Interval: time.Minute, Run: run}))
	assert.Error(t, s.Add(Task{Name: "x", Run: run}))
	require.NoError(t, s.Add(Task{Name: "x", Interval: time.Minute, Run: run}))
	assert.Error(t, s.Add(Task{Name: "x", Interval: time.Minute, Run: run}))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Add(Task{Name: "y", Interval: time.Minute, Run: run}), ErrStarted)
	assert.ErrorIs(t, s.RunNow(context.Background(), "nope"), ErrUnknownTask)
	require.NoError(t, s.Stop(context.Background()))
}
