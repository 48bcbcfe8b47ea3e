package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go0("boom", func(context.Context) { panic("kaput") })
	err := s.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom: panic: kaput")
	assert.Equal(t, Counters{Active: 0, Started: 1}, s.Counters())
}

func TestCanceledIsClean(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, s.Stop(context.Background()))
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(context.Context) error { return errors.New("nope") })
	s.Go("waits", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	err := s.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fails: nope")
}

func TestWaitHonoursContext(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	release := make(chan struct{})
	s.Go0("stuck", func(context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, s.Wait(context.Background()))
}

func TestGoRestart(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	require.NoError(t, s.Wait(context.Background()))
	assert.Equal(t, int32(3), runs.Load())
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("broken", func(context.Context) error {
		runs.Add(1)
		panic("always")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	err := s.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gave up after 2 restarts")
	assert.Equal(t, int32(3), runs.Load())
}
