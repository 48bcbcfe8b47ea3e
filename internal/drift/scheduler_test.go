package drift

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftnote/internal/notes"
)

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, Deps{})
	require.ErrorIs(t, err, ErrNoStore)
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	assert.Equal(t, DefaultDelay, h.s.Delay())
	assert.Equal(t, DefaultShutdownGrace, h.s.cfg.ShutdownGrace)
}

func TestEndToEndMediumRate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: 60 * time.Second}, notes.Entry{ID: "n1", OwnerID: "u1", Title: "Walk", Content: "blue sky"})
	h.prefs.set("u1", notes.RateMedium)

	h.s.Schedule("n1", "u1")
	require.True(t, h.s.HasActive("n1"))

	h.clk.Advance(59 * time.Second)
	assert.Equal(t, 0, h.oracle.count(), "nothing fires before the delay")

	h.clk.Advance(time.Second)

	gets, updates := h.store.snapshot()
	assert.Equal(t, []string{"n1"}, gets)
	assert.Equal(t, []string{"u1"}, h.prefs.calls)
	require.Len(t, h.oracle.calls, 1)
	assert.Equal(t, oracleCall{title: "Walk", content: "blue sky", rate: notes.RateMedium}, h.oracle.calls[0])
	assert.Equal(t, []update{{id: "n1", title: "Walk", content: "blue sky (drifted)"}}, updates)
	assert.False(t, h.s.HasActive("n1"))
}

func TestScheduleTwiceOnlySecondFires(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: time.Minute}, entry("n1", "u1"))

	h.s.Schedule("n1", "u1")
	h.clk.Advance(30 * time.Second)
	h.s.Schedule("n1", "u1")
	assert.Equal(t, 1, h.clk.Pending(), "superseded timer is stopped")

	h.clk.Advance(30 * time.Second)
	assert.Equal(t, 0, h.oracle.count(), "first timer never runs")

	h.clk.Advance(30 * time.Second)
	assert.Equal(t, 1, h.oracle.count())
	assert.False(t, h.s.HasActive("n1"))
}

func TestBackToBackScheduleFiresOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: time.Minute}, entry("n1", "u1"))

	h.s.Schedule("n1", "u1")
	h.s.Schedule("n1", "u1")
	h.clk.Advance(10 * time.Minute)

	assert.Equal(t, 1, h.oracle.count())
}

func TestMarkViewedSuppressesFire(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: time.Minute}, entry("n1", "u1"))

	h.s.Schedule("n1", "u1")
	h.s.MarkViewed("n1")
	assert.False(t, h.s.HasActive("n1"))

	h.clk.Advance(time.Minute)
	assert.Equal(t, 0, h.oracle.count())
	assert.False(t, h.s.HasActive("n1"))

	// Activity while viewed does not arm anything either.
	h.s.Schedule("n1", "u1")
	assert.False(t, h.s.HasActive("n1"))
	h.clk.Advance(time.Hour)
	assert.Equal(t, 0, h.oracle.count())
}

func TestMarkUnviewedRestartsFullDelay(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: time.Minute}, entry("n1", "u1"))

	h.s.Schedule("n1", "u1")
	h.clk.Advance(40 * time.Second)
	h.s.MarkViewed("n1")
	h.clk.Advance(10 * time.Second)
	h.s.MarkUnviewed("n1", "u1")
	require.True(t, h.s.HasActive("n1"))
	assert.False(t, h.s.IsViewed("n1"))

	h.clk.Advance(59 * time.Second)
	assert.Equal(t, 0, h.oracle.count(), "remaining 20s of the old countdown is not used")

	h.clk.Advance(time.Second)
	assert.Equal(t, 1, h.oracle.count())
}

func TestFireForDeletedEntry(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: time.Minute}, entry("n1", "u1"))
	events, unsub := h.bus.Subscribe(16, EventCompleted)
	defer unsub()

	h.s.Schedule("n1", "u1")
	h.store.delete("n1")
	h.clk.Advance(time.Minute)

	_, updates := h.store.snapshot()
	assert.Empty(t, updates)
	assert.Equal(t, 0, h.oracle.count())
	assert.False(t, h.s.HasActive("n1"))

	e := <-events
	assert.Equal(t, OutcomeVanished, e.Data.(JobEvent).Outcome)
}

func TestCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: time.Minute}, entry("n1", "u1"))

	h.s.Cancel("missing")
	h.s.Schedule("n1", "u1")
	h.s.Cancel("n1")
	assert.False(t, h.s.HasActive("n1"))
	assert.Equal(t, 0, h.clk.Pending())

	h.clk.Advance(time.Hour)
	assert.Equal(t, 0, h.oracle.count())
}

func TestShutdownCancelsAllPending(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: time.Minute})
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("n%d", i)
		ids = append(ids, id)
		h.s.Schedule(id, "u1")
	}
	h.s.MarkViewed("viewed")
	require.Equal(t, 5, h.s.Pending())

	h.s.Shutdown(context.Background())
	h.s.Shutdown(context.Background())

	for _, id := range ids {
		assert.False(t, h.s.HasActive(id), id)
	}
	assert.False(t, h.s.IsViewed("viewed"), "view state is cleared")
	assert.Equal(t, 0, h.clk.Pending())

	h.s.Schedule("n0", "u1")
	assert.False(t, h.s.HasActive("n0"), "schedule after shutdown is a no-op")

	h.clk.Advance(time.Hour)
	assert.Equal(t, 0, h.oracle.count())
	assert.True(t, h.s.Snapshot().Closed)
}

func TestStaleCallbackIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: time.Minute}, entry("n1", "u1"))

	h.s.Schedule("n1", "u1")
	oldGen := h.s.registry["n1"].gen
	h.s.Schedule("n1", "u1")

	// A callback that raced past Stop must not run the job or drop the fresh timer.
	h.s.onFire(Request{EntryID: "n1", OwnerID: "u1"}, oldGen)
	assert.Equal(t, 0, h.oracle.count())
	assert.True(t, h.s.HasActive("n1"))

	h.clk.Advance(time.Minute)
	assert.Equal(t, 1, h.oracle.count())
}

func TestRescheduleAfterFireInstallsFreshTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: time.Minute}, entry("n1", "u1"))
	h.oracle.hook = func() { h.s.Schedule("n1", "u1") }

	h.s.Schedule("n1", "u1")
	h.clk.Advance(time.Minute)

	assert.Equal(t, 1, h.oracle.count())
	assert.True(t, h.s.HasActive("n1"), "schedule during the job wins")
}

func TestPreferenceResolvedAtFireTime(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: time.Minute}, entry("n1", "u1"))
	h.prefs.set("u1", notes.RateLow)

	h.s.Schedule("n1", "u1")
	h.prefs.set("u1", notes.RateHigh)
	h.clk.Advance(time.Minute)

	require.Len(t, h.oracle.calls, 1)
	assert.Equal(t, notes.RateHigh, h.oracle.calls[0].rate)
}

func TestViewedMidFireDiscardsResult(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: time.Minute}, entry("n1", "u1"))
	h.oracle.hook = func() { h.s.MarkViewed("n1") }

	h.s.Schedule("n1", "u1")
	h.clk.Advance(time.Minute)

	_, updates := h.store.snapshot()
	assert.Equal(t, 1, h.oracle.count())
	assert.Empty(t, updates)
}

func TestViewedMidFireWritesWhenAllowed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: time.Minute, WriteWhileViewed: true}, entry("n1", "u1"))
	h.oracle.hook = func() { h.s.MarkViewed("n1") }

	h.s.Schedule("n1", "u1")
	h.clk.Advance(time.Minute)

	_, updates := h.store.snapshot()
	assert.Len(t, updates, 1)
}

func TestPersistenceFailureClearsRegistry(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: time.Minute}, entry("n1", "u1"))
	h.store.updateErr = errBoom
	events, unsub := h.bus.Subscribe(16, EventCompleted)
	defer unsub()

	h.s.Schedule("n1", "u1")
	h.clk.Advance(time.Minute)

	assert.False(t, h.s.HasActive("n1"))
	assert.Equal(t, 0, h.clk.Pending(), "no retry is armed")
	e := (<-events).Data.(JobEvent)
	assert.Equal(t, OutcomeFailed, e.Outcome)
	assert.Contains(t, e.Error, "boom")
}

func TestPanickingOracleDoesNotCrash(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: time.Minute}, entry("n1", "u1"))
	h.oracle.hook = func() { panic("oracle exploded") }

	h.s.Schedule("n1", "u1")
	assert.NotPanics(t, func() { h.clk.Advance(time.Minute) })
	assert.False(t, h.s.HasActive("n1"))

	h.oracle.hook = nil
	h.s.Schedule("n1", "u1")
	h.clk.Advance(time.Minute)
	assert.Equal(t, 2, h.oracle.count())
}

func TestEventSequence(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: time.Minute}, entry("n1", "u1"))
	events, unsub := h.bus.Subscribe(32)
	defer unsub()

	h.s.Schedule("n1", "u1")
	h.s.Schedule("n1", "u1")
	h.clk.Advance(time.Minute)

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []string{EventScheduled, EventSuperseded, EventScheduled, EventFired, EventCompleted}, types)
}

func TestEmptyIDIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.s.Schedule("", "u1")
	h.s.MarkViewed("")
	h.s.MarkUnviewed("", "u1")
	assert.Equal(t, 0, h.s.Pending())
	assert.Equal(t, 0, h.clk.Pending())
}

func TestSetDelayAppliesToNewTimersOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: time.Minute}, entry("n1", "u1"), entry("n2", "u1"))

	h.s.Schedule("n1", "u1")
	h.s.SetDelay(10 * time.Second)
	h.s.Schedule("n2", "u1")

	h.clk.Advance(10 * time.Second)
	_, updates := h.store.snapshot()
	require.Len(t, updates, 1)
	assert.Equal(t, "n2", updates[0].id)
	assert.True(t, h.s.HasActive("n1"))

	h.s.SetDelay(0)
	assert.Equal(t, DefaultDelay, h.s.Delay())
}

func TestSnapshotSortedByDue(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Delay: time.Minute})
	h.s.Schedule("b", "u1")
	h.clk.Advance(time.Second)
	h.s.Schedule("a", "u2")
	h.s.MarkViewed("c")

	snap := h.s.Snapshot()
	require.Len(t, snap.Pending, 2)
	assert.Equal(t, "b", snap.Pending[0].EntryID)
	assert.Equal(t, "a", snap.Pending[1].EntryID)
	assert.Equal(t, "u2", snap.Pending[1].OwnerID)
	assert.Equal(t, 1, snap.Viewed)
	assert.Equal(t, time.Minute, snap.Delay)
}

// Random operation sequences never leave an armed timer the registry does
// not know about, nor a registry entry without a live timer.
func TestRegistryMatchesLiveTimers(t *testing.T) {
	t.Parallel()
	ids := []string{"a", "b", "c", "d"}
	var all []notes.Entry
	for _, id := range ids {
		all = append(all, entry(id, "u1"))
	}
	h := newHarness(t, Config{Delay: 10 * time.Second}, all...)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(5) {
		case 0:
			h.s.Schedule(id, "u1")
		case 1:
			h.s.Cancel(id)
		case 2:
			h.s.MarkViewed(id)
		case 3:
			h.s.MarkUnviewed(id, "u1")
		case 4:
			h.clk.Advance(time.Duration(rng.Intn(12)) * time.Second)
		}
		require.Equal(t, h.clk.Pending(), h.s.Pending(), "step %d", i)
		if h.s.IsViewed(id) {
			require.False(t, h.s.HasActive(id), "viewed entry %s has a timer at step %d", id, i)
		}
	}
}

func TestConcurrentCallersRealClock(t *testing.T) {
	t.Parallel()
	store := newFakeStore(entry("n1", "u1"), entry("n2", "u1"), entry("n3", "u1"))
	oracle := &recordingOracle{}
	s, err := New(Config{Delay: time.Millisecond}, Deps{Store: store, Oracle: oracle})
	require.NoError(t, err)

	ids := []string{"n1", "n2", "n3"}
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := ids[(g+i)%len(ids)]
				switch i % 4 {
				case 0, 1:
					s.Schedule(id, "u1")
				case 2:
					s.MarkViewed(id)
				case 3:
					s.MarkUnviewed(id, "u1")
				}
			}
		}(g)
	}
	wg.Wait()

	// Leave every view so each id ends with a timer, then let them drain.
	for _, id := range ids {
		s.MarkUnviewed(id, "u1")
	}
	require.Eventually(t, func() bool { return s.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	s.Shutdown(context.Background())
	assert.GreaterOrEqual(t, oracle.count(), len(ids))
}

func TestShutdownWaitsForInFlightJob(t *testing.T) {
	t.Parallel()
	store := newFakeStore(entry("n1", "u1"))
	started := make(chan struct{})
	release := make(chan struct{})
	oracle := notes.OracleFunc(func(_ context.Context, title, content string, _ notes.ChangeRate) (string, string) {
		close(started)
		<-release
		return title, content
	})
	s, err := New(Config{Delay: time.Millisecond, ShutdownGrace: 5 * time.Second}, Deps{Store: store, Oracle: oracle})
	require.NoError(t, err)

	s.Schedule("n1", "u1")
	<-started

	done := make(chan struct{})
	go func() {
		s.Shutdown(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("shutdown returned while a job was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return after the job finished")
	}
	_, updates := store.snapshot()
	assert.Len(t, updates, 1, "in-flight job completes during shutdown")
}

func TestShutdownGraceCancelsJobContext(t *testing.T) {
	t.Parallel()
	store := newFakeStore(entry("n1", "u1"))
	started := make(chan struct{})
	cancelled := make(chan struct{})
	oracle := notes.OracleFunc(func(ctx context.Context, title, content string, _ notes.ChangeRate) (string, string) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return title, content
	})
	s, err := New(Config{Delay: time.Millisecond, ShutdownGrace: 20 * time.Millisecond}, Deps{Store: store, Oracle: oracle})
	require.NoError(t, err)

	s.Schedule("n1", "u1")
	<-started
	s.Shutdown(context.Background())

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not cancelled after the grace period")
	}
}
