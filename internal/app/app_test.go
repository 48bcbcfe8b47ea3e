package app

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftnote/internal/clock"
	"driftnote/internal/config"
	"driftnote/internal/notes"
	"driftnote/internal/storage"
)

type countingOracle struct {
	mu    sync.Mutex
	calls []notes.ChangeRate
}

func (o *countingOracle) Mutate(_ context.Context, title, content string, r notes.ChangeRate) (string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, r)
	return title, content + " (drifted)"
}

func (o *countingOracle) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

const baseConfig = `
logging: { level: error, console: true }
drift: { delay: 60s, shutdown_grace: 1s }
storage: { driver: memory }
oracle: { provider: passthrough }
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "driftd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

type fixture struct {
	app    *App
	clk    *clock.Fake
	oracle *countingOracle
}

func newFixture(t *testing.T, cfg string) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Time{})
	or := &countingOracle{}
	a, err := NewApp(writeConfig(t, cfg), WithClock(clk), WithOracle(or), WithStore(storage.NewMemory()))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return &fixture{app: a, clk: clk, oracle: or}
}

func TestActivityLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, baseConfig)
	act := f.app.Activity()
	ctx := context.Background()
	sched := f.app.Scheduler()

	e, err := act.CreateEntry(ctx, notes.Entry{OwnerID: "u1", Title: "Day one", Content: "the sky was blue"})
	require.NoError(t, err)
	require.NotEmpty(t, e.ID)
	assert.True(t, sched.HasActive(e.ID))

	// Opening suspends the timer; nothing fires.
	_, err = act.OpenEntry(ctx, "u1", e.ID)
	require.NoError(t, err)
	assert.False(t, sched.HasActive(e.ID))
	f.clk.Advance(2 * time.Minute)
	assert.Zero(t, f.oracle.count())

	// Closing restarts the full delay.
	act.EntryClosed(e.ID, "u1")
	f.clk.Advance(59 * time.Second)
	assert.Zero(t, f.oracle.count())
	f.clk.Advance(time.Second)
	assert.Equal(t, 1, f.oracle.count())
	assert.False(t, sched.HasActive(e.ID))

	got, err := f.app.Store().Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "the sky was blue (drifted)", got.Content)
	assert.Equal(t, "Day one", got.Title)

	require.NoError(t, act.EditEntry(ctx, "u1", e.ID, "Day one", "rewritten"))
	assert.True(t, sched.HasActive(e.ID))

	require.NoError(t, act.DeleteEntry(ctx, "u1", e.ID))
	assert.False(t, sched.HasActive(e.ID))
	_, err = f.app.Store().Get(ctx, e.ID)
	assert.ErrorIs(t, err, notes.ErrNotFound)
	f.clk.Advance(time.Hour)
	assert.Equal(t, 1, f.oracle.count())
}

func TestActivityOwnerCheck(t *testing.T) {
	t.Parallel()

	f := newFixture(t, baseConfig)
	act := f.app.Activity()
	ctx := context.Background()

	e, err := act.CreateEntry(ctx, notes.Entry{OwnerID: "u1", Title: "t", Content: "c"})
	require.NoError(t, err)

	assert.ErrorIs(t, act.EditEntry(ctx, "u2", e.ID, "t", "x"), ErrNotOwner)
	_, err = act.OpenEntry(ctx, "u2", e.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.ErrorIs(t, act.DeleteEntry(ctx, "u2", e.ID), ErrNotOwner)
	assert.True(t, f.app.Scheduler().HasActive(e.ID), "foreign calls leave the timer alone")

	_, err = act.CreateEntry(ctx, notes.Entry{OwnerID: "u1"})
	assert.ErrorIs(t, err, storage.ErrInvalidEntry)
}

func TestPreferenceFlowsToOracle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, baseConfig)
	ctx := context.Background()
	require.NoError(t, f.app.Store().SetChangeRate(ctx, "u1", notes.RateHigh))

	_, err := f.app.Activity().CreateEntry(ctx, notes.Entry{OwnerID: "u1", Title: "t", Content: "c"})
	require.NoError(t, err)
	f.clk.Advance(time.Minute)

	f.oracle.mu.Lock()
	defer f.oracle.mu.Unlock()
	assert.Equal(t, []notes.ChangeRate{notes.RateHigh}, f.oracle.calls)
}

func TestApplyConfigHotReload(t *testing.T) {
	t.Parallel()

	f := newFixture(t, baseConfig)
	require.NoError(t, f.app.Start(context.Background()))

	prev := f.app.cfgm.Get()
	next, err := config.Decode("x.yaml", []byte(baseConfig+"sweep: { enabled: true, schedule: \"@hourly\" }\n"))
	require.NoError(t, err)
	next.Drift.Delay = "30s"

	f.app.applyConfig(prev, next)
	assert.Equal(t, 30*time.Second, f.app.Scheduler().Delay())
	assert.True(t, f.app.sweep.Running())
}

func TestStartServesMetrics(t *testing.T) {
	t.Parallel()

	f := newFixture(t, baseConfig+"metrics: { enabled: true, addr: \"127.0.0.1:0\" }\n")
	require.NoError(t, f.app.Start(context.Background()))
	f.app.Activity().EntryCreated("n1", "u1")

	addr := f.app.metrics.Addr()
	require.NotEmpty(t, addr)
	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "driftnote_timers_pending 1")
}

func TestStopDropsPendingAndClosesStore(t *testing.T) {
	t.Parallel()

	f := newFixture(t, baseConfig)
	require.NoError(t, f.app.Start(context.Background()))
	f.app.Activity().EntryCreated("n1", "u1")

	require.NoError(t, f.app.Stop(context.Background()))
	assert.Zero(t, f.app.Scheduler().Pending())
	assert.Zero(t, f.clk.Pending())
	_, err := f.app.Store().Get(context.Background(), "n1")
	assert.ErrorIs(t, err, storage.ErrClosed)
	<-f.app.Done()
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := NewApp(writeConfig(t, "drift: { delay: soon }\n"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "drift.delay"))

	_, err = NewApp(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// openFiles lists the targets of this process's open descriptors.
func openFiles(t *testing.T) []string {
	t.Helper()
	fds, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skip("no /proc/self/fd on this platform")
	}
	var out []string
	for _, fd := range fds {
		if target, err := os.Readlink(filepath.Join("/proc/self/fd", fd.Name())); err == nil {
			out = append(out, target)
		}
	}
	return out
}

func TestNewAppFailureClosesLogFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "driftd.log")
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	cfg := "logging: { level: info, file: { enabled: true, path: " + logPath + " } }\n" +
		"storage: { driver: sqlite, path: " + filepath.Join(blocker, "x.db") + " }\n" +
		"oracle: { provider: passthrough }\n"
	_, err := NewApp(writeConfig(t, cfg))
	require.Error(t, err)

	_, statErr := os.Stat(logPath)
	require.NoError(t, statErr, "log file was opened")
	assert.NotContains(t, openFiles(t), logPath)
}
