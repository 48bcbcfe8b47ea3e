package drift

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"driftnote/internal/clock"
	"driftnote/internal/eventbus"
	logx "driftnote/pkg/logx"
)

// Scheduler owns the per-entry timer registry and the view state.
//
// Both maps live under one mutex so that supersede (stop old, arm new) is
// atomic with respect to a concurrently firing timer for the same id.
type Scheduler struct {
	mu       sync.Mutex
	cfg      Config
	registry map[string]*pending
	views    map[string]bool
	gen      uint64
	closed   bool

	job *MutationJob
	clk clock.Clock
	log logx.Logger
	bus eventbus.Bus

	// jobs tracks in-flight MutationJobs; Add only happens under mu while !closed.
	jobs       sync.WaitGroup
	inFlight   int
	jobCtx     context.Context
	cancelJobs context.CancelFunc
}

// New constructs a scheduler. It does not start any goroutine; timers are
// armed lazily by Schedule.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Store == nil {
		return nil, ErrNoStore
	}
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:        cfg,
		registry:   map[string]*pending{},
		views:      map[string]bool{},
		clk:        deps.Clock,
		log:        deps.Log,
		bus:        deps.Bus,
		jobCtx:     ctx,
		cancelJobs: cancel,
	}
	s.job = &MutationJob{
		Store:            deps.Store,
		Prefs:            deps.Prefs,
		Oracle:           deps.Oracle,
		Clock:            deps.Clock,
		Log:              deps.Log,
		Viewed:           s.IsViewed,
		WriteWhileViewed: cfg.WriteWhileViewed,
	}
	return s, nil
}

// Schedule (re)arms the drift timer for entryID.
//
// A pending timer for the same id is superseded. If the entry is currently
// viewed nothing is armed. Calls after Shutdown are ignored.
func (s *Scheduler) Schedule(entryID, ownerID string) {
	if entryID == "" {
		return
	}
	req := Request{EntryID: entryID, OwnerID: ownerID}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.log.Debug("schedule ignored; scheduler closed", logx.String("entry", entryID))
		return
	}
	res := s.scheduleLocked(req)
	n := len(s.registry)
	s.mu.Unlock()

	s.reportSchedule(req, res, n)
}

type scheduleResult struct {
	superseded bool
	skipped    bool
	dueAt      time.Time
}

// scheduleLocked implements Schedule. Call with s.mu held.
func (s *Scheduler) scheduleLocked(req Request) scheduleResult {
	var res scheduleResult
	res.superseded = s.stopLocked(req.EntryID)
	if s.views[req.EntryID] {
		res.skipped = true
		return res
	}
	p := s.armLocked(req)
	res.dueAt = p.dueAt
	return res
}

func (s *Scheduler) reportSchedule(req Request, res scheduleResult, n int) {
	if res.superseded {
		s.log.Debug("timer superseded", logx.String("entry", req.EntryID))
		s.publish(EventSuperseded, TimerEvent{EntryID: req.EntryID, OwnerID: req.OwnerID, Pending: n})
	}
	if res.skipped {
		s.log.Debug("schedule skipped; entry is being viewed", logx.String("entry", req.EntryID))
		s.publish(EventSkippedViewed, TimerEvent{EntryID: req.EntryID, OwnerID: req.OwnerID, Pending: n})
		return
	}
	s.log.Debug("timer created",
		logx.String("entry", req.EntryID),
		logx.String("owner", req.OwnerID),
		logx.Time("due", res.dueAt),
	)
	s.publish(EventScheduled, TimerEvent{EntryID: req.EntryID, OwnerID: req.OwnerID, DueAt: res.dueAt, Pending: n})
}

// armLocked installs a fresh timer. Call with s.mu held and no live timer for the id.
func (s *Scheduler) armLocked(req Request) *pending {
	s.gen++
	gen := s.gen
	now := s.clk.Now()
	p := &pending{gen: gen, req: req, armedAt: now, dueAt: now.Add(s.cfg.Delay)}
	p.timer = s.clk.AfterFunc(s.cfg.Delay, func() { s.onFire(req, gen) })
	s.registry[req.EntryID] = p
	return p
}

// stopLocked stops and removes the timer for id. Call with s.mu held.
func (s *Scheduler) stopLocked(id string) bool {
	p, ok := s.registry[id]
	if !ok {
		return false
	}
	_ = p.timer.Stop()
	delete(s.registry, id)
	return true
}

// Cancel stops and forgets the pending timer for entryID, if any.
func (s *Scheduler) Cancel(entryID string) {
	s.mu.Lock()
	removed := s.stopLocked(entryID)
	n := len(s.registry)
	s.mu.Unlock()

	if removed {
		s.log.Debug("timer cancelled", logx.String("entry", entryID))
		s.publish(EventCancelled, TimerEvent{EntryID: entryID, Pending: n})
	}
}

// HasActive reports whether a timer is pending for entryID.
func (s *Scheduler) HasActive(entryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.registry[entryID]
	return ok
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registry)
}

// InFlight returns the number of mutation jobs currently running.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// SetDelay changes the delay for timers armed from now on. Pending timers keep
// their deadline. d <= 0 restores DefaultDelay.
func (s *Scheduler) SetDelay(d time.Duration) {
	if d <= 0 {
		d = DefaultDelay
	}
	s.mu.Lock()
	prev := s.cfg.Delay
	s.cfg.Delay = d
	s.mu.Unlock()
	if prev != d {
		s.log.Info("delay changed", logx.Duration("from", prev), logx.Duration("to", d))
	}
}

// Delay returns the delay applied to newly armed timers.
func (s *Scheduler) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Delay
}

// onFire runs on the timer's goroutine once the delay elapsed.
//
// The registry entry is removed before the job starts. A callback whose
// generation no longer matches (superseded, cancelled or shut down while the
// callback was already scheduled to run) does nothing.
func (s *Scheduler) onFire(req Request, gen uint64) {
	s.mu.Lock()
	p, ok := s.registry[req.EntryID]
	if s.closed || !ok || p.gen != gen {
		s.mu.Unlock()
		s.log.Trace("stale timer callback ignored", logx.String("entry", req.EntryID), logx.Uint64("gen", gen))
		return
	}
	delete(s.registry, req.EntryID)
	n := len(s.registry)
	s.jobs.Add(1)
	s.inFlight++
	ctx := s.jobCtx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
		s.jobs.Done()
	}()

	s.log.Debug("timer fired", logx.String("entry", req.EntryID), logx.String("owner", req.OwnerID))
	s.publish(EventFired, TimerEvent{EntryID: req.EntryID, OwnerID: req.OwnerID, Pending: n})

	res := s.runJob(ctx, req)
	s.publish(EventCompleted, jobEvent(res))
}

// runJob shields the timer goroutine from panics in collaborators.
func (s *Scheduler) runJob(ctx context.Context, req Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Request: req, Outcome: OutcomeFailed, Err: fmt.Errorf("panic in mutation job: %v", r)}
			s.log.Error("mutation job panicked",
				logx.String("entry", req.EntryID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	return s.job.Run(ctx, req)
}

// Shutdown cancels every pending timer and clears the registry and view
// state. Later Schedule calls are ignored and no timer fires afterwards.
//
// It then waits for in-flight jobs until ShutdownGrace or ctx expires,
// whichever comes first, and finally cancels the context those jobs run
// with. Shutdown is idempotent.
func (s *Scheduler) Shutdown(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	n := len(s.registry)
	for id, p := range s.registry {
		_ = p.timer.Stop()
		s.log.Trace("timer deleted (shutdown cleanup)", logx.String("entry", id))
	}
	s.registry = map[string]*pending{}
	s.views = map[string]bool{}
	inFlight := s.inFlight
	grace := s.cfg.ShutdownGrace
	s.mu.Unlock()

	s.log.Info("shutdown cleanup", logx.Int("timers", n), logx.Int("in_flight", inFlight))
	s.publish(EventShutdown, TimerEvent{Pending: 0})

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	select {
	case <-done:
	case <-wctx.Done():
		s.log.Warn("shutdown grace elapsed; abandoning in-flight jobs", logx.Duration("grace", grace))
	}
	s.cancelJobs()
}

// Snapshot returns the pending timers sorted by due time.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Delay:    s.cfg.Delay,
		Closed:   s.closed,
		InFlight: s.inFlight,
		Pending:  make([]PendingInfo, 0, len(s.registry)),
	}
	for _, v := range s.views {
		if v {
			snap.Viewed++
		}
	}
	for _, p := range s.registry {
		snap.Pending = append(snap.Pending, PendingInfo{
			EntryID: p.req.EntryID,
			OwnerID: p.req.OwnerID,
			ArmedAt: p.armedAt,
			DueAt:   p.dueAt,
		})
	}
	s.mu.Unlock()

	sort.Slice(snap.Pending, func(i, j int) bool {
		if !snap.Pending[i].DueAt.Equal(snap.Pending[j].DueAt) {
			return snap.Pending[i].DueAt.Before(snap.Pending[j].DueAt)
		}
		return snap.Pending[i].EntryID < snap.Pending[j].EntryID
	})
	return snap
}
