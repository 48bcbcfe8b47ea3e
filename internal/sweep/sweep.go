// Package sweep periodically samples idle entries and hands them to the
// drift scheduler, so entries that nobody touches still drift.
//
// An entry is a candidate when it has no pending mutation and is not being
// viewed.
package sweep

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"driftnote/internal/notes"
	logx "driftnote/pkg/logx"
)

const (
	DefaultSchedule = "@every 10m"
	DefaultSample   = 5
)

type Config struct {
	Enabled  bool
	Schedule string
	Sample   int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Schedule) == "" {
		c.Schedule = DefaultSchedule
	}
	if c.Sample <= 0 {
		c.Sample = DefaultSample
	}
	return c
}

// Lister enumerates entries. An empty ownerID means every owner.
type Lister interface {
	List(ctx context.Context, ownerID string) ([]notes.Entry, error)
}

// Target is the slice of the drift scheduler the sampler needs.
type Target interface {
	Schedule(entryID, ownerID string)
	HasActive(entryID string) bool
	IsViewed(entryID string) bool
}

// Service runs the sampler on a cron schedule.
type Service struct {
	lister Lister
	target Target
	log    logx.Logger

	mu     sync.Mutex
	cfg    Config
	c      *cron.Cron
	ctx    context.Context
	rng    *rand.Rand
	parser cron.Parser
}

func New(cfg Config, lister Lister, target Target, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		lister: lister,
		target: target,
		log:    log,
		cfg:    cfg.withDefaults(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start begins triggering when the sampler is enabled. Runs stop when ctx
// is done or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if s.c != nil || !s.cfg.Enabled || s.ctx == nil {
		return nil
	}
	sched, err := s.parser.Parse(s.cfg.Schedule)
	if err != nil {
		return fmt.Errorf("sweep schedule %q: %w", s.cfg.Schedule, err)
	}
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx := s.ctx
	c.Schedule(sched, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep failed", logx.Err(err))
		}
	}))
	c.Start()
	s.c = c
	s.log.Info("sweep started", logx.String("schedule", s.cfg.Schedule), logx.Int("sample", s.cfg.Sample))
	return nil
}

// Stop halts triggering and waits for a running sweep until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.ctx = nil
	s.mu.Unlock()
	stopCron(ctx, c)
}

func stopCron(ctx context.Context, c *cron.Cron) {
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply swaps the config, restarting the trigger when enabled or schedule
// changed.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	if cfg.Enabled {
		if _, err := s.parser.Parse(cfg.Schedule); err != nil {
			return fmt.Errorf("sweep schedule %q: %w", cfg.Schedule, err)
		}
	}

	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	if old.Enabled == cfg.Enabled && old.Schedule == cfg.Schedule {
		s.mu.Unlock()
		return nil
	}
	c := s.c
	s.c = nil
	err := s.startLocked()
	s.mu.Unlock()

	// The old cron may be mid-run; do not block the caller on it.
	if c != nil {
		c.Stop()
	}
	s.log.Info("sweep reconfigured", logx.Bool("enabled", cfg.Enabled), logx.String("schedule", cfg.Schedule))
	return err
}

// Running reports whether the cron trigger is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// RunOnce performs one sweep and returns how many entries were scheduled.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	entries, err := s.lister.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list entries: %w", err)
	}

	candidates := make([]notes.Entry, 0, len(entries))
	for _, e := range entries {
		if s.target.HasActive(e.ID) || s.target.IsViewed(e.ID) {
			continue
		}
		candidates = append(candidates, e)
	}

	s.mu.Lock()
	sample := s.cfg.Sample
	if len(candidates) > sample {
		s.rng.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		candidates = candidates[:sample]
	}
	s.mu.Unlock()

	for _, e := range candidates {
		s.target.Schedule(e.ID, e.OwnerID)
	}
	s.log.Debug("sweep done",
		logx.Int("entries", len(entries)),
		logx.Int("scheduled", len(candidates)),
	)
	return len(candidates), nil
}

// cronLogger routes cron's own logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
