// Package app wires the drift daemon: config, logging, storage, oracle,
// scheduler, sweep and metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"driftnote/internal/clock"
	"driftnote/internal/config"
	"driftnote/internal/drift"
	"driftnote/internal/eventbus"
	"driftnote/internal/metrics"
	"driftnote/internal/notes"
	"driftnote/internal/oracle"
	rtsup "driftnote/internal/runtime/supervisor"
	"driftnote/internal/storage"
	"driftnote/internal/sweep"
	logx "driftnote/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sched    *drift.Scheduler
	sweep    *sweep.Service
	activity *Activity

	registry  *prometheus.Registry
	collector *metrics.Collector
	metrics   *metrics.Server

	sup *rtsup.Supervisor
}

type options struct {
	clock  clock.Clock
	oracle notes.Oracle
	store  storage.Store
}

type Option func(*options)

// WithClock replaces the wall clock used by the scheduler.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithOracle replaces the configured oracle.
func WithOracle(or notes.Oracle) Option { return func(o *options) { o.oracle = or } }

// WithStore replaces the configured store. The app takes ownership and
// closes it on Stop.
func WithStore(s storage.Store) Option { return func(o *options) { o.store = s } }

// NewApp loads cfgPath and builds every component. Nothing runs until Start.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(mapLogging(cfg))
	built := false
	defer func() {
		if !built {
			_ = logSvc.Close()
		}
	}()
	appLog := log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	store := o.store
	if store == nil {
		sc, err := MapStorage(cfg)
		if err != nil {
			return nil, err
		}
		store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		appLog.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	or := o.oracle
	if or == nil {
		oc, err := mapOracle(cfg)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		or = oracle.New(oc, log.With(logx.String("comp", "oracle")))
	}

	dc, err := mapDrift(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched, err := drift.New(dc, drift.Deps{
		Store:  store,
		Prefs:  store,
		Oracle: or,
		Clock:  o.clock,
		Log:    log.With(logx.String("comp", "drift")),
		Bus:    bus,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	coll, err := metrics.NewCollector(reg, sched, bus)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgm:      cfgm,
		log:       appLog,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		sched:     sched,
		sweep:     sweep.New(mapSweep(cfg), store, sched, log.With(logx.String("comp", "sweep"))),
		activity:  NewActivity(sched, store),
		registry:  reg,
		collector: coll,
	}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewServer(mapMetrics(cfg), reg, log.With(logx.String("comp", "metrics")))
	}
	built = true
	return a, nil
}

func (a *App) Activity() *Activity            { return a.activity }
func (a *App) Scheduler() *drift.Scheduler    { return a.sched }
func (a *App) Store() storage.Store           { return a.store }
func (a *App) Bus() eventbus.Bus              { return a.bus }
func (a *App) Registry() *prometheus.Registry { return a.registry }
func (a *App) Logger() logx.Logger            { return a.log }

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the background loops: event consumers, config watch with hot
// reload, the sweep trigger and the metrics endpoint.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	events, unsubMetrics := a.bus.Subscribe(256, "drift.")
	a.sup.Go0("metrics.collect", func(c context.Context) {
		defer unsubMetrics()
		a.collector.Run(c, events)
	})

	debugEvents, unsubDebug := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsubDebug()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-debugEvents:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, rtsup.WithRestartBackoff(time.Second, 30*time.Second))

	if err := a.sweep.Start(c); err != nil {
		return err
	}
	if a.metrics != nil {
		if err := a.metrics.Start(c); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}
	a.log.Info("app started", logx.Duration("delay", a.sched.Delay()))
	return nil
}

// applyConfig hot-applies what can change at runtime and flags the rest.
func (a *App) applyConfig(prev, next *config.Config) {
	ch := config.SummarizeChange(prev, next)
	if len(ch.Sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)

	if ch.Has("logging") {
		a.logs.Apply(mapLogging(next))
	}
	if ch.Has("drift") {
		if dc, err := mapDrift(next); err != nil {
			a.log.Warn("invalid drift config; keeping previous", logx.Err(err))
		} else {
			a.sched.SetDelay(dc.Delay)
		}
	}
	if ch.Has("sweep") {
		if err := a.sweep.Apply(mapSweep(next)); err != nil {
			a.log.Warn("invalid sweep config; keeping previous", logx.Err(err))
		}
	}
	for _, s := range ch.Restart {
		a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
	}
}

// Stop shuts everything down in reverse order. Pending drifts are dropped.
func (a *App) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	a.log.Info("stopping")

	a.sweep.Stop(ctx)
	a.sched.Shutdown(ctx)

	var errs []error
	if a.metrics != nil {
		if err := a.metrics.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	a.log.Info("stopped", logx.Duration("took", time.Since(start)))
	_ = a.logs.Close()
	return errors.Join(errs...)
}
