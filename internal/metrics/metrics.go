// Package metrics exposes drift scheduler activity to Prometheus.
//
// Metrics:
//
//	driftnote_events_total{type}             counter, one per drift.* bus event
//	driftnote_jobs_total{outcome,rate}       counter, mutation job outcomes
//	driftnote_job_duration_seconds           histogram, mutation job latency
//	driftnote_timers_pending                 gauge, armed timers
//	driftnote_jobs_in_flight                 gauge, running jobs
//	driftnote_bus_dropped_total              counter, events lost to slow subscribers
//
// Useful queries:
//
//	rate(driftnote_jobs_total{outcome="written"}[5m])
//	histogram_quantile(0.95, rate(driftnote_job_duration_seconds_bucket[5m]))
package metrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"driftnote/internal/drift"
	"driftnote/internal/eventbus"
)

const namespace = "driftnote"

// Source supplies the live gauges.
type Source interface {
	Pending() int
	InFlight() int
}

// Collector turns bus events into Prometheus metrics.
type Collector struct {
	events      *prometheus.CounterVec
	jobs        *prometheus.CounterVec
	jobDuration prometheus.Histogram
}

// NewCollector registers every metric on reg. src and bus may be nil, in
// which case their gauges are not registered.
func NewCollector(reg prometheus.Registerer, src Source, bus eventbus.Bus) (*Collector, error) {
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Drift lifecycle events by type",
		}, []string{"type"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Mutation jobs by outcome and change rate",
		}, []string{"outcome", "rate"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Mutation job latency in seconds, oracle call included",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
	}

	cs := []prometheus.Collector{c.events, c.jobs, c.jobDuration}
	if src != nil {
		cs = append(cs,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "timers_pending",
				Help:      "Armed drift timers",
			}, func() float64 { return float64(src.Pending()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_in_flight",
				Help:      "Mutation jobs currently running",
			}, func() float64 { return float64(src.InFlight()) }),
		)
	}
	if bus != nil {
		cs = append(cs, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_total",
			Help:      "Events dropped because a subscriber was full",
		}, func() float64 { return float64(bus.Dropped()) }))
	}
	for _, m := range cs {
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return c, nil
}

// Observe records one bus event. Non-drift events are ignored.
func (c *Collector) Observe(e eventbus.Event) {
	if !strings.HasPrefix(e.Type, "drift.") {
		return
	}
	c.events.WithLabelValues(strings.TrimPrefix(e.Type, "drift.")).Inc()
	if e.Type != drift.EventCompleted {
		return
	}
	je, ok := e.Data.(drift.JobEvent)
	if !ok {
		return
	}
	rate := je.Rate
	if rate == "" {
		rate = "unknown"
	}
	c.jobs.WithLabelValues(string(je.Outcome), rate).Inc()
	c.jobDuration.Observe(je.Duration.Seconds())
}

// Run consumes ch until it closes or ctx is done.
func (c *Collector) Run(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}
