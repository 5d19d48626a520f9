package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/astroquant/confluence/internal/alerts"
	"github.com/astroquant/confluence/internal/config"
	"github.com/astroquant/confluence/internal/confluence"
	"github.com/astroquant/confluence/internal/cycles"
	"github.com/astroquant/confluence/internal/db"
	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/ingest"
	"github.com/astroquant/confluence/internal/layers"
	"github.com/astroquant/confluence/internal/metrics"
)

// Components holds everything the job set is built from.
type Components struct {
	Config    *config.Config
	Manager   *db.Manager
	Producers *layers.Registry
	Engine    *confluence.Engine
	Alerts    *alerts.Engine
	Tracker   *cycles.Tracker
	Ingestors []ingest.Ingestor
	Metrics   *metrics.Registry

	// OnComposite, when set, observes every freshly fused row (for streaming).
	OnComposite func(row *domain.CompositeScore)
}

// BuildJobs assembles the full job set: ingestors, per-layer producers,
// per-pair confluence (with alert edge evaluation inline), the proximity
// sweep, cycle outcome scoring and partition maintenance.
func BuildJobs(c Components) []Job {
	var jobs []Job

	for _, ing := range c.Ingestors {
		ing := ing
		jobs = append(jobs, Job{
			Name:    "ingest." + ing.Name(),
			Cadence: ing.Interval(),
			Jitter:  5 * time.Second,
			Handler: func(ctx context.Context) error {
				rows, err := ing.Poll(ctx)
				c.Metrics.ObserveIngest(ing.Name(), rows, err)
				return err
			},
		})
	}

	for _, p := range c.Producers.All() {
		jobs = append(jobs, producerJobs(c, p)...)
	}

	jobs = append(jobs, confluenceJobs(c)...)

	jobs = append(jobs,
		Job{
			Name:    "alerts.proximity",
			Cadence: time.Hour,
			Jitter:  10 * time.Second,
			Handler: func(ctx context.Context) error {
				c.Alerts.EvaluateProximity(ctx, time.Now().UTC())
				return nil
			},
		},
		Job{
			Name:    "cycles.outcomes",
			Cadence: 24 * time.Hour,
			Handler: func(ctx context.Context) error {
				return c.Tracker.EvaluateOutcomes(ctx, time.Now().UTC())
			},
		},
		Job{
			Name:     "db.partitions",
			Cadence:  24 * time.Hour,
			LeaseTTL: 5 * time.Minute,
			Handler: func(ctx context.Context) error {
				now := time.Now().UTC()
				return c.Manager.EnsurePartitions(ctx, now, now.AddDate(0, 3, 0))
			},
		},
	)

	return jobs
}

// producerJobs expands one producer into scheduler jobs: per (symbol,
// timeframe) for TA, per symbol for the other scoped layers, a single job
// for global layers.
func producerJobs(c Components, p layers.Producer) []Job {
	run := func(symbol string, tf domain.Timeframe) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			start := time.Now()
			res := p.Produce(ctx, symbol, tf, time.Now().UTC())
			c.Metrics.ObserveProducer(string(p.Layer()), time.Since(start), res.Degraded)
			if !res.WroteRow {
				return fmt.Errorf("produce wrote no row: %s", res.Reason)
			}
			return nil
		}
	}

	if !p.Scoped() {
		return []Job{{
			Name:    fmt.Sprintf("produce.%s", p.Layer()),
			Cadence: p.Cadence(),
			Jitter:  5 * time.Second,
			Handler: run("", ""),
		}}
	}

	var jobs []Job
	for _, sc := range c.Config.Symbols {
		if p.Layer() == domain.LayerTA {
			for _, tf := range sc.Timeframes {
				jobs = append(jobs, Job{
					Name:    fmt.Sprintf("produce.%s.%s.%s", p.Layer(), sc.Symbol, tf),
					Cadence: tf.Duration(),
					Jitter:  5 * time.Second,
					Handler: run(sc.Symbol, tf),
				})
			}
			continue
		}
		jobs = append(jobs, Job{
			Name:    fmt.Sprintf("produce.%s.%s", p.Layer(), sc.Symbol),
			Cadence: p.Cadence(),
			Jitter:  5 * time.Second,
			Handler: run(sc.Symbol, ""),
		})
	}
	return jobs
}

// confluenceJobs builds one fuse job per (symbol, timeframe). Each waits the
// configured post-delay so producer writes firing on the same tick commit
// first, then feeds the new row to the alert engine.
func confluenceJobs(c Components) []Job {
	delay := c.Config.Scheduler.ConfluenceDelay

	var jobs []Job
	for _, sc := range c.Config.Symbols {
		for _, tf := range sc.Timeframes {
			symbol, tf := sc.Symbol, tf
			jobs = append(jobs, Job{
				Name:    fmt.Sprintf("confluence.%s.%s", symbol, tf),
				Cadence: tf.Duration(),
				Handler: func(ctx context.Context) error {
					if delay > 0 {
						select {
						case <-ctx.Done():
							return ctx.Err()
						case <-time.After(delay):
						}
					}
					row, err := c.Engine.ComputeComposite(ctx, symbol, tf, time.Now().UTC())
					if err != nil {
						return err
					}
					c.Metrics.ObserveComposite(symbol, string(tf), row.Composite)
					if c.OnComposite != nil {
						c.OnComposite(row)
					}
					return c.Alerts.OnComposite(ctx, row)
				},
			})
		}
	}
	return jobs
}
