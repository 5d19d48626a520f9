// Package sched is the lease-based cooperative scheduler: many logical jobs,
// a fixed worker pool, at-most-one firing per job across the deployment.
package sched

import (
	"context"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/metrics"
	"github.com/astroquant/confluence/internal/persistence"
)

// DefaultDrainTimeout bounds how long running handlers get after shutdown.
const DefaultDrainTimeout = 30 * time.Second

// queueDepth bounds triggers waiting for a worker.
const queueDepth = 256

// Job is one scheduled unit of work. Handlers must be idempotent: a lease
// expiring mid-run lets the next owner re-fire.
type Job struct {
	Name     string
	Cadence  time.Duration
	Jitter   time.Duration
	LeaseTTL time.Duration
	Handler  func(ctx context.Context) error
}

type jobState struct {
	Job

	mu      sync.Mutex
	pending bool
	running bool
	lastRun time.Time
	lastErr string
	lastDur time.Duration
}

// JobHealth is one job's scheduling snapshot for the health surface.
type JobHealth struct {
	Name         string        `json:"name"`
	Cadence      time.Duration `json:"cadence"`
	Running      bool          `json:"running"`
	Pending      bool          `json:"pending"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
}

// Scheduler dispatches registered jobs to a worker pool. Overlapping triggers
// of one job coalesce to a single pending run; cross-process exclusion is by
// lease rows in the store.
type Scheduler struct {
	leases  persistence.LeaseRepo
	metrics *metrics.Registry
	ownerID string
	workers int
	drain   time.Duration

	queue chan *jobState
	jobs  []*jobState
	wg    sync.WaitGroup
}

// New creates a scheduler. workers <= 0 takes the CPU count.
func New(leases persistence.LeaseRepo, reg *metrics.Registry, workers int, drain time.Duration) *Scheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}
	return &Scheduler{
		leases:  leases,
		metrics: reg,
		ownerID: uuid.NewString(),
		workers: workers,
		drain:   drain,
		queue:   make(chan *jobState, queueDepth),
	}
}

// Register adds jobs before Run. Jobs without a lease TTL default to twice
// their cadence, capped at ten minutes.
func (s *Scheduler) Register(jobs ...Job) {
	for _, j := range jobs {
		if j.LeaseTTL <= 0 {
			j.LeaseTTL = 2 * j.Cadence
			if j.LeaseTTL > 10*time.Minute {
				j.LeaseTTL = 10 * time.Minute
			}
		}
		s.jobs = append(s.jobs, &jobState{Job: j})
	}
}

// OwnerID is this process's lease identity.
func (s *Scheduler) OwnerID() string { return s.ownerID }

// Health returns a snapshot of every job, sorted by name.
func (s *Scheduler) Health() []JobHealth {
	out := make([]JobHealth, 0, len(s.jobs))
	for _, js := range s.jobs {
		js.mu.Lock()
		out = append(out, JobHealth{
			Name:         js.Name,
			Cadence:      js.Cadence,
			Running:      js.running,
			Pending:      js.pending,
			LastRun:      js.lastRun,
			LastDuration: js.lastDur,
			LastError:    js.lastErr,
		})
		js.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run starts the worker pool and cron triggers, fires every job once
// immediately, and blocks until ctx is cancelled. Running handlers then get
// the drain timeout before their context is cut.
func (s *Scheduler) Run(ctx context.Context) error {
	// Handlers outlive ctx by the drain window so shutdown is graceful.
	handlerCtx, cancelHandlers := context.WithCancel(context.Background())
	defer cancelHandlers()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, handlerCtx)
	}

	c := cron.New()
	for _, js := range s.jobs {
		js := js
		c.Schedule(cron.Every(js.Cadence), cron.FuncJob(func() { s.trigger(js) }))
		s.trigger(js)
	}
	c.Start()
	log.Info().
		Int("jobs", len(s.jobs)).
		Int("workers", s.workers).
		Str("owner_id", s.ownerID).
		Msg("Scheduler started")

	<-ctx.Done()
	cronStop := c.Stop()
	<-cronStop.Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("Scheduler drained")
	case <-time.After(s.drain):
		cancelHandlers()
		log.Warn().Dur("drain", s.drain).Msg("Scheduler drain timeout, abandoning handlers")
		<-done
	}
	return ctx.Err()
}

// trigger marks the job pending and queues it. A job already pending or
// running coalesces to the existing run.
func (s *Scheduler) trigger(js *jobState) {
	js.mu.Lock()
	if js.pending || js.running {
		js.mu.Unlock()
		s.metrics.ObserveCoalesced(js.Name)
		return
	}
	js.pending = true
	js.mu.Unlock()

	select {
	case s.queue <- js:
	default:
		js.mu.Lock()
		js.pending = false
		js.mu.Unlock()
		log.Warn().Str("job", js.Name).Msg("Scheduler queue full, dropping trigger")
	}
}

func (s *Scheduler) worker(ctx, handlerCtx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case js := <-s.queue:
			s.run(handlerCtx, js)
		}
	}
}

// run takes the lease and executes the handler under a hard deadline of
// min(leaseTTL, 2*cadence).
func (s *Scheduler) run(handlerCtx context.Context, js *jobState) {
	js.mu.Lock()
	js.pending = false
	js.running = true
	js.mu.Unlock()
	defer func() {
		js.mu.Lock()
		js.running = false
		js.mu.Unlock()
	}()

	if js.Jitter > 0 {
		select {
		case <-handlerCtx.Done():
			return
		case <-time.After(time.Duration(rand.Int63n(int64(js.Jitter)))):
		}
	}

	ok, err := s.leases.Acquire(handlerCtx, js.Name, s.ownerID, js.LeaseTTL)
	if err != nil {
		log.Error().Err(err).Str("job", js.Name).Msg("Lease acquisition failed")
		return
	}
	if !ok {
		log.Debug().Str("job", js.Name).Msg("Lease held elsewhere, skipping")
		return
	}
	defer func() {
		if err := s.leases.Release(context.Background(), js.Name, s.ownerID); err != nil {
			log.Warn().Err(err).Str("job", js.Name).Msg("Lease release failed")
		}
	}()

	deadline := js.LeaseTTL
	if d := 2 * js.Cadence; d < deadline {
		deadline = d
	}
	runCtx, cancel := context.WithTimeout(handlerCtx, deadline)
	defer cancel()

	start := time.Now()
	runErr := js.Handler(runCtx)
	elapsed := time.Since(start)

	s.metrics.ObserveJob(js.Name, elapsed, runErr)
	js.mu.Lock()
	js.lastRun = start
	js.lastDur = elapsed
	if runErr != nil {
		js.lastErr = runErr.Error()
	} else {
		js.lastErr = ""
	}
	js.mu.Unlock()

	if runErr != nil {
		log.Error().Err(runErr).Str("job", js.Name).Dur("elapsed", elapsed).Msg("Job failed")
		return
	}
	log.Debug().Str("job", js.Name).Dur("elapsed", elapsed).Msg("Job completed")
}
