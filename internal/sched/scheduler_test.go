package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroquant/confluence/internal/metrics"
)

type leaseEntry struct {
	owner   string
	expires time.Time
}

// fakeLeases is an in-memory lease table with expiry semantics.
type fakeLeases struct {
	mu       sync.Mutex
	held     map[string]leaseEntry
	acquires int
	releases int
}

func newFakeLeases() *fakeLeases {
	return &fakeLeases{held: make(map[string]leaseEntry)}
}

func (f *fakeLeases) Acquire(_ context.Context, jobName, ownerID string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if cur, ok := f.held[jobName]; ok && cur.owner != ownerID && cur.expires.After(time.Now()) {
		return false, nil
	}
	f.held[jobName] = leaseEntry{owner: ownerID, expires: time.Now().Add(ttl)}
	return true, nil
}

func (f *fakeLeases) Renew(_ context.Context, jobName, ownerID string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.held[jobName]
	if !ok || cur.owner != ownerID {
		return errors.New("lease lost")
	}
	f.held[jobName] = leaseEntry{owner: ownerID, expires: time.Now().Add(ttl)}
	return nil
}

func (f *fakeLeases) Release(_ context.Context, jobName, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	if cur, ok := f.held[jobName]; ok && cur.owner == ownerID {
		delete(f.held, jobName)
	}
	return nil
}

func TestRegisterDefaultsLeaseTTL(t *testing.T) {
	s := New(newFakeLeases(), metrics.NewRegistry(), 1, time.Second)
	s.Register(
		Job{Name: "fast", Cadence: time.Minute},
		Job{Name: "slow", Cadence: time.Hour},
		Job{Name: "custom", Cadence: time.Minute, LeaseTTL: 5 * time.Minute},
	)

	assert.Equal(t, 2*time.Minute, s.jobs[0].LeaseTTL)
	assert.Equal(t, 10*time.Minute, s.jobs[1].LeaseTTL, "default TTL caps at ten minutes")
	assert.Equal(t, 5*time.Minute, s.jobs[2].LeaseTTL)
}

func TestRunExecutesAndReleasesLease(t *testing.T) {
	leases := newFakeLeases()
	s := New(leases, metrics.NewRegistry(), 1, time.Second)

	ran := 0
	s.Register(Job{
		Name:    "score-ta",
		Cadence: time.Minute,
		Handler: func(context.Context) error { ran++; return nil },
	})

	s.run(context.Background(), s.jobs[0])
	assert.Equal(t, 1, ran)
	assert.Equal(t, 1, leases.acquires)
	assert.Equal(t, 1, leases.releases)

	health := s.Health()
	require.Len(t, health, 1)
	assert.False(t, health[0].LastRun.IsZero())
	assert.Empty(t, health[0].LastError)
}

func TestRunSkipsWhenLeaseHeldElsewhere(t *testing.T) {
	leases := newFakeLeases()
	leases.held["score-ta"] = leaseEntry{owner: "other-process", expires: time.Now().Add(time.Hour)}
	s := New(leases, metrics.NewRegistry(), 1, time.Second)

	ran := 0
	s.Register(Job{
		Name:    "score-ta",
		Cadence: time.Minute,
		Handler: func(context.Context) error { ran++; return nil },
	})

	s.run(context.Background(), s.jobs[0])
	assert.Zero(t, ran, "a live foreign lease blocks the handler")
	assert.Zero(t, leases.releases)
}

func TestRunTakesExpiredLease(t *testing.T) {
	leases := newFakeLeases()
	leases.held["score-ta"] = leaseEntry{owner: "dead-process", expires: time.Now().Add(-time.Minute)}
	s := New(leases, metrics.NewRegistry(), 1, time.Second)

	ran := 0
	s.Register(Job{
		Name:    "score-ta",
		Cadence: time.Minute,
		Handler: func(context.Context) error { ran++; return nil },
	})

	s.run(context.Background(), s.jobs[0])
	assert.Equal(t, 1, ran)
}

func TestRunRecordsHandlerError(t *testing.T) {
	s := New(newFakeLeases(), metrics.NewRegistry(), 1, time.Second)
	s.Register(Job{
		Name:    "score-macro",
		Cadence: time.Minute,
		Handler: func(context.Context) error { return errors.New("fred unreachable") },
	})

	s.run(context.Background(), s.jobs[0])
	health := s.Health()
	require.Len(t, health, 1)
	assert.Equal(t, "fred unreachable", health[0].LastError)
}

func TestTriggerCoalesces(t *testing.T) {
	s := New(newFakeLeases(), metrics.NewRegistry(), 1, time.Second)
	s.Register(Job{Name: "score-ta", Cadence: time.Minute, Handler: func(context.Context) error { return nil }})
	js := s.jobs[0]

	s.trigger(js)
	require.Len(t, s.queue, 1)

	// A second trigger while one is pending queues nothing.
	s.trigger(js)
	assert.Len(t, s.queue, 1)

	// Same while running.
	<-s.queue
	js.mu.Lock()
	js.pending = false
	js.running = true
	js.mu.Unlock()
	s.trigger(js)
	assert.Empty(t, s.queue)
}

func TestRunFiresJobsImmediatelyAndDrains(t *testing.T) {
	leases := newFakeLeases()
	s := New(leases, metrics.NewRegistry(), 2, time.Second)

	fired := make(chan string, 2)
	handler := func(name string) func(context.Context) error {
		return func(context.Context) error {
			fired <- name
			return nil
		}
	}
	s.Register(
		Job{Name: "a", Cadence: time.Hour, Handler: handler("a")},
		Job{Name: "b", Cadence: time.Hour, Handler: handler("b")},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case name := <-fired:
			seen[name] = true
		case <-time.After(5 * time.Second):
			t.Fatal("jobs did not fire on startup")
		}
	}
	assert.True(t, seen["a"] && seen["b"])

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not drain")
	}
}
