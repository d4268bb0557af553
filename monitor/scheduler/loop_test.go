package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lookout-hq/lookout/monitor/store"
)

func TestCycleEnqueuesDueEndpoints(t *testing.T) {
	mem := store.NewMemory()
	hm := newTestHealthMonitor(t, mem, 3, 3)

	base := time.Now().Add(-time.Hour)
	reg := newTestRegistry(base)
	reg.OnCreate(testEndpoint("ep-1", 5))
	reg.OnCreate(testEndpoint("ep-2", 5))
	reg.now = time.Now

	q := NewCheckQueue(10)
	l := NewLoop(reg, q, hm, 30*time.Second, zerolog.Nop())

	l.cycle(context.Background())
	if q.Len() != 2 {
		t.Fatalf("expected 2 queued checks, got %d", q.Len())
	}

	// Both schedules advanced; an immediate second cycle queues nothing.
	l.cycle(context.Background())
	if q.Len() != 2 {
		t.Fatalf("second cycle re-queued endpoints, queue len %d", q.Len())
	}
}

func TestCycleSkipsWhenUnhealthy(t *testing.T) {
	mem := store.NewMemory()
	mem.ConnectivityErr = errors.New("connection refused")
	hm := newTestHealthMonitor(t, mem, 1, 1)
	hm.ForceCheck(context.Background())

	reg := newTestRegistry(time.Now().Add(-time.Hour))
	reg.OnCreate(testEndpoint("ep-1", 5))
	reg.now = time.Now

	q := NewCheckQueue(10)
	l := NewLoop(reg, q, hm, 30*time.Second, zerolog.Nop())

	l.cycle(context.Background())
	if q.Len() != 0 {
		t.Fatalf("unhealthy cycle still queued %d checks", q.Len())
	}
}

func TestCycleSkipsWhenQueueOverwhelmed(t *testing.T) {
	mem := store.NewMemory()
	hm := newTestHealthMonitor(t, mem, 3, 3)
	hm.overwhelmedSize = 2
	hm.warningSize = 1

	reg := newTestRegistry(time.Now().Add(-time.Hour))
	reg.OnCreate(testEndpoint("ep-1", 5))
	reg.now = time.Now

	q := NewCheckQueue(10)
	q.Push(CheckTask{EndpointID: "stuck-1"})
	q.Push(CheckTask{EndpointID: "stuck-2"})

	l := NewLoop(reg, q, hm, 30*time.Second, zerolog.Nop())
	l.cycle(context.Background())
	if q.Len() != 2 {
		t.Fatalf("overwhelmed cycle still queued checks, len %d", q.Len())
	}

	// ep-1 stays due for the next healthy cycle.
	next, _ := reg.NextCheckTime("ep-1")
	if next.After(time.Now()) {
		t.Fatal("skipped cycle must not advance schedules")
	}
}
