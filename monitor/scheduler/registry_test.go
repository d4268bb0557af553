package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lookout-hq/lookout/monitor/store"
)

func testEndpoint(id string, freqMinutes int) *store.Endpoint {
	return &store.Endpoint{
		ID:               id,
		WorkspaceID:      "ws-1",
		WorkspaceName:    "Production",
		UserID:           "user-1",
		Name:             "api " + id,
		URL:              "https://example.com/" + id,
		Method:           "GET",
		ExpectedStatus:   200,
		TimeoutSeconds:   10,
		FrequencyMinutes: freqMinutes,
		IsActive:         true,
	}
}

func newTestRegistry(now time.Time) *Registry {
	r := NewRegistry(5000, zerolog.Nop())
	r.now = func() time.Time { return now }
	return r
}

func TestRegistryLoadSeedsSchedule(t *testing.T) {
	mem := store.NewMemory()
	mem.AddEndpoint(testEndpoint("ep-1", 5))
	mem.AddEndpoint(testEndpoint("ep-2", 1))
	inactive := testEndpoint("ep-3", 5)
	inactive.IsActive = false
	mem.AddEndpoint(inactive)

	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	r := newTestRegistry(base)
	if err := r.Load(context.Background(), mem); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 active endpoints, got %d", r.Len())
	}

	next, ok := r.NextCheckTime("ep-1")
	if !ok {
		t.Fatal("ep-1 not tracked")
	}
	if want := base.Add(5 * time.Minute); !next.Equal(want) {
		t.Fatalf("ep-1 next check: want %v, got %v", want, next)
	}
	next, _ = r.NextCheckTime("ep-2")
	if want := base.Add(1 * time.Minute); !next.Equal(want) {
		t.Fatalf("ep-2 next check: want %v, got %v", want, next)
	}
}

func TestRegistryOnCreateFirstCheckSoon(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	r := newTestRegistry(base)
	r.OnCreate(testEndpoint("ep-1", 30))

	next, ok := r.NextCheckTime("ep-1")
	if !ok {
		t.Fatal("ep-1 not tracked")
	}
	if want := base.Add(newEndpointLeadTime); !next.Equal(want) {
		t.Fatalf("first check: want %v, got %v", want, next)
	}
}

func TestSnapshotDueAdvancesSchedule(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	r := newTestRegistry(base)
	r.OnCreate(testEndpoint("ep-1", 5))

	// Not yet due.
	if due := r.SnapshotDue(base.Add(5 * time.Second)); len(due) != 0 {
		t.Fatalf("expected nothing due, got %d", len(due))
	}

	dueAt := base.Add(15 * time.Second)
	due := r.SnapshotDue(dueAt)
	if len(due) != 1 || due[0].EndpointID != "ep-1" {
		t.Fatalf("expected ep-1 due, got %v", due)
	}

	// The same instant must not yield the endpoint twice: the snapshot
	// advanced its schedule inside the same lock hold.
	if again := r.SnapshotDue(dueAt); len(again) != 0 {
		t.Fatalf("endpoint queued twice: %v", again)
	}

	next, _ := r.NextCheckTime("ep-1")
	if want := dueAt.Add(5 * time.Minute); !next.Equal(want) {
		t.Fatalf("advanced schedule: want %v, got %v", want, next)
	}
}

func TestSnapshotDueSkipsInactive(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	r := newTestRegistry(base)
	r.OnCreate(testEndpoint("ep-1", 5))

	active := false
	r.OnUpdate("ep-1", EndpointPatch{IsActive: &active})

	if due := r.SnapshotDue(base.Add(time.Hour)); len(due) != 0 {
		t.Fatalf("inactive endpoint scheduled: %v", due)
	}
}

func TestOnUpdateFrequencyChangeReschedules(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	r := newTestRegistry(base)
	r.OnCreate(testEndpoint("ep-1", 5))

	before, _ := r.NextCheckTime("ep-1")

	// A name-only update leaves the schedule alone.
	name := "renamed"
	r.OnUpdate("ep-1", EndpointPatch{Name: &name})
	after, _ := r.NextCheckTime("ep-1")
	if !after.Equal(before) {
		t.Fatalf("non-frequency update moved schedule: %v -> %v", before, after)
	}

	freq := 2
	r.OnUpdate("ep-1", EndpointPatch{FrequencyMinutes: &freq})
	after, _ = r.NextCheckTime("ep-1")
	if want := base.Add(2 * time.Minute); !after.Equal(want) {
		t.Fatalf("frequency update: want %v, got %v", want, after)
	}

	ep, _ := r.Get("ep-1")
	if ep.Name != "renamed" || ep.FrequencyMinutes != 2 {
		t.Fatalf("patch not applied: %+v", ep)
	}
}

func TestOnDeleteAndEvict(t *testing.T) {
	base := time.Now()
	r := newTestRegistry(base)
	r.OnCreate(testEndpoint("ep-1", 5))
	r.OnCreate(testEndpoint("ep-2", 5))

	r.OnDelete("ep-1")
	if _, ok := r.Get("ep-1"); ok {
		t.Fatal("ep-1 still tracked after delete")
	}

	r.Evict("ep-2")
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}

	// Unknown ids are tolerated.
	r.OnDelete("missing")
	r.Evict("missing")
}

func TestSetConsecutiveFailures(t *testing.T) {
	r := newTestRegistry(time.Now())
	r.OnCreate(testEndpoint("ep-1", 5))

	r.SetConsecutiveFailures("ep-1", 4)
	ep, _ := r.Get("ep-1")
	if ep.ConsecutiveFailures != 4 {
		t.Fatalf("expected 4 failures, got %d", ep.ConsecutiveFailures)
	}

	r.SetConsecutiveFailures("ep-1", 0)
	ep, _ = r.Get("ep-1")
	if ep.ConsecutiveFailures != 0 {
		t.Fatalf("expected reset to 0, got %d", ep.ConsecutiveFailures)
	}
}
