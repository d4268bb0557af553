package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lookout-hq/lookout/monitor/observability"
	"github.com/lookout-hq/lookout/monitor/store"
)

// newEndpointLeadTime is how soon after creation a new endpoint gets its
// first check, regardless of its configured frequency.
const newEndpointLeadTime = 10 * time.Second

// entry is one registry slot: the effective endpoint config plus its
// scheduling state.
type entry struct {
	endpoint  store.Endpoint
	nextCheck time.Time
}

// Registry is the in-memory source of truth for what to probe and when.
// It is populated once from persistence at startup; afterwards it changes
// only through event notifications from the REST layer and through worker
// write-backs. A single mutex serializes all access, including the due-scan.
type Registry struct {
	mu              sync.Mutex
	entries         map[string]*entry
	cacheWarnSize   int
	log             zerolog.Logger
	now             func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(cacheWarnSize int, log zerolog.Logger) *Registry {
	return &Registry{
		entries:       make(map[string]*entry),
		cacheWarnSize: cacheWarnSize,
		log:           log,
		now:           time.Now,
	}
}

// Load performs the one-time bulk read of active endpoints. Each entry is
// seeded with next_check_time = now + frequency so a restart does not probe
// the whole fleet at once.
func (r *Registry) Load(ctx context.Context, st store.Store) error {
	endpoints, err := st.SelectActiveEndpoints(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, ep := range endpoints {
		r.entries[ep.ID] = &entry{
			endpoint:  *ep,
			nextCheck: now.Add(frequency(ep.FrequencyMinutes)),
		}
	}
	observability.RegistrySize.Set(float64(len(r.entries)))
	r.log.Info().Int("count", len(r.entries)).Msg("loaded endpoints from database")
	return nil
}

// OnCreate inserts a new endpoint and schedules its first check shortly.
func (r *Registry) OnCreate(ep *store.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[ep.ID] = &entry{
		endpoint:  *ep,
		nextCheck: r.now().Add(newEndpointLeadTime),
	}
	observability.RegistrySize.Set(float64(len(r.entries)))
	r.log.Info().
		Str("endpoint_id", ep.ID).
		Str("endpoint_name", ep.Name).
		Dur("first_check_in", newEndpointLeadTime).
		Msg("endpoint registered")

	if len(r.entries) > r.cacheWarnSize {
		r.log.Warn().
			Int("registry_size", len(r.entries)).
			Int("threshold", r.cacheWarnSize).
			Msg("registry size exceeds soft cap")
	}
}

// EndpointPatch carries the changed fields of an update event. Nil fields
// are left untouched.
type EndpointPatch struct {
	Name                *string
	URL                 *string
	Method              *string
	Headers             map[string]string
	Body                *string
	ExpectedStatus      *int
	TimeoutSeconds      *int
	FrequencyMinutes    *int
	IsActive            *bool
	ConsecutiveFailures *int
}

// OnUpdate applies a patch to an existing entry. A frequency change
// reschedules the next check from now; everything else leaves the schedule
// alone, so repeated identical updates are no-ops on next_check_time.
func (r *Registry) OnUpdate(id string, patch EndpointPatch) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		r.log.Warn().Str("endpoint_id", id).Msg("update for unknown endpoint")
		return
	}

	if patch.Name != nil {
		e.endpoint.Name = *patch.Name
	}
	if patch.URL != nil {
		e.endpoint.URL = *patch.URL
	}
	if patch.Method != nil {
		e.endpoint.Method = *patch.Method
	}
	if patch.Headers != nil {
		e.endpoint.Headers = patch.Headers
	}
	if patch.Body != nil {
		e.endpoint.Body = *patch.Body
	}
	if patch.ExpectedStatus != nil {
		e.endpoint.ExpectedStatus = *patch.ExpectedStatus
	}
	if patch.TimeoutSeconds != nil {
		e.endpoint.TimeoutSeconds = *patch.TimeoutSeconds
	}
	if patch.IsActive != nil {
		e.endpoint.IsActive = *patch.IsActive
	}
	if patch.ConsecutiveFailures != nil {
		e.endpoint.ConsecutiveFailures = *patch.ConsecutiveFailures
	}
	if patch.FrequencyMinutes != nil {
		e.endpoint.FrequencyMinutes = *patch.FrequencyMinutes
		e.nextCheck = r.now().Add(frequency(*patch.FrequencyMinutes))
	}

	r.log.Info().Str("endpoint_id", id).Str("endpoint_name", e.endpoint.Name).Msg("endpoint updated")
}

// OnDelete removes an entry. An in-flight probe for the id finishes on its
// own; its persistence attempt resolves via the foreign-key path.
func (r *Registry) OnDelete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		delete(r.entries, id)
		observability.RegistrySize.Set(float64(len(r.entries)))
		r.log.Info().Str("endpoint_id", id).Str("endpoint_name", e.endpoint.Name).Msg("endpoint removed")
		return
	}
	r.log.Warn().Str("endpoint_id", id).Msg("delete for unknown endpoint")
}

// SnapshotDue returns the active entries due at now and advances each
// returned entry's next check to now + frequency in the same critical
// section, so an endpoint can never be queued twice concurrently.
func (r *Registry) SnapshotDue(now time.Time) []CheckTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []CheckTask
	for id, e := range r.entries {
		if !e.endpoint.IsActive {
			continue
		}
		if e.nextCheck.After(now) {
			continue
		}
		due = append(due, CheckTask{EndpointID: id, ScheduledAt: e.nextCheck})
		e.nextCheck = now.Add(frequency(e.endpoint.FrequencyMinutes))
	}
	return due
}

// Get returns a copy of the endpoint config, and whether it exists.
func (r *Registry) Get(id string) (store.Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return store.Endpoint{}, false
	}
	return e.endpoint, true
}

// Evict drops an entry whose database row turned out to be gone.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		delete(r.entries, id)
		observability.RegistrySize.Set(float64(len(r.entries)))
		r.log.Debug().Str("endpoint_id", id).Msg("evicted stale endpoint")
	}
}

// SetConsecutiveFailures is the worker's write-back after persisting an
// outcome.
func (r *Registry) SetConsecutiveFailures(id string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.endpoint.ConsecutiveFailures = n
	}
}

// NextCheckTime exposes an entry's schedule for tests and introspection.
func (r *Registry) NextCheckTime(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.nextCheck, true
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func frequency(minutes int) time.Duration {
	if minutes < 1 {
		minutes = 5
	}
	return time.Duration(minutes) * time.Minute
}
