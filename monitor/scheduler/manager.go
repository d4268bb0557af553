package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lookout-hq/lookout/monitor/config"
	"github.com/lookout-hq/lookout/monitor/store"
)

// Manager owns the engine lifecycle: it assembles the registry, health
// monitor, queue, prober, loop and worker pool, and starts and stops them
// in order.
type Manager struct {
	cfg      config.Config
	store    store.Store
	notifier FailureNotifier
	log      zerolog.Logger

	registry *Registry
	queue    *CheckQueue
	health   *HealthMonitor
	prober   *Prober
	loop     *Loop
	pool     *Pool

	mu          sync.Mutex
	initialized bool
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewManager creates an unstarted manager.
func NewManager(cfg config.Config, st store.Store, notifier FailureNotifier, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    st,
		notifier: notifier,
		log:      log,
	}
}

// Initialize builds the components and performs the one-time bulk endpoint
// load. It must be called once before Start.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return errors.New("scheduler already initialized")
	}

	m.health = NewHealthMonitor(
		m.store,
		m.cfg.HealthCheckInterval,
		m.cfg.FailureThreshold,
		m.cfg.SuccessThreshold,
		m.cfg.QueueOverwhelmedSize,
		m.cfg.QueueWarningSize,
		m.log.With().Str("component", "health").Logger(),
	)

	m.registry = NewRegistry(m.cfg.CacheWarningSize, m.log.With().Str("component", "registry").Logger())
	if err := m.registry.Load(ctx, m.store); err != nil {
		return fmt.Errorf("loading endpoints: %w", err)
	}

	m.queue = NewCheckQueue(0)
	m.prober = NewProber(m.cfg.WorkerCount, m.cfg.HTTPTimeout)
	m.loop = NewLoop(m.registry, m.queue, m.health, m.cfg.SchedulerInterval,
		m.log.With().Str("component", "loop").Logger())
	m.pool = NewPool(m.registry, m.queue, m.prober, m.store, m.notifier,
		m.cfg.WorkerCount, m.cfg.RetryDelay,
		m.log.With().Str("component", "worker").Logger())

	m.initialized = true
	m.log.Info().
		Int("endpoints", m.registry.Len()).
		Int("workers", m.cfg.WorkerCount).
		Dur("interval", m.cfg.SchedulerInterval).
		Msg("scheduler initialized")
	return nil
}

// Start launches the worker pool and the scheduling loop.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return errors.New("scheduler not initialized")
	}
	if m.running {
		return errors.New("scheduler already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	m.pool.Start(ctx)
	go func() {
		defer close(m.done)
		m.loop.Run(ctx)
	}()

	m.running = true
	m.log.Info().Msg("scheduler started")
	return nil
}

// Stop halts scheduling, waits for in-flight checks to finish or the grace
// period to elapse, and releases the probe client.
func (m *Manager) Stop(grace time.Duration) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done

	drained := make(chan struct{})
	go func() {
		m.pool.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(grace):
		m.log.Warn().Dur("grace", grace).Msg("workers did not drain within grace period")
	}

	m.prober.Close()
	m.log.Info().Msg("scheduler stopped")
}

// GetStatus returns the engine's introspection snapshot.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		Running:     m.running,
		Initialized: m.initialized,
		WorkerCount: m.cfg.WorkerCount,
	}
	if m.initialized {
		s.EndpointCount = m.registry.Len()
		s.QueueSize = m.queue.Len()
		s.Health = m.health.Status()
	}
	return s
}

// ForceHealthCheck runs an immediate breaker sample, bypassing the interval.
func (m *Manager) ForceHealthCheck(ctx context.Context) HealthStatus {
	m.mu.Lock()
	hm := m.health
	m.mu.Unlock()
	if hm == nil {
		return HealthStatus{}
	}
	hm.ForceCheck(ctx)
	return hm.Status()
}

// NotifyEndpointCreated registers a new endpoint for scheduling.
func (m *Manager) NotifyEndpointCreated(ep *store.Endpoint) {
	if r := m.reg(); r != nil {
		r.OnCreate(ep)
	}
}

// NotifyEndpointUpdated applies changed fields to a tracked endpoint.
func (m *Manager) NotifyEndpointUpdated(id string, patch EndpointPatch) {
	if r := m.reg(); r != nil {
		r.OnUpdate(id, patch)
	}
	m.invalidate(id)
}

// NotifyEndpointDeleted stops scheduling an endpoint.
func (m *Manager) NotifyEndpointDeleted(id string) {
	if r := m.reg(); r != nil {
		r.OnDelete(id)
	}
	m.invalidate(id)
}

func (m *Manager) reg() *Registry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry
}

// endpointInvalidator is implemented by the cached store; the raw store has
// nothing to invalidate.
type endpointInvalidator interface {
	InvalidateEndpoint(ctx context.Context, endpointID string)
}

func (m *Manager) invalidate(id string) {
	if inv, ok := m.store.(endpointInvalidator); ok {
		inv.InvalidateEndpoint(context.Background(), id)
	}
}
