package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/lookout-hq/lookout/monitor/observability"
	"github.com/lookout-hq/lookout/monitor/store"
)

// defaultProbeURLs are tried in order by the internet subcheck; the first
// successful response proves outbound connectivity.
var defaultProbeURLs = []string{
	"https://httpbin.org/status/200",
	"https://httpstat.us/200",
	"https://www.google.com",
}

const dbCheckTimeout = 5 * time.Second

// HealthMonitor is the circuit breaker guarding the scheduling loop. It
// samples database and internet connectivity, flips state only after a run
// of consecutive samples crosses the configured threshold, and rate-limits
// the actual sampling so callers can ask on every tick.
type HealthMonitor struct {
	store     store.Store
	client    *http.Client
	limiter   *rate.Limiter
	probeURLs []string
	log       zerolog.Logger

	failureThreshold int
	successThreshold int
	overwhelmedSize  int
	warningSize      int
	interval         time.Duration

	mu                   sync.Mutex
	healthy              bool
	consecutiveFailures  int
	consecutiveSuccesses int
	lastCheck            time.Time
	lastFailureReason    string
}

// NewHealthMonitor builds a breaker that starts healthy. The internet
// subcheck gets its own small client so probe traffic and health traffic
// never share a pool.
func NewHealthMonitor(st store.Store, interval time.Duration, failureThreshold, successThreshold, overwhelmedSize, warningSize int, log zerolog.Logger) *HealthMonitor {
	transport := &http.Transport{
		MaxIdleConns:    5,
		MaxConnsPerHost: 2,
	}
	m := &HealthMonitor{
		store: st,
		client: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second,
		},
		limiter:          rate.NewLimiter(rate.Every(interval), 1),
		probeURLs:        defaultProbeURLs,
		log:              log,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		overwhelmedSize:  overwhelmedSize,
		warningSize:      warningSize,
		interval:         interval,
		healthy:          true,
	}
	observability.SystemHealthy.Set(1)
	return m
}

// CheckSystemHealth returns the current breaker verdict, sampling
// connectivity only when the rate limiter permits. Between samples it
// returns the cached state, so the scheduling loop can call it every tick.
func (m *HealthMonitor) CheckSystemHealth(ctx context.Context) bool {
	if !m.limiter.Allow() {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.healthy
	}
	return m.runCheck(ctx)
}

// ForceCheck samples immediately, bypassing the rate limiter. Used by the
// ops API and by startup.
func (m *HealthMonitor) ForceCheck(ctx context.Context) bool {
	return m.runCheck(ctx)
}

func (m *HealthMonitor) runCheck(ctx context.Context) bool {
	var reason string
	if err := m.checkDatabase(ctx); err != nil {
		reason = fmt.Sprintf("database unreachable: %v", err)
	} else if err := m.checkInternet(ctx); err != nil {
		reason = fmt.Sprintf("internet unreachable: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCheck = time.Now()

	if reason == "" {
		m.consecutiveFailures = 0
		m.consecutiveSuccesses++
		if !m.healthy && m.consecutiveSuccesses < m.successThreshold {
			m.log.Info().
				Int("consecutive_successes", m.consecutiveSuccesses).
				Int("threshold", m.successThreshold).
				Msg("health improving")
		}
		if !m.healthy && m.consecutiveSuccesses >= m.successThreshold {
			m.healthy = true
			m.lastFailureReason = ""
			observability.SystemHealthy.Set(1)
			observability.HealthTransitions.WithLabelValues("healthy").Inc()
			m.log.Info().
				Int("consecutive_successes", m.consecutiveSuccesses).
				Msg("system health recovered, resuming scheduling")
		}
		return m.healthy
	}

	m.consecutiveSuccesses = 0
	m.consecutiveFailures++
	m.lastFailureReason = reason
	if m.healthy && m.consecutiveFailures >= m.failureThreshold {
		m.healthy = false
		observability.SystemHealthy.Set(0)
		observability.HealthTransitions.WithLabelValues("unhealthy").Inc()
		m.log.Error().
			Str("reason", reason).
			Int("consecutive_failures", m.consecutiveFailures).
			Msg("system unhealthy, pausing scheduling")
	} else {
		m.log.Warn().
			Str("reason", reason).
			Int("consecutive_failures", m.consecutiveFailures).
			Msg("health check failed")
	}
	return m.healthy
}

func (m *HealthMonitor) checkDatabase(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbCheckTimeout)
	defer cancel()
	return m.store.CheckConnectivity(ctx)
}

func (m *HealthMonitor) checkInternet(ctx context.Context) error {
	var lastErr error
	for _, url := range m.probeURLs {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("User-Agent", "LookOut-HealthMonitor/1.0")

		resp, err := m.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		lastErr = fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	return fmt.Errorf("all probe targets failed: %w", lastErr)
}

// IsQueueOverwhelmed reports whether the queue has grown past the hard
// watermark. Crossing half of it logs a warning so operators see pressure
// building before scheduling pauses.
func (m *HealthMonitor) IsQueueOverwhelmed(queueLen int) bool {
	if queueLen >= m.overwhelmedSize {
		m.log.Warn().
			Int("queue_size", queueLen).
			Int("threshold", m.overwhelmedSize).
			Msg("queue overwhelmed, pausing scheduling")
		return true
	}
	if queueLen >= m.warningSize {
		m.log.Warn().
			Int("queue_size", queueLen).
			Int("warning_threshold", m.warningSize).
			Msg("queue depth approaching overwhelm threshold")
	}
	return false
}

// Status returns the breaker's introspection snapshot.
func (m *HealthMonitor) Status() HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	var nextIn float64
	if !m.lastCheck.IsZero() {
		if remaining := m.interval - time.Since(m.lastCheck); remaining > 0 {
			nextIn = remaining.Seconds()
		}
	}
	return HealthStatus{
		Healthy:              m.healthy,
		ConsecutiveFailures:  m.consecutiveFailures,
		ConsecutiveSuccesses: m.consecutiveSuccesses,
		LastCheck:            m.lastCheck,
		LastFailureReason:    m.lastFailureReason,
		NextCheckIn:          nextIn,
	}
}
