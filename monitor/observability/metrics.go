// Package observability defines the Prometheus collectors for the
// monitoring engine. Collectors are package-level and registered on the
// default registry via promauto.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChecksTotal counts completed endpoint probes by final result.
	ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookout_checks_total",
		Help: "Completed endpoint checks by result",
	}, []string{"result"}) // success, failure

	// CheckDuration tracks probe round-trip time.
	CheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lookout_check_duration_seconds",
		Help:    "HTTP check round-trip time",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})

	// CheckRetries counts second attempts after a retryable failure.
	CheckRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lookout_check_retries_total",
		Help: "Probe retry attempts",
	})

	// QueueDepth is the current number of queued checks.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lookout_queue_depth",
		Help: "Current number of checks waiting in the probe queue",
	})

	// RegistrySize is the number of endpoints held in the registry.
	RegistrySize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lookout_registry_endpoints",
		Help: "Endpoints currently tracked by the in-memory registry",
	})

	// SchedulerTicksSkipped counts scheduling cycles skipped by gating.
	SchedulerTicksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookout_scheduler_ticks_skipped_total",
		Help: "Scheduling cycles skipped by the health or overwhelm gate",
	}, []string{"reason"}) // unhealthy, queue_overwhelmed

	// ChecksScheduled counts checks pushed onto the queue.
	ChecksScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lookout_checks_scheduled_total",
		Help: "Checks enqueued by the scheduling loop",
	})

	// SystemHealthy reports the circuit breaker state (1 healthy, 0 unhealthy).
	SystemHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lookout_system_healthy",
		Help: "Circuit breaker state (1 = healthy, 0 = unhealthy)",
	})

	// HealthTransitions counts circuit breaker state changes.
	HealthTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookout_health_transitions_total",
		Help: "Circuit breaker transitions",
	}, []string{"to"}) // healthy, unhealthy

	// OutageEmailsSent counts outage notification emails by outcome.
	OutageEmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookout_outage_emails_total",
		Help: "Outage notification emails by send outcome",
	}, []string{"outcome"}) // sent, failed

	// BuffersOpened counts notification buffer windows opened.
	BuffersOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lookout_notification_buffers_opened_total",
		Help: "Notification buffer windows opened",
	})

	// CooldownsEntered counts cooldowns entered after a flush, by the level
	// applied.
	CooldownsEntered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookout_notification_cooldowns_total",
		Help: "Cooldowns entered after a flush, by resulting level",
	}, []string{"level"})
)
