package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lookout-hq/lookout/monitor/observability"
)

// Loop is the producer side of the engine: every tick it gates on system
// health and queue pressure, then moves due endpoints from the registry onto
// the probe queue.
type Loop struct {
	registry *Registry
	queue    *CheckQueue
	health   *HealthMonitor
	interval time.Duration
	log      zerolog.Logger
}

// NewLoop wires the scheduling loop.
func NewLoop(reg *Registry, q *CheckQueue, hm *HealthMonitor, interval time.Duration, log zerolog.Logger) *Loop {
	return &Loop{
		registry: reg,
		queue:    q,
		health:   hm,
		interval: interval,
		log:      log,
	}
}

// Run ticks until the context is cancelled. An immediate first cycle runs
// before the first tick so a fresh start does not wait a full interval.
func (l *Loop) Run(ctx context.Context) {
	l.log.Info().Dur("interval", l.interval).Msg("scheduling loop started")

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("scheduling loop stopped")
			return
		case <-ticker.C:
			l.cycle(ctx)
		}
	}
}

// cycle runs one scheduling pass. Failures are logged and swallowed so a
// bad cycle never kills the loop.
func (l *Loop) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("scheduling cycle panicked")
		}
	}()

	if !l.health.CheckSystemHealth(ctx) {
		observability.SchedulerTicksSkipped.WithLabelValues("unhealthy").Inc()
		l.log.Debug().Msg("skipping cycle, system unhealthy")
		return
	}
	if l.health.IsQueueOverwhelmed(l.queue.Len()) {
		observability.SchedulerTicksSkipped.WithLabelValues("queue_overwhelmed").Inc()
		return
	}

	due := l.registry.SnapshotDue(time.Now())
	if len(due) == 0 {
		return
	}

	enqueued := 0
	for _, task := range due {
		if err := l.queue.Push(task); err != nil {
			l.log.Error().
				Err(err).
				Int("remaining", len(due)-enqueued).
				Msg("queue full mid-cycle, dropping remainder until next tick")
			break
		}
		enqueued++
	}

	observability.ChecksScheduled.Add(float64(enqueued))
	observability.QueueDepth.Set(float64(l.queue.Len()))
	l.log.Info().
		Int("due", len(due)).
		Int("enqueued", enqueued).
		Int("queue_size", l.queue.Len()).
		Msg("scheduling cycle complete")
}
