package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lookout-hq/lookout/monitor/observability"
	"github.com/lookout-hq/lookout/monitor/store"
)

// popTimeout bounds how long an idle worker blocks on the queue before
// re-checking for shutdown.
const popTimeout = 1 * time.Second

// FailureNotifier receives every persisted failed check so the notification
// layer can decide whether to open a buffer.
type FailureNotifier interface {
	HandleCheckFailure(ctx context.Context, ep *store.Endpoint, consecutiveFailures int)
}

// Pool runs the consumer side of the engine: a fixed set of workers that
// pop tasks, probe, retry once on transient failure, and persist outcomes.
type Pool struct {
	registry   *Registry
	queue      *CheckQueue
	prober     *Prober
	store      store.Store
	notifier   FailureNotifier
	retryDelay time.Duration
	size       int
	log        zerolog.Logger

	wg sync.WaitGroup
}

// NewPool wires the worker pool. notifier may be nil when notifications are
// disabled.
func NewPool(reg *Registry, q *CheckQueue, prober *Prober, st store.Store, notifier FailureNotifier, size int, retryDelay time.Duration, log zerolog.Logger) *Pool {
	return &Pool{
		registry:   reg,
		queue:      q,
		prober:     prober,
		store:      st,
		notifier:   notifier,
		retryDelay: retryDelay,
		size:       size,
		log:        log,
	}
}

// Start launches the workers. They run until the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 1; i <= p.size; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.log.Info().Int("workers", p.size).Msg("worker pool started")
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.log.Info().Msg("worker pool drained")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok := p.queue.PopTimeout(popTimeout)
		if !ok {
			continue
		}
		observability.QueueDepth.Set(float64(p.queue.Len()))
		p.process(ctx, id, task, log)
	}
}

// process runs up to two probe attempts for one task and persists the final
// outcome. A task whose endpoint left the registry between scheduling and
// pop is discarded silently; that is the normal delete race.
func (p *Pool) process(ctx context.Context, workerID int, task CheckTask, log zerolog.Logger) {
	ep, ok := p.registry.Get(task.EndpointID)
	if !ok {
		return
	}

	outcome := p.prober.Check(ctx, &ep, workerID, 1)
	if !outcome.Success && outcome.Retryable {
		if !sleepCtx(ctx, p.retryDelay) {
			// Shutting down mid-retry: drop the result rather than record a
			// failure the endpoint may not deserve.
			return
		}
		observability.CheckRetries.Inc()
		log.Debug().
			Str("endpoint_id", ep.ID).
			Str("error", outcome.Error).
			Msg("retrying after transient failure")
		outcome = p.prober.Check(ctx, &ep, workerID, 2)
	}
	if ctx.Err() != nil {
		return
	}

	p.record(ctx, &ep, outcome, log)
}

func (p *Pool) record(ctx context.Context, ep *store.Endpoint, outcome Outcome, log zerolog.Logger) {
	now := time.Now().UTC()

	result := &store.CheckResult{
		EndpointID:     ep.ID,
		ResponseTimeMS: outcome.ResponseTimeMS,
		Success:        outcome.Success,
		ErrorMessage:   outcome.Error,
		CheckedAt:      now,
	}
	if outcome.StatusCode != 0 {
		code := outcome.StatusCode
		result.StatusCode = &code
	}

	if err := p.store.InsertCheckResult(ctx, result); err != nil {
		if errors.Is(err, store.ErrEndpointGone) {
			p.registry.Evict(ep.ID)
			return
		}
		log.Error().Err(err).Str("endpoint_id", ep.ID).Msg("persisting check result")
		return
	}

	failures := 0
	if !outcome.Success {
		failures = ep.ConsecutiveFailures + 1
	}
	if err := p.store.UpdateEndpointCheckMetadata(ctx, ep.ID, now, failures); err != nil {
		log.Error().Err(err).Str("endpoint_id", ep.ID).Msg("updating endpoint check metadata")
	}
	p.registry.SetConsecutiveFailures(ep.ID, failures)

	observability.CheckDuration.Observe(float64(outcome.ResponseTimeMS) / 1000)
	if outcome.Success {
		observability.ChecksTotal.WithLabelValues("success").Inc()
		log.Debug().
			Str("endpoint_id", ep.ID).
			Int("status", outcome.StatusCode).
			Int("response_ms", outcome.ResponseTimeMS).
			Msg("check succeeded")
		return
	}

	observability.ChecksTotal.WithLabelValues("failure").Inc()
	log.Warn().
		Str("endpoint_id", ep.ID).
		Str("endpoint_name", ep.Name).
		Int("status", outcome.StatusCode).
		Str("error", outcome.Error).
		Int("consecutive_failures", failures).
		Int("attempt", outcome.Attempt).
		Msg("check failed")

	if p.notifier != nil {
		p.notifier.HandleCheckFailure(ctx, ep, failures)
	}
}

// sleepCtx sleeps for d, returning false if the context was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
