package notification

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lookout-hq/lookout/monitor/email"
	"github.com/lookout-hq/lookout/monitor/observability"
	"github.com/lookout-hq/lookout/monitor/store"
)

const (
	// bufferWindow is how long a user's first qualifying failure collects
	// further failures before one combined email goes out.
	bufferWindow = 15 * time.Minute

	// sweepInterval is how often expired buffers and cooldowns are processed.
	sweepInterval = 60 * time.Second
)

// cooldownStep maps the level in effect at flush time to the level and
// duration applied afterwards. Levels escalate 1h, 2h, 3h, 5h and then wrap
// back to 1h. Expiry clears only the timestamp; the level persists so a
// user with recurring outages keeps escalating.
type cooldownStep struct {
	next     int
	duration time.Duration
}

var cooldownSchedule = map[int]cooldownStep{
	0: {next: 1, duration: 1 * time.Hour},
	1: {next: 2, duration: 2 * time.Hour},
	2: {next: 3, duration: 3 * time.Hour},
	3: {next: 4, duration: 5 * time.Hour},
	4: {next: 1, duration: 1 * time.Hour},
}

// Coordinator owns the per-user notification state machine. Failures arrive
// through HandleFailure; a background sweep flushes expired buffers into
// emails and retires expired cooldowns.
type Coordinator struct {
	store        store.Store
	provider     email.Provider
	dashboardURL string
	log          zerolog.Logger
	now          func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewCoordinator wires the state machine.
func NewCoordinator(st store.Store, provider email.Provider, dashboardURL string, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:        st,
		provider:     provider,
		dashboardURL: dashboardURL,
		log:          log,
		now:          time.Now,
		locks:        make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing one user's state transitions.
// Every select-mutate-upsert on a user's row runs under it: concurrent
// workers reporting different endpoints of the same user, and the sweep
// racing a worker, would otherwise lose writes.
func (c *Coordinator) userLock(userID string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	lk, ok := c.locks[userID]
	if !ok {
		lk = &sync.Mutex{}
		c.locks[userID] = lk
	}
	return lk
}

// HandleFailure records one threshold-crossing endpoint failure for a user.
// In cooldown the event is dropped; with an open buffer the endpoint joins
// it; otherwise a fresh buffer window opens.
func (c *Coordinator) HandleFailure(ctx context.Context, userID, endpointID string) {
	now := c.now().UTC()

	lk := c.userLock(userID)
	lk.Lock()
	defer lk.Unlock()

	state, err := c.store.SelectUserNotificationState(ctx, userID)
	if err != nil {
		c.log.Error().Err(err).Str("user_id", userID).Msg("loading notification state")
		return
	}
	if state == nil {
		state = &store.NotificationState{UserID: userID}
	}

	if state.InCooldown(now) {
		c.log.Debug().
			Str("user_id", userID).
			Str("endpoint_id", endpointID).
			Time("cooldown_expires_at", *state.CooldownExpiresAt).
			Msg("dropping failure event, user in cooldown")
		return
	}

	if state.BufferActive {
		for _, id := range state.FailingEndpointIDs {
			if id == endpointID {
				return
			}
		}
		state.FailingEndpointIDs = append(state.FailingEndpointIDs, endpointID)
		state.UpdatedAt = now
		if err := c.store.UpsertUserNotificationState(ctx, state); err != nil {
			c.log.Error().Err(err).Str("user_id", userID).Msg("appending to notification buffer")
		}
		return
	}

	state.BufferActive = true
	state.BufferStartedAt = &now
	state.FailingEndpointIDs = []string{endpointID}
	state.UpdatedAt = now
	if err := c.store.UpsertUserNotificationState(ctx, state); err != nil {
		c.log.Error().Err(err).Str("user_id", userID).Msg("opening notification buffer")
		return
	}
	observability.BuffersOpened.Inc()
	c.log.Info().
		Str("user_id", userID).
		Str("endpoint_id", endpointID).
		Dur("window", bufferWindow).
		Msg("notification buffer opened")
}

// Run sweeps expired buffers and cooldowns until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	c.log.Info().Dur("interval", sweepInterval).Msg("notification coordinator started")

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("notification coordinator stopped")
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass: flush buffers older than the window, then
// retire expired cooldowns.
func (c *Coordinator) Sweep(ctx context.Context) {
	now := c.now().UTC()

	expired, err := c.store.SelectExpiredBuffers(ctx, now.Add(-bufferWindow))
	if err != nil {
		c.log.Error().Err(err).Msg("selecting expired buffers")
	} else {
		for _, state := range expired {
			c.flush(ctx, state.UserID, now)
		}
	}

	cooled, err := c.store.SelectExpiredCooldowns(ctx, now)
	if err != nil {
		c.log.Error().Err(err).Msg("selecting expired cooldowns")
		return
	}
	for _, stale := range cooled {
		c.retireCooldown(ctx, stale.UserID, now)
	}
}

// retireCooldown clears an elapsed cooldown expiry. Only the expiry is
// cleared; the level persists so the next flush escalates instead of
// starting over.
func (c *Coordinator) retireCooldown(ctx context.Context, userID string, now time.Time) {
	lk := c.userLock(userID)
	lk.Lock()
	defer lk.Unlock()

	state, err := c.store.SelectUserNotificationState(ctx, userID)
	if err != nil {
		c.log.Error().Err(err).Str("user_id", userID).Msg("reloading state for cooldown retire")
		return
	}
	if state == nil || state.CooldownExpiresAt == nil || state.CooldownExpiresAt.After(now) {
		return
	}

	state.CooldownExpiresAt = nil
	state.UpdatedAt = now
	if err := c.store.UpsertUserNotificationState(ctx, state); err != nil {
		c.log.Error().Err(err).Str("user_id", userID).Msg("retiring expired cooldown")
		return
	}
	c.log.Info().
		Str("user_id", userID).
		Int("cooldown_level", state.CooldownLevel).
		Msg("cooldown expired")
}

// flush turns one expired buffer into an outage email. The state is
// re-read under the user lock: the sweep's scan snapshot may be stale by
// the time the lock is held (a worker appending an endpoint, or a previous
// flush already clearing the buffer). Any path that cannot send, including
// a delivery failure, returns the user to the ready state without consuming
// a cooldown, so the next failure can start a new window.
func (c *Coordinator) flush(ctx context.Context, userID string, now time.Time) {
	lk := c.userLock(userID)
	lk.Lock()
	defer lk.Unlock()

	state, err := c.store.SelectUserNotificationState(ctx, userID)
	if err != nil {
		c.log.Error().Err(err).Str("user_id", userID).Msg("reloading state for flush")
		return
	}
	if state == nil || !state.BufferActive || state.BufferStartedAt == nil {
		return
	}
	if state.BufferStartedAt.After(now.Add(-bufferWindow)) {
		return
	}

	settings, err := c.store.SelectUserNotificationSettings(ctx, state.UserID)
	if err != nil {
		c.log.Error().Err(err).Str("user_id", state.UserID).Msg("loading settings for flush")
		c.resetToReady(ctx, state, now)
		return
	}
	if settings == nil || !settings.EmailEnabled || settings.NotificationEmail == "" {
		c.log.Info().Str("user_id", state.UserID).Msg("notifications disabled, discarding buffer")
		c.resetToReady(ctx, state, now)
		return
	}

	details, err := c.store.SelectEndpointsWithWorkspaceNames(ctx, state.FailingEndpointIDs)
	if err != nil {
		c.log.Error().Err(err).Str("user_id", state.UserID).Msg("loading endpoint details for flush")
		c.resetToReady(ctx, state, now)
		return
	}
	if len(details) == 0 {
		// Every buffered endpoint was deleted during the window.
		c.log.Info().Str("user_id", state.UserID).Msg("buffered endpoints no longer exist, discarding buffer")
		c.resetToReady(ctx, state, now)
		return
	}

	subject := Subject(details)
	html, text, err := ComposeBody(details, c.dashboardURL, now)
	if err != nil {
		c.log.Error().Err(err).Str("user_id", state.UserID).Msg("composing outage email")
		c.resetToReady(ctx, state, now)
		return
	}

	sent := c.provider.SendOutageEmail(ctx, email.Message{
		ToEmail: settings.NotificationEmail,
		Subject: subject,
		HTML:    html,
		Text:    text,
	})
	if !sent {
		observability.OutageEmailsSent.WithLabelValues("failed").Inc()
		c.log.Warn().Str("user_id", state.UserID).Msg("outage email failed, returning user to ready state")
		c.resetToReady(ctx, state, now)
		return
	}
	observability.OutageEmailsSent.WithLabelValues("sent").Inc()

	record := &store.NotificationRecord{
		UserID:            state.UserID,
		EndpointIDs:       state.FailingEndpointIDs,
		EndpointCount:     len(details),
		CooldownLevelUsed: state.CooldownLevel,
		SentAt:            now,
	}
	if err := c.store.InsertNotificationHistory(ctx, record); err != nil {
		c.log.Error().Err(err).Str("user_id", state.UserID).Msg("recording notification history")
	}

	step, ok := cooldownSchedule[state.CooldownLevel]
	if !ok {
		step = cooldownSchedule[4]
	}
	expiry := now.Add(step.duration)

	state.BufferActive = false
	state.BufferStartedAt = nil
	state.FailingEndpointIDs = nil
	state.CooldownLevel = step.next
	state.CooldownExpiresAt = &expiry
	state.UpdatedAt = now
	if err := c.store.UpsertUserNotificationState(ctx, state); err != nil {
		c.log.Error().Err(err).Str("user_id", state.UserID).Msg("entering cooldown")
		return
	}

	observability.CooldownsEntered.WithLabelValues(strconv.Itoa(step.next)).Inc()
	c.log.Info().
		Str("user_id", state.UserID).
		Int("endpoints", len(details)).
		Int("cooldown_level", step.next).
		Time("cooldown_expires_at", expiry).
		Msg("outage email flushed, cooldown started")
}

// resetToReady clears the buffer, keeping whatever cooldown level the user
// has accumulated.
func (c *Coordinator) resetToReady(ctx context.Context, state *store.NotificationState, now time.Time) {
	state.BufferActive = false
	state.BufferStartedAt = nil
	state.FailingEndpointIDs = nil
	state.UpdatedAt = now
	if err := c.store.UpsertUserNotificationState(ctx, state); err != nil {
		c.log.Error().Err(err).Str("user_id", state.UserID).Msg("resetting notification state")
	}
}
