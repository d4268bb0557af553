package notification

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/lookout-hq/lookout/monitor/store"
)

// defaultFailureThreshold applies when the user has no explicit setting row
// yet keeps an endpoint from alerting on a single blip.
const defaultFailureThreshold = 5

// Trigger is the gate between the worker pool and the coordinator. Every
// persisted failed check arrives here; only failures that cross the user's
// threshold with email enabled reach the state machine.
type Trigger struct {
	store       store.Store
	coordinator *Coordinator
	log         zerolog.Logger
}

// NewTrigger wires the failure gate. The store is typically the read-cached
// one; settings are consulted on every failing check.
func NewTrigger(st store.Store, coord *Coordinator, log zerolog.Logger) *Trigger {
	return &Trigger{store: st, coordinator: coord, log: log}
}

// HandleCheckFailure decides whether a failed check becomes a notification
// event. Errors are logged and swallowed; a notification hiccup must never
// affect check processing.
func (t *Trigger) HandleCheckFailure(ctx context.Context, ep *store.Endpoint, consecutiveFailures int) {
	settings, err := t.store.SelectUserNotificationSettings(ctx, ep.UserID)
	if err != nil {
		t.log.Error().Err(err).Str("user_id", ep.UserID).Msg("loading notification settings")
		return
	}

	threshold := defaultFailureThreshold
	enabled := false
	if settings != nil {
		enabled = settings.EmailEnabled && settings.NotificationEmail != ""
		if settings.FailureThreshold > 0 {
			threshold = settings.FailureThreshold
		}
	}

	if !enabled || consecutiveFailures < threshold {
		return
	}

	t.log.Info().
		Str("user_id", ep.UserID).
		Str("endpoint_id", ep.ID).
		Str("endpoint_name", ep.Name).
		Int("consecutive_failures", consecutiveFailures).
		Int("threshold", threshold).
		Msg("failure threshold crossed")
	t.coordinator.HandleFailure(ctx, ep.UserID, ep.ID)
}
