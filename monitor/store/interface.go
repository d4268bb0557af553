// Package store is the row-oriented persistence adapter for the monitoring
// engine. The core never builds SQL; it talks to this interface and the
// Postgres implementation maps rows to the record types.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrEndpointGone is returned by InsertCheckResult when the endpoint row was
// deleted while a probe for it was in flight (foreign key violation). The
// worker treats it as expected and evicts the stale registry entry.
var ErrEndpointGone = errors.New("endpoint row no longer exists")

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Store is the persistence surface the engine consumes.
type Store interface {
	// Endpoint operations
	SelectActiveEndpoints(ctx context.Context) ([]*Endpoint, error)
	InsertCheckResult(ctx context.Context, result *CheckResult) error
	UpdateEndpointCheckMetadata(ctx context.Context, endpointID string, lastCheckAt time.Time, consecutiveFailures int) error
	SelectEndpointsWithWorkspaceNames(ctx context.Context, ids []string) ([]*EndpointDetail, error)

	// Notification state machine
	SelectUserNotificationState(ctx context.Context, userID string) (*NotificationState, error) // nil when absent
	UpsertUserNotificationState(ctx context.Context, state *NotificationState) error
	SelectExpiredBuffers(ctx context.Context, cutoff time.Time) ([]*NotificationState, error)
	SelectExpiredCooldowns(ctx context.Context, now time.Time) ([]*NotificationState, error)

	// Notification preferences and history
	SelectUserNotificationSettings(ctx context.Context, userID string) (*NotificationSettings, error) // nil when absent
	InsertNotificationHistory(ctx context.Context, record *NotificationRecord) error

	// CheckConnectivity performs a trivial read; used by the health monitor's
	// database subcheck. An empty result set still counts as reachable.
	CheckConnectivity(ctx context.Context) error

	Close()
}
