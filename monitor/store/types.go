package store

import (
	"time"
)

// Endpoint is a monitored HTTP target as loaded from persistence. The
// registry copies what it needs into its own entries; workspace and user
// identifiers ride along so the worker can route failure events without
// additional reads.
type Endpoint struct {
	ID                  string            `json:"id" db:"id"`
	WorkspaceID         string            `json:"workspace_id" db:"workspace_id"`
	WorkspaceName       string            `json:"workspace_name" db:"workspace_name"`
	UserID              string            `json:"user_id" db:"user_id"`
	Name                string            `json:"name" db:"name"`
	URL                 string            `json:"url" db:"url"`
	Method              string            `json:"method" db:"method"`
	Headers             map[string]string `json:"headers" db:"headers"` // JSONB
	Body                string            `json:"body" db:"body"`
	ExpectedStatus      int               `json:"expected_status" db:"expected_status"`
	TimeoutSeconds      int               `json:"timeout_seconds" db:"timeout_seconds"`
	FrequencyMinutes    int               `json:"frequency_minutes" db:"frequency_minutes"`
	IsActive            bool              `json:"is_active" db:"is_active"`
	ConsecutiveFailures int               `json:"consecutive_failures" db:"consecutive_failures"`
	LastCheckAt         *time.Time        `json:"last_check_at" db:"last_check_at"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
}

// CheckResult is one persisted probe outcome. StatusCode is nil when no
// response was received.
type CheckResult struct {
	EndpointID     string     `json:"endpoint_id" db:"endpoint_id"`
	StatusCode     *int       `json:"status_code" db:"status_code"`
	ResponseTimeMS int        `json:"response_time_ms" db:"response_time_ms"`
	Success        bool       `json:"success" db:"success"`
	ErrorMessage   string     `json:"error_message" db:"error_message"`
	CheckedAt      time.Time  `json:"checked_at" db:"checked_at"`
}

// NotificationState is the per-user outage notification state machine row.
// The coordinator is its only writer.
type NotificationState struct {
	UserID             string     `json:"user_id" db:"user_id"`
	BufferActive       bool       `json:"buffer_active" db:"buffer_active"`
	BufferStartedAt    *time.Time `json:"buffer_started_at" db:"buffer_started_at"`
	FailingEndpointIDs []string   `json:"failing_endpoint_ids" db:"failing_endpoint_ids"`
	CooldownLevel      int        `json:"cooldown_level" db:"cooldown_level"`
	CooldownExpiresAt  *time.Time `json:"cooldown_expires_at" db:"cooldown_expires_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// InCooldown reports whether the user may not receive outage emails at now.
func (s *NotificationState) InCooldown(now time.Time) bool {
	return s.CooldownExpiresAt != nil && now.Before(*s.CooldownExpiresAt)
}

// NotificationSettings are the user's notification preferences.
type NotificationSettings struct {
	UserID            string `json:"user_id" db:"user_id"`
	EmailEnabled      bool   `json:"email_notifications_enabled" db:"email_notifications_enabled"`
	NotificationEmail string `json:"notification_email" db:"notification_email"`
	FailureThreshold  int    `json:"failure_threshold" db:"failure_threshold"`
}

// EndpointDetail is the display projection used when composing outage
// emails: endpoint joined with its workspace name.
type EndpointDetail struct {
	ID                  string     `json:"id" db:"id"`
	Name                string     `json:"name" db:"name"`
	WorkspaceName       string     `json:"workspace_name" db:"workspace_name"`
	ConsecutiveFailures int        `json:"consecutive_failures" db:"consecutive_failures"`
	LastCheckAt         *time.Time `json:"last_check_at" db:"last_check_at"`
}

// NotificationRecord is one row of outage email history.
type NotificationRecord struct {
	UserID            string    `json:"user_id" db:"user_id"`
	EndpointIDs       []string  `json:"endpoint_ids" db:"endpoint_ids"`
	EndpointCount     int       `json:"endpoint_count" db:"endpoint_count"`
	CooldownLevelUsed int       `json:"cooldown_level_used" db:"cooldown_level_used"`
	SentAt            time.Time `json:"sent_at" db:"sent_at"`
}
