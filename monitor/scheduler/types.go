package scheduler

import (
	"time"
)

// CheckTask is one unit of probe work: which endpoint, and the instant the
// scheduling loop decided it was due.
type CheckTask struct {
	EndpointID  string
	ScheduledAt time.Time
}

// Outcome is the structured result of a single probe attempt.
type Outcome struct {
	Success        bool   `json:"success"`
	Retryable      bool   `json:"retryable"`
	StatusCode     int    `json:"status_code"` // 0 when no response was received
	ResponseTimeMS int    `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
	Attempt        int    `json:"attempt"` // 1 or 2
}

// HealthStatus is the monitor's introspection snapshot.
type HealthStatus struct {
	Healthy              bool      `json:"is_healthy"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastCheck            time.Time `json:"last_health_check"`
	LastFailureReason    string    `json:"last_failure_reason,omitempty"`
	NextCheckIn          float64   `json:"next_check_in_seconds"`
}

// Status is the scheduler manager's introspection snapshot.
type Status struct {
	Running       bool         `json:"is_running"`
	Initialized   bool         `json:"is_initialized"`
	EndpointCount int          `json:"endpoint_count"`
	QueueSize     int          `json:"queue_size"`
	WorkerCount   int          `json:"worker_count"`
	Health        HealthStatus `json:"health_monitor"`
}
