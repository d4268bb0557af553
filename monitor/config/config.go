// Package config loads and validates the monitoring engine configuration
// from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable of the monitoring engine. All values come from
// the environment; zero configuration starts a working scheduler with the
// documented defaults.
type Config struct {
	// Database / cache
	DatabaseURL string // LOOKOUT_DATABASE_URL, required for serve
	RedisAddr   string // LOOKOUT_REDIS_ADDR, empty disables the read cache

	// HTTP ops surface
	ListenAddr string // LOOKOUT_LISTEN_ADDR

	// Scheduler
	SchedulerEnabled  bool
	SchedulerInterval time.Duration // 10s - 300s
	WorkerCount       int           // 1 - 50
	HTTPTimeout       time.Duration // 5s - 120s
	RetryDelay        time.Duration

	// Circuit breaker
	HealthCheckInterval time.Duration
	FailureThreshold    int
	SuccessThreshold    int

	// Queue / cache watermarks
	QueueOverwhelmedSize int
	QueueWarningSize     int
	CacheWarningSize     int

	// Notifications
	BrevoAPIKey      string
	SenderEmail      string
	SenderName       string
	DashboardBaseURL string

	// Logging
	LogLevel string
	LogJSON  bool
	LogFile  string // optional rotating file target
}

// Defaults mirrors the documented production defaults.
func Defaults() Config {
	return Config{
		ListenAddr:           ":8000",
		SchedulerEnabled:     true,
		SchedulerInterval:    30 * time.Second,
		WorkerCount:          12,
		HTTPTimeout:          20 * time.Second,
		RetryDelay:           10 * time.Second,
		HealthCheckInterval:  120 * time.Second,
		FailureThreshold:     3,
		SuccessThreshold:     3,
		QueueOverwhelmedSize: 1000,
		QueueWarningSize:     500,
		CacheWarningSize:     5000,
		SenderName:           "LookOut Monitoring",
		DashboardBaseURL:     "http://localhost:3000",
		LogLevel:             "info",
	}
}

// Load reads the environment on top of Defaults and validates ranges.
func Load() (Config, error) {
	cfg := Defaults()

	cfg.DatabaseURL = getenv("LOOKOUT_DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = getenv("LOOKOUT_REDIS_ADDR", cfg.RedisAddr)
	cfg.ListenAddr = getenv("LOOKOUT_LISTEN_ADDR", cfg.ListenAddr)

	var err error
	if cfg.SchedulerEnabled, err = getBool("SCHEDULER_ENABLED", cfg.SchedulerEnabled); err != nil {
		return cfg, err
	}
	if cfg.SchedulerInterval, err = getSeconds("SCHEDULER_INTERVAL", cfg.SchedulerInterval); err != nil {
		return cfg, err
	}
	if cfg.WorkerCount, err = getInt("WORKER_COUNT", cfg.WorkerCount); err != nil {
		return cfg, err
	}
	if cfg.HTTPTimeout, err = getSeconds("HTTP_TIMEOUT", cfg.HTTPTimeout); err != nil {
		return cfg, err
	}
	if cfg.RetryDelay, err = getSeconds("RETRY_DELAY", cfg.RetryDelay); err != nil {
		return cfg, err
	}
	if cfg.HealthCheckInterval, err = getSeconds("HEALTH_CHECK_INTERVAL", cfg.HealthCheckInterval); err != nil {
		return cfg, err
	}
	if cfg.FailureThreshold, err = getInt("FAILURE_THRESHOLD", cfg.FailureThreshold); err != nil {
		return cfg, err
	}
	if cfg.SuccessThreshold, err = getInt("SUCCESS_THRESHOLD", cfg.SuccessThreshold); err != nil {
		return cfg, err
	}
	if cfg.QueueOverwhelmedSize, err = getInt("QUEUE_OVERWHELMED_SIZE", cfg.QueueOverwhelmedSize); err != nil {
		return cfg, err
	}
	if cfg.QueueWarningSize, err = getInt("QUEUE_WARNING_SIZE", cfg.QueueWarningSize); err != nil {
		return cfg, err
	}
	if cfg.CacheWarningSize, err = getInt("CACHE_WARNING_SIZE", cfg.CacheWarningSize); err != nil {
		return cfg, err
	}

	cfg.BrevoAPIKey = getenv("BREVO_API_KEY", cfg.BrevoAPIKey)
	cfg.SenderEmail = getenv("SENDER_EMAIL", cfg.SenderEmail)
	cfg.SenderName = getenv("SENDER_NAME", cfg.SenderName)
	cfg.DashboardBaseURL = getenv("DASHBOARD_BASE_URL", cfg.DashboardBaseURL)

	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	if cfg.LogJSON, err = getBool("LOG_JSON", cfg.LogJSON); err != nil {
		return cfg, err
	}
	cfg.LogFile = getenv("LOG_FILE", cfg.LogFile)

	return cfg, cfg.Validate()
}

// Validate enforces the documented ranges.
func (c Config) Validate() error {
	if c.WorkerCount < 1 || c.WorkerCount > 50 {
		return fmt.Errorf("WORKER_COUNT must be between 1 and 50, got %d", c.WorkerCount)
	}
	if c.SchedulerInterval < 10*time.Second || c.SchedulerInterval > 300*time.Second {
		return fmt.Errorf("SCHEDULER_INTERVAL must be between 10 and 300 seconds, got %v", c.SchedulerInterval)
	}
	if c.HTTPTimeout < 5*time.Second || c.HTTPTimeout > 120*time.Second {
		return fmt.Errorf("HTTP_TIMEOUT must be between 5 and 120 seconds, got %v", c.HTTPTimeout)
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("FAILURE_THRESHOLD must be positive, got %d", c.FailureThreshold)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("SUCCESS_THRESHOLD must be positive, got %d", c.SuccessThreshold)
	}
	if c.QueueOverwhelmedSize < 1 {
		return fmt.Errorf("QUEUE_OVERWHELMED_SIZE must be positive, got %d", c.QueueOverwhelmedSize)
	}
	if c.QueueWarningSize > c.QueueOverwhelmedSize {
		return fmt.Errorf("QUEUE_WARNING_SIZE (%d) must not exceed QUEUE_OVERWHELMED_SIZE (%d)",
			c.QueueWarningSize, c.QueueOverwhelmedSize)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getSeconds(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return time.Duration(n) * time.Second, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return b, nil
}
