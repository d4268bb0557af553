package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgForeignKeyViolation is the Postgres error code raised when an insert
// references a deleted endpoint row.
const pgForeignKeyViolation = "23503"

// Postgres implements Store using a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres initializes a Postgres store with a tuned connection pool.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// SelectActiveEndpoints loads every active endpoint joined with its
// workspace. This is the registry's one-time bulk read at startup.
func (s *Postgres) SelectActiveEndpoints(ctx context.Context) ([]*Endpoint, error) {
	query := `
		SELECT e.id, e.workspace_id, w.name, w.user_id, e.name, e.url, e.method,
		       e.headers, COALESCE(e.body, ''), e.expected_status, e.timeout_seconds,
		       e.frequency_minutes, e.is_active, e.consecutive_failures,
		       e.last_check_at, e.created_at
		FROM endpoints e
		JOIN workspaces w ON w.id = e.workspace_id
		WHERE e.is_active = TRUE
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []*Endpoint
	for rows.Next() {
		var e Endpoint
		if err := rows.Scan(
			&e.ID, &e.WorkspaceID, &e.WorkspaceName, &e.UserID, &e.Name, &e.URL, &e.Method,
			&e.Headers, &e.Body, &e.ExpectedStatus, &e.TimeoutSeconds,
			&e.FrequencyMinutes, &e.IsActive, &e.ConsecutiveFailures,
			&e.LastCheckAt, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		endpoints = append(endpoints, &e)
	}
	return endpoints, rows.Err()
}

// InsertCheckResult appends one probe outcome. A foreign key violation means
// the endpoint was deleted mid-flight and maps to ErrEndpointGone.
func (s *Postgres) InsertCheckResult(ctx context.Context, result *CheckResult) error {
	query := `
		INSERT INTO check_results (endpoint_id, status_code, response_time_ms, success, error_message, checked_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
	`
	_, err := s.pool.Exec(ctx, query,
		result.EndpointID, result.StatusCode, result.ResponseTimeMS,
		result.Success, result.ErrorMessage, result.CheckedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return ErrEndpointGone
	}
	return err
}

// UpdateEndpointCheckMetadata writes the post-check bookkeeping fields.
func (s *Postgres) UpdateEndpointCheckMetadata(ctx context.Context, endpointID string, lastCheckAt time.Time, consecutiveFailures int) error {
	query := `UPDATE endpoints SET last_check_at = $2, consecutive_failures = $3 WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, endpointID, lastCheckAt, consecutiveFailures)
	return err
}

// SelectEndpointsWithWorkspaceNames resolves display data for outage emails.
func (s *Postgres) SelectEndpointsWithWorkspaceNames(ctx context.Context, ids []string) ([]*EndpointDetail, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT e.id, e.name, w.name, e.consecutive_failures, e.last_check_at
		FROM endpoints e
		JOIN workspaces w ON w.id = e.workspace_id
		WHERE e.id = ANY($1)
	`
	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []*EndpointDetail
	for rows.Next() {
		var d EndpointDetail
		if err := rows.Scan(&d.ID, &d.Name, &d.WorkspaceName, &d.ConsecutiveFailures, &d.LastCheckAt); err != nil {
			return nil, err
		}
		details = append(details, &d)
	}
	return details, rows.Err()
}

// SelectUserNotificationState returns the user's state row, or nil when the
// user has never triggered a notification.
func (s *Postgres) SelectUserNotificationState(ctx context.Context, userID string) (*NotificationState, error) {
	query := `
		SELECT user_id, buffer_active, buffer_started_at, failing_endpoint_ids,
		       cooldown_level, cooldown_expires_at, updated_at
		FROM global_email_state WHERE user_id = $1
	`
	var st NotificationState
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&st.UserID, &st.BufferActive, &st.BufferStartedAt, &st.FailingEndpointIDs,
		&st.CooldownLevel, &st.CooldownExpiresAt, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// UpsertUserNotificationState writes the full state row for a user.
func (s *Postgres) UpsertUserNotificationState(ctx context.Context, state *NotificationState) error {
	query := `
		INSERT INTO global_email_state (user_id, buffer_active, buffer_started_at, failing_endpoint_ids, cooldown_level, cooldown_expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			buffer_active = EXCLUDED.buffer_active,
			buffer_started_at = EXCLUDED.buffer_started_at,
			failing_endpoint_ids = EXCLUDED.failing_endpoint_ids,
			cooldown_level = EXCLUDED.cooldown_level,
			cooldown_expires_at = EXCLUDED.cooldown_expires_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.pool.Exec(ctx, query,
		state.UserID, state.BufferActive, state.BufferStartedAt, state.FailingEndpointIDs,
		state.CooldownLevel, state.CooldownExpiresAt, state.UpdatedAt,
	)
	return err
}

// SelectExpiredBuffers returns users whose buffer window opened before cutoff.
func (s *Postgres) SelectExpiredBuffers(ctx context.Context, cutoff time.Time) ([]*NotificationState, error) {
	query := `
		SELECT user_id, buffer_active, buffer_started_at, failing_endpoint_ids,
		       cooldown_level, cooldown_expires_at, updated_at
		FROM global_email_state
		WHERE buffer_active = TRUE AND buffer_started_at <= $1
	`
	return s.selectStates(ctx, query, cutoff)
}

// SelectExpiredCooldowns returns users whose cooldown has elapsed at now.
func (s *Postgres) SelectExpiredCooldowns(ctx context.Context, now time.Time) ([]*NotificationState, error) {
	query := `
		SELECT user_id, buffer_active, buffer_started_at, failing_endpoint_ids,
		       cooldown_level, cooldown_expires_at, updated_at
		FROM global_email_state
		WHERE cooldown_expires_at IS NOT NULL AND cooldown_expires_at <= $1
	`
	return s.selectStates(ctx, query, now)
}

func (s *Postgres) selectStates(ctx context.Context, query string, arg any) ([]*NotificationState, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*NotificationState
	for rows.Next() {
		var st NotificationState
		if err := rows.Scan(
			&st.UserID, &st.BufferActive, &st.BufferStartedAt, &st.FailingEndpointIDs,
			&st.CooldownLevel, &st.CooldownExpiresAt, &st.UpdatedAt,
		); err != nil {
			return nil, err
		}
		states = append(states, &st)
	}
	return states, rows.Err()
}

// SelectUserNotificationSettings returns the user's preferences, or nil when
// the user has no settings row.
func (s *Postgres) SelectUserNotificationSettings(ctx context.Context, userID string) (*NotificationSettings, error) {
	query := `
		SELECT user_id, email_notifications_enabled, COALESCE(notification_email, ''), failure_threshold
		FROM user_notification_settings WHERE user_id = $1
	`
	var ns NotificationSettings
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&ns.UserID, &ns.EmailEnabled, &ns.NotificationEmail, &ns.FailureThreshold,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ns, nil
}

// InsertNotificationHistory records one sent outage email.
func (s *Postgres) InsertNotificationHistory(ctx context.Context, record *NotificationRecord) error {
	query := `
		INSERT INTO notification_history (user_id, endpoint_ids, endpoint_count, cooldown_level_used, sent_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.pool.Exec(ctx, query,
		record.UserID, record.EndpointIDs, record.EndpointCount, record.CooldownLevelUsed, record.SentAt,
	)
	return err
}

// CheckConnectivity runs the health monitor's trivial read. An empty table
// is still a healthy response; only query errors count as failure.
func (s *Postgres) CheckConnectivity(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `SELECT id FROM workspaces LIMIT 1`)
	if err != nil {
		return err
	}
	rows.Close()
	return rows.Err()
}
