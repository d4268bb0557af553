package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store used in tests and single-process development.
// It mimics the foreign-key behavior of the Postgres schema: inserting a
// check result for an unknown endpoint returns ErrEndpointGone.
type Memory struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	results   []*CheckResult
	states    map[string]*NotificationState
	settings  map[string]*NotificationSettings
	history   []*NotificationRecord

	// ConnectivityErr, when set, makes CheckConnectivity fail. Tests use it
	// to drive the circuit breaker.
	ConnectivityErr error
}

// NewMemory initializes an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		endpoints: make(map[string]*Endpoint),
		states:    make(map[string]*NotificationState),
		settings:  make(map[string]*NotificationSettings),
	}
}

// AddEndpoint seeds an endpoint row.
func (s *Memory) AddEndpoint(e *Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.endpoints[e.ID] = &cp
}

// RemoveEndpoint deletes an endpoint row, as the REST layer's DELETE would.
func (s *Memory) RemoveEndpoint(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.endpoints, id)
}

// SetSettings seeds a user's notification preferences.
func (s *Memory) SetSettings(ns *NotificationSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ns
	s.settings[ns.UserID] = &cp
}

// Results returns a copy of all persisted check results in insert order.
func (s *Memory) Results() []*CheckResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*CheckResult, len(s.results))
	copy(out, s.results)
	return out
}

// History returns a copy of the notification history rows.
func (s *Memory) History() []*NotificationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*NotificationRecord, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Memory) SelectActiveEndpoints(ctx context.Context) ([]*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Endpoint
	for _, e := range s.endpoints {
		if e.IsActive {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) InsertCheckResult(ctx context.Context, result *CheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[result.EndpointID]; !ok {
		return ErrEndpointGone
	}
	cp := *result
	s.results = append(s.results, &cp)
	return nil
}

func (s *Memory) UpdateEndpointCheckMetadata(ctx context.Context, endpointID string, lastCheckAt time.Time, consecutiveFailures int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[endpointID]
	if !ok {
		return nil
	}
	t := lastCheckAt
	e.LastCheckAt = &t
	e.ConsecutiveFailures = consecutiveFailures
	return nil
}

func (s *Memory) SelectEndpointsWithWorkspaceNames(ctx context.Context, ids []string) ([]*EndpointDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*EndpointDetail
	for _, id := range ids {
		e, ok := s.endpoints[id]
		if !ok {
			continue
		}
		out = append(out, &EndpointDetail{
			ID:                  e.ID,
			Name:                e.Name,
			WorkspaceName:       e.WorkspaceName,
			ConsecutiveFailures: e.ConsecutiveFailures,
			LastCheckAt:         e.LastCheckAt,
		})
	}
	return out, nil
}

func (s *Memory) SelectUserNotificationState(ctx context.Context, userID string) (*NotificationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[userID]
	if !ok {
		return nil, nil
	}
	cp := cloneState(st)
	return cp, nil
}

func (s *Memory) UpsertUserNotificationState(ctx context.Context, state *NotificationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UserID] = cloneState(state)
	return nil
}

func (s *Memory) SelectExpiredBuffers(ctx context.Context, cutoff time.Time) ([]*NotificationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*NotificationState
	for _, st := range s.states {
		if st.BufferActive && st.BufferStartedAt != nil && !st.BufferStartedAt.After(cutoff) {
			out = append(out, cloneState(st))
		}
	}
	return out, nil
}

func (s *Memory) SelectExpiredCooldowns(ctx context.Context, now time.Time) ([]*NotificationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*NotificationState
	for _, st := range s.states {
		if st.CooldownExpiresAt != nil && !st.CooldownExpiresAt.After(now) {
			out = append(out, cloneState(st))
		}
	}
	return out, nil
}

func (s *Memory) SelectUserNotificationSettings(ctx context.Context, userID string) (*NotificationSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.settings[userID]
	if !ok {
		return nil, nil
	}
	cp := *ns
	return &cp, nil
}

func (s *Memory) InsertNotificationHistory(ctx context.Context, record *NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	cp.EndpointIDs = append([]string(nil), record.EndpointIDs...)
	s.history = append(s.history, &cp)
	return nil
}

func (s *Memory) CheckConnectivity(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ConnectivityErr
}

func (s *Memory) Close() {}

func cloneState(st *NotificationState) *NotificationState {
	cp := *st
	cp.FailingEndpointIDs = append([]string(nil), st.FailingEndpointIDs...)
	if st.BufferStartedAt != nil {
		t := *st.BufferStartedAt
		cp.BufferStartedAt = &t
	}
	if st.CooldownExpiresAt != nil {
		t := *st.CooldownExpiresAt
		cp.CooldownExpiresAt = &t
	}
	return &cp
}
