package notification

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookout-hq/lookout/monitor/email"
	"github.com/lookout-hq/lookout/monitor/store"
)

type fakeProvider struct {
	ok   bool
	sent []email.Message
}

func (f *fakeProvider) SendOutageEmail(_ context.Context, msg email.Message) bool {
	f.sent = append(f.sent, msg)
	return f.ok
}

type coordFixture struct {
	mem      *store.Memory
	provider *fakeProvider
	coord    *Coordinator
	now      time.Time
}

func newCoordFixture(t *testing.T) *coordFixture {
	t.Helper()
	f := &coordFixture{
		mem:      store.NewMemory(),
		provider: &fakeProvider{ok: true},
		now:      time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}
	f.coord = NewCoordinator(f.mem, f.provider, "https://app.example.com", zerolog.Nop())
	f.coord.now = func() time.Time { return f.now }

	f.mem.SetSettings(&store.NotificationSettings{
		UserID:            "user-1",
		EmailEnabled:      true,
		NotificationEmail: "ops@example.com",
		FailureThreshold:  5,
	})
	for _, id := range []string{"ep-1", "ep-2"} {
		f.mem.AddEndpoint(&store.Endpoint{
			ID:                  id,
			UserID:              "user-1",
			Name:                "api " + id,
			WorkspaceName:       "Production",
			ConsecutiveFailures: 5,
			IsActive:            true,
		})
	}
	return f
}

func (f *coordFixture) state(t *testing.T) *store.NotificationState {
	t.Helper()
	st, err := f.mem.SelectUserNotificationState(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

func TestHandleFailureOpensAndGrowsBuffer(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	f.coord.HandleFailure(ctx, "user-1", "ep-1")
	st := f.state(t)
	assert.True(t, st.BufferActive)
	require.NotNil(t, st.BufferStartedAt)
	assert.Equal(t, []string{"ep-1"}, st.FailingEndpointIDs)

	// A second endpoint joins the open buffer; repeats are deduplicated and
	// the window start does not move.
	started := *st.BufferStartedAt
	f.now = f.now.Add(5 * time.Minute)
	f.coord.HandleFailure(ctx, "user-1", "ep-2")
	f.coord.HandleFailure(ctx, "user-1", "ep-1")

	st = f.state(t)
	assert.Equal(t, []string{"ep-1", "ep-2"}, st.FailingEndpointIDs)
	assert.Equal(t, started, *st.BufferStartedAt)
}

func TestConcurrentFailuresShareOneBuffer(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("ep-c%d", i)
		ids = append(ids, id)
		f.mem.AddEndpoint(&store.Endpoint{
			ID:                  id,
			UserID:              "user-1",
			Name:                "api " + id,
			WorkspaceName:       "Production",
			ConsecutiveFailures: 5,
			IsActive:            true,
		})
	}

	// Workers report every endpoint of the same user at once. All of them
	// must land in a single buffer; none may be lost to a racing upsert.
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			f.coord.HandleFailure(ctx, "user-1", id)
		}(id)
	}
	wg.Wait()

	st := f.state(t)
	assert.True(t, st.BufferActive)
	assert.ElementsMatch(t, ids, st.FailingEndpointIDs)

	f.now = f.now.Add(16 * time.Minute)
	f.coord.Sweep(ctx)
	require.Len(t, f.provider.sent, 1)
	assert.Equal(t, `8 endpoints down in "Production"`, f.provider.sent[0].Subject)
}

func TestFlushIgnoresStaleSnapshot(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	// A sweep snapshot that lost the race with an earlier flush sees a user
	// with no open buffer; nothing may be sent.
	f.coord.flush(ctx, "user-1", f.now)
	assert.Empty(t, f.provider.sent)

	f.coord.HandleFailure(ctx, "user-1", "ep-1")
	f.now = f.now.Add(16 * time.Minute)
	f.coord.Sweep(ctx)
	require.Len(t, f.provider.sent, 1)

	// Flushing the same snapshot again finds the buffer already cleared.
	f.coord.flush(ctx, "user-1", f.now)
	assert.Len(t, f.provider.sent, 1)
}

func TestSweepHoldsBufferUntilWindowExpires(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	f.coord.HandleFailure(ctx, "user-1", "ep-1")

	f.now = f.now.Add(14 * time.Minute)
	f.coord.Sweep(ctx)
	assert.Empty(t, f.provider.sent)
	assert.True(t, f.state(t).BufferActive)
}

func TestSweepFlushesExpiredBuffer(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	f.coord.HandleFailure(ctx, "user-1", "ep-1")
	f.coord.HandleFailure(ctx, "user-1", "ep-2")

	f.now = f.now.Add(16 * time.Minute)
	f.coord.Sweep(ctx)

	require.Len(t, f.provider.sent, 1)
	msg := f.provider.sent[0]
	assert.Equal(t, "ops@example.com", msg.ToEmail)
	assert.Equal(t, `2 endpoints down in "Production"`, msg.Subject)

	st := f.state(t)
	assert.False(t, st.BufferActive)
	assert.Nil(t, st.BufferStartedAt)
	assert.Empty(t, st.FailingEndpointIDs)
	assert.Equal(t, 1, st.CooldownLevel)
	require.NotNil(t, st.CooldownExpiresAt)
	assert.Equal(t, f.now.Add(1*time.Hour), *st.CooldownExpiresAt)

	history := f.mem.History()
	require.Len(t, history, 1)
	assert.Equal(t, 2, history[0].EndpointCount)
	assert.Equal(t, 0, history[0].CooldownLevelUsed)
}

func TestFailuresDroppedDuringCooldown(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	f.coord.HandleFailure(ctx, "user-1", "ep-1")
	f.now = f.now.Add(16 * time.Minute)
	f.coord.Sweep(ctx)

	// In cooldown now: further failures must not reopen a buffer.
	f.now = f.now.Add(10 * time.Minute)
	f.coord.HandleFailure(ctx, "user-1", "ep-2")
	st := f.state(t)
	assert.False(t, st.BufferActive)
	assert.Empty(t, st.FailingEndpointIDs)
}

func TestCooldownEscalation(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	flush := func() {
		f.coord.HandleFailure(ctx, "user-1", "ep-1")
		f.now = f.now.Add(16 * time.Minute)
		f.coord.Sweep(ctx)
	}

	expectations := []struct {
		level    int
		duration time.Duration
	}{
		{1, 1 * time.Hour},
		{2, 2 * time.Hour},
		{3, 3 * time.Hour},
		{4, 5 * time.Hour},
		{1, 1 * time.Hour}, // wraps around
	}

	for _, want := range expectations {
		flush()
		st := f.state(t)
		assert.Equal(t, want.level, st.CooldownLevel)
		require.NotNil(t, st.CooldownExpiresAt)
		assert.Equal(t, f.now.Add(want.duration), *st.CooldownExpiresAt)

		// Ride out the cooldown; expiry clears but the level survives.
		f.now = st.CooldownExpiresAt.Add(time.Minute)
		f.coord.Sweep(ctx)
		st = f.state(t)
		assert.Nil(t, st.CooldownExpiresAt)
		assert.Equal(t, want.level, st.CooldownLevel)
	}

	assert.Len(t, f.provider.sent, len(expectations))
}

func TestEmailFailureReturnsUserToReady(t *testing.T) {
	f := newCoordFixture(t)
	f.provider.ok = false
	ctx := context.Background()

	f.coord.HandleFailure(ctx, "user-1", "ep-1")
	f.now = f.now.Add(16 * time.Minute)
	f.coord.Sweep(ctx)

	st := f.state(t)
	assert.False(t, st.BufferActive)
	assert.Nil(t, st.CooldownExpiresAt, "failed send must not consume a cooldown")
	assert.Equal(t, 0, st.CooldownLevel)
	assert.Empty(t, f.mem.History())

	// The next failure can open a fresh window immediately.
	f.provider.ok = true
	f.coord.HandleFailure(ctx, "user-1", "ep-1")
	assert.True(t, f.state(t).BufferActive)
}

func TestFlushDiscardsWhenNotificationsDisabled(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	f.coord.HandleFailure(ctx, "user-1", "ep-1")
	f.mem.SetSettings(&store.NotificationSettings{
		UserID:       "user-1",
		EmailEnabled: false,
	})

	f.now = f.now.Add(16 * time.Minute)
	f.coord.Sweep(ctx)

	assert.Empty(t, f.provider.sent)
	st := f.state(t)
	assert.False(t, st.BufferActive)
	assert.Nil(t, st.CooldownExpiresAt)
}

func TestFlushDiscardsWhenEndpointsDeleted(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	f.coord.HandleFailure(ctx, "user-1", "ep-1")
	f.mem.RemoveEndpoint("ep-1")

	f.now = f.now.Add(16 * time.Minute)
	f.coord.Sweep(ctx)

	assert.Empty(t, f.provider.sent)
	assert.False(t, f.state(t).BufferActive)
}
