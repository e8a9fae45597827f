package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingRecorder struct {
	created atomic.Int64
	swept   atomic.Int64
}

func (r *countingRecorder) RecordSessionCreated()       { r.created.Add(1) }
func (r *countingRecorder) RecordSessionsSwept(n int64) { r.swept.Add(n) }

func newTestManager(t *testing.T, interval time.Duration) (*Manager, *FileStore, *fakeClock) {
	t.Helper()
	store := NewMemoryStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := NewManager(store, ManagerConfig{TTL: 24 * time.Hour, SweepInterval: interval})
	m.now = clock.Now
	t.Cleanup(m.Wait)
	return m, store, clock
}

func TestManager_CreateSession_IssuesUniqueHexTokens(t *testing.T) {
	m, _, clock := newTestManager(t, time.Hour)
	ctx := context.Background()

	a, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)
	b, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)

	require.Len(t, a.Token, 64)
	require.NotEqual(t, a.Token, b.Token)
	require.Equal(t, clock.Now(), a.CreatedAt)
	require.Equal(t, clock.Now().Add(24*time.Hour), a.ExpiresAt)
}

func TestManager_ValidateSession_ExpiresAfterTTL(t *testing.T) {
	m, _, clock := newTestManager(t, time.Hour)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)

	clock.Advance(23*time.Hour + 59*time.Minute)
	username, ok, err := m.ValidateSession(ctx, s.Token)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice", username)

	clock.Advance(time.Minute)
	_, ok, err = m.ValidateSession(ctx, s.Token)
	require.NoError(t, err)
	require.False(t, ok, "session must be invalid at expires_at")
}

func TestManager_ValidateSession_UnknownAndEmptyToken(t *testing.T) {
	m, _, _ := newTestManager(t, time.Hour)
	ctx := context.Background()

	_, ok, err := m.ValidateSession(ctx, "")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = m.ValidateSession(ctx, "deadbeef")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestManager_UpdateSessionData_MergesFields(t *testing.T) {
	m, _, _ := newTestManager(t, time.Hour)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, m.UpdateSessionData(ctx, s.Token, map[string]string{model.SessionDataWalletBalance: "10000"}))
	require.NoError(t, m.UpdateSessionData(ctx, s.Token, map[string]string{model.SessionDataRefreshedAt: "t1"}))

	got, err := m.GetSessionData(ctx, s.Token)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		model.SessionDataWalletBalance: "10000",
		model.SessionDataRefreshedAt:   "t1",
	}, got.Data)
}

func TestManager_UpdateSessionData_ExpiredIsNoop(t *testing.T) {
	m, store, clock := newTestManager(t, time.Hour)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	require.NoError(t, m.UpdateSessionData(ctx, s.Token, map[string]string{"k": "v"}))

	// 時計を戻しても更新は反映されていない
	found, err := store.FindValid(ctx, s.Token, s.CreatedAt)
	require.NoError(t, err)
	if found != nil {
		require.NotContains(t, found.Data, "k")
	}
}

func TestManager_LogoutSession_IsIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t, time.Hour)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, m.LogoutSession(ctx, s.Token))
	require.NoError(t, m.LogoutSession(ctx, s.Token))

	_, ok, err := m.ValidateSession(ctx, s.Token)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestManager_Sweep_RemovesOnlyExpired(t *testing.T) {
	m, store, clock := newTestManager(t, time.Hour)
	rec := &countingRecorder{}
	m.recorder = rec
	ctx := context.Background()

	old, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)
	clock.Advance(12 * time.Hour)
	fresh, err := m.CreateSession(ctx, "bob")
	require.NoError(t, err)
	m.Wait()

	clock.Advance(12 * time.Hour)
	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, int64(1), rec.swept.Load())
	require.Equal(t, int64(2), rec.created.Load())

	store.mu.RLock()
	_, oldExists := store.sessions[old.Token]
	_, freshExists := store.sessions[fresh.Token]
	store.mu.RUnlock()
	require.False(t, oldExists)
	require.True(t, freshExists)
}

func TestManager_OpportunisticSweep_RunsOnAccess(t *testing.T) {
	m, store, clock := newTestManager(t, 0)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)
	m.Wait()

	clock.Advance(25 * time.Hour)
	_, _, err = m.ValidateSession(ctx, "other-token")
	require.NoError(t, err)
	m.Wait()

	store.mu.RLock()
	_, exists := store.sessions[s.Token]
	store.mu.RUnlock()
	require.False(t, exists, "expired session should be swept by background sweep")
}

func TestManager_OpportunisticSweep_RespectsInterval(t *testing.T) {
	store := &countingStore{FileStore: NewMemoryStore()}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := NewManager(store, ManagerConfig{TTL: time.Hour, SweepInterval: time.Minute})
	m.now = clock.Now
	ctx := context.Background()

	for range 5 {
		_, _, _ = m.ValidateSession(ctx, "x")
		m.Wait()
	}
	require.Equal(t, int64(1), store.sweeps.Load())

	clock.Advance(time.Minute)
	_, _, _ = m.ValidateSession(ctx, "x")
	m.Wait()
	require.Equal(t, int64(2), store.sweeps.Load())
}

func TestManager_SweepFailure_DoesNotAffectReads(t *testing.T) {
	store := &countingStore{FileStore: NewMemoryStore(), sweepErr: errors.New("store down")}
	m := NewManager(store, ManagerConfig{TTL: time.Hour})
	ctx := context.Background()

	s, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)
	m.Wait()

	username, ok, err := m.ValidateSession(ctx, s.Token)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice", username)
	m.Wait()
}

type countingStore struct {
	*FileStore
	sweeps   atomic.Int64
	sweepErr error
}

func (s *countingStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.sweeps.Add(1)
	if s.sweepErr != nil {
		return 0, s.sweepErr
	}
	return s.FileStore.DeleteExpired(ctx, now)
}
