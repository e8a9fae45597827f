package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_CreateAndFindValid(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Create(ctx, newSession("tok", "alice", now, time.Hour)))

	s, err := store.FindValid(ctx, "tok", now)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, "alice", s.Username)
	require.True(t, mr.TTL(sessionKey("tok")) > 59*time.Minute)

	s, err = store.FindValid(ctx, "tok", now.Add(time.Hour))
	require.NoError(t, err)
	require.Nil(t, s, "session must be invalid at expires_at")
}

func TestRedisStore_KeyTTLRemovesRecord(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Create(ctx, newSession("tok", "alice", now, time.Hour)))
	mr.FastForward(time.Hour + time.Second)

	s, err := store.FindValid(ctx, "tok", now)
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestRedisStore_MergeData(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.Create(ctx, newSession("tok", "alice", now, time.Hour)))

	ok, err := store.MergeData(ctx, "tok", map[string]string{model.SessionDataWalletBalance: "10000"}, now)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.MergeData(ctx, "tok", map[string]string{model.SessionDataRefreshedAt: "t"}, now)
	require.NoError(t, err)
	require.True(t, ok)

	s, err := store.FindValid(ctx, "tok", now)
	require.NoError(t, err)
	require.Equal(t, "10000", s.Data[model.SessionDataWalletBalance])
	require.Equal(t, "t", s.Data[model.SessionDataRefreshedAt])
}

func TestRedisStore_MergeData_ConcurrentWritersKeepAllFields(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.Create(ctx, newSession("tok", "alice", now, time.Hour)))

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.MergeData(ctx, "tok", map[string]string{fmt.Sprintf("k%d", i): "v"}, now)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	s, err := store.FindValid(ctx, "tok", now)
	require.NoError(t, err)
	require.Len(t, s.Data, 5)
}

func TestRedisStore_MergeData_MissingOrExpiredIsNoop(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	ok, err := store.MergeData(ctx, "missing", map[string]string{"k": "v"}, now)
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, mr.Exists(sessionKey("missing")))

	require.NoError(t, store.Create(ctx, newSession("tok", "alice", now, time.Hour)))
	ok, err = store.MergeData(ctx, "tok", map[string]string{"k": "v"}, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStore_DeleteAndDeleteByUsername(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.Create(ctx, newSession("a1", "alice", now, time.Hour)))
	require.NoError(t, store.Create(ctx, newSession("a2", "alice", now, time.Hour)))
	require.NoError(t, store.Create(ctx, newSession("b1", "bob", now, time.Hour)))

	require.NoError(t, store.Delete(ctx, "b1"))
	require.NoError(t, store.Delete(ctx, "b1"))
	require.False(t, mr.Exists(sessionKey("b1")))
	// 空になった索引はRedis側で削除される
	require.False(t, mr.Exists(userKey("bob")))

	require.NoError(t, store.DeleteByUsername(ctx, "alice"))
	require.False(t, mr.Exists(sessionKey("a1")))
	require.False(t, mr.Exists(sessionKey("a2")))
	require.False(t, mr.Exists(userKey("alice")))
}

func TestRedisStore_DeleteExpired_PrunesIndex(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.Create(ctx, newSession("short", "alice", now, time.Minute)))
	require.NoError(t, store.Create(ctx, newSession("long", "alice", now, 2*time.Hour)))

	// shortはRedisのTTLで消え、索引にだけ残る
	mr.FastForward(2 * time.Minute)

	n, err := store.DeleteExpired(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Zero(t, n, "index pruning is not a session deletion")

	members, err := mr.Members(userKey("alice"))
	require.NoError(t, err)
	require.Equal(t, []string{"long"}, members)
}

func TestRedisStore_DeleteExpired_CountsDeletedRecords(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.Create(ctx, newSession("stale", "alice", now, time.Minute)))
	require.NoError(t, store.Create(ctx, newSession("long", "bob", now, 2*time.Hour)))

	// RedisのTTLより先に期限を迎えた記録はこの呼び出しで削除される
	n, err := store.DeleteExpired(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.False(t, mr.Exists(sessionKey("stale")))
	require.True(t, mr.Exists(sessionKey("long")))
}

func TestRedisStore_WorksWithManager(t *testing.T) {
	store, _ := newTestRedisStore(t)
	m := NewManager(store, ManagerConfig{TTL: time.Hour, SweepInterval: time.Hour})
	t.Cleanup(m.Wait)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)

	username, ok, err := m.ValidateSession(ctx, s.Token)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice", username)

	require.NoError(t, m.LogoutSession(ctx, s.Token))
	_, ok, err = m.ValidateSession(ctx, s.Token)
	require.NoError(t, err)
	require.False(t, ok)
}
