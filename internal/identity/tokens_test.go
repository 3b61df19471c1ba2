package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSession() *Session {
	return &Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "bearer",
		ExpiresIn:    3600,
		ExpiresAt:    1700003600,
		User:         &User{ID: "user-1", Email: "ada@example.com"},
	}
}

func TestMemoryTokens(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTokens()

	got, err := store.Load(ctx, testSID)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.Error(t, store.Save(ctx, testSID, nil))

	in := sampleSession()
	require.NoError(t, store.Save(ctx, testSID, in))

	// Mutating the caller's copy must not leak into the store.
	in.AccessToken = "changed"

	got, err = store.Load(ctx, testSID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "access", got.AccessToken)
	assert.Equal(t, "user-1", got.User.ID)

	require.NoError(t, store.Delete(ctx, testSID))
	got, err = store.Load(ctx, testSID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func newRedisTokens(t *testing.T, ttl time.Duration) (*RedisTokens, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisTokens(context.Background(), "redis://"+mr.Addr(), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisTokens_LoadMissing(t *testing.T) {
	store, _ := newRedisTokens(t, time.Hour)

	got, err := store.Load(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisTokens_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisTokens(t, time.Hour)

	require.NoError(t, store.Save(ctx, testSID, sampleSession()))
	assert.True(t, mr.Exists(redisKeyPrefix+testSID))

	got, err := store.Load(ctx, testSID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sampleSession(), got)

	require.NoError(t, store.Delete(ctx, testSID))
	assert.False(t, mr.Exists(redisKeyPrefix+testSID))

	got, err = store.Load(ctx, testSID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisTokens_Expire(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisTokens(t, time.Minute)

	require.NoError(t, store.Save(ctx, testSID, sampleSession()))
	assert.Equal(t, time.Minute, mr.TTL(redisKeyPrefix+testSID))

	mr.FastForward(2 * time.Minute)

	got, err := store.Load(ctx, testSID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisTokens_CorruptValue(t *testing.T) {
	store, mr := newRedisTokens(t, time.Hour)
	require.NoError(t, mr.Set(redisKeyPrefix+testSID, "not json"))

	_, err := store.Load(context.Background(), testSID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode tokens")
}

func TestRedisTokens_Ping(t *testing.T) {
	store, mr := newRedisTokens(t, time.Hour)
	require.NoError(t, store.Ping(context.Background()))

	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}

func TestNewRedisTokens_BadURL(t *testing.T) {
	_, err := NewRedisTokens(context.Background(), "://nope", time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis url")
}

func TestNewRedisTokens_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisTokens(ctx, "redis://"+addr, time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}
