package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umbrakit/umbra"
)

func setupRedisRepo(t *testing.T) (*RedisRepository, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisRepository(client), server
}

func TestRedisRepositoryCRUD(t *testing.T) {
	repo, _ := setupRedisRepo(t)
	ctx := context.Background()

	missing, err := repo.Find(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	original := testAuthenticator("auth-1")
	_, err = repo.Add(ctx, original)
	require.NoError(t, err)

	found, err := repo.Find(ctx, "auth-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, original.LoginInfo, found.LoginInfo)
	require.NotNil(t, found.IdleTimeout)
	assert.Equal(t, *original.IdleTimeout, *found.IdleTimeout)
	assert.Equal(t, "admin", found.CustomClaims["role"])

	found.LastUsedAt = found.LastUsedAt.Add(time.Hour)
	_, err = repo.Update(ctx, found)
	require.NoError(t, err)

	updated, err := repo.Find(ctx, "auth-1")
	require.NoError(t, err)
	assert.Equal(t, found.LastUsedAt.Unix(), updated.LastUsedAt.Unix())

	require.NoError(t, repo.Remove(ctx, "auth-1"))
	gone, err := repo.Find(ctx, "auth-1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestRedisRepositoryTTLTracksExpiry(t *testing.T) {
	repo, server := setupRedisRepo(t)
	ctx := context.Background()

	now := time.Now()
	repo.WithClock(umbra.ClockFunc(func() time.Time { return now }))

	record := testAuthenticator("auth-1")
	record.ExpiresAt = now.Add(2 * time.Hour)

	_, err := repo.Add(ctx, record)
	require.NoError(t, err)

	// the key dies with the authenticator's absolute expiry
	assert.Equal(t, 2*time.Hour, server.TTL(defaultKeyPrefix+"auth-1"))

	// an already-expired record still gets a short grace window rather
	// than an immediate or unbounded key
	stale := testAuthenticator("auth-2")
	stale.ExpiresAt = now.Add(-time.Hour)
	_, err = repo.Add(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, server.TTL(defaultKeyPrefix+"auth-2"))
}

func TestRedisRepositoryKeyPrefix(t *testing.T) {
	repo, server := setupRedisRepo(t)
	repo.WithKeyPrefix("sessions:")
	ctx := context.Background()

	_, err := repo.Add(ctx, testAuthenticator("auth-1"))
	require.NoError(t, err)

	assert.True(t, server.Exists("sessions:auth-1"))

	found, err := repo.Find(ctx, "auth-1")
	require.NoError(t, err)
	assert.NotNil(t, found)
}
