package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupBunRepo(t *testing.T) *BunRepository {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	bunDB := bun.NewDB(db, sqlitedialect.New())

	repo := NewBunRepository(bunDB)
	require.NoError(t, repo.CreateTable(context.Background()))
	return repo
}

func TestBunRepositoryCRUD(t *testing.T) {
	repo := setupBunRepo(t)
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
	assert.Equal(t, original.LastUsedAt.Unix(), found.LastUsedAt.Unix())
	assert.Equal(t, original.ExpiresAt.Unix(), found.ExpiresAt.Unix())
	require.NotNil(t, found.IdleTimeout)
	assert.Equal(t, 30*time.Minute, *found.IdleTimeout)
	assert.Equal(t, "admin", found.CustomClaims["role"])

	found.LastUsedAt = found.LastUsedAt.Add(time.Hour)
	found.Fingerprint = "fp-1"
	_, err = repo.Update(ctx, found)
	require.NoError(t, err)

	updated, err := repo.Find(ctx, "auth-1")
	require.NoError(t, err)
	assert.Equal(t, found.LastUsedAt.Unix(), updated.LastUsedAt.Unix())
	assert.Equal(t, "fp-1", updated.Fingerprint)

	require.NoError(t, repo.Remove(ctx, "auth-1"))
	gone, err := repo.Find(ctx, "auth-1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestBunRepositoryUpdateMissing(t *testing.T) {
	repo := setupBunRepo(t)

	_, err := repo.Update(context.Background(), testAuthenticator("never-added"))
	assert.Error(t, err)
}

func TestBunRepositoryNoIdleTimeoutOrClaims(t *testing.T) {
	repo := setupBunRepo(t)
	ctx := context.Background()

	bare := testAuthenticator("auth-2")
	bare.IdleTimeout = nil
	bare.CustomClaims = nil

	_, err := repo.Add(ctx, bare)
	require.NoError(t, err)

	found, err := repo.Find(ctx, "auth-2")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Nil(t, found.IdleTimeout)
	assert.Nil(t, found.CustomClaims)
}
