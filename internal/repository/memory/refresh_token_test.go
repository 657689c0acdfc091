package memory

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenalab/authcore/internal/model"
)

func hashOf(s string) []byte {
	h := sha256.Sum256([]byte(s))
	return h[:]
}

func newToken(secret string, expiresIn time.Duration) model.RefreshToken {
	now := time.Now()
	return model.RefreshToken{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		TokenHash: hashOf(secret),
		IssuedAt:  now,
		ExpiresAt: now.Add(expiresIn),
	}
}

func TestRefreshTokenStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewRefreshTokenStore(0)

	rt := newToken("secret-1", time.Hour)
	require.NoError(t, store.Create(ctx, rt))

	got, err := store.GetByHash(ctx, rt.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, rt.ID, got.ID)
	assert.Equal(t, rt.UserID, got.UserID)
	assert.False(t, got.Revoked())

	_, err = store.GetByHash(ctx, hashOf("unknown"))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRefreshTokenStore_Revoke(t *testing.T) {
	ctx := context.Background()
	store := NewRefreshTokenStore(0)

	rt := newToken("secret-1", time.Hour)
	require.NoError(t, store.Create(ctx, rt))

	now := time.Now()
	require.NoError(t, store.Revoke(ctx, rt.TokenHash, now))

	got, err := store.GetByHash(ctx, rt.TokenHash)
	require.NoError(t, err)
	assert.True(t, got.Revoked())
	assert.False(t, got.RevokedByRotation())

	// Revoking again is a no-op.
	require.NoError(t, store.Revoke(ctx, rt.TokenHash, now.Add(time.Minute)))

	assert.ErrorIs(t, store.Revoke(ctx, hashOf("unknown"), now), model.ErrNotFound)
}

func TestRefreshTokenStore_Rotate(t *testing.T) {
	ctx := context.Background()
	store := NewRefreshTokenStore(0)

	old := newToken("old-secret", time.Hour)
	require.NoError(t, store.Create(ctx, old))

	next := newToken("new-secret", time.Hour)
	next.UserID = uuid.Nil // the store must fill it from the old record

	now := time.Now()
	rotated, err := store.Rotate(ctx, old.TokenHash, next, now)
	require.NoError(t, err)
	assert.Equal(t, old.UserID, rotated.UserID)
	require.NotNil(t, rotated.RotatedFrom)
	assert.Equal(t, old.ID, *rotated.RotatedFrom)

	oldRecord, err := store.GetByHash(ctx, old.TokenHash)
	require.NoError(t, err)
	assert.True(t, oldRecord.Revoked())
	assert.True(t, oldRecord.RevokedByRotation())

	newRecord, err := store.GetByHash(ctx, next.TokenHash)
	require.NoError(t, err)
	assert.False(t, newRecord.Revoked())
}

func TestRefreshTokenStore_Rotate_Failures(t *testing.T) {
	ctx := context.Background()
	store := NewRefreshTokenStore(0)
	now := time.Now()

	_, err := store.Rotate(ctx, hashOf("unknown"), newToken("n1", time.Hour), now)
	assert.ErrorIs(t, err, model.ErrNotFound)

	revoked := newToken("revoked", time.Hour)
	require.NoError(t, store.Create(ctx, revoked))
	require.NoError(t, store.Revoke(ctx, revoked.TokenHash, now))
	_, err = store.Rotate(ctx, revoked.TokenHash, newToken("n2", time.Hour), now)
	assert.ErrorIs(t, err, model.ErrTokenRevoked)

	expired := newToken("expired", -time.Minute)
	require.NoError(t, store.Create(ctx, expired))
	_, err = store.Rotate(ctx, expired.TokenHash, newToken("n3", time.Hour), now)
	assert.ErrorIs(t, err, model.ErrTokenExpired)

	// Nothing was mutated on the failed rotations.
	_, err = store.GetByHash(ctx, hashOf("n2"))
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = store.GetByHash(ctx, hashOf("n3"))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// A rotate racing a revoke on the same record must have exactly one winner:
// either the rotate finishes first and the revoke lands on the successor's
// predecessor as a no-op, or the revoke wins and the rotate fails on a
// revoked record.
func TestRefreshTokenStore_RotateRevokeRace(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		store := NewRefreshTokenStore(0)
		rt := newToken(fmt.Sprintf("race-%d", i), time.Hour)
		require.NoError(t, store.Create(ctx, rt))

		next := newToken(fmt.Sprintf("race-next-%d", i), time.Hour)
		now := time.Now()

		var wg sync.WaitGroup
		var rotateErr, revokeErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, rotateErr = store.Rotate(ctx, rt.TokenHash, next, now)
		}()
		go func() {
			defer wg.Done()
			revokeErr = store.Revoke(ctx, rt.TokenHash, now)
		}()
		wg.Wait()

		require.NoError(t, revokeErr, "revoke never fails on an existing record")

		_, successorErr := store.GetByHash(ctx, next.TokenHash)
		if rotateErr == nil {
			assert.NoError(t, successorErr, "successful rotate must leave a successor")
		} else {
			assert.ErrorIs(t, rotateErr, model.ErrTokenRevoked)
			assert.ErrorIs(t, successorErr, model.ErrNotFound, "failed rotate must not insert a successor")
		}
	}
}

func TestRefreshTokenStore_DeleteExpiredAndRevoked(t *testing.T) {
	ctx := context.Background()
	store := NewRefreshTokenStore(0)
	now := time.Now()

	active := newToken("active", time.Hour)
	expired1 := newToken("expired-1", -time.Minute)
	expired2 := newToken("expired-2", -time.Hour)
	revoked := newToken("revoked", time.Hour)

	for _, rt := range []model.RefreshToken{active, expired1, expired2, revoked} {
		require.NoError(t, store.Create(ctx, rt))
	}
	require.NoError(t, store.Revoke(ctx, revoked.TokenHash, now))

	deleted, err := store.DeleteExpiredAndRevoked(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.Equal(t, 1, store.Len())

	_, err = store.GetByHash(ctx, active.TokenHash)
	assert.NoError(t, err)
}

func TestRefreshTokenStore_DeleteSparesRotationGrace(t *testing.T) {
	ctx := context.Background()
	store := NewRefreshTokenStore(time.Minute)
	now := time.Now()

	old := newToken("rotated-old", time.Hour)
	require.NoError(t, store.Create(ctx, old))
	_, err := store.Rotate(ctx, old.TokenHash, newToken("rotated-new", time.Hour), now)
	require.NoError(t, err)

	// Within the grace window the rotated-out record survives the sweep.
	deleted, err := store.DeleteExpiredAndRevoked(ctx, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	// After the window closes it goes.
	deleted, err = store.DeleteExpiredAndRevoked(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, 1, store.Len())
}
