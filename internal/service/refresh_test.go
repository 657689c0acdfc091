package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arenalab/authcore/internal/model"
	"github.com/arenalab/authcore/internal/testutil"
)

// MockRefreshTokenStore mocks the RefreshTokenStore interface
type MockRefreshTokenStore struct {
	mock.Mock
}

func (m *MockRefreshTokenStore) Create(ctx context.Context, token model.RefreshToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockRefreshTokenStore) GetByHash(ctx context.Context, hash []byte) (model.RefreshToken, error) {
	args := m.Called(ctx, hash)
	return args.Get(0).(model.RefreshToken), args.Error(1)
}

func (m *MockRefreshTokenStore) Revoke(ctx context.Context, hash []byte, now time.Time) error {
	args := m.Called(ctx, hash, now)
	return args.Error(0)
}

func (m *MockRefreshTokenStore) Rotate(ctx context.Context, oldHash []byte, next model.RefreshToken, now time.Time) (model.RefreshToken, error) {
	args := m.Called(ctx, oldHash, next, now)
	return args.Get(0).(model.RefreshToken), args.Error(1)
}

func (m *MockRefreshTokenStore) DeleteExpiredAndRevoked(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func TestRefreshService_Issue(t *testing.T) {
	store := new(MockRefreshTokenStore)
	svc := NewRefreshService(store, RefreshConfig{TTL: time.Hour}, testutil.MakeNoopLogger())
	userID := uuid.New()

	var created model.RefreshToken
	store.On("Create", mock.Anything, mock.AnythingOfType("model.RefreshToken")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(model.RefreshToken)
		}).
		Return(nil).Once()

	raw, rt, err := svc.Issue(context.Background(), userID)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	assert.Equal(t, userID, rt.UserID)
	assert.Equal(t, created.ID, rt.ID)

	// The persisted record holds the hash of the raw secret, never the secret.
	wantHash := sha256.Sum256([]byte(raw))
	assert.Equal(t, wantHash[:], created.TokenHash)
	assert.NotContains(t, string(created.TokenHash), raw)

	assert.WithinDuration(t, time.Now().Add(time.Hour), rt.ExpiresAt, time.Minute)
	store.AssertExpectations(t)
}

func TestRefreshService_Issue_DistinctSecrets(t *testing.T) {
	store := new(MockRefreshTokenStore)
	svc := NewRefreshService(store, RefreshConfig{}, testutil.MakeNoopLogger())
	store.On("Create", mock.Anything, mock.Anything).Return(nil).Twice()

	rawA, _, err := svc.Issue(context.Background(), uuid.New())
	require.NoError(t, err)
	rawB, _, err := svc.Issue(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.NotEqual(t, rawA, rawB)
}

func TestRefreshService_Validate(t *testing.T) {
	userID := uuid.New()
	now := time.Now()
	raw := "the-raw-secret"
	hash := sha256.Sum256([]byte(raw))

	tests := []struct {
		name    string
		record  model.RefreshToken
		grace   time.Duration
		wantErr error
	}{
		{
			name:   "valid",
			record: model.RefreshToken{ID: uuid.New(), UserID: userID, ExpiresAt: now.Add(time.Hour)},
		},
		{
			name: "revoked",
			record: func() model.RefreshToken {
				revokedAt := now.Add(-time.Minute)
				return model.RefreshToken{ID: uuid.New(), RevokedAt: &revokedAt, ExpiresAt: now.Add(time.Hour)}
			}(),
			wantErr: model.ErrTokenRevoked,
		},
		{
			name:    "expired",
			record:  model.RefreshToken{ID: uuid.New(), ExpiresAt: now.Add(-time.Minute)},
			wantErr: model.ErrTokenExpired,
		},
		{
			name: "rotated within grace",
			record: func() model.RefreshToken {
				rotatedAt := now.Add(-10 * time.Second)
				return model.RefreshToken{ID: uuid.New(), UserID: userID, RevokedAt: &rotatedAt, RotatedAt: &rotatedAt, ExpiresAt: now.Add(time.Hour)}
			}(),
			grace: time.Minute,
		},
		{
			name: "rotated past grace",
			record: func() model.RefreshToken {
				rotatedAt := now.Add(-2 * time.Minute)
				return model.RefreshToken{ID: uuid.New(), RevokedAt: &rotatedAt, RotatedAt: &rotatedAt, ExpiresAt: now.Add(time.Hour)}
			}(),
			grace:   time.Minute,
			wantErr: model.ErrTokenRevoked,
		},
		{
			name: "rotated with zero grace",
			record: func() model.RefreshToken {
				rotatedAt := now.Add(-time.Millisecond)
				return model.RefreshToken{ID: uuid.New(), RevokedAt: &rotatedAt, RotatedAt: &rotatedAt, ExpiresAt: now.Add(time.Hour)}
			}(),
			wantErr: model.ErrTokenRevoked,
		},
		{
			name: "explicit revoke ignores grace",
			record: func() model.RefreshToken {
				revokedAt := now.Add(-time.Second)
				return model.RefreshToken{ID: uuid.New(), RevokedAt: &revokedAt, ExpiresAt: now.Add(time.Hour)}
			}(),
			grace:   time.Minute,
			wantErr: model.ErrTokenRevoked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockRefreshTokenStore)
			svc := NewRefreshService(store, RefreshConfig{TTL: time.Hour, RotationGrace: tt.grace}, testutil.MakeNoopLogger())

			store.On("GetByHash", mock.Anything, hash[:]).Return(tt.record, nil).Once()

			got, err := svc.Validate(context.Background(), raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.record.ID, got.ID)
			}
			store.AssertExpectations(t)
		})
	}
}

func TestRefreshService_Validate_NotFound(t *testing.T) {
	store := new(MockRefreshTokenStore)
	svc := NewRefreshService(store, RefreshConfig{}, testutil.MakeNoopLogger())

	store.On("GetByHash", mock.Anything, mock.Anything).
		Return(model.RefreshToken{}, model.NotFound("")).Once()

	_, err := svc.Validate(context.Background(), "no-such-secret")
	assert.ErrorIs(t, err, model.ErrNotFound)
	store.AssertExpectations(t)
}

func TestRefreshService_Rotate(t *testing.T) {
	store := new(MockRefreshTokenStore)
	svc := NewRefreshService(store, RefreshConfig{TTL: time.Hour}, testutil.MakeNoopLogger())
	userID := uuid.New()
	oldRaw := "old-secret"
	oldHash := sha256.Sum256([]byte(oldRaw))

	var next model.RefreshToken
	store.On("Rotate", mock.Anything, oldHash[:], mock.AnythingOfType("model.RefreshToken"), mock.AnythingOfType("time.Time")).
		Run(func(args mock.Arguments) {
			next = args.Get(2).(model.RefreshToken)
			next.UserID = userID
		}).
		Return(model.RefreshToken{ID: uuid.New(), UserID: userID}, nil).Once()

	newRaw, rotated, err := svc.Rotate(context.Background(), oldRaw)
	require.NoError(t, err)
	require.NotEmpty(t, newRaw)
	assert.NotEqual(t, oldRaw, newRaw)
	assert.Equal(t, userID, rotated.UserID)

	wantHash := sha256.Sum256([]byte(newRaw))
	assert.Equal(t, wantHash[:], next.TokenHash)
	store.AssertExpectations(t)
}

func TestRefreshService_Rotate_StoreError(t *testing.T) {
	store := new(MockRefreshTokenStore)
	svc := NewRefreshService(store, RefreshConfig{}, testutil.MakeNoopLogger())

	store.On("Rotate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.RefreshToken{}, model.TokenRevoked("tok")).Once()

	_, _, err := svc.Rotate(context.Background(), "revoked-secret")
	assert.ErrorIs(t, err, model.ErrTokenRevoked)
	store.AssertExpectations(t)
}

func TestRefreshService_Revoke(t *testing.T) {
	store := new(MockRefreshTokenStore)
	svc := NewRefreshService(store, RefreshConfig{}, testutil.MakeNoopLogger())
	raw := "secret-to-revoke"
	hash := sha256.Sum256([]byte(raw))

	store.On("Revoke", mock.Anything, hash[:], mock.AnythingOfType("time.Time")).Return(nil).Once()

	require.NoError(t, svc.Revoke(context.Background(), raw))
	store.AssertExpectations(t)
}

func TestRefreshService_RetriesStoreUnavailable(t *testing.T) {
	store := new(MockRefreshTokenStore)
	svc := NewRefreshService(store, RefreshConfig{}, testutil.MakeNoopLogger())

	store.On("DeleteExpiredAndRevoked", mock.Anything, mock.Anything).
		Return(int64(0), model.StoreUnavailable(errors.New("connection refused"))).Twice()
	store.On("DeleteExpiredAndRevoked", mock.Anything, mock.Anything).
		Return(int64(5), nil).Once()

	deleted, err := svc.DeleteExpiredAndRevoked(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)
	store.AssertNumberOfCalls(t, "DeleteExpiredAndRevoked", 3)
}

func TestRefreshService_DoesNotRetryPermanentErrors(t *testing.T) {
	store := new(MockRefreshTokenStore)
	svc := NewRefreshService(store, RefreshConfig{}, testutil.MakeNoopLogger())

	store.On("GetByHash", mock.Anything, mock.Anything).
		Return(model.RefreshToken{}, model.NotFound("")).Once()

	_, err := svc.Validate(context.Background(), "gone")
	assert.ErrorIs(t, err, model.ErrNotFound)
	store.AssertNumberOfCalls(t, "GetByHash", 1)
}

func TestRefreshService_RetriesExhausted(t *testing.T) {
	store := new(MockRefreshTokenStore)
	svc := NewRefreshService(store, RefreshConfig{}, testutil.MakeNoopLogger())

	store.On("Revoke", mock.Anything, mock.Anything, mock.Anything).
		Return(model.StoreUnavailable(errors.New("still down")))

	err := svc.Revoke(context.Background(), "secret")
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
	store.AssertNumberOfCalls(t, "Revoke", 4)
}
