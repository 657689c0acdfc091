// Package memory provides a mutex-guarded in-memory refresh token store with
// the same atomicity guarantees as the Postgres repository. Used in tests and
// local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/arenalab/authcore/internal/model"
)

var _ model.RefreshTokenStore = (*RefreshTokenStore)(nil)

type RefreshTokenStore struct {
	mu    sync.Mutex
	byKey map[string]model.RefreshToken
	grace time.Duration
}

func NewRefreshTokenStore(grace time.Duration) *RefreshTokenStore {
	return &RefreshTokenStore{
		byKey: make(map[string]model.RefreshToken),
		grace: grace,
	}
}

func (s *RefreshTokenStore) Create(_ context.Context, token model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	token.CreatedAt = now
	token.UpdatedAt = now
	s.byKey[string(token.TokenHash)] = token
	return nil
}

func (s *RefreshTokenStore) GetByHash(_ context.Context, hash []byte) (model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.byKey[string(hash)]
	if !ok {
		return model.RefreshToken{}, model.NotFound("")
	}
	return rt, nil
}

func (s *RefreshTokenStore) Revoke(_ context.Context, hash []byte, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.byKey[string(hash)]
	if !ok {
		return model.NotFound("")
	}
	if rt.Revoked() {
		return nil
	}

	revokedAt := now
	rt.RevokedAt = &revokedAt
	rt.UpdatedAt = now
	s.byKey[string(hash)] = rt
	return nil
}

func (s *RefreshTokenStore) Rotate(_ context.Context, oldHash []byte, next model.RefreshToken, now time.Time) (model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byKey[string(oldHash)]
	if !ok {
		return model.RefreshToken{}, model.NotFound("")
	}
	if old.Revoked() {
		return model.RefreshToken{}, model.TokenRevoked(old.ID.String())
	}
	if old.Expired(now) {
		return model.RefreshToken{}, model.TokenExpired(old.ID.String())
	}

	revokedAt := now
	old.RevokedAt = &revokedAt
	old.RotatedAt = &revokedAt
	old.UpdatedAt = now
	s.byKey[string(oldHash)] = old

	next.UserID = old.UserID
	rotatedFrom := old.ID
	next.RotatedFrom = &rotatedFrom
	next.CreatedAt = now
	next.UpdatedAt = now
	s.byKey[string(next.TokenHash)] = next
	return next, nil
}

func (s *RefreshTokenStore) DeleteExpiredAndRevoked(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, rt := range s.byKey {
		inGrace := rt.RotatedAt != nil && now.Before(rt.RotatedAt.Add(s.grace))
		if rt.Expired(now) || (rt.Revoked() && !inGrace) {
			delete(s.byKey, key)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of stored records.
func (s *RefreshTokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}
