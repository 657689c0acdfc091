package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/arenalab/authcore/internal/logger"
	"github.com/arenalab/authcore/internal/model"
)

// RefreshConfig carries refresh token policy. Zero values fall back to the
// defaults below.
type RefreshConfig struct {
	// TTL is how long an issued refresh token stays valid.
	TTL time.Duration
	// RotationGrace tolerates in-flight requests presenting a just-rotated
	// secret: Validate accepts a record revoked by rotation for this long
	// after the rotation. Explicit revocation is always final.
	RotationGrace time.Duration
}

const (
	defaultRefreshTTL = 30 * 24 * time.Hour
	secretBytes       = 32

	retryAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
)

// RefreshService issues, validates, rotates and revokes refresh tokens on
// top of a RefreshTokenStore. The raw secret is returned to the caller once
// at issuance; only its SHA-256 hash is ever persisted.
type RefreshService struct {
	store  model.RefreshTokenStore
	cfg    RefreshConfig
	logger *logger.Logger
}

func NewRefreshService(store model.RefreshTokenStore, cfg RefreshConfig, logger *logger.Logger) *RefreshService {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultRefreshTTL
	}
	return &RefreshService{store: store, cfg: cfg, logger: logger}
}

// Issue creates a refresh token for the user and persists its record. The
// returned raw secret is URL-safe and never stored.
func (s *RefreshService) Issue(ctx context.Context, userID uuid.UUID) (string, model.RefreshToken, error) {
	raw, err := newSecret()
	if err != nil {
		return "", model.RefreshToken{}, fmt.Errorf("failed to generate refresh secret: %w", err)
	}

	now := time.Now()
	rt := model.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: hashSecret(raw),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}

	if err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.store.Create(ctx, rt)
	}); err != nil {
		return "", model.RefreshToken{}, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	return raw, rt, nil
}

// Validate looks up the record for the presented secret and checks its state.
// A record revoked as the old half of a rotation is tolerated within the
// configured grace window.
func (s *RefreshService) Validate(ctx context.Context, raw string) (model.RefreshToken, error) {
	var rt model.RefreshToken
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		rt, err = s.store.GetByHash(ctx, hashSecret(raw))
		return err
	})
	if err != nil {
		return model.RefreshToken{}, err
	}

	now := time.Now()
	if rt.Revoked() && !s.withinGrace(rt, now) {
		return model.RefreshToken{}, model.TokenRevoked(rt.ID.String())
	}
	if rt.Expired(now) {
		return model.RefreshToken{}, model.TokenExpired(rt.ID.String())
	}
	return rt, nil
}

// Rotate atomically revokes the presented token and issues a successor for
// the same user. On a validation failure nothing is mutated and the error is
// the one Validate would produce.
func (s *RefreshService) Rotate(ctx context.Context, raw string) (string, model.RefreshToken, error) {
	newRaw, err := newSecret()
	if err != nil {
		return "", model.RefreshToken{}, fmt.Errorf("failed to generate refresh secret: %w", err)
	}

	now := time.Now()
	next := model.RefreshToken{
		ID:        uuid.New(),
		TokenHash: hashSecret(newRaw),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}

	var rotated model.RefreshToken
	if err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		rotated, err = s.store.Rotate(ctx, hashSecret(raw), next, now)
		return err
	}); err != nil {
		return "", model.RefreshToken{}, err
	}

	return newRaw, rotated, nil
}

// Revoke marks the presented token revoked. Revoking an already-revoked
// token is a no-op.
func (s *RefreshService) Revoke(ctx context.Context, raw string) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		return s.store.Revoke(ctx, hashSecret(raw), time.Now())
	})
}

// DeleteExpiredAndRevoked prunes stale records, returning the count deleted.
func (s *RefreshService) DeleteExpiredAndRevoked(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = s.store.DeleteExpiredAndRevoked(ctx, now)
		return err
	})
	return deleted, err
}

func (s *RefreshService) withinGrace(rt model.RefreshToken, now time.Time) bool {
	if s.cfg.RotationGrace <= 0 || !rt.RevokedByRotation() {
		return false
	}
	return now.Before(rt.RotatedAt.Add(s.cfg.RotationGrace))
}

// withRetry retries store_unavailable failures with bounded exponential
// backoff. Every other error surfaces immediately.
func (s *RefreshService) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(retryAttempts, retry.NewExponential(retryBaseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := op(ctx)
		if errors.Is(err, model.ErrStoreUnavailable) {
			s.logger.Warn("store unavailable, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashSecret(raw string) []byte {
	h := sha256.Sum256([]byte(raw))
	return h[:]
}
