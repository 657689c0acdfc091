package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arenalab/authcore/internal/keys"
	"github.com/arenalab/authcore/internal/logger"
	"github.com/arenalab/authcore/internal/model"
	"github.com/arenalab/authcore/internal/token"
)

// TokenConfig carries access token policy.
type TokenConfig struct {
	Issuer    string
	AccessTTL time.Duration
}

const defaultAccessTTL = 15 * time.Minute

// TokenService composes the codec, the signing key pair and the refresh
// service into the operations an auth endpoint calls: issue a token pair,
// renew it through rotation, revoke it, and verify access tokens.
type TokenService struct {
	codec   *token.Codec
	refresh *RefreshService
	keyPair *keys.KeyPair
	cfg     TokenConfig
	logger  *logger.Logger
}

func NewTokenService(codec *token.Codec, refresh *RefreshService, keyPair *keys.KeyPair, cfg TokenConfig, logger *logger.Logger) *TokenService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	return &TokenService{
		codec:   codec,
		refresh: refresh,
		keyPair: keyPair,
		cfg:     cfg,
		logger:  logger,
	}
}

// IssuePair mints a short-lived access token and a persisted refresh token
// for the user.
func (s *TokenService) IssuePair(ctx context.Context, userID uuid.UUID) (accessToken string, refreshSecret string, err error) {
	access, err := s.mintAccess(userID)
	if err != nil {
		return "", "", err
	}

	raw, _, err := s.refresh.Issue(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("failed to issue refresh token: %w", err)
	}

	return access, raw, nil
}

// Renew rotates the presented refresh token and mints a fresh access token
// for the record's owner.
func (s *TokenService) Renew(ctx context.Context, refreshSecret string) (accessToken string, newRefreshSecret string, err error) {
	newRaw, rotated, err := s.refresh.Rotate(ctx, refreshSecret)
	if err != nil {
		return "", "", err
	}

	access, err := s.mintAccess(rotated.UserID)
	if err != nil {
		return "", "", err
	}

	return access, newRaw, nil
}

// Revoke invalidates the presented refresh token before its natural expiry.
func (s *TokenService) Revoke(ctx context.Context, refreshSecret string) error {
	return s.refresh.Revoke(ctx, refreshSecret)
}

// KeyID returns the identifier of the active signing key.
func (s *TokenService) KeyID() string {
	return s.keyPair.KeyID
}

// Verify checks an access token against the service's public key and returns
// its claims.
func (s *TokenService) Verify(accessToken string) (*model.ClaimSet, error) {
	return s.codec.Verify(accessToken, s.keyPair.Public)
}

// Subject verifies an access token and extracts its subject user ID.
func (s *TokenService) Subject(accessToken string) (uuid.UUID, error) {
	cs, err := s.Verify(accessToken)
	if err != nil {
		return uuid.Nil, err
	}
	userID, err := uuid.Parse(cs.Subject())
	if err != nil {
		return uuid.Nil, model.MalformedToken(fmt.Errorf("bad subject claim: %w", err))
	}
	return userID, nil
}

func (s *TokenService) mintAccess(userID uuid.UUID) (string, error) {
	cs := model.NewClaimSet(
		model.Claim{Name: model.ClaimIssuer, Value: s.cfg.Issuer},
		model.Claim{Name: model.ClaimSubject, Value: userID.String()},
	)
	access, err := s.codec.Create(cs, s.keyPair.Private, s.cfg.AccessTTL, s.keyPair.KeyID)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return access, nil
}
