package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RefreshTokenStore persists refresh token records. Implementations must make
// Rotate and Revoke on the same record mutually exclusive (exactly one winner
// under a race) and must not let DeleteExpiredAndRevoked remove a record an
// in-flight Rotate has already read.
type RefreshTokenStore interface {
	Create(ctx context.Context, token RefreshToken) error
	GetByHash(ctx context.Context, hash []byte) (RefreshToken, error)
	// Revoke marks the matching record revoked. Already-revoked records are a
	// no-op, an absent record is ErrNotFound.
	Revoke(ctx context.Context, hash []byte, now time.Time) error
	// Rotate atomically revokes the record matching oldHash and inserts next
	// as its successor for the same user. On a validation failure nothing is
	// mutated. next must carry ID, TokenHash, IssuedAt and ExpiresAt; the
	// store fills UserID and RotatedFrom from the old record.
	Rotate(ctx context.Context, oldHash []byte, next RefreshToken, now time.Time) (RefreshToken, error)
	// DeleteExpiredAndRevoked removes every record expired at now or revoked,
	// except records rotated out so recently that their grace window is still
	// open. Returns the number deleted.
	DeleteExpiredAndRevoked(ctx context.Context, now time.Time) (int64, error)
}

// RefreshToken is a persisted refresh token record. TokenHash is the SHA-256
// of the raw secret; the raw secret itself is never stored.
type RefreshToken struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	TokenHash   []byte
	IssuedAt    time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
	RotatedAt   *time.Time
	RotatedFrom *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Revoked reports whether the record's revoked flag is set.
func (t RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

// Expired is a derived read-time predicate, not a stored state.
func (t RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// RevokedByRotation reports whether the record was revoked as the old half of
// a rotation rather than by an explicit revoke.
func (t RefreshToken) RevokedByRotation() bool {
	return t.RevokedAt != nil && t.RotatedAt != nil
}
