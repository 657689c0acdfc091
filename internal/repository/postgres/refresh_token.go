package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arenalab/authcore/internal/model"
)

var _ model.RefreshTokenStore = (*RefreshTokenRepository)(nil)

// RefreshTokenRepository persists refresh token records in Postgres. Rotation
// runs in a transaction with a row lock so a rotate racing a revoke on the
// same record has exactly one winner, and the cleanup sweep is a single
// DELETE statement scoped to rows already expired or revoked when it runs.
type RefreshTokenRepository struct {
	db    DB
	grace time.Duration
}

// NewRefreshTokenRepository creates a repository. grace is the rotation grace
// window: rows revoked by rotation stay out of the sweep until it elapses.
func NewRefreshTokenRepository(db DB, grace time.Duration) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db, grace: grace}
}

const refreshTokenColumns = `id, user_id, token_hash, issued_at, expires_at, revoked_at, rotated_at, rotated_from, created_at, updated_at`

func (r *RefreshTokenRepository) Create(ctx context.Context, token model.RefreshToken) error {
	const query = `
        INSERT INTO refresh_tokens (
            id, user_id, token_hash, issued_at, expires_at, revoked_at, rotated_at, rotated_from, created_at, updated_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW())
    `

	_, err := r.db.Exec(ctx, query,
		token.ID, token.UserID, token.TokenHash, token.IssuedAt, token.ExpiresAt,
		token.RevokedAt, token.RotatedAt, token.RotatedFrom,
	)
	if err != nil {
		return storeErr("failed to create refresh token", err)
	}
	return nil
}

func (r *RefreshTokenRepository) GetByHash(ctx context.Context, hash []byte) (model.RefreshToken, error) {
	const query = `
        SELECT ` + refreshTokenColumns + `
        FROM refresh_tokens WHERE token_hash = $1
    `
	rt, err := scanRefreshToken(r.db.QueryRow(ctx, query, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RefreshToken{}, model.NotFound("")
		}
		return model.RefreshToken{}, storeErr("failed to get refresh token by hash", err)
	}
	return rt, nil
}

func (r *RefreshTokenRepository) Revoke(ctx context.Context, hash []byte, now time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return storeErr("failed to begin revoke", err)
	}
	defer tx.Rollback(ctx)

	const lockQuery = `
        SELECT ` + refreshTokenColumns + `
        FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE
    `
	rt, err := scanRefreshToken(tx.QueryRow(ctx, lockQuery, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NotFound("")
		}
		return storeErr("failed to lock refresh token", err)
	}

	// Already revoked is a no-op, not an error.
	if rt.Revoked() {
		return tx.Commit(ctx)
	}

	const revokeQuery = `
        UPDATE refresh_tokens SET revoked_at = $2, updated_at = NOW()
        WHERE id = $1 AND revoked_at IS NULL
    `
	if _, err := tx.Exec(ctx, revokeQuery, rt.ID, now); err != nil {
		return storeErr("failed to revoke refresh token", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("failed to commit revoke", err)
	}
	return nil
}

func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldHash []byte, next model.RefreshToken, now time.Time) (model.RefreshToken, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return model.RefreshToken{}, storeErr("failed to begin rotate", err)
	}
	defer tx.Rollback(ctx)

	const lockQuery = `
        SELECT ` + refreshTokenColumns + `
        FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE
    `
	old, err := scanRefreshToken(tx.QueryRow(ctx, lockQuery, oldHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RefreshToken{}, model.NotFound("")
		}
		return model.RefreshToken{}, storeErr("failed to lock refresh token", err)
	}

	if old.Revoked() {
		return model.RefreshToken{}, model.TokenRevoked(old.ID.String())
	}
	if old.Expired(now) {
		return model.RefreshToken{}, model.TokenExpired(old.ID.String())
	}

	const revokeQuery = `
        UPDATE refresh_tokens SET revoked_at = $2, rotated_at = $2, updated_at = NOW()
        WHERE id = $1 AND revoked_at IS NULL
    `
	tag, err := tx.Exec(ctx, revokeQuery, old.ID, now)
	if err != nil {
		return model.RefreshToken{}, storeErr("failed to revoke rotated token", err)
	}
	if tag.RowsAffected() == 0 {
		return model.RefreshToken{}, model.TokenRevoked(old.ID.String())
	}

	next.UserID = old.UserID
	rotatedFrom := old.ID
	next.RotatedFrom = &rotatedFrom

	const insertQuery = `
        INSERT INTO refresh_tokens (
            id, user_id, token_hash, issued_at, expires_at, revoked_at, rotated_at, rotated_from, created_at, updated_at
        ) VALUES ($1,$2,$3,$4,$5,NULL,NULL,$6,NOW(),NOW())
    `
	if _, err := tx.Exec(ctx, insertQuery,
		next.ID, next.UserID, next.TokenHash, next.IssuedAt, next.ExpiresAt, next.RotatedFrom,
	); err != nil {
		return model.RefreshToken{}, storeErr("failed to insert rotated token", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.RefreshToken{}, storeErr("failed to commit rotate", err)
	}
	return next, nil
}

func (r *RefreshTokenRepository) DeleteExpiredAndRevoked(ctx context.Context, now time.Time) (int64, error) {
	// One statement, so the sweep is atomic and only touches rows already
	// expired or revoked when it starts. Rows rotated out within the grace
	// window survive until the window closes.
	const query = `
        DELETE FROM refresh_tokens
        WHERE expires_at <= $1
           OR (revoked_at IS NOT NULL
               AND (rotated_at IS NULL OR rotated_at + make_interval(secs => $2) <= $1))
    `
	tag, err := r.db.Exec(ctx, query, now, r.grace.Seconds())
	if err != nil {
		return 0, storeErr("failed to delete expired and revoked tokens", err)
	}
	return tag.RowsAffected(), nil
}

func scanRefreshToken(row pgx.Row) (model.RefreshToken, error) {
	var rt model.RefreshToken
	err := row.Scan(
		&rt.ID, &rt.UserID, &rt.TokenHash, &rt.IssuedAt, &rt.ExpiresAt,
		&rt.RevokedAt, &rt.RotatedAt, &rt.RotatedFrom, &rt.CreatedAt, &rt.UpdatedAt,
	)
	return rt, err
}

// storeErr classifies persistence failures: transient connectivity problems
// become store_unavailable (the retryable kind), everything else is wrapped
// as-is.
func storeErr(msg string, err error) error {
	var netErr net.Error
	if pgconn.SafeToRetry(err) ||
		errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) {
		return model.StoreUnavailable(fmt.Errorf("%s: %w", msg, err))
	}
	return fmt.Errorf("%s: %w", msg, err)
}
