package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perchsec/perch/internal/store/core"
)

type sessionRepo struct{ pool *pgxpool.Pool }

func (r *sessionRepo) Create(ctx context.Context, s *core.Session) error {
	const query = `
		INSERT INTO session (jti, account_id, issued_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, query, s.JTI, s.AccountID, s.IssuedAt, s.ExpiresAt)
	if isUniqueViolation(err) {
		return core.ErrConflict
	}
	return err
}

func (r *sessionRepo) Get(ctx context.Context, jti string) (*core.Session, error) {
	const query = `
		SELECT jti, account_id, issued_at, expires_at, revoked_at
		FROM session WHERE jti = $1
	`
	var s core.Session
	err := r.pool.QueryRow(ctx, query, jti).Scan(&s.JTI, &s.AccountID, &s.IssuedAt, &s.ExpiresAt, &s.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepo) Revoke(ctx context.Context, jti string, at time.Time) error {
	// Idempotente: conserva el primer revoked_at.
	const query = `
		UPDATE session SET revoked_at = COALESCE(revoked_at, $2) WHERE jti = $1
	`
	tag, err := r.pool.Exec(ctx, query, jti, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
