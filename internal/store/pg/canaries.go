package pg

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perchsec/perch/internal/store/core"
)

type canaryRepo struct{ pool *pgxpool.Pool }

const canaryColumns = `
	domain, account_id, about, signature, public_key, logo,
	verif_state, verif_code, verif_completed, verif_attempts,
	verif_last_checked_at, verif_next_check_at, created_at
`

func (r *canaryRepo) Create(ctx context.Context, c *core.CanaryDomain) error {
	const query = `
		INSERT INTO canary (` + canaryColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`
	v := c.Verification
	_, err := r.pool.Exec(ctx, query,
		strings.ToLower(c.Domain), c.AccountID, c.About, c.Signature, c.PublicKey, c.Logo,
		string(v.State), v.Code, v.Completed, v.Attempts, v.LastCheckedAt, v.NextCheckAt, c.CreatedAt,
	)
	if isUniqueViolation(err) {
		return core.ErrConflict
	}
	return err
}

func scanCanary(row pgx.Row) (*core.CanaryDomain, error) {
	var c core.CanaryDomain
	var state string
	err := row.Scan(
		&c.Domain, &c.AccountID, &c.About, &c.Signature, &c.PublicKey, &c.Logo,
		&state, &c.Verification.Code, &c.Verification.Completed, &c.Verification.Attempts,
		&c.Verification.LastCheckedAt, &c.Verification.NextCheckAt, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Verification.State = core.VerificationState(state)
	return &c, nil
}

func (r *canaryRepo) Get(ctx context.Context, domain string) (*core.CanaryDomain, error) {
	const query = `SELECT ` + canaryColumns + ` FROM canary WHERE domain = $1`
	return scanCanary(r.pool.QueryRow(ctx, query, strings.ToLower(domain)))
}

func (r *canaryRepo) ListByAccount(ctx context.Context, accountID string) ([]*core.CanaryDomain, error) {
	const query = `SELECT ` + canaryColumns + ` FROM canary WHERE account_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.CanaryDomain
	for rows.Next() {
		c, err := scanCanary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *canaryRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*core.CanaryDomain, error) {
	const query = `
		SELECT ` + canaryColumns + `
		FROM canary
		WHERE verif_state IN ('pending', 'verifying') AND verif_next_check_at <= $1
		ORDER BY verif_next_check_at
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.CanaryDomain
	for rows.Next() {
		c, err := scanCanary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *canaryRepo) UpdateVerification(ctx context.Context, domain string, from []core.VerificationState, v core.DomainVerification) error {
	// CAS: solo escribe si el estado actual sigue en `from`. Si otro actor
	// (poller vs verify manual) ganó la carrera, RowsAffected == 0.
	states := make([]string, len(from))
	for i, f := range from {
		states[i] = string(f)
	}

	const query = `
		UPDATE canary SET
			verif_state = $3, verif_code = $4, verif_completed = $5, verif_attempts = $6,
			verif_last_checked_at = $7, verif_next_check_at = $8
		WHERE domain = $1 AND verif_state = ANY($2)
	`
	tag, err := r.pool.Exec(ctx, query,
		strings.ToLower(domain), states,
		string(v.State), v.Code, v.Completed, v.Attempts, v.LastCheckedAt, v.NextCheckAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguir not-found de carrera perdida
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM canary WHERE domain = $1)`, strings.ToLower(domain)).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return core.ErrNotFound
		}
		return core.ErrConflict
	}
	return nil
}

func (r *canaryRepo) Delete(ctx context.Context, domain string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM canary WHERE domain = $1`, strings.ToLower(domain))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *canaryRepo) AddTombstone(ctx context.Context, domainHash string) error {
	const query = `
		INSERT INTO canary_tombstone (domain_hash, created_at)
		VALUES ($1, NOW()) ON CONFLICT (domain_hash) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, domainHash)
	return err
}

func (r *canaryRepo) HasTombstone(ctx context.Context, domainHash string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM canary_tombstone WHERE domain_hash = $1)`, domainHash).Scan(&exists)
	return exists, err
}

func (r *canaryRepo) AddTrusted(ctx context.Context, t *core.TrustedCanary) error {
	const query = `
		INSERT INTO trusted_canary (account_id, domain, public_key_hash, signature, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query, t.AccountID, strings.ToLower(t.Domain), t.PublicKeyHash, t.Signature, t.CreatedAt)
	if isUniqueViolation(err) {
		return core.ErrConflict
	}
	return err
}

func (r *canaryRepo) GetTrusted(ctx context.Context, accountID, domain string) (*core.TrustedCanary, error) {
	const query = `
		SELECT account_id, domain, public_key_hash, signature, created_at
		FROM trusted_canary WHERE account_id = $1 AND domain = $2
	`
	var t core.TrustedCanary
	err := r.pool.QueryRow(ctx, query, accountID, strings.ToLower(domain)).Scan(
		&t.AccountID, &t.Domain, &t.PublicKeyHash, &t.Signature, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
