package pg

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perchsec/perch/internal/store/core"
)

type accountRepo struct{ pool *pgxpool.Pool }

// keyMaterial agrupa los blobs del cliente que van a la columna JSONB.
type keyMaterial struct {
	SignKeyPair core.KeyPair   `json:"sign_keypair"`
	KeyPair     core.KeyPair   `json:"keypair"`
	Keychain    core.Keychain  `json:"keychain"`
	KDF         core.KDFParams `json:"kdf"`
	Algorithms  string         `json:"algorithms"`
	Signature   string         `json:"signature"`
}

type notifPrefs struct {
	EmailTopics []core.NotificationTopic                `json:"email_topics"`
	Webhooks    map[core.NotificationTopic][]string     `json:"webhooks"`
}

func (r *accountRepo) Create(ctx context.Context, a *core.Account) error {
	material, err := json.Marshal(keyMaterial{
		SignKeyPair: a.SignKeyPair,
		KeyPair:     a.KeyPair,
		Keychain:    a.Keychain,
		KDF:         a.KDF,
		Algorithms:  a.Algorithms,
		Signature:   a.Signature,
	})
	if err != nil {
		return err
	}
	prefs, err := json.Marshal(notifPrefs{EmailTopics: a.Notifications.EmailTopics, Webhooks: a.Notifications.Webhooks})
	if err != nil {
		return err
	}

	var evHash *string
	var evExpires *time.Time
	if a.EmailVerification != nil {
		evHash = &a.EmailVerification.SecretHash
		evExpires = &a.EmailVerification.ExpiresAt
	}

	const query = `
		INSERT INTO account (
			id, email, email_verified, public_key, key_material, notifications,
			otp_secret_enc, otp_enabled, otp_last_counter, ip_consent,
			ev_secret_hash, ev_expires_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`
	_, err = r.pool.Exec(ctx, query,
		a.ID, strings.ToLower(a.Email), a.EmailVerified, a.PublicKey, material, prefs,
		a.OTP.SecretEnc, a.OTP.Enabled, a.OTP.LastCounter, a.IPConsent,
		evHash, evExpires, a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return core.ErrConflict
	}
	return err
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (*core.Account, error) {
	return r.get(ctx, `WHERE email = $1`, strings.ToLower(email))
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (*core.Account, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

func (r *accountRepo) get(ctx context.Context, where string, arg any) (*core.Account, error) {
	query := `
		SELECT id, email, email_verified, public_key, key_material, notifications,
		       otp_secret_enc, otp_enabled, otp_last_counter, ip_consent,
		       ev_secret_hash, ev_expires_at, created_at
		FROM account ` + where

	var (
		a         core.Account
		material  []byte
		prefs     []byte
		evHash    *string
		evExpires *time.Time
	)
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&a.ID, &a.Email, &a.EmailVerified, &a.PublicKey, &material, &prefs,
		&a.OTP.SecretEnc, &a.OTP.Enabled, &a.OTP.LastCounter, &a.IPConsent,
		&evHash, &evExpires, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var km keyMaterial
	if err := json.Unmarshal(material, &km); err != nil {
		return nil, err
	}
	a.SignKeyPair = km.SignKeyPair
	a.KeyPair = km.KeyPair
	a.Keychain = km.Keychain
	a.KDF = km.KDF
	a.Algorithms = km.Algorithms
	a.Signature = km.Signature

	var np notifPrefs
	if err := json.Unmarshal(prefs, &np); err != nil {
		return nil, err
	}
	a.Notifications = core.NotificationPrefs{EmailTopics: np.EmailTopics, Webhooks: np.Webhooks}

	if evHash != nil && evExpires != nil {
		a.EmailVerification = &core.EmailVerification{SecretHash: *evHash, ExpiresAt: *evExpires}
	}
	return &a, nil
}

func (r *accountRepo) Update(ctx context.Context, a *core.Account) error {
	material, err := json.Marshal(keyMaterial{
		SignKeyPair: a.SignKeyPair,
		KeyPair:     a.KeyPair,
		Keychain:    a.Keychain,
		KDF:         a.KDF,
		Algorithms:  a.Algorithms,
		Signature:   a.Signature,
	})
	if err != nil {
		return err
	}
	prefs, err := json.Marshal(notifPrefs{EmailTopics: a.Notifications.EmailTopics, Webhooks: a.Notifications.Webhooks})
	if err != nil {
		return err
	}

	var evHash *string
	var evExpires *time.Time
	if a.EmailVerification != nil {
		evHash = &a.EmailVerification.SecretHash
		evExpires = &a.EmailVerification.ExpiresAt
	}

	const query = `
		UPDATE account SET
			email_verified = $2, public_key = $3, key_material = $4, notifications = $5,
			otp_secret_enc = $6, otp_enabled = $7, otp_last_counter = $8, ip_consent = $9,
			ev_secret_hash = $10, ev_expires_at = $11
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		a.ID, a.EmailVerified, a.PublicKey, material, prefs,
		a.OTP.SecretEnc, a.OTP.Enabled, a.OTP.LastCounter, a.IPConsent,
		evHash, evExpires,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// isUniqueViolation detecta el SQLSTATE 23505 de Postgres.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
