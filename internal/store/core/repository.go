package core

import (
	"context"
	"time"
)

// Repository agrupa los repos por entidad. Toda garantía de consistencia es
// por entidad: ninguna transacción cruza cuentas ni dominios.
type Repository interface {
	Ping(ctx context.Context) error
	Close() error

	Accounts() AccountRepository
	Sessions() SessionRepository
	Canaries() CanaryRepository
}

type AccountRepository interface {
	// Create inserta una cuenta. ErrConflict si el email ya existe
	// (case-insensitive).
	Create(ctx context.Context, a *Account) error
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByID(ctx context.Context, id string) (*Account, error)
	// Update reemplaza la cuenta completa (keyed por ID).
	Update(ctx context.Context, a *Account) error
}

type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, jti string) (*Session, error)
	// Revoke marca la sesión revocada. Idempotente: revocar dos veces no es
	// error y conserva el primer timestamp.
	Revoke(ctx context.Context, jti string, at time.Time) error
}

type CanaryRepository interface {
	// Create inserta un canary. ErrConflict si el dominio ya está registrado.
	Create(ctx context.Context, c *CanaryDomain) error
	Get(ctx context.Context, domain string) (*CanaryDomain, error)
	ListByAccount(ctx context.Context, accountID string) ([]*CanaryDomain, error)

	// ListDue retorna canaries en pending/verifying con NextCheckAt <= now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*CanaryDomain, error)

	// UpdateVerification aplica una transición compare-and-swap: solo escribe
	// si el estado actual está en from. Retorna ErrConflict si otro actor
	// transicionó primero (ej: poller vs verify manual).
	UpdateVerification(ctx context.Context, domain string, from []VerificationState, v DomainVerification) error

	Delete(ctx context.Context, domain string) error

	// Tombstones de dominios borrados (hash blake2b), para impedir
	// re-registro.
	AddTombstone(ctx context.Context, domainHash string) error
	HasTombstone(ctx context.Context, domainHash string) (bool, error)

	AddTrusted(ctx context.Context, t *TrustedCanary) error
	GetTrusted(ctx context.Context, accountID, domain string) (*TrustedCanary, error)
}
