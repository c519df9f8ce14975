// Package jwt emite y valida sesiones: JWT EdDSA con jti único, persistencia
// en el repositorio y denylist de revocados en cache.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/perchsec/perch/internal/cache"
	"github.com/perchsec/perch/internal/store/core"
)

var (
	// ErrInvalid cubre firma inválida, expiración, revocación y claims
	// malformados. Un solo error: el caller no distingue causas.
	ErrInvalid = errors.New("session: invalid token")
)

const revokedPrefix = "session:revoked:"

// Issuer emite y valida sesiones. Varias sesiones concurrentes por cuenta
// están permitidas: no hay constraint single-session.
type Issuer struct {
	Keys       *KeySet
	Iss        string
	SessionTTL time.Duration
	ShortTTL   time.Duration // para one_day_login

	sessions core.SessionRepository
	cache    cache.Client
}

type Session struct {
	JTI       string
	AccountID string
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func NewIssuer(keys *KeySet, iss string, sessionTTL, shortTTL time.Duration, sessions core.SessionRepository, c cache.Client) *Issuer {
	if shortTTL <= 0 || shortTTL > sessionTTL {
		shortTTL = 24 * time.Hour
	}
	return &Issuer{
		Keys:       keys,
		Iss:        iss,
		SessionTTL: sessionTTL,
		ShortTTL:   shortTTL,
		sessions:   sessions,
		cache:      c,
	}
}

// Issue acuña una sesión con jti fresco.
func (i *Issuer) Issue(ctx context.Context, accountID string, shortLived bool) (*Session, error) {
	now := time.Now().UTC()
	ttl := i.SessionTTL
	if shortLived {
		ttl = i.ShortTTL
	}
	exp := now.Add(ttl)
	jti := uuid.NewString()

	claims := jwtv5.MapClaims{
		"iss": i.Iss,
		"sub": accountID,
		"jti": jti,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = i.Keys.KID
	tk.Header["typ"] = "JWT"

	signed, err := tk.SignedString(i.Keys.Priv)
	if err != nil {
		return nil, fmt.Errorf("session: sign: %w", err)
	}

	if err := i.sessions.Create(ctx, &core.Session{
		JTI:       jti,
		AccountID: accountID,
		IssuedAt:  now,
		ExpiresAt: exp,
	}); err != nil {
		return nil, fmt.Errorf("session: persist: %w", err)
	}

	return &Session{
		JTI:       jti,
		AccountID: accountID,
		Token:     signed,
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// Validate parsea el token y rechaza expirados y revocados.
// Retorna accountID y jti.
func (i *Issuer) Validate(ctx context.Context, raw string) (accountID, jti string, err error) {
	tk, err := jwtv5.Parse(raw, func(t *jwtv5.Token) (any, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected alg %v", t.Header["alg"])
		}
		return i.Keys.Pub, nil
	},
		jwtv5.WithIssuer(i.Iss),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil || !tk.Valid {
		return "", "", ErrInvalid
	}

	claims, ok := tk.Claims.(jwtv5.MapClaims)
	if !ok {
		return "", "", ErrInvalid
	}
	jti, _ = claims["jti"].(string)
	accountID, _ = claims["sub"].(string)
	if jti == "" || accountID == "" {
		return "", "", ErrInvalid
	}

	// Fast path: denylist en cache
	if hit, cerr := i.cache.Exists(ctx, revokedPrefix+jti); cerr == nil && hit {
		return "", "", ErrInvalid
	}

	// Fuente de verdad: el repositorio
	s, serr := i.sessions.Get(ctx, jti)
	if serr != nil {
		return "", "", ErrInvalid
	}
	if s.Revoked() || time.Now().UTC().After(s.ExpiresAt) {
		return "", "", ErrInvalid
	}
	return accountID, jti, nil
}

// Revoke marca la sesión revocada. Idempotente: revocar dos veces no falla.
func (i *Issuer) Revoke(ctx context.Context, jti string) error {
	now := time.Now().UTC()
	if err := i.sessions.Revoke(ctx, jti, now); err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}

	// Denylist con TTL = vida restante del token (best effort)
	ttl := i.SessionTTL
	if s, err := i.sessions.Get(ctx, jti); err == nil {
		if rem := time.Until(s.ExpiresAt); rem > 0 {
			ttl = rem
		}
	}
	_ = i.cache.Set(ctx, revokedPrefix+jti, "1", ttl)
	return nil
}

// SessionInfo retorna la sesión persistida para un jti.
func (i *Issuer) SessionInfo(ctx context.Context, jti string) (*core.Session, error) {
	return i.sessions.Get(ctx, jti)
}
