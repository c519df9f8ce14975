// Package challenge maneja los sign-challenges de login: un nonce de un solo
// uso por cuenta, con TTL corto.
//
// El arena está keyed por account id y sostiene a lo sumo una entrada viva:
// emitir un challenge nuevo pisa el anterior no canjeado. El canje es
// check-and-clear atómico bajo un lock por cuenta, así dos logins corriendo
// sobre el mismo nonce nunca canjean los dos.
package challenge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/perchsec/perch/internal/cache"
	tokens "github.com/perchsec/perch/internal/security/token"
)

const (
	// DefaultTTL vida del challenge.
	DefaultTTL = 5 * time.Minute

	nonceBytes  = 32
	cachePrefix = "challenge:"
)

var (
	// ErrNotFound: no hay challenge vigente (ausente o expirado).
	ErrNotFound = errors.New("challenge: not found")
	// ErrMismatch: el nonce presentado no coincide.
	// Ambos errores se colapsan a un 401 genérico en la capa de auth: el
	// caller nunca distingue cuál condición falló.
	ErrMismatch = errors.New("challenge: nonce mismatch")
)

type Store struct {
	cache cache.Client
	ttl   time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(c cache.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		cache: c,
		ttl:   ttl,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor retorna el mutex de la cuenta, creándolo si no existe.
func (s *Store) lockFor(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[accountID] = l
	}
	return l
}

// Issue genera un nonce criptográficamente aleatorio y lo guarda con TTL,
// pisando cualquier challenge anterior de la cuenta.
func (s *Store) Issue(ctx context.Context, accountID string) (nonce string, err error) {
	nonce, err = tokens.GenerateOpaqueToken(nonceBytes)
	if err != nil {
		return "", err
	}

	l := s.lockFor(accountID)
	l.Lock()
	defer l.Unlock()

	if err := s.cache.Set(ctx, cachePrefix+accountID, nonce, s.ttl); err != nil {
		return "", err
	}
	return nonce, nil
}

// Redeem canjea el challenge vigente: chequea existencia, expiración y match
// del nonce en una sola sección crítica, y borra la entrada solo en éxito.
// Exactamente uno de dos Redeem concurrentes sobre el mismo nonce gana.
func (s *Store) Redeem(ctx context.Context, accountID, nonce string) error {
	l := s.lockFor(accountID)
	l.Lock()
	defer l.Unlock()

	stored, err := s.cache.Get(ctx, cachePrefix+accountID)
	if err != nil {
		if cache.IsNotFound(err) {
			return ErrNotFound
		}
		return err
	}
	if nonce == "" || stored != nonce {
		return ErrMismatch
	}
	return s.cache.Delete(ctx, cachePrefix+accountID)
}
