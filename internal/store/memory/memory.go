// Package memory implementa core.Repository en memoria.
// Útil para desarrollo y tests; las garantías CAS se cumplen con un mutex
// por repositorio.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/perchsec/perch/internal/store/core"
)

type Store struct {
	accounts accountRepo
	sessions sessionRepo
	canaries canaryRepo
}

func New() *Store {
	s := &Store{}
	s.accounts.byID = make(map[string]*core.Account)
	s.accounts.byEmail = make(map[string]string)
	s.sessions.byJTI = make(map[string]*core.Session)
	s.canaries.byDomain = make(map[string]*core.CanaryDomain)
	s.canaries.tombstones = make(map[string]struct{})
	s.canaries.trusted = make(map[string]*core.TrustedCanary)
	return s
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

func (s *Store) Accounts() core.AccountRepository { return &s.accounts }
func (s *Store) Sessions() core.SessionRepository { return &s.sessions }
func (s *Store) Canaries() core.CanaryRepository  { return &s.canaries }

// ─── Accounts ───

type accountRepo struct {
	mu      sync.RWMutex
	byID    map[string]*core.Account
	byEmail map[string]string // email lower -> id
}

func (r *accountRepo) Create(ctx context.Context, a *core.Account) error {
	email := strings.ToLower(a.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[email]; ok {
		return core.ErrConflict
	}
	cp := *a
	cp.Email = email
	r.byID[a.ID] = &cp
	r.byEmail[email] = a.ID
	return nil
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (*core.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (*core.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *accountRepo) Update(ctx context.Context, a *core.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.byID[a.ID]
	if !ok {
		return core.ErrNotFound
	}
	cp := *a
	cp.Email = old.Email // el email no se muta por Update
	r.byID[a.ID] = &cp
	return nil
}

// ─── Sessions ───

type sessionRepo struct {
	mu    sync.RWMutex
	byJTI map[string]*core.Session
}

func (r *sessionRepo) Create(ctx context.Context, s *core.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byJTI[s.JTI]; ok {
		return core.ErrConflict
	}
	cp := *s
	r.byJTI[s.JTI] = &cp
	return nil
}

func (r *sessionRepo) Get(ctx context.Context, jti string) (*core.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byJTI[jti]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *sessionRepo) Revoke(ctx context.Context, jti string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byJTI[jti]
	if !ok {
		return core.ErrNotFound
	}
	if s.RevokedAt == nil {
		t := at
		s.RevokedAt = &t
	}
	return nil
}

// ─── Canaries ───

type canaryRepo struct {
	mu         sync.RWMutex
	byDomain   map[string]*core.CanaryDomain
	tombstones map[string]struct{}
	trusted    map[string]*core.TrustedCanary // accountID|domain
}

func (r *canaryRepo) Create(ctx context.Context, c *core.CanaryDomain) error {
	domain := strings.ToLower(c.Domain)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byDomain[domain]; ok {
		return core.ErrConflict
	}
	cp := *c
	cp.Domain = domain
	r.byDomain[domain] = &cp
	return nil
}

func (r *canaryRepo) Get(ctx context.Context, domain string) (*core.CanaryDomain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byDomain[strings.ToLower(domain)]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *canaryRepo) ListByAccount(ctx context.Context, accountID string) ([]*core.CanaryDomain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*core.CanaryDomain
	for _, c := range r.byDomain {
		if c.AccountID == accountID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *canaryRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*core.CanaryDomain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*core.CanaryDomain
	for _, c := range r.byDomain {
		st := c.Verification.State
		if st != core.StatePending && st != core.StateVerifying {
			continue
		}
		if c.Verification.NextCheckAt.After(now) {
			continue
		}
		cp := *c
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *canaryRepo) UpdateVerification(ctx context.Context, domain string, from []core.VerificationState, v core.DomainVerification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byDomain[strings.ToLower(domain)]
	if !ok {
		return core.ErrNotFound
	}
	allowed := false
	for _, f := range from {
		if c.Verification.State == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return core.ErrConflict
	}
	c.Verification = v
	return nil
}

func (r *canaryRepo) Delete(ctx context.Context, domain string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(domain)
	if _, ok := r.byDomain[key]; !ok {
		return core.ErrNotFound
	}
	delete(r.byDomain, key)
	return nil
}

func (r *canaryRepo) AddTombstone(ctx context.Context, domainHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tombstones[domainHash] = struct{}{}
	return nil
}

func (r *canaryRepo) HasTombstone(ctx context.Context, domainHash string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tombstones[domainHash]
	return ok, nil
}

func (r *canaryRepo) AddTrusted(ctx context.Context, t *core.TrustedCanary) error {
	key := t.AccountID + "|" + strings.ToLower(t.Domain)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.trusted[key]; ok {
		return core.ErrConflict
	}
	cp := *t
	r.trusted[key] = &cp
	return nil
}

func (r *canaryRepo) GetTrusted(ctx context.Context, accountID, domain string) (*core.TrustedCanary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.trusted[accountID+"|"+strings.ToLower(domain)]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *t
	return &cp, nil
}
