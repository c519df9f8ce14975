package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchsec/perch/internal/store/core"
)

func TestAccountsEmailUnicoCaseInsensitive(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Accounts().Create(ctx, &core.Account{ID: "a1", Email: "Ada@Example.com"}))

	err := s.Accounts().Create(ctx, &core.Account{ID: "a2", Email: "ada@example.COM"})
	assert.ErrorIs(t, err, core.ErrConflict)

	// se busca en lower-case sin importar cómo se escribió
	acc, err := s.Accounts().GetByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a1", acc.ID)
	assert.Equal(t, "ada@example.com", acc.Email)
}

func TestAccountsUpdateNoMutaEmail(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Accounts().Create(ctx, &core.Account{ID: "a1", Email: "ada@example.com"}))

	acc, err := s.Accounts().GetByID(ctx, "a1")
	require.NoError(t, err)
	acc.Email = "otra@example.com"
	acc.Algorithms = "alg"
	require.NoError(t, s.Accounts().Update(ctx, acc))

	got, err := s.Accounts().GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.Equal(t, "alg", got.Algorithms)

	assert.ErrorIs(t, s.Accounts().Update(ctx, &core.Account{ID: "nope"}), core.ErrNotFound)
}

func TestAccountsGetDevuelveCopia(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Accounts().Create(ctx, &core.Account{ID: "a1", Email: "ada@example.com"}))

	acc, _ := s.Accounts().GetByID(ctx, "a1")
	acc.Algorithms = "mutado"

	fresco, _ := s.Accounts().GetByID(ctx, "a1")
	assert.Empty(t, fresco.Algorithms)
}

func TestSessionsRevokeIdempotente(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Sessions().Create(ctx, &core.Session{JTI: "j1", AccountID: "a1"}))

	primero := time.Now().UTC()
	require.NoError(t, s.Sessions().Revoke(ctx, "j1", primero))
	require.NoError(t, s.Sessions().Revoke(ctx, "j1", primero.Add(time.Hour)))

	sess, err := s.Sessions().Get(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, sess.RevokedAt)
	// revocar dos veces conserva el primer timestamp
	assert.Equal(t, primero, *sess.RevokedAt)

	assert.ErrorIs(t, s.Sessions().Revoke(ctx, "nope", time.Now()), core.ErrNotFound)
}

func TestCanariesDominioUnico(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Canaries().Create(ctx, &core.CanaryDomain{Domain: "Example.com", AccountID: "a1"}))
	err := s.Canaries().Create(ctx, &core.CanaryDomain{Domain: "example.COM", AccountID: "a2"})
	assert.ErrorIs(t, err, core.ErrConflict)

	c, err := s.Canaries().Get(ctx, "EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, "example.com", c.Domain)
}

func TestCanariesListDue(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(domain string, st core.VerificationState, next time.Time) {
		require.NoError(t, s.Canaries().Create(ctx, &core.CanaryDomain{
			Domain:       domain,
			AccountID:    "a1",
			Verification: core.DomainVerification{State: st, NextCheckAt: next},
		}))
	}
	mk("vencido.com", core.StatePending, now.Add(-time.Minute))
	mk("reintento.com", core.StateVerifying, now.Add(-time.Second))
	mk("futuro.com", core.StatePending, now.Add(time.Hour))
	mk("listo.com", core.StateVerified, now.Add(-time.Hour))
	mk("muerto.com", core.StateFailed, now.Add(-time.Hour))

	due, err := s.Canaries().ListDue(ctx, now, 10)
	require.NoError(t, err)

	var domains []string
	for _, c := range due {
		domains = append(domains, c.Domain)
	}
	assert.ElementsMatch(t, []string{"vencido.com", "reintento.com"}, domains)

	// limit acota el batch
	due, err = s.Canaries().ListDue(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestCanariesUpdateVerificationCAS(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Canaries().Create(ctx, &core.CanaryDomain{
		Domain:       "example.com",
		AccountID:    "a1",
		Verification: core.DomainVerification{State: core.StatePending, Code: "c0d3"},
	}))

	verified := core.DomainVerification{State: core.StateVerified, Code: "c0d3", Completed: true}

	// desde un estado que no está en from: conflicto
	err := s.Canaries().UpdateVerification(ctx, "example.com",
		[]core.VerificationState{core.StateVerifying}, verified)
	assert.ErrorIs(t, err, core.ErrConflict)

	require.NoError(t, s.Canaries().UpdateVerification(ctx, "example.com",
		[]core.VerificationState{core.StatePending, core.StateVerifying}, verified))

	// verified no regresa: el mismo CAS vuelve a fallar
	err = s.Canaries().UpdateVerification(ctx, "example.com",
		[]core.VerificationState{core.StatePending, core.StateVerifying},
		core.DomainVerification{State: core.StateFailed, Code: "c0d3"})
	assert.ErrorIs(t, err, core.ErrConflict)

	c, err := s.Canaries().Get(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, core.StateVerified, c.Verification.State)
	assert.True(t, c.Verification.Completed)

	assert.ErrorIs(t, s.Canaries().UpdateVerification(ctx, "nope.com",
		[]core.VerificationState{core.StatePending}, verified), core.ErrNotFound)
}

func TestCanariesCASConcurrente(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Canaries().Create(ctx, &core.CanaryDomain{
		Domain:       "example.com",
		AccountID:    "a1",
		Verification: core.DomainVerification{State: core.StatePending},
	}))

	const n = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Canaries().UpdateVerification(ctx, "example.com",
				[]core.VerificationState{core.StatePending},
				core.DomainVerification{State: core.StateVerified, Completed: true})
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestCanariesTombstones(t *testing.T) {
	s := New()
	ctx := context.Background()

	ok, err := s.Canaries().HasTombstone(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Canaries().AddTombstone(ctx, "h1"))
	ok, err = s.Canaries().HasTombstone(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCanariesTrusted(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Canaries().GetTrusted(ctx, "a1", "example.com")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.Canaries().AddTrusted(ctx, &core.TrustedCanary{
		AccountID: "a1", Domain: "Example.com", PublicKeyHash: "h",
	}))
	// mismo par cuenta+dominio: conflicto
	err = s.Canaries().AddTrusted(ctx, &core.TrustedCanary{AccountID: "a1", Domain: "example.com"})
	assert.ErrorIs(t, err, core.ErrConflict)

	got, err := s.Canaries().GetTrusted(ctx, "a1", "EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, "h", got.PublicKeyHash)

	// otra cuenta puede confiar en el mismo dominio
	require.NoError(t, s.Canaries().AddTrusted(ctx, &core.TrustedCanary{AccountID: "a2", Domain: "example.com"}))
}

func TestCanariesDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Canaries().Create(ctx, &core.CanaryDomain{Domain: "example.com", AccountID: "a1"}))
	require.NoError(t, s.Canaries().Delete(ctx, "example.com"))
	_, err := s.Canaries().Get(ctx, "example.com")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.Canaries().Delete(ctx, "example.com"), core.ErrNotFound)
}

func TestListByAccount(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Canaries().Create(ctx, &core.CanaryDomain{Domain: "uno.com", AccountID: "a1"}))
	require.NoError(t, s.Canaries().Create(ctx, &core.CanaryDomain{Domain: "dos.com", AccountID: "a1"}))
	require.NoError(t, s.Canaries().Create(ctx, &core.CanaryDomain{Domain: "ajeno.com", AccountID: "a2"}))

	got, err := s.Canaries().ListByAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
