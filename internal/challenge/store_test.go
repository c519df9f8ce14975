package challenge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchsec/perch/internal/cache"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	return NewStore(cache.NewMemory("test"), ttl)
}

func TestIssueYRedeem(t *testing.T) {
	s := newTestStore(t, time.Minute)
	ctx := context.Background()

	nonce, err := s.Issue(ctx, "acc-1")
	require.NoError(t, err)
	require.NotEmpty(t, nonce)

	require.NoError(t, s.Redeem(ctx, "acc-1", nonce))

	// un challenge es de un solo uso
	assert.ErrorIs(t, s.Redeem(ctx, "acc-1", nonce), ErrNotFound)
}

func TestRedeemNonceEquivocado(t *testing.T) {
	s := newTestStore(t, time.Minute)
	ctx := context.Background()

	nonce, err := s.Issue(ctx, "acc-1")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Redeem(ctx, "acc-1", "otro-nonce"), ErrMismatch)
	assert.ErrorIs(t, s.Redeem(ctx, "acc-1", ""), ErrMismatch)

	// el mismatch no consume el challenge vigente
	assert.NoError(t, s.Redeem(ctx, "acc-1", nonce))
}

func TestIssuePisaElAnterior(t *testing.T) {
	s := newTestStore(t, time.Minute)
	ctx := context.Background()

	viejo, err := s.Issue(ctx, "acc-1")
	require.NoError(t, err)
	nuevo, err := s.Issue(ctx, "acc-1")
	require.NoError(t, err)
	require.NotEqual(t, viejo, nuevo)

	assert.ErrorIs(t, s.Redeem(ctx, "acc-1", viejo), ErrMismatch)
	assert.NoError(t, s.Redeem(ctx, "acc-1", nuevo))
}

func TestChallengesPorCuentaSonIndependientes(t *testing.T) {
	s := newTestStore(t, time.Minute)
	ctx := context.Background()

	n1, err := s.Issue(ctx, "acc-1")
	require.NoError(t, err)
	n2, err := s.Issue(ctx, "acc-2")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Redeem(ctx, "acc-1", n2), ErrMismatch)
	assert.NoError(t, s.Redeem(ctx, "acc-1", n1))
	assert.NoError(t, s.Redeem(ctx, "acc-2", n2))
}

func TestChallengeExpira(t *testing.T) {
	s := newTestStore(t, 20*time.Millisecond)
	ctx := context.Background()

	nonce, err := s.Issue(ctx, "acc-1")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.ErrorIs(t, s.Redeem(ctx, "acc-1", nonce), ErrNotFound)
}

func TestRedeemConcurrenteGanaUnoSolo(t *testing.T) {
	s := newTestStore(t, time.Minute)
	ctx := context.Background()

	nonce, err := s.Issue(ctx, "acc-1")
	require.NoError(t, err)

	const n = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if s.Redeem(ctx, "acc-1", nonce) == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
