package canary

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchsec/perch/internal/store/core"
)

func TestSweepVerificaLoVencido(t *testing.T) {
	res := &fakeResolver{}
	v, st := newTestVerifier(t, res, nil, Options{})
	a := register(t, v, "a.example.com")
	b := register(t, v, "b.example.com")
	res.set("a.example.com", RecordPrefix+a.Verification.Code)
	res.set("b.example.com", RecordPrefix+b.Verification.Code)

	p := NewPoller(v, st.Canaries(), PollerOptions{})
	p.Sweep(context.Background())

	for _, d := range []string{"a.example.com", "b.example.com"} {
		got, err := st.Canaries().Get(context.Background(), d)
		require.NoError(t, err)
		assert.Equal(t, core.StateVerified, got.Verification.State, d)
	}
}

func TestSweepRespetaNextCheckAt(t *testing.T) {
	res := &fakeResolver{records: map[string][]string{"a.example.com": {"nada"}}}
	v, st := newTestVerifier(t, res, nil, Options{BaseBackoff: time.Hour})
	register(t, v, "a.example.com")

	p := NewPoller(v, st.Canaries(), PollerOptions{})
	p.Sweep(context.Background())
	require.Equal(t, 1, res.calls)

	// el dominio quedó agendado a una hora: el segundo barrido no lo toca.
	p.Sweep(context.Background())
	assert.Equal(t, 1, res.calls)
}

func TestRunSeDetieneConElContexto(t *testing.T) {
	v, st := newTestVerifier(t, &fakeResolver{}, nil, Options{})
	p := NewPoller(v, st.Canaries(), PollerOptions{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("el poller no se detuvo tras cancelar el contexto")
	}
}
