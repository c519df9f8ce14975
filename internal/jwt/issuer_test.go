package jwt

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchsec/perch/internal/cache"
	"github.com/perchsec/perch/internal/store/memory"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	keys, err := NewEphemeralEd25519("test")
	require.NoError(t, err)
	return NewIssuer(keys, "perch-test", 30*24*time.Hour, 24*time.Hour,
		memory.New().Sessions(), cache.NewMemory("test"))
}

func TestIssueYValidate(t *testing.T) {
	i := newTestIssuer(t)
	ctx := context.Background()

	sess, err := i.Issue(ctx, "acc-1", false)
	require.NoError(t, err)
	require.NotEmpty(t, sess.Token)
	require.NotEmpty(t, sess.JTI)

	accID, jti, err := i.Validate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", accID)
	assert.Equal(t, sess.JTI, jti)
}

func TestIssueOneDayLoginAcortaLaVida(t *testing.T) {
	i := newTestIssuer(t)
	ctx := context.Background()

	larga, err := i.Issue(ctx, "acc-1", false)
	require.NoError(t, err)
	corta, err := i.Issue(ctx, "acc-1", true)
	require.NoError(t, err)

	assert.True(t, corta.ExpiresAt.Before(larga.ExpiresAt))
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), corta.ExpiresAt, time.Minute)
}

func TestValidateRechazaTokenAdulterado(t *testing.T) {
	i := newTestIssuer(t)
	ctx := context.Background()

	sess, err := i.Issue(ctx, "acc-1", false)
	require.NoError(t, err)

	parts := strings.Split(sess.Token, ".")
	require.Len(t, parts, 3)
	adulterado := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	_, _, err = i.Validate(ctx, adulterado)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidateRechazaBasura(t *testing.T) {
	i := newTestIssuer(t)
	for _, raw := range []string{"", "no-es-un-jwt", "a.b.c"} {
		_, _, err := i.Validate(context.Background(), raw)
		assert.ErrorIs(t, err, ErrInvalid)
	}
}

func TestValidateRechazaOtroEmisor(t *testing.T) {
	a := newTestIssuer(t)
	b := newTestIssuer(t)
	ctx := context.Background()

	sess, err := a.Issue(ctx, "acc-1", false)
	require.NoError(t, err)

	// otra clave, otro issuer: nunca valida
	_, _, err = b.Validate(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRevokeInvalidaLaSesion(t *testing.T) {
	i := newTestIssuer(t)
	ctx := context.Background()

	sess, err := i.Issue(ctx, "acc-1", false)
	require.NoError(t, err)

	require.NoError(t, i.Revoke(ctx, sess.JTI))

	_, _, err = i.Validate(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrInvalid)

	// idempotente
	assert.NoError(t, i.Revoke(ctx, sess.JTI))

	// revocar un jti desconocido tampoco falla
	assert.NoError(t, i.Revoke(ctx, "jti-inexistente"))
}

func TestRevokeNoAfectaOtrasSesiones(t *testing.T) {
	i := newTestIssuer(t)
	ctx := context.Background()

	s1, err := i.Issue(ctx, "acc-1", false)
	require.NoError(t, err)
	s2, err := i.Issue(ctx, "acc-1", false)
	require.NoError(t, err)

	require.NoError(t, i.Revoke(ctx, s1.JTI))

	_, _, err = i.Validate(ctx, s1.Token)
	assert.ErrorIs(t, err, ErrInvalid)
	_, jti, err := i.Validate(ctx, s2.Token)
	require.NoError(t, err)
	assert.Equal(t, s2.JTI, jti)
}

func TestSessionInfo(t *testing.T) {
	i := newTestIssuer(t)
	ctx := context.Background()

	sess, err := i.Issue(ctx, "acc-1", false)
	require.NoError(t, err)

	info, err := i.SessionInfo(ctx, sess.JTI)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", info.AccountID)
	assert.False(t, info.Revoked())

	require.NoError(t, i.Revoke(ctx, sess.JTI))
	info, err = i.SessionInfo(ctx, sess.JTI)
	require.NoError(t, err)
	assert.True(t, info.Revoked())
}
