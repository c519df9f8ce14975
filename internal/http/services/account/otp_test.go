package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchsec/perch/internal/security/totp"
)

// enrollOTP completa el enrolamiento de dos pasos y devuelve el secreto raw.
func enrollOTP(t *testing.T, env *testEnv, accountID string) []byte {
	t.Helper()
	ctx := context.Background()

	setup, err := env.otp.Setup(ctx, accountID, "")
	require.NoError(t, err)
	require.NotEmpty(t, setup.Secret)
	require.Contains(t, setup.ProvisioningURI, "otpauth://totp/")
	require.False(t, setup.Enabled)

	raw, err := totp.DecodeSecret(setup.Secret)
	require.NoError(t, err)

	done, err := env.otp.Setup(ctx, accountID, totp.GenerateCode(raw, time.Now()))
	require.NoError(t, err)
	require.True(t, done.Enabled)
	return raw
}

func TestOTPSetupDosPasos(t *testing.T) {
	env := newTestEnv(t)
	accID, _ := createAccount(t, env, "ada@example.com")

	enrollOTP(t, env, accID)

	acc, err := env.svc.Me(context.Background(), accID)
	require.NoError(t, err)
	assert.True(t, acc.OTP.Enabled)
	// el secreto nunca se guarda en claro
	assert.NotEmpty(t, acc.OTP.SecretEnc)
	assert.NotContains(t, acc.OTP.SecretEnc, "JBSW")
}

func TestOTPSetupCodigoInvalido(t *testing.T) {
	env := newTestEnv(t)
	accID, _ := createAccount(t, env, "ada@example.com")
	ctx := context.Background()

	_, err := env.otp.Setup(ctx, accID, "")
	require.NoError(t, err)

	_, err = env.otp.Setup(ctx, accID, "000000")
	assert.ErrorIs(t, err, ErrUnauthorized)

	// sin enrolamiento pendiente también es 401
	env2 := newTestEnv(t)
	accID2, _ := createAccount(t, env2, "ada@example.com")
	_, err = env2.otp.Setup(ctx, accID2, "123456")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestOTPSetupYaHabilitado(t *testing.T) {
	env := newTestEnv(t)
	accID, _ := createAccount(t, env, "ada@example.com")

	enrollOTP(t, env, accID)

	_, err := env.otp.Setup(context.Background(), accID, "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestLoginConOTP(t *testing.T) {
	env := newTestEnv(t)
	accID, priv := createAccount(t, env, "ada@example.com")
	raw := enrollOTP(t, env, accID)

	// sin código: 401 genérico, indistinguible de cualquier otra falla
	_, err := login(t, env, "ada@example.com", "", priv)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = login(t, env, "ada@example.com", "000000", priv)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// con un código del step siguiente al consumido en el enrolamiento
	code := totp.GenerateCode(raw, time.Now().Add(30*time.Second))
	res, err := login(t, env, "ada@example.com", code, priv)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
}

func TestOTPAntiReplayEnLogin(t *testing.T) {
	env := newTestEnv(t)
	accID, priv := createAccount(t, env, "ada@example.com")
	raw := enrollOTP(t, env, accID)

	code := totp.GenerateCode(raw, time.Now().Add(30*time.Second))
	_, err := login(t, env, "ada@example.com", code, priv)
	require.NoError(t, err)

	// el mismo código otra vez: el contador ya fue consumido
	_, err = login(t, env, "ada@example.com", code, priv)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestOTPReset(t *testing.T) {
	env := newTestEnv(t)
	accID, priv := createAccount(t, env, "ada@example.com")
	raw := enrollOTP(t, env, accID)
	ctx := context.Background()

	_, err := env.otp.Reset(ctx, accID, "000000")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = env.otp.Reset(ctx, accID, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	code := totp.GenerateCode(raw, time.Now().Add(30*time.Second))
	res, err := env.otp.Reset(ctx, accID, code)
	require.NoError(t, err)
	assert.False(t, res.Enabled)

	// con OTP deshabilitado el login vuelve a ser solo firma
	_, err = login(t, env, "ada@example.com", "", priv)
	assert.NoError(t, err)

	// reset sobre cuenta sin OTP es no-op
	res, err = env.otp.Reset(ctx, accID, "")
	require.NoError(t, err)
	assert.False(t, res.Enabled)
}

func TestOTPRequire(t *testing.T) {
	env := newTestEnv(t)
	accID, _ := createAccount(t, env, "ada@example.com")
	ctx := context.Background()

	acc, err := env.svc.Me(ctx, accID)
	require.NoError(t, err)
	// sin OTP habilitado el gate deja pasar
	assert.NoError(t, env.otp.Require(ctx, acc, ""))

	raw := enrollOTP(t, env, accID)
	acc, err = env.svc.Me(ctx, accID)
	require.NoError(t, err)

	assert.ErrorIs(t, env.otp.Require(ctx, acc, ""), ErrUnauthorized)
	assert.ErrorIs(t, env.otp.Require(ctx, acc, "000000"), ErrUnauthorized)

	code := totp.GenerateCode(raw, time.Now().Add(30*time.Second))
	assert.NoError(t, env.otp.Require(ctx, acc, code))
}
