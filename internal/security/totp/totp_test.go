package totp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecretRoundTrip(t *testing.T) {
	raw, b32, err := GenerateSecret()
	require.NoError(t, err)
	require.Len(t, raw, 20)
	assert.NotContains(t, b32, "=")

	dec, err := DecodeSecret(b32)
	require.NoError(t, err)
	assert.Equal(t, raw, dec)

	// tolerante a minúsculas y espacios
	dec, err = DecodeSecret("  " + b32 + " ")
	require.NoError(t, err)
	assert.Equal(t, raw, dec)
}

func TestVerifyCodigoVigente(t *testing.T) {
	raw, _, err := GenerateSecret()
	require.NoError(t, err)

	now := time.Now()
	code := GenerateCode(raw, now)

	ok, counter := Verify(raw, code, now, 1, nil)
	assert.True(t, ok)
	assert.Equal(t, now.Unix()/30, counter)
}

func TestVerifyVentana(t *testing.T) {
	raw, _, err := GenerateSecret()
	require.NoError(t, err)

	now := time.Now()
	anterior := GenerateCode(raw, now.Add(-30*time.Second))

	ok, _ := Verify(raw, anterior, now, 1, nil)
	assert.True(t, ok, "el step anterior entra en la ventana +/-1")

	ok, _ = Verify(raw, anterior, now, 0, nil)
	assert.False(t, ok, "con ventana 0 solo vale el step exacto")
}

func TestVerifyAntiReplay(t *testing.T) {
	raw, _, err := GenerateSecret()
	require.NoError(t, err)

	now := time.Now()
	code := GenerateCode(raw, now)

	var last int64 = -1
	ok, counter := Verify(raw, code, now, 1, &last)
	require.True(t, ok)

	// el mismo código con el contador ya consumido nunca revalida
	last = counter
	ok, _ = Verify(raw, code, now, 1, &last)
	assert.False(t, ok)
}

func TestVerifyRechazaFormatosInvalidos(t *testing.T) {
	raw, _, err := GenerateSecret()
	require.NoError(t, err)

	for _, code := range []string{"", "12345", "1234567", "abcdef"} {
		ok, _ := Verify(raw, code, time.Now(), 1, nil)
		assert.False(t, ok, "code=%q", code)
	}
}

func TestProvisioningURI(t *testing.T) {
	uri := ProvisioningURI("Perch", "ada@example.com", "JBSWY3DPEHPK3PXP")
	assert.Contains(t, uri, "otpauth://totp/Perch:ada@example.com?")
	assert.Contains(t, uri, "secret=JBSWY3DPEHPK3PXP")
	assert.Contains(t, uri, "issuer=Perch")
	assert.Contains(t, uri, "digits=6")
	assert.Contains(t, uri, "period=30")
}
