package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeypair(t *testing.T) (pubB64 string, priv ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(pub), priv
}

func TestVerifyFirmaValida(t *testing.T) {
	pub, priv := newKeypair(t)
	nonce := "nonce-de-challenge"
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(nonce)))

	assert.True(t, Verify(pub, nonce, sig))
}

func TestVerifyAceptaVariantesDeBase64(t *testing.T) {
	pub, priv := newKeypair(t)
	nonce := "nonce"
	raw := ed25519.Sign(priv, []byte(nonce))

	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		assert.True(t, Verify(pub, nonce, enc.EncodeToString(raw)))
	}
}

func TestVerifyRechaza(t *testing.T) {
	pub, priv := newKeypair(t)
	otraPub, _ := newKeypair(t)
	nonce := "nonce"
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(nonce)))

	assert.False(t, Verify(otraPub, nonce, sig), "clave equivocada")
	assert.False(t, Verify(pub, "otro-nonce", sig), "nonce equivocado")
	assert.False(t, Verify(pub, "", sig), "nonce vacío")
	assert.False(t, Verify(pub, nonce, ""), "firma vacía")
	assert.False(t, Verify("", nonce, sig), "clave vacía")
	assert.False(t, Verify("no-base64!!!", nonce, sig), "clave malformada")
	assert.False(t, Verify(pub, nonce, "AAAA"), "firma de tamaño incorrecto")
}
