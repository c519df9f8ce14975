package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/blake2b"
)

// GenerateOpaqueToken genera un token opaco aleatorio (base64url sin padding).
// Se usa para nonces de challenge, códigos de verificación de dominio y
// secretos de verificación de email.
func GenerateOpaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SHA256Base64URL devuelve sha256(input) en base64url sin padding.
func SHA256Base64URL(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// DomainHash devuelve blake2b-256(domain) en base64url sin padding.
// Los tombstones de dominios borrados se guardan así: impide re-registro sin
// retener el dominio en claro.
func DomainHash(domain string) string {
	sum := blake2b.Sum256([]byte(domain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
