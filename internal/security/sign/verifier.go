// Package sign verifica firmas ed25519 de clientes sobre nonces de challenge.
package sign

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"
)

// Verify verifica una firma ed25519 sobre los bytes exactos del nonce.
// Función pura, sin side effects. Falla cerrado: cualquier input malformado
// (base64 inválido, tamaños incorrectos) retorna false, nunca panic.
func Verify(publicKeyB64, nonce, signatureB64 string) bool {
	pub, ok := decodeB64(publicKeyB64)
	if !ok || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, ok := decodeB64(signatureB64)
	if !ok || len(sig) != ed25519.SignatureSize {
		return false
	}
	if nonce == "" {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(nonce), sig)
}

// decodeB64 acepta base64 estándar o url-safe, con o sin padding: los
// clientes no son consistentes y acá no hay razón para rechazar.
func decodeB64(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, true
		}
	}
	return nil, false
}
