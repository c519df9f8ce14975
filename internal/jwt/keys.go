package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
)

// KeySet mantiene una sola clave activa de firmado. Rotación queda para una
// iteración futura.
type KeySet struct {
	Priv ed25519.PrivateKey
	Pub  ed25519.PublicKey
	KID  string
	Alg  string // "EdDSA"
}

// NewEphemeralEd25519 genera una clave Ed25519 en memoria (dev/tests).
func NewEphemeralEd25519(kid string) (*KeySet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeySet{Priv: priv, Pub: pub, KID: kid, Alg: "EdDSA"}, nil
}

// keyFile es el formato JSON del archivo de claves en disco.
type keyFile struct {
	KID  string `json:"kid"`
	Priv string `json:"priv"` // base64(seed), 32 bytes
}

// LoadEd25519File carga la clave de firmado desde un archivo generado por
// `perch keys`.
func LoadEd25519File(path string) (*KeySet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jwt: leer key file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(b, &kf); err != nil {
		return nil, fmt.Errorf("jwt: parse key file: %w", err)
	}
	seed, err := base64.StdEncoding.DecodeString(kf.Priv)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("jwt: seed inválido en key file")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeySet{
		Priv: priv,
		Pub:  priv.Public().(ed25519.PublicKey),
		KID:  kf.KID,
		Alg:  "EdDSA",
	}, nil
}

// WriteEd25519File genera una clave nueva y la persiste (modo 0600).
func WriteEd25519File(path, kid string) (*KeySet, error) {
	ks, err := NewEphemeralEd25519(kid)
	if err != nil {
		return nil, err
	}
	b, err := json.MarshalIndent(keyFile{
		KID:  kid,
		Priv: base64.StdEncoding.EncodeToString(ks.Priv.Seed()),
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return nil, fmt.Errorf("jwt: escribir key file: %w", err)
	}
	return ks, nil
}

// ─── JWKS (solo la pública) ───

type jwk struct {
	Kty string `json:"kty"` // "OKP"
	Crv string `json:"crv"` // "Ed25519"
	Kid string `json:"kid"`
	Alg string `json:"alg"` // "EdDSA"
	Use string `json:"use"` // "sig"
	X   string `json:"x"`   // base64url(pub)
}

// JWKSJSON devuelve el JWKS en JSON.
func (k *KeySet) JWKSJSON() []byte {
	b, _ := json.Marshal(map[string][]jwk{
		"keys": {{
			Kty: "OKP",
			Crv: "Ed25519",
			Kid: k.KID,
			Alg: k.Alg,
			Use: "sig",
			X:   base64.RawURLEncoding.EncodeToString(k.Pub),
		}},
	})
	return b
}
