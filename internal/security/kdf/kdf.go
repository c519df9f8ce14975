// Package kdf valida parámetros Argon2id del cliente y hashea secretos de
// un solo uso (links de verificación de email) para guardarlos at-rest.
package kdf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Cotas para los parámetros KDF que el cliente declara al crear la cuenta.
// Base: perfil RFC 9106 low-memory (t=3, m=64 MiB). Se admite t-1/m-1 por
// compatibilidad con clientes viejos, igual que el rango del modelo original.
const (
	MinTimeCost   = 2
	MaxTimeCost   = 12
	MinMemoryCost = 64*1024 - 1 // KiB
	MaxMemoryCost = 3276800     // KiB (~3.1 GiB)
	MaxSaltLen    = 64          // chars base64
)

// Params son los parámetros que el cliente usa para derivar su clave de
// cuenta. El server solo los guarda y los publica en /account/{email}/public.
type Params struct {
	Salt       string
	TimeCost   uint32
	MemoryCost uint32
}

// Validate chequea que los parámetros estén dentro de las cotas. Parámetros
// demasiado débiles degradan la cuenta del cliente; demasiado caros permiten
// DoS sobre clientes que rendericen el login.
func (p Params) Validate() error {
	if p.Salt == "" || len(p.Salt) > MaxSaltLen {
		return fmt.Errorf("kdf: salt inválido")
	}
	if _, err := base64.StdEncoding.DecodeString(p.Salt); err != nil {
		return fmt.Errorf("kdf: salt no es base64: %w", err)
	}
	if p.TimeCost < MinTimeCost || p.TimeCost > MaxTimeCost {
		return fmt.Errorf("kdf: time_cost fuera de rango")
	}
	if p.MemoryCost < MinMemoryCost || p.MemoryCost > MaxMemoryCost {
		return fmt.Errorf("kdf: memory_cost fuera de rango")
	}
	return nil
}

// Parámetros server-side para hashear secretos de verificación.
// Livianos a propósito: el input es aleatorio de alta entropía, el hash solo
// evita que un dump de DB sirva para verificar emails ajenos.
var secretParams = struct {
	memory  uint32
	time    uint32
	threads uint8
	keyLen  uint32
}{memory: 8 * 1024, time: 1, threads: 1, keyLen: 32}

// HashSecret devuelve un PHC string: $argon2id$v=19$m=...,t=...,p=...$salt$dk
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("kdf: secreto vacío")
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	dk := argon2.IDKey([]byte(secret), salt, secretParams.time, secretParams.memory, secretParams.threads, secretParams.keyLen)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		secretParams.memory, secretParams.time, secretParams.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(dk),
	), nil
}

// VerifySecret compara en tiempo constante contra un PHC string.
func VerifySecret(secret, phc string) bool {
	// $argon2id$v=19$m=...,t=...,p=...$<saltB64>$<dkB64>
	parts := strings.Split(phc, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var v int
	if n, _ := fmt.Sscanf(parts[2], "v=%d", &v); n != 1 || v != 19 {
		return false
	}
	var m, t, p int
	if n, _ := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); n != 3 {
		return false
	}
	saltB64, dkB64 := parts[4], parts[5]
	salt, err := base64.RawStdEncoding.DecodeString(saltB64)
	if err != nil {
		return false
	}
	dkStored, err := base64.RawStdEncoding.DecodeString(dkB64)
	if err != nil {
		return false
	}
	key := argon2.IDKey([]byte(secret), salt, uint32(t), uint32(m), uint8(p), uint32(len(dkStored)))
	return subtle.ConstantTimeCompare(key, dkStored) == 1
}
