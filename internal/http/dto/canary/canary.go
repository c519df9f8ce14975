// Package canary define los contratos JSON de los endpoints de canary.
package canary

// RegisterRequest alta de un dominio canary.
type RegisterRequest struct {
	Domain    string `json:"domain"`
	About     string `json:"about"`
	Signature string `json:"signature"`
	PublicKey string `json:"public_key"` // clave pública de firmado del canary
}

// Verification sub-estado de verificación visible al cliente.
type Verification struct {
	State     string `json:"state"` // pending | verifying | verified | failed
	Completed bool   `json:"completed"`
	Attempts  int    `json:"attempts"`
	// TXTRecord es el valor exacto a publicar en el registro TXT del dominio.
	// Solo se incluye para el dueño mientras la verificación está abierta.
	TXTRecord   string `json:"txt_record,omitempty"`
	NextCheckAt int64  `json:"next_check_at,omitempty"`
}

// Canary vista de un dominio canary.
type Canary struct {
	Domain       string       `json:"domain"`
	About        string       `json:"about"`
	Signature    string       `json:"signature"`
	PublicKey    string       `json:"public_key"`
	CreatedAt    int64        `json:"created_at"`
	Verification Verification `json:"verification"`
}

// TrustRequest registro de confianza sobre un canary ajeno.
type TrustRequest struct {
	PublicKeyHash string `json:"public_key_hash"`
	Signature     string `json:"signature"`
}

// TrustResponse registro de confianza persistido.
type TrustResponse struct {
	Domain        string `json:"domain"`
	PublicKeyHash string `json:"public_key_hash"`
	Signature     string `json:"signature"`
	CreatedAt     int64  `json:"created_at"`
}
