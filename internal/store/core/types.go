package core

import "time"

// NotificationTopic enumera los tópicos de notificación. El set es cerrado:
// cualquier otro valor se rechaza en el borde HTTP.
type NotificationTopic string

const (
	TopicCanaryRenewals      NotificationTopic = "canary_renewals"
	TopicCanarySubscriptions NotificationTopic = "canary_subscriptions"
	TopicSurveySubmissions   NotificationTopic = "survey_submissions"
)

// ParseTopic valida un tópico recibido del cliente.
func ParseTopic(s string) (NotificationTopic, bool) {
	switch NotificationTopic(s) {
	case TopicCanaryRenewals, TopicCanarySubscriptions, TopicSurveySubmissions:
		return NotificationTopic(s), true
	}
	return "", false
}

// KDFParams son los parámetros Argon2id que el cliente usa para derivar la
// clave de cuenta. El server solo los guarda y publica; nunca deriva.
type KDFParams struct {
	Salt       string `json:"salt"` // base64
	TimeCost   uint32 `json:"time_cost"`
	MemoryCost uint32 `json:"memory_cost"` // KiB
}

// KeyPair es un par de claves del cliente: pública en claro, privada cifrada
// localmente (el server nunca ve material privado en claro).
type KeyPair struct {
	PublicKey  string `json:"public_key"`  // base64
	CipherText string `json:"cipher_text"` // base64
	IV         string `json:"iv"`          // base64
}

// Keychain es la clave simétrica de 32 bytes del cliente, cifrada localmente.
type Keychain struct {
	CipherText string `json:"cipher_text"`
	IV         string `json:"iv"`
}

// OTPConfig estado TOTP de una cuenta.
// Invariante: Enabled == true implica SecretEnc != "".
type OTPConfig struct {
	// SecretEnc es el secreto base32 cifrado at-rest con secretbox.
	SecretEnc string
	Enabled   bool
	// LastCounter es el último contador TOTP aceptado (anti-replay).
	LastCounter int64
}

// NotificationPrefs preferencias de notificación por cuenta.
type NotificationPrefs struct {
	EmailTopics []NotificationTopic
	Webhooks    map[NotificationTopic][]string
}

// EmailVerification estado pendiente de verificación de email. El secreto se
// guarda hasheado; el link lleva el secreto en claro.
type EmailVerification struct {
	SecretHash string
	ExpiresAt  time.Time
}

type Account struct {
	ID            string
	Email         string // siempre lower-case
	EmailVerified bool

	// PublicKey es la clave ed25519 de login, base64. Las firmas del
	// challenge se verifican contra esta clave.
	PublicKey string

	SignKeyPair KeyPair  // ed25519, privada cifrada
	KeyPair     KeyPair  // X25519, privada cifrada
	Keychain    Keychain
	KDF         KDFParams
	Algorithms  string // descriptor de algoritmos del cliente
	Signature   string // firma del cliente sobre su propio material

	OTP           OTPConfig
	Notifications NotificationPrefs
	IPConsent     bool

	EmailVerification *EmailVerification

	CreatedAt time.Time
}

// Session es una sesión emitida. Revoked se marca via RevokedAt.
type Session struct {
	JTI       string
	AccountID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Revoked indica si la sesión fue revocada.
func (s *Session) Revoked() bool { return s != nil && s.RevokedAt != nil }

// VerificationState estados del ciclo de verificación de dominio.
type VerificationState string

const (
	StatePending   VerificationState = "pending"
	StateVerifying VerificationState = "verifying"
	StateVerified  VerificationState = "verified"
	StateFailed    VerificationState = "failed"
)

// DomainVerification sub-entidad de verificación DNS de un canary.
// Invariante: Completed == true sii State == StateVerified. Code es inmutable
// una vez emitido; solo un reset explícito lo regenera.
type DomainVerification struct {
	State     VerificationState
	Code      string // valor esperado en el TXT (sin prefijo)
	Completed bool
	Attempts  int
	// LastCheckedAt/NextCheckAt persisten el backoff: el poller es stateless
	// entre corridas y resumible tras restart.
	LastCheckedAt *time.Time
	NextCheckAt   time.Time
}

type CanaryDomain struct {
	Domain    string // único, lower-case
	AccountID string
	About     string
	Signature string
	PublicKey string  // clave pública de firmado del canary, base64
	Logo      *string // id de archivo, opcional

	Verification DomainVerification
	CreatedAt    time.Time
}

// TrustedCanary registro de confianza de una cuenta sobre un canary ajeno:
// hash de clave pública firmado localmente.
type TrustedCanary struct {
	AccountID     string
	Domain        string
	PublicKeyHash string
	Signature     string
	CreatedAt     time.Time
}
