// Package account define los contratos JSON de los endpoints de cuenta.
package account

// KDFParams parámetros Argon2id que el cliente usa para derivar su clave.
type KDFParams struct {
	Salt       string `json:"salt"`
	TimeCost   uint32 `json:"time_cost"`
	MemoryCost uint32 `json:"memory_cost"`
}

// KeyPair par de claves del cliente: pública en claro, privada cifrada.
type KeyPair struct {
	PublicKey  string `json:"public_key"`
	CipherText string `json:"cipher_text"`
	IV         string `json:"iv"`
}

// Keychain clave simétrica del cliente, cifrada localmente.
type Keychain struct {
	CipherText string `json:"cipher_text"`
	IV         string `json:"iv"`
}

// CreateRequest alta de cuenta. Todo el material privado llega cifrado:
// el server nunca ve claves en claro.
type CreateRequest struct {
	Email       string    `json:"email"`
	PublicKey   string    `json:"auth_public_key"` // ed25519 de login
	SignKeyPair KeyPair   `json:"sign_keypair"`
	KeyPair     KeyPair   `json:"keypair"`
	Keychain    Keychain  `json:"keychain"`
	KDF         KDFParams `json:"kdf"`
	Algorithms  string    `json:"algorithms"`
	Signature   string    `json:"signature"`
	IPConsent   bool      `json:"ip_consent"`
}

// ToSignResponse nonce a firmar para iniciar sesión.
type ToSignResponse struct {
	ToSign string `json:"to_sign"`
}

// LoginRequest cuerpo del login: la firma sobre el nonce vigente.
type LoginRequest struct {
	Signature   string `json:"signature"`
	OneDayLogin bool   `json:"one_day_login"`
}

// LoginResponse sesión emitida.
type LoginResponse struct {
	Token     string `json:"token"`
	JTI       string `json:"jti"`
	ExpiresAt int64  `json:"expires_at"`
}

// PublicResponse parámetros públicos de una cuenta: lo necesario para que el
// cliente derive su clave y firme. Se responde también para emails
// desconocidos con parámetros fabricados (anti-enumeración).
type PublicResponse struct {
	KDF        KDFParams `json:"kdf"`
	Algorithms string    `json:"algorithms"`
	OTPEnabled bool      `json:"otp_enabled"`
}

// OTPSetupResponse primer paso del enrolamiento: secreto provisional.
type OTPSetupResponse struct {
	Secret          string `json:"secret,omitempty"`
	ProvisioningURI string `json:"provisioning_uri,omitempty"`
	Enabled         bool   `json:"enabled"`
}

// OTPResetResponse estado tras deshabilitar OTP.
type OTPResetResponse struct {
	Enabled bool `json:"enabled"`
}

// WebhookRequest alta/baja de webhook por tópico.
type WebhookRequest struct {
	URL   string `json:"url"`
	Topic string `json:"topic"`
}

// EmailTopicRequest alta/baja de suscripción de email por tópico.
type EmailTopicRequest struct {
	Topic string `json:"topic"`
}

// PasswordResetRequest reemplazo completo del material de claves, gated por
// OTP si está habilitado.
type PasswordResetRequest struct {
	PublicKey   string    `json:"auth_public_key"`
	SignKeyPair KeyPair   `json:"sign_keypair"`
	KeyPair     KeyPair   `json:"keypair"`
	Keychain    Keychain  `json:"keychain"`
	KDF         KDFParams `json:"kdf"`
	Signature   string    `json:"signature"`
}

// JWTInfoResponse datos de la sesión actual.
type JWTInfoResponse struct {
	JTI       string `json:"jti"`
	AccountID string `json:"account_id"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// MeResponse vista del dueño sobre su propia cuenta.
type MeResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	PublicKey     string    `json:"auth_public_key"`
	SignKeyPair   KeyPair   `json:"sign_keypair"`
	KeyPair       KeyPair   `json:"keypair"`
	Keychain      Keychain  `json:"keychain"`
	KDF           KDFParams `json:"kdf"`
	Algorithms    string    `json:"algorithms"`
	Signature     string    `json:"signature"`
	OTPEnabled    bool      `json:"otp_enabled"`
	IPConsent     bool      `json:"ip_consent"`

	EmailTopics []string            `json:"email_topics"`
	Webhooks    map[string][]string `json:"webhooks"`
}
