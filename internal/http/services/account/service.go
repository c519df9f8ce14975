// Package account implementa la lógica de cuentas: alta, login por firma,
// OTP, verificación de email y preferencias de notificación.
package account

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/perchsec/perch/internal/captcha"
	"github.com/perchsec/perch/internal/challenge"
	dto "github.com/perchsec/perch/internal/http/dto/account"
	jwtx "github.com/perchsec/perch/internal/jwt"
	"github.com/perchsec/perch/internal/metrics"
	"github.com/perchsec/perch/internal/observability/logger"
	"github.com/perchsec/perch/internal/security/kdf"
	"github.com/perchsec/perch/internal/security/sign"
	tokens "github.com/perchsec/perch/internal/security/token"
	"github.com/perchsec/perch/internal/store/core"
)

// Errores del servicio. ErrUnauthorized cubre toda falla de autenticación:
// cuenta inexistente, challenge vencido, firma inválida y OTP incorrecto
// responden idéntico para no dar un oráculo de existencia de cuentas.
var (
	ErrUnauthorized = errors.New("account: unauthorized")
	ErrBadRequest   = errors.New("account: bad request")
	ErrCaptcha      = errors.New("account: captcha failed")
	ErrConflict     = core.ErrConflict
	ErrNotFound     = core.ErrNotFound
)

const (
	pendingOTPPrefix = "otp:pending:"
	pendingOTPTTL    = 10 * time.Minute

	// maxEmailTopics cota de suscripciones de email por cuenta.
	maxEmailTopics = 3
)

// Deps dependencias del servicio de cuentas.
type Deps struct {
	Accounts   core.AccountRepository
	Challenges *challenge.Store
	Issuer     *jwtx.Issuer
	Captcha    captcha.Verifier
	OTP        *OtpGuard
	Email      *EmailFlow
}

type Service struct {
	deps Deps
}

func NewService(deps Deps) *Service {
	return &Service{deps: deps}
}

// ─── Alta ───

// Create da de alta la cuenta con su material de claves y dispara el email de
// verificación. El email es único case-insensitive.
func (s *Service) Create(ctx context.Context, in dto.CreateRequest, captchaToken string) (*core.Account, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("account"),
		logger.Op("Create"),
	)

	if !s.deps.Captcha.Verify(ctx, captchaToken) {
		return nil, ErrCaptcha
	}

	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email", ErrBadRequest)
	}
	if in.PublicKey == "" || in.Signature == "" {
		return nil, fmt.Errorf("%w: material de claves incompleto", ErrBadRequest)
	}
	params := kdf.Params{Salt: in.KDF.Salt, TimeCost: in.KDF.TimeCost, MemoryCost: in.KDF.MemoryCost}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	acc := &core.Account{
		ID:          uuid.NewString(),
		Email:       email,
		PublicKey:   in.PublicKey,
		SignKeyPair: core.KeyPair(in.SignKeyPair),
		KeyPair:     core.KeyPair(in.KeyPair),
		Keychain:    core.Keychain(in.Keychain),
		KDF:         core.KDFParams{Salt: in.KDF.Salt, TimeCost: in.KDF.TimeCost, MemoryCost: in.KDF.MemoryCost},
		Algorithms:  in.Algorithms,
		Signature:   in.Signature,
		IPConsent:   in.IPConsent,
		Notifications: core.NotificationPrefs{
			Webhooks: map[core.NotificationTopic][]string{},
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.deps.Accounts.Create(ctx, acc); err != nil {
		return nil, err
	}
	log.Info("cuenta creada", logger.AccountID(acc.ID), logger.Email(acc.Email))

	// el alta no falla si el email no sale; se puede reenviar
	if s.deps.Email != nil {
		if err := s.deps.Email.SendVerification(ctx, acc); err != nil {
			log.Warn("no se pudo enviar el email de verificación", logger.Err(err))
		}
	}
	return acc, nil
}

// ─── Login ───

// ToSign emite el challenge de login para una cuenta. Para emails
// desconocidos devuelve un nonce descartable indistinguible del real.
func (s *Service) ToSign(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	acc, err := s.deps.Accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// nonce señuelo: mismo formato, no se persiste
			return tokens.GenerateOpaqueToken(32)
		}
		return "", err
	}
	return s.deps.Challenges.Issue(ctx, acc.ID)
}

// Public devuelve los parámetros KDF de la cuenta. Para emails desconocidos
// fabrica parámetros deterministas: dos consultas del mismo email responden
// igual, así el endpoint tampoco sirve de oráculo.
func (s *Service) Public(ctx context.Context, email string) (dto.PublicResponse, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	acc, err := s.deps.Accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return decoyPublic(email), nil
		}
		return dto.PublicResponse{}, err
	}
	return dto.PublicResponse{
		KDF:        dto.KDFParams{Salt: acc.KDF.Salt, TimeCost: acc.KDF.TimeCost, MemoryCost: acc.KDF.MemoryCost},
		Algorithms: acc.Algorithms,
		OTPEnabled: acc.OTP.Enabled,
	}, nil
}

// decoyPublic deriva parámetros estables del email.
func decoyPublic(email string) dto.PublicResponse {
	h := blake2b.Sum256([]byte("perch-public-decoy:" + email))
	return dto.PublicResponse{
		KDF: dto.KDFParams{
			Salt:       base64.StdEncoding.EncodeToString(h[:16]),
			TimeCost:   3,
			MemoryCost: 65536,
		},
		Algorithms: defaultAlgorithms,
	}
}

// LoginResult sesión emitida por un login exitoso.
type LoginResult struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// Login ejecuta la máquina de login: captcha, canje del challenge, firma,
// OTP si corresponde, emisión de sesión. Toda falla de autenticación colapsa
// en ErrUnauthorized sin importar qué chequeo interno falló.
func (s *Service) Login(ctx context.Context, email, captchaToken, otp string, in dto.LoginRequest) (*LoginResult, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("account"),
		logger.Op("Login"),
	)

	if !s.deps.Captcha.Verify(ctx, captchaToken) {
		metrics.LoginAttempts.WithLabelValues("bad_request").Inc()
		return nil, ErrCaptcha
	}

	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || in.Signature == "" {
		metrics.LoginAttempts.WithLabelValues("bad_request").Inc()
		return nil, fmt.Errorf("%w: faltan campos", ErrBadRequest)
	}

	acc, err := s.deps.Accounts.GetByEmail(ctx, email)
	if err != nil {
		// cuenta inexistente == firma inválida para el caller
		log.Debug("cuenta no encontrada")
		metrics.LoginAttempts.WithLabelValues("unauthorized").Inc()
		return nil, ErrUnauthorized
	}

	// la firma viaja como "<nonce>.<firma b64>": primero el canje atómico del
	// nonce (de dos logins concurrentes gana uno y el challenge se consume),
	// después la verificación de la firma sobre ese nonce exacto.
	nonce, sig, _ := strings.Cut(in.Signature, ".")
	if err := s.deps.Challenges.Redeem(ctx, acc.ID, nonce); err != nil {
		log.Debug("canje de challenge falló")
		metrics.LoginAttempts.WithLabelValues("unauthorized").Inc()
		return nil, ErrUnauthorized
	}

	if !sign.Verify(acc.PublicKey, nonce, sig) {
		log.Debug("firma inválida")
		metrics.LoginAttempts.WithLabelValues("unauthorized").Inc()
		return nil, ErrUnauthorized
	}

	if acc.OTP.Enabled {
		if otp == "" || !s.deps.OTP.VerifyEnabled(ctx, acc, otp) {
			log.Debug("otp faltante o inválido")
			metrics.LoginAttempts.WithLabelValues("unauthorized").Inc()
			return nil, ErrUnauthorized
		}
	}

	sess, err := s.deps.Issuer.Issue(ctx, acc.ID, in.OneDayLogin)
	if err != nil {
		return nil, err
	}

	metrics.LoginAttempts.WithLabelValues("ok").Inc()
	metrics.SessionsIssued.Inc()
	log.Info("login exitoso", logger.AccountID(acc.ID), logger.JTI(sess.JTI))
	return &LoginResult{Token: sess.Token, JTI: sess.JTI, ExpiresAt: sess.ExpiresAt}, nil
}

// ─── Sesión ───

// Logout revoca la sesión actual. Idempotente.
func (s *Service) Logout(ctx context.Context, jti string) error {
	return s.deps.Issuer.Revoke(ctx, jti)
}

// JWTInfo retorna la sesión persistida.
func (s *Service) JWTInfo(ctx context.Context, jti string) (*core.Session, error) {
	return s.deps.Issuer.SessionInfo(ctx, jti)
}

// Me retorna la cuenta del dueño.
func (s *Service) Me(ctx context.Context, accountID string) (*core.Account, error) {
	return s.deps.Accounts.GetByID(ctx, accountID)
}

// ─── Notificaciones / privacidad ───

// AddEmailTopic suscribe la cuenta a un tópico. Idempotente sobre duplicados.
func (s *Service) AddEmailTopic(ctx context.Context, accountID, topic string) error {
	t, ok := core.ParseTopic(topic)
	if !ok {
		return fmt.Errorf("%w: tópico desconocido", ErrBadRequest)
	}
	acc, err := s.deps.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	for _, have := range acc.Notifications.EmailTopics {
		if have == t {
			return nil
		}
	}
	if len(acc.Notifications.EmailTopics) >= maxEmailTopics {
		return fmt.Errorf("%w: demasiadas suscripciones", ErrBadRequest)
	}
	acc.Notifications.EmailTopics = append(acc.Notifications.EmailTopics, t)
	return s.deps.Accounts.Update(ctx, acc)
}

// RemoveEmailTopic desuscribe. Quitar algo no suscripto no es error.
func (s *Service) RemoveEmailTopic(ctx context.Context, accountID, topic string) error {
	t, ok := core.ParseTopic(topic)
	if !ok {
		return fmt.Errorf("%w: tópico desconocido", ErrBadRequest)
	}
	acc, err := s.deps.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	kept := acc.Notifications.EmailTopics[:0]
	for _, have := range acc.Notifications.EmailTopics {
		if have != t {
			kept = append(kept, have)
		}
	}
	acc.Notifications.EmailTopics = kept
	return s.deps.Accounts.Update(ctx, acc)
}

// AddWebhook registra un webhook para un tópico. Duplicados exactos son
// idempotentes.
func (s *Service) AddWebhook(ctx context.Context, accountID, topic, rawURL string) error {
	t, ok := core.ParseTopic(topic)
	if !ok {
		return fmt.Errorf("%w: tópico desconocido", ErrBadRequest)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url inválida", ErrBadRequest)
	}
	acc, err := s.deps.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if acc.Notifications.Webhooks == nil {
		acc.Notifications.Webhooks = map[core.NotificationTopic][]string{}
	}
	for _, have := range acc.Notifications.Webhooks[t] {
		if have == rawURL {
			return nil
		}
	}
	acc.Notifications.Webhooks[t] = append(acc.Notifications.Webhooks[t], rawURL)
	return s.deps.Accounts.Update(ctx, acc)
}

// RemoveWebhook da de baja un webhook.
func (s *Service) RemoveWebhook(ctx context.Context, accountID, topic, rawURL string) error {
	t, ok := core.ParseTopic(topic)
	if !ok {
		return fmt.Errorf("%w: tópico desconocido", ErrBadRequest)
	}
	acc, err := s.deps.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	urls := acc.Notifications.Webhooks[t]
	kept := urls[:0]
	for _, have := range urls {
		if have != rawURL {
			kept = append(kept, have)
		}
	}
	acc.Notifications.Webhooks[t] = kept
	return s.deps.Accounts.Update(ctx, acc)
}

// SetIPConsent registra o revoca el consentimiento de procesamiento de IP.
func (s *Service) SetIPConsent(ctx context.Context, accountID string, consent bool) error {
	acc, err := s.deps.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	acc.IPConsent = consent
	return s.deps.Accounts.Update(ctx, acc)
}

// ─── Reset de material de claves ───

// PasswordReset reemplaza el material de claves completo. Si la cuenta tiene
// OTP habilitado, exige un código válido; la sesión actual sigue viva.
func (s *Service) PasswordReset(ctx context.Context, accountID, otp string, in dto.PasswordResetRequest) error {
	acc, err := s.deps.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if err := s.deps.OTP.Require(ctx, acc, otp); err != nil {
		return err
	}
	if in.PublicKey == "" || in.Signature == "" {
		return fmt.Errorf("%w: material de claves incompleto", ErrBadRequest)
	}
	params := kdf.Params{Salt: in.KDF.Salt, TimeCost: in.KDF.TimeCost, MemoryCost: in.KDF.MemoryCost}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	acc.PublicKey = in.PublicKey
	acc.SignKeyPair = core.KeyPair(in.SignKeyPair)
	acc.KeyPair = core.KeyPair(in.KeyPair)
	acc.Keychain = core.Keychain(in.Keychain)
	acc.KDF = core.KDFParams{Salt: in.KDF.Salt, TimeCost: in.KDF.TimeCost, MemoryCost: in.KDF.MemoryCost}
	acc.Signature = in.Signature

	if err := s.deps.Accounts.Update(ctx, acc); err != nil {
		return err
	}
	logger.From(ctx).Info("material de claves rotado", logger.AccountID(accountID))
	return nil
}

// ─── helpers ───

const defaultAlgorithms = "XCHACHA20_POLY1305+ED25519+X25519+ARGON2"

