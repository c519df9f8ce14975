// Package account expone los endpoints de cuenta: alta, login por firma,
// OTP, verificación de email, notificaciones y sesión.
package account

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	dto "github.com/perchsec/perch/internal/http/dto/account"
	httperrors "github.com/perchsec/perch/internal/http/errors"
	"github.com/perchsec/perch/internal/http/helpers"
	svc "github.com/perchsec/perch/internal/http/services/account"
	"github.com/perchsec/perch/internal/observability/logger"
	"github.com/perchsec/perch/internal/store/core"
)

// Controller maneja los endpoints de cuenta.
type Controller struct {
	service *svc.Service
	otp     *svc.OtpGuard
	email   *svc.EmailFlow
}

func NewController(service *svc.Service, otp *svc.OtpGuard, email *svc.EmailFlow) *Controller {
	return &Controller{service: service, otp: otp, email: email}
}

// mapErr traduce errores del service al catálogo HTTP.
func mapErr(err error) *httperrors.AppError {
	switch {
	case errors.Is(err, svc.ErrCaptcha):
		return httperrors.ErrCaptchaFailed
	case errors.Is(err, svc.ErrBadRequest):
		return httperrors.ErrBadRequest
	case errors.Is(err, svc.ErrUnauthorized):
		return httperrors.ErrUnauthorized
	case errors.Is(err, core.ErrNotFound):
		return httperrors.ErrNotFound
	case errors.Is(err, core.ErrConflict):
		return httperrors.ErrConflict
	default:
		return httperrors.ErrInternalServerError.WithCause(err)
	}
}

// Create maneja POST /account/create?captcha
func (c *Controller) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	acc, err := c.service.Create(r.Context(), req, r.URL.Query().Get("captcha"))
	if err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, map[string]string{"id": acc.ID})
}

// ToSign maneja GET /account/{email}/to-sign
func (c *Controller) ToSign(w http.ResponseWriter, r *http.Request) {
	nonce, err := c.service.ToSign(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	helpers.WriteJSON(w, http.StatusOK, dto.ToSignResponse{ToSign: nonce})
}

// Public maneja GET /account/{email}/public
func (c *Controller) Public(w http.ResponseWriter, r *http.Request) {
	resp, err := c.service.Public(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// Login maneja POST /account/{email}/login?captcha&otp
func (c *Controller) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	q := r.URL.Query()
	result, err := c.service.Login(r.Context(),
		chi.URLParam(r, "email"), q.Get("captcha"), q.Get("otp"), req)
	if err != nil {
		logger.From(r.Context()).Debug("login rechazado", logger.Err(err))
		httperrors.WriteError(w, r, mapErr(err))
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	helpers.WriteJSON(w, http.StatusOK, dto.LoginResponse{
		Token:     result.Token,
		JTI:       result.JTI,
		ExpiresAt: result.ExpiresAt.Unix(),
	})
}

// VerifyEmail maneja GET /account/{email}/email/verify/{secret}
// En éxito redirige al frontend; en falla responde el 401 genérico.
func (c *Controller) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	redirect, err := c.email.Verify(r.Context(),
		chi.URLParam(r, "email"), chi.URLParam(r, "secret"))
	if err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// ResendEmail maneja POST /account/email/resend
func (c *Controller) ResendEmail(w http.ResponseWriter, r *http.Request) {
	if err := c.email.Resend(r.Context(), helpers.AccountID(r.Context())); err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OTPSetup maneja POST /account/otp/setup?otp
func (c *Controller) OTPSetup(w http.ResponseWriter, r *http.Request) {
	resp, err := c.otp.Setup(r.Context(),
		helpers.AccountID(r.Context()), r.URL.Query().Get("otp"))
	if err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// OTPReset maneja DELETE /account/otp/reset?otp
func (c *Controller) OTPReset(w http.ResponseWriter, r *http.Request) {
	resp, err := c.otp.Reset(r.Context(),
		helpers.AccountID(r.Context()), r.URL.Query().Get("otp"))
	if err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// AddWebhook maneja POST /account/notifications/webhook/add
func (c *Controller) AddWebhook(w http.ResponseWriter, r *http.Request) {
	var req dto.WebhookRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if err := c.service.AddWebhook(r.Context(), helpers.AccountID(r.Context()), req.Topic, req.URL); err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveWebhook maneja DELETE /account/notifications/webhook/remove
func (c *Controller) RemoveWebhook(w http.ResponseWriter, r *http.Request) {
	var req dto.WebhookRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if err := c.service.RemoveWebhook(r.Context(), helpers.AccountID(r.Context()), req.Topic, req.URL); err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddEmailTopic maneja POST /account/notifications/email/add
func (c *Controller) AddEmailTopic(w http.ResponseWriter, r *http.Request) {
	var req dto.EmailTopicRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if err := c.service.AddEmailTopic(r.Context(), helpers.AccountID(r.Context()), req.Topic); err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveEmailTopic maneja DELETE /account/notifications/email/remove
func (c *Controller) RemoveEmailTopic(w http.ResponseWriter, r *http.Request) {
	var req dto.EmailTopicRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if err := c.service.RemoveEmailTopic(r.Context(), helpers.AccountID(r.Context()), req.Topic); err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GrantIPConsent maneja POST /account/privacy/ip-progressing/consent
func (c *Controller) GrantIPConsent(w http.ResponseWriter, r *http.Request) {
	if err := c.service.SetIPConsent(r.Context(), helpers.AccountID(r.Context()), true); err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeIPConsent maneja DELETE /account/privacy/ip-progressing/disallow
func (c *Controller) RevokeIPConsent(w http.ResponseWriter, r *http.Request) {
	if err := c.service.SetIPConsent(r.Context(), helpers.AccountID(r.Context()), false); err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PasswordReset maneja POST /account/password/reset?otp
func (c *Controller) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req dto.PasswordResetRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	err := c.service.PasswordReset(r.Context(),
		helpers.AccountID(r.Context()), r.URL.Query().Get("otp"), req)
	if err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// JWTInfo maneja GET /account/jwt
func (c *Controller) JWTInfo(w http.ResponseWriter, r *http.Request) {
	s, err := c.service.JWTInfo(r.Context(), helpers.JTI(r.Context()))
	if err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.JWTInfoResponse{
		JTI:       s.JTI,
		AccountID: s.AccountID,
		IssuedAt:  s.IssuedAt.Unix(),
		ExpiresAt: s.ExpiresAt.Unix(),
	})
}

// Me maneja GET /account/me
func (c *Controller) Me(w http.ResponseWriter, r *http.Request) {
	acc, err := c.service.Me(r.Context(), helpers.AccountID(r.Context()))
	if err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}

	topics := make([]string, 0, len(acc.Notifications.EmailTopics))
	for _, t := range acc.Notifications.EmailTopics {
		topics = append(topics, string(t))
	}
	hooks := make(map[string][]string, len(acc.Notifications.Webhooks))
	for t, urls := range acc.Notifications.Webhooks {
		hooks[string(t)] = urls
	}

	helpers.WriteJSON(w, http.StatusOK, dto.MeResponse{
		ID:            acc.ID,
		Email:         acc.Email,
		EmailVerified: acc.EmailVerified,
		PublicKey:     acc.PublicKey,
		SignKeyPair:   dto.KeyPair(acc.SignKeyPair),
		KeyPair:       dto.KeyPair(acc.KeyPair),
		Keychain:      dto.Keychain(acc.Keychain),
		KDF:           dto.KDFParams{Salt: acc.KDF.Salt, TimeCost: acc.KDF.TimeCost, MemoryCost: acc.KDF.MemoryCost},
		Algorithms:    acc.Algorithms,
		Signature:     acc.Signature,
		OTPEnabled:    acc.OTP.Enabled,
		IPConsent:     acc.IPConsent,
		EmailTopics:   topics,
		Webhooks:      hooks,
	})
}

// Logout maneja DELETE /account/logout
func (c *Controller) Logout(w http.ResponseWriter, r *http.Request) {
	if err := c.service.Logout(r.Context(), helpers.JTI(r.Context())); err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
