package account

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/perchsec/perch/internal/email"
	"github.com/perchsec/perch/internal/metrics"
	"github.com/perchsec/perch/internal/observability/logger"
	"github.com/perchsec/perch/internal/security/kdf"
	tokens "github.com/perchsec/perch/internal/security/token"
	"github.com/perchsec/perch/internal/store/core"
)

// EmailFlow maneja la verificación de email: emite el secreto, lo guarda
// hasheado con expiración y resuelve el link de verificación.
type EmailFlow struct {
	accounts core.AccountRepository
	sender   email.Sender
	siteName string
	baseURL  string // base de los links, ej: https://perch.example.com
	ttl      time.Duration
}

func NewEmailFlow(accounts core.AccountRepository, sender email.Sender, siteName, baseURL string, ttl time.Duration) *EmailFlow {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &EmailFlow{
		accounts: accounts,
		sender:   sender,
		siteName: siteName,
		baseURL:  strings.TrimRight(baseURL, "/"),
		ttl:      ttl,
	}
}

// SendVerification emite un secreto fresco, lo persiste hasheado y manda el
// link. El secreto en claro solo viaja en el email.
func (f *EmailFlow) SendVerification(ctx context.Context, acc *core.Account) error {
	if acc.EmailVerified {
		return nil
	}
	secret, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		return err
	}
	hash, err := kdf.HashSecret(secret)
	if err != nil {
		return err
	}

	acc.EmailVerification = &core.EmailVerification{
		SecretHash: hash,
		ExpiresAt:  time.Now().UTC().Add(f.ttl),
	}
	if err := f.accounts.Update(ctx, acc); err != nil {
		return err
	}

	link := fmt.Sprintf("%s/account/%s/email/verify/%s",
		f.baseURL, url.PathEscape(acc.Email), url.PathEscape(secret))
	subject, html, text := email.VerificationEmail(f.siteName, link)

	go func() {
		if err := f.sender.Send(acc.Email, subject, html, text); err != nil {
			logger.L().Warn("envío de email de verificación falló",
				logger.Email(acc.Email), logger.Err(err))
			return
		}
		metrics.NotificationsSent.WithLabelValues("email").Inc()
	}()
	return nil
}

// Verify valida el secreto del link. En éxito marca la cuenta verificada y
// devuelve la URL a la que redirigir. Secreto inválido o vencido → 401
// genérico, sin distinguir causa.
func (f *EmailFlow) Verify(ctx context.Context, emailAddr, secret string) (redirect string, err error) {
	emailAddr = strings.TrimSpace(strings.ToLower(emailAddr))
	acc, err := f.accounts.GetByEmail(ctx, emailAddr)
	if err != nil {
		return "", ErrUnauthorized
	}
	ev := acc.EmailVerification
	if ev == nil || secret == "" ||
		time.Now().UTC().After(ev.ExpiresAt) ||
		!kdf.VerifySecret(secret, ev.SecretHash) {
		return "", ErrUnauthorized
	}

	acc.EmailVerified = true
	acc.EmailVerification = nil
	if err := f.accounts.Update(ctx, acc); err != nil {
		return "", err
	}

	logger.From(ctx).Info("email verificado", logger.AccountID(acc.ID), logger.Email(acc.Email))
	return f.baseURL + "/login?email_verified=true", nil
}

// Resend reemite el link de verificación para la cuenta autenticada.
// Sobre una cuenta ya verificada es un no-op exitoso.
func (f *EmailFlow) Resend(ctx context.Context, accountID string) error {
	acc, err := f.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	return f.SendVerification(ctx, acc)
}
