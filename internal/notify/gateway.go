// Package notify despacha notificaciones a email y webhooks.
//
// El contrato es fire-and-forget con intento at-least-once: el core decide
// cuándo notificar; la entrega efectiva no bloquea ni falla la operación que
// la disparó.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/perchsec/perch/internal/email"
	"github.com/perchsec/perch/internal/metrics"
	"github.com/perchsec/perch/internal/observability/logger"
	"github.com/perchsec/perch/internal/store/core"
)

// Gateway es el sink de notificaciones del core.
type Gateway interface {
	// CanaryVerified notifica al dueño que su dominio quedó verificado.
	CanaryVerified(ctx context.Context, account *core.Account, domain string)
}

type gateway struct {
	sender   email.Sender
	client   *http.Client
	siteName string
}

func NewGateway(sender email.Sender, siteName string) Gateway {
	return &gateway{
		sender:   sender,
		client:   &http.Client{Timeout: 10 * time.Second},
		siteName: siteName,
	}
}

func (g *gateway) CanaryVerified(ctx context.Context, account *core.Account, domain string) {
	log := logger.From(ctx).With(
		logger.Component("notify"),
		logger.AccountID(account.ID),
		logger.Domain(domain),
	)

	// Email directo al dueño (siempre; no depende de tópicos suscriptos).
	go func() {
		subject, html, text := email.CanaryVerifiedEmail(g.siteName, domain)
		if err := g.sender.Send(account.Email, subject, html, text); err != nil {
			log.Warn("verified email delivery failed", logger.Err(err))
			return
		}
		metrics.NotificationsSent.WithLabelValues("email").Inc()
	}()

	// Webhooks suscriptos al tópico de renovaciones de canary.
	payload := map[string]any{
		"event":  "canary_domain_verified",
		"domain": domain,
		"at":     time.Now().UTC().Format(time.RFC3339),
	}
	for _, url := range account.Notifications.Webhooks[core.TopicCanaryRenewals] {
		go g.post(url, payload, log)
	}
}

func (g *gateway) post(url string, payload map[string]any, log *zap.Logger) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	resp, err := g.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Warn("webhook delivery failed", logger.String("url", url), logger.Err(err))
		return
	}
	defer resp.Body.Close()
	metrics.NotificationsSent.WithLabelValues("webhook").Inc()
}
