// Package captcha trata la validación de captcha como un check opaco
// pass/fail contra un proveedor externo.
package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/perchsec/perch/internal/observability/logger"
)

// Verifier valida un token de captcha. Falla cerrado.
type Verifier interface {
	Verify(ctx context.Context, token string) bool
}

// AllowAll acepta cualquier token no vacío. Para dev/tests.
type AllowAll struct{}

func (AllowAll) Verify(ctx context.Context, token string) bool { return token != "" }

// HTTPVerifier valida contra un endpoint estilo hCaptcha/mCaptcha:
// POST form {secret, response} -> {"success": bool}.
type HTTPVerifier struct {
	Endpoint string
	Secret   string
	Client   *http.Client
}

func NewHTTPVerifier(endpoint, secret string) *HTTPVerifier {
	return &HTTPVerifier{
		Endpoint: endpoint,
		Secret:   secret,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}

	form := url.Values{}
	form.Set("secret", v.Secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.Client.Do(req)
	if err != nil {
		logger.From(ctx).Warn("captcha provider unreachable", logger.Err(err))
		return false
	}
	defer resp.Body.Close()

	var out struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false
	}
	return out.Success
}
