package router

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchsec/perch/internal/cache"
	"github.com/perchsec/perch/internal/canary"
	"github.com/perchsec/perch/internal/captcha"
	"github.com/perchsec/perch/internal/challenge"
	"github.com/perchsec/perch/internal/email"
	accountctrl "github.com/perchsec/perch/internal/http/controllers/account"
	canaryctrl "github.com/perchsec/perch/internal/http/controllers/canary"
	healthctrl "github.com/perchsec/perch/internal/http/controllers/health"
	accountsvc "github.com/perchsec/perch/internal/http/services/account"
	canarysvc "github.com/perchsec/perch/internal/http/services/canary"
	jwtx "github.com/perchsec/perch/internal/jwt"
	"github.com/perchsec/perch/internal/notify"
	"github.com/perchsec/perch/internal/rate"
	"github.com/perchsec/perch/internal/security/totp"
	"github.com/perchsec/perch/internal/store/memory"
)

// secretbox carga la clave maestra una sola vez por proceso.
func TestMain(m *testing.M) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	os.Setenv("PERCH_MASTER_KEY", base64.StdEncoding.EncodeToString(key))
	os.Exit(m.Run())
}

// totpCode genera el código para un secreto base32 en un instante dado.
func totpCode(t *testing.T, secretB32 string, at time.Time) string {
	t.Helper()
	raw, err := totp.DecodeSecret(secretB32)
	require.NoError(t, err)
	return totp.GenerateCode(raw, at)
}

type fakeResolver struct {
	mu      sync.Mutex
	records map[string][]string
}

func (f *fakeResolver) LookupTXT(ctx context.Context, domain string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[domain], nil
}

func (f *fakeResolver) set(domain, record string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records == nil {
		f.records = map[string][]string{}
	}
	f.records[domain] = []string{record}
}

type apiEnv struct {
	srv      *httptest.Server
	resolver *fakeResolver
}

// newAPI levanta el router completo sobre storage en memoria.
func newAPI(t *testing.T, loginLimiter rate.Limiter) *apiEnv {
	t.Helper()

	store := memory.New()
	c := cache.NewMemory("test")

	keys, err := jwtx.NewEphemeralEd25519("test")
	require.NoError(t, err)
	issuer := jwtx.NewIssuer(keys, "perch-test", 30*24*time.Hour, 24*time.Hour, store.Sessions(), c)

	challenges := challenge.NewStore(c, time.Minute)
	otp := accountsvc.NewOtpGuard(store.Accounts(), c, 1, "Perch")

	svc := accountsvc.NewService(accountsvc.Deps{
		Accounts:   store.Accounts(),
		Challenges: challenges,
		Issuer:     issuer,
		Captcha:    captcha.AllowAll{},
		OTP:        otp,
	})

	resolver := &fakeResolver{}
	verifier := canary.NewVerifier(store.Canaries(), store.Accounts(), resolver,
		notify.NewGateway(email.Noop{}, "Perch"), rate.NewMemoryLimiter(100, time.Hour), canary.Options{})
	csvc := canarysvc.NewService(verifier, store.Accounts(), otp)

	h := New(Deps{
		Account:      accountctrl.NewController(svc, otp, accountsvc.NewEmailFlow(store.Accounts(), email.Noop{}, "Perch", "https://perch.test", time.Hour)),
		Canary:       canaryctrl.NewController(csvc),
		Health:       healthctrl.NewController(store),
		Issuer:       issuer,
		JWKS:         keys.JWKSJSON(),
		LoginLimiter: loginLimiter,
	})

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &apiEnv{srv: srv, resolver: resolver}
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

// signup crea una cuenta y devuelve un token de sesión vigente.
func (e *apiEnv) signup(t *testing.T, email string) (token string, priv ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	resp, _ := e.do(t, "POST", "/account/create?captcha=ok", "", map[string]any{
		"email":           email,
		"auth_public_key": base64.StdEncoding.EncodeToString(pub),
		"kdf": map[string]any{
			"salt":        base64.StdEncoding.EncodeToString([]byte("0123456789abcdef")),
			"time_cost":   3,
			"memory_cost": 64 * 1024,
		},
		"signature": "firma",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	return e.login(t, email, priv), priv
}

func (e *apiEnv) login(t *testing.T, email string, priv ed25519.PrivateKey) string {
	t.Helper()
	resp, body := e.do(t, "GET", "/account/"+email+"/to-sign", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	nonce, _ := body["to_sign"].(string)
	require.NotEmpty(t, nonce)

	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(nonce)))
	resp, body = e.do(t, "POST", "/account/"+email+"/login?captcha=ok", "", map[string]any{
		"signature": nonce + "." + sig,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestOperacional(t *testing.T) {
	e := newAPI(t, nil)

	resp, body := e.do(t, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = e.do(t, "GET", "/.well-known/jwks.json", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "keys")

	resp, _ = e.do(t, "GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFlujoDeCuentaCompleto(t *testing.T) {
	e := newAPI(t, nil)
	token, _ := e.signup(t, "ada@example.com")

	resp, body := e.do(t, "GET", "/account/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ada@example.com", body["email"])

	resp, body = e.do(t, "GET", "/account/jwt", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["jti"])

	resp, _ = e.do(t, "DELETE", "/account/logout", token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// la sesión revocada no vuelve a entrar
	resp, body = e.do(t, "GET", "/account/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "TOKEN_INVALID", body["code"])
}

func TestAuthRequerida(t *testing.T) {
	e := newAPI(t, nil)

	resp, _ := e.do(t, "GET", "/account/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.do(t, "GET", "/account/me", "token-basura", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.do(t, "POST", "/canary/domain/add", "", map[string]any{"domain": "x.com"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginRespuestasUniformes(t *testing.T) {
	e := newAPI(t, nil)
	e.signup(t, "ada@example.com")

	// cuenta inexistente y firma inválida responden idéntico
	resp1, body1 := e.do(t, "POST", "/account/fantasma@example.com/login?captcha=ok", "",
		map[string]any{"signature": "nonce.AAAA"})
	resp2, body2 := e.do(t, "POST", "/account/ada@example.com/login?captcha=ok", "",
		map[string]any{"signature": "nonce.AAAA"})

	assert.Equal(t, http.StatusUnauthorized, resp1.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
	assert.Equal(t, body1["code"], body2["code"])
	assert.Equal(t, body1["message"], body2["message"])
}

func TestToSignParaDesconocidoRespondeIgual(t *testing.T) {
	e := newAPI(t, nil)
	e.signup(t, "ada@example.com")

	resp, body := e.do(t, "GET", "/account/fantasma@example.com/to-sign", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["to_sign"])
}

func TestCanaryCicloCompleto(t *testing.T) {
	e := newAPI(t, nil)
	token, _ := e.signup(t, "ada@example.com")

	resp, body := e.do(t, "POST", "/canary/domain/add", token, map[string]any{
		"domain":     "Example.COM",
		"about":      "mi sitio",
		"signature":  "firma",
		"public_key": "clave",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "example.com", body["domain"])

	verification, _ := body["verification"].(map[string]any)
	require.NotNil(t, verification)
	assert.Equal(t, "pending", verification["state"])
	txt, _ := verification["txt_record"].(string)
	require.NotEmpty(t, txt, "el dueño recibe el TXT a publicar")

	// sin publicar el TXT, la vista pública no existe
	resp, _ = e.do(t, "GET", "/canary/domain/example.com", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// el dueño sí ve el estado intermedio
	resp, body = e.do(t, "GET", "/canary/domain/example.com", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	verification, _ = body["verification"].(map[string]any)
	assert.Equal(t, "pending", verification["state"])

	// se publica el TXT y el chequeo manual verifica
	e.resolver.set("example.com", txt)
	resp, body = e.do(t, "POST", "/canary/domain/example.com/verify", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	verification, _ = body["verification"].(map[string]any)
	assert.Equal(t, "verified", verification["state"])
	assert.Equal(t, true, verification["completed"])

	// ahora la vista pública existe y no filtra el TXT
	resp, body = e.do(t, "GET", "/canary/domain/example.com", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	verification, _ = body["verification"].(map[string]any)
	assert.Equal(t, "verified", verification["state"])
	_, tiene := verification["txt_record"]
	assert.False(t, tiene)

	// listado del dueño
	req, err := http.NewRequest("GET", e.srv.URL+"/canary/list", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	listResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer listResp.Body.Close()
	var list []map[string]any
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	assert.Len(t, list, 1)

	// borrado (sin OTP habilitado no exige código) y tombstone
	resp, _ = e.do(t, "DELETE", "/canary/domain/example.com/delete", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = e.do(t, "POST", "/canary/domain/add", token, map[string]any{
		"domain": "example.com", "signature": "f", "public_key": "k",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "DOMAIN_RETIRED", body["code"])
}

func TestCanaryDominioInvalido(t *testing.T) {
	e := newAPI(t, nil)
	token, _ := e.signup(t, "ada@example.com")

	resp, body := e.do(t, "POST", "/canary/domain/add", token, map[string]any{
		"domain": "no es un dominio", "signature": "f", "public_key": "k",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_DOMAIN", body["code"])
}

func TestRateLimitEnLogin(t *testing.T) {
	e := newAPI(t, rate.NewMemoryLimiter(2, time.Hour))

	var last *http.Response
	for i := 0; i < 3; i++ {
		last, _ = e.do(t, "GET", "/account/x@example.com/to-sign", "", nil)
	}
	require.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.NotEmpty(t, last.Header.Get("Retry-After"))

	// el resto del API no comparte la ventana del login
	resp, _ := e.do(t, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJSONInvalido(t *testing.T) {
	e := newAPI(t, nil)

	req, err := http.NewRequest("POST", e.srv.URL+"/account/create?captcha=ok",
		bytes.NewReader([]byte("{no-es-json")))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOTPStepUpPorHTTP(t *testing.T) {
	e := newAPI(t, nil)
	token, priv := e.signup(t, "ada@example.com")

	// paso 1: secreto provisional
	resp, body := e.do(t, "POST", "/account/otp/setup", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	secret, _ := body["secret"].(string)
	require.NotEmpty(t, secret)

	// paso 2: confirmar con un código válido
	code := totpCode(t, secret, time.Now())
	resp, body = e.do(t, "POST", "/account/otp/setup?otp="+code, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["enabled"])

	// login sin otp: 401 genérico, sin pista de que falta el segundo factor
	resp, body = e.do(t, "GET", "/account/ada@example.com/to-sign", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	nonce, _ := body["to_sign"].(string)
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(nonce)))
	resp, body = e.do(t, "POST", "/account/ada@example.com/login?captcha=ok", "",
		map[string]any{"signature": nonce + "." + sig})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", body["code"])

	// con otp del step siguiente: entra
	resp, body = e.do(t, "GET", "/account/ada@example.com/to-sign", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	nonce, _ = body["to_sign"].(string)
	sig = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(nonce)))
	code = totpCode(t, secret, time.Now().Add(30*time.Second))
	resp, _ = e.do(t, "POST",
		fmt.Sprintf("/account/ada@example.com/login?captcha=ok&otp=%s", code), "",
		map[string]any{"signature": nonce + "." + sig})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
