package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	accountctrl "github.com/perchsec/perch/internal/http/controllers/account"
	canaryctrl "github.com/perchsec/perch/internal/http/controllers/canary"
	healthctrl "github.com/perchsec/perch/internal/http/controllers/health"
	mw "github.com/perchsec/perch/internal/http/middlewares"
	jwtx "github.com/perchsec/perch/internal/jwt"
	"github.com/perchsec/perch/internal/rate"
)

// Deps contiene todo lo que el router necesita para armar el árbol de rutas.
type Deps struct {
	Account *accountctrl.Controller
	Canary  *canaryctrl.Controller
	Health  *healthctrl.Controller

	Issuer *jwtx.Issuer
	JWKS   []byte

	// Limiters opcionales: nil desactiva el rate limit del grupo.
	LoginLimiter rate.Limiter
	EmailLimiter rate.Limiter

	CORSOrigins []string
}

// New arma el router completo con la cadena global de middlewares.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.WithRequestID())
	r.Use(mw.WithRecover())
	r.Use(mw.WithSecurityHeaders())
	r.Use(mw.WithCORS(deps.CORSOrigins))
	r.Use(mw.WithLogging())

	// Operacional: sin auth, sin rate limit.
	r.Get("/healthz", deps.Health.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if len(deps.JWKS) > 0 {
		jwks := deps.JWKS
		r.Get("/.well-known/jwks.json", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Cache-Control", "public, max-age=300")
			_, _ = w.Write(jwks)
		})
	}

	registerAccountRoutes(r, deps)
	registerCanaryRoutes(r, deps)

	return r
}

func registerAccountRoutes(r chi.Router, deps Deps) {
	c := deps.Account

	r.Route("/account", func(r chi.Router) {
		// Público. Los endpoints de login llevan rate limit por IP:
		// son el blanco natural de fuerza bruta y enumeración.
		r.Group(func(r chi.Router) {
			if deps.LoginLimiter != nil {
				r.Use(mw.WithRateLimit(deps.LoginLimiter, mw.IPRateKey))
			}
			r.Post("/create", c.Create)
			r.Get("/{email}/to-sign", c.ToSign)
			r.Post("/{email}/login", c.Login)
		})

		r.Get("/{email}/public", c.Public)

		r.Group(func(r chi.Router) {
			if deps.EmailLimiter != nil {
				r.Use(mw.WithRateLimit(deps.EmailLimiter, mw.IPRateKey))
			}
			r.Get("/{email}/email/verify/{secret}", c.VerifyEmail)
		})

		// Todo lo que sigue exige un bearer vigente.
		r.Group(func(r chi.Router) {
			r.Use(mw.WithAuth(deps.Issuer))

			r.Post("/email/resend", c.ResendEmail)

			r.Post("/otp/setup", c.OTPSetup)
			r.Delete("/otp/reset", c.OTPReset)

			r.Post("/notifications/webhook/add", c.AddWebhook)
			r.Delete("/notifications/webhook/remove", c.RemoveWebhook)
			r.Post("/notifications/email/add", c.AddEmailTopic)
			r.Delete("/notifications/email/remove", c.RemoveEmailTopic)

			r.Post("/privacy/ip-progressing/consent", c.GrantIPConsent)
			r.Delete("/privacy/ip-progressing/disallow", c.RevokeIPConsent)

			r.Post("/password/reset", c.PasswordReset)

			r.Get("/jwt", c.JWTInfo)
			r.Get("/me", c.Me)
			r.Delete("/logout", c.Logout)
		})
	})
}

func registerCanaryRoutes(r chi.Router, deps Deps) {
	c := deps.Canary

	r.Route("/canary", func(r chi.Router) {
		// Lectura pública del canary: con bearer válido se devuelve la
		// vista de dueño, sin él solo dominios verificados.
		r.With(mw.WithOptionalAuth(deps.Issuer)).Get("/domain/{domain}", c.Get)

		r.Group(func(r chi.Router) {
			r.Use(mw.WithAuth(deps.Issuer))

			r.Post("/domain/add", c.Register)
			r.Get("/list", c.List)
			r.Post("/domain/{domain}/verify", c.VerifyNow)
			r.Get("/domain/{domain}/trusted", c.Trusted)
			r.Post("/domain/{domain}/trusted/add", c.Trust)
			r.Delete("/domain/{domain}/delete", c.Delete)
		})
	})
}
