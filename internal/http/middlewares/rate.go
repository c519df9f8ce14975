package middlewares

import (
	"net/http"
	"strconv"

	apperrors "github.com/perchsec/perch/internal/http/errors"
	"github.com/perchsec/perch/internal/observability/logger"
	"github.com/perchsec/perch/internal/rate"
)

// RateKeyFunc define cómo generar la clave de rate limiting.
type RateKeyFunc func(r *http.Request) string

// IPRateKey genera una clave basada solo en IP. Para login no leemos el body.
func IPRateKey(r *http.Request) string {
	return clientIP(r)
}

// WithRateLimit acota la frecuencia de requests sobre el handler envuelto.
// Ante un error del limiter el request pasa: degradar a "sin límite" es
// preferible a voltear el login porque Redis parpadeó.
func WithRateLimit(limiter rate.Limiter, keyFn RateKeyFunc) Middleware {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if keyFn == nil {
		keyFn = IPRateKey
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := limiter.Allow(r.Context(), keyFn(r))
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter no disponible", logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			if !res.Allowed {
				if res.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
				}
				apperrors.WriteError(w, r, apperrors.ErrRateLimitExceeded)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			next.ServeHTTP(w, r)
		})
	}
}
