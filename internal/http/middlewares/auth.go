package middlewares

import (
	"net/http"
	"strings"

	apperrors "github.com/perchsec/perch/internal/http/errors"
	"github.com/perchsec/perch/internal/http/helpers"
	jwtx "github.com/perchsec/perch/internal/jwt"
)

// bearerToken extrae el token del header Authorization.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// WithAuth exige un token de sesión válido y no revocado. Inyecta cuenta y
// jti en el contexto. Cualquier falla responde el mismo TOKEN_INVALID.
func WithAuth(issuer *jwtx.Issuer) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				apperrors.WriteError(w, r, apperrors.ErrTokenInvalid)
				return
			}

			accountID, jti, err := issuer.Validate(r.Context(), raw)
			if err != nil {
				apperrors.WriteError(w, r, apperrors.ErrTokenInvalid)
				return
			}

			ctx := helpers.WithSession(r.Context(), accountID, jti)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithOptionalAuth valida el bearer si viene, pero deja pasar requests
// anónimos. Para endpoints con vista pública y vista de dueño.
func WithOptionalAuth(issuer *jwtx.Issuer) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := bearerToken(r); raw != "" {
				if accountID, jti, err := issuer.Validate(r.Context(), raw); err == nil {
					r = r.WithContext(helpers.WithSession(r.Context(), accountID, jti))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
