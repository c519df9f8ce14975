package helpers

import "context"

type ctxHTTPKey string

const (
	ctxRequestIDKey ctxHTTPKey = "request_id"
	ctxAccountIDKey ctxHTTPKey = "account_id"
	ctxJTIKey       ctxHTTPKey = "jti"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

func RequestID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return s
	}
	return ""
}

// WithSession inyecta la identidad autenticada (cuenta + jti) en el contexto.
func WithSession(ctx context.Context, accountID, jti string) context.Context {
	ctx = context.WithValue(ctx, ctxAccountIDKey, accountID)
	return context.WithValue(ctx, ctxJTIKey, jti)
}

// AccountID retorna la cuenta autenticada, o "" si el request es anónimo.
func AccountID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxAccountIDKey).(string); ok {
		return s
	}
	return ""
}

// JTI retorna el identificador de la sesión autenticada.
func JTI(ctx context.Context) string {
	if s, ok := ctx.Value(ctxJTIKey).(string); ok {
		return s
	}
	return ""
}
