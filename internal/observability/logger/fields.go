package logger

import (
	"time"

	"go.uber.org/zap"
)

// Campos estándar para mantener nombres consistentes en todos los logs.

// ─── HTTP ───

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func Bytes(v int) zap.Field        { return zap.Int("bytes", v) }
func ClientIP(v string) zap.Field  { return zap.String("client_ip", v) }

func DurationMs(v int64) zap.Field        { return zap.Int64("duration_ms", v) }
func Duration(v time.Duration) zap.Field  { return zap.Duration("duration", v) }

// ─── Negocio ───

func AccountID(v string) zap.Field { return zap.String("account_id", v) }

// Email crea un campo para el email (usar con cuidado en prod).
func Email(v string) zap.Field { return zap.String("email", v) }

func Domain(v string) zap.Field { return zap.String("domain", v) }
func JTI(v string) zap.Field    { return zap.String("jti", v) }
func Topic(v string) zap.Field  { return zap.String("topic", v) }
func State(v string) zap.Field  { return zap.String("state", v) }
func Attempt(v int) zap.Field   { return zap.Int("attempt", v) }

// ─── Sistema ───

// Component identifica el componente/módulo.
func Component(v string) zap.Field { return zap.String("component", v) }

// Op identifica la operación actual.
func Op(v string) zap.Field { return zap.String("op", v) }

// Layer identifica la capa (controller, service, repository, poller).
func Layer(v string) zap.Field { return zap.String("layer", v) }

func Err(err error) zap.Field { return zap.Error(err) }

// ─── Genéricos ───

func Count(v int) zap.Field               { return zap.Int("count", v) }
func Key(v string) zap.Field              { return zap.String("key", v) }
func String(key, v string) zap.Field      { return zap.String(key, v) }
func Int(key string, v int) zap.Field     { return zap.Int(key, v) }
func Bool(key string, v bool) zap.Field   { return zap.Bool(key, v) }
func Any(key string, v any) zap.Field     { return zap.Any(key, v) }
