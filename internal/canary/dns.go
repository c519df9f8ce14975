package canary

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/perchsec/perch/internal/metrics"
)

// TXTResolver abstrae la resolución DNS para poder inyectar
// resolutores falsos en los tests.
type TXTResolver interface {
	LookupTXT(ctx context.Context, domain string) ([]string, error)
}

// RecordPrefix es el prefijo esperado en el registro TXT de verificación.
const RecordPrefix = "perch-site-verification="

type netTXTResolver struct {
	r       *net.Resolver
	timeout time.Duration
}

// NewResolver devuelve un TXTResolver respaldado por el resolutor del sistema.
// Los errores transitorios (timeouts, fallos temporales) se reintentan con
// backoff exponencial acotado antes de rendirse.
func NewResolver(timeout time.Duration) TXTResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &netTXTResolver{r: net.DefaultResolver, timeout: timeout}
}

func (n *netTXTResolver) LookupTXT(ctx context.Context, domain string) ([]string, error) {
	var records []string

	backoff := retry.WithMaxRetries(2, retry.NewExponential(250*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		lctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()

		start := time.Now()
		recs, err := n.r.LookupTXT(lctx, domain)
		metrics.DNSLookupDuration.Observe(float64(time.Since(start).Milliseconds()))
		if err != nil {
			if isTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		records = recs
		return nil
	})
	return records, err
}

// isTransient distingue fallos temporales de respuestas definitivas
// (NXDOMAIN no es transitorio: el dominio simplemente no tiene el registro).
func isTransient(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() || dnsErr.IsTimeout
	}
	return false
}

// recordMatches compara un registro TXT contra el código esperado.
// La comparación ignora mayúsculas y espacios alrededor; se acepta
// tanto el registro con prefijo como el código a secas.
func recordMatches(record, code string) bool {
	rec := strings.TrimSpace(record)
	if strings.EqualFold(rec, RecordPrefix+code) {
		return true
	}
	return strings.EqualFold(rec, code)
}
