// Package canary implementa el ciclo de vida de dominios canary: registro,
// verificación de propiedad vía DNS TXT y el poller de fondo que la ejecuta.
package canary

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/perchsec/perch/internal/metrics"
	"github.com/perchsec/perch/internal/notify"
	"github.com/perchsec/perch/internal/observability/logger"
	"github.com/perchsec/perch/internal/rate"
	tokens "github.com/perchsec/perch/internal/security/token"
	"github.com/perchsec/perch/internal/store/core"
)

var (
	// ErrRateLimited un trigger manual llegó antes del intervalo mínimo.
	ErrRateLimited = errors.New("canary: verificación manual demasiado frecuente")
	// ErrDomainRetired el dominio fue borrado antes y no admite re-registro.
	ErrDomainRetired = errors.New("canary: dominio retirado")
	// ErrBadDomain el nombre de dominio no pasa la validación sintáctica.
	ErrBadDomain = errors.New("canary: dominio inválido")
)

// dominio: labels alfanuméricos con guiones internos, al menos un punto.
var domainRe = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)

// Options parámetros operativos del verificador.
type Options struct {
	// BaseBackoff delay del primer reintento; se duplica por intento.
	BaseBackoff time.Duration
	// MaxBackoff techo del backoff exponencial.
	MaxBackoff time.Duration
	// MaxAttempts chequeos fallidos antes de declarar failed.
	MaxAttempts int
	// MinManualInterval intervalo mínimo entre triggers manuales por dominio.
	MinManualInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = time.Minute
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.MinManualInterval <= 0 {
		o.MinManualInterval = time.Minute
	}
	return o
}

// Verifier orquesta registro y verificación de dominios. Las transiciones de
// estado van siempre por UpdateVerification (compare-and-swap): ante carrera
// entre el poller y un trigger manual gana exactamente uno y el otro relee.
type Verifier struct {
	repo     core.CanaryRepository
	accounts core.AccountRepository
	resolver TXTResolver
	notifier notify.Gateway
	limiter  rate.Limiter
	opts     Options

	// group colapsa chequeos concurrentes del mismo dominio en uno solo.
	group singleflight.Group
	log   *zap.Logger
}

func NewVerifier(repo core.CanaryRepository, accounts core.AccountRepository, resolver TXTResolver, notifier notify.Gateway, limiter rate.Limiter, opts Options) *Verifier {
	return &Verifier{
		repo:     repo,
		accounts: accounts,
		resolver: resolver,
		notifier: notifier,
		limiter:  limiter,
		opts:     opts.withDefaults(),
		log:      logger.Named("canary"),
	}
}

// NormalizeDomain canonicaliza un dominio de entrada (lower-case, sin punto
// final). Retorna ErrBadDomain si no parece un FQDN.
func NormalizeDomain(raw string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimSuffix(d, ".")
	if len(d) == 0 || len(d) > 253 || !domainRe.MatchString(d) {
		return "", ErrBadDomain
	}
	return d, nil
}

// RegisterInput datos de alta de un canary.
type RegisterInput struct {
	Domain    string
	AccountID string
	About     string
	Signature string
	PublicKey string
}

// Register da de alta un dominio en estado pending con un código de
// verificación fresco, elegible de inmediato para el poller.
// ErrConflict si el dominio ya existe; ErrDomainRetired si tiene tombstone.
func (v *Verifier) Register(ctx context.Context, in RegisterInput) (*core.CanaryDomain, error) {
	domain, err := NormalizeDomain(in.Domain)
	if err != nil {
		return nil, err
	}

	retired, err := v.repo.HasTombstone(ctx, tokens.DomainHash(domain))
	if err != nil {
		return nil, fmt.Errorf("canary: consultando tombstone: %w", err)
	}
	if retired {
		return nil, ErrDomainRetired
	}

	code, err := tokens.GenerateOpaqueToken(20)
	if err != nil {
		return nil, fmt.Errorf("canary: generando código: %w", err)
	}

	now := time.Now().UTC()
	c := &core.CanaryDomain{
		Domain:    domain,
		AccountID: in.AccountID,
		About:     in.About,
		Signature: in.Signature,
		PublicKey: in.PublicKey,
		Verification: core.DomainVerification{
			State:       core.StatePending,
			Code:        code,
			NextCheckAt: now,
		},
		CreatedAt: now,
	}
	if err := v.repo.Create(ctx, c); err != nil {
		return nil, err
	}

	v.log.Info("canary registrado",
		logger.Domain(domain), logger.AccountID(in.AccountID))
	metrics.CanaryTransitions.WithLabelValues(string(core.StatePending)).Inc()
	return c, nil
}

// Get retorna el canary si pertenece a la cuenta. Dominios ajenos se reportan
// como inexistentes para no filtrar qué dominios están registrados.
func (v *Verifier) Get(ctx context.Context, domain, accountID string) (*core.CanaryDomain, error) {
	domain, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}
	c, err := v.repo.Get(ctx, domain)
	if err != nil {
		return nil, err
	}
	if c.AccountID != accountID {
		return nil, core.ErrNotFound
	}
	return c, nil
}

// GetPublic retorna el canary sin exigir propiedad. Solo dominios verificados
// son visibles públicamente.
func (v *Verifier) GetPublic(ctx context.Context, domain string) (*core.CanaryDomain, error) {
	domain, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}
	c, err := v.repo.Get(ctx, domain)
	if err != nil {
		return nil, err
	}
	if c.Verification.State != core.StateVerified {
		return nil, core.ErrNotFound
	}
	return c, nil
}

// List retorna todos los canaries de la cuenta.
func (v *Verifier) List(ctx context.Context, accountID string) ([]*core.CanaryDomain, error) {
	return v.repo.ListByAccount(ctx, accountID)
}

// VerifyNow dispara un chequeo inmediato a pedido del dueño. Sobre un dominio
// ya verificado es un no-op exitoso. Desde failed reabre el ciclo (attempts a
// cero) antes de chequear. Frecuencia acotada por MinManualInterval.
func (v *Verifier) VerifyNow(ctx context.Context, domain, accountID string) (*core.CanaryDomain, error) {
	c, err := v.Get(ctx, domain, accountID)
	if err != nil {
		return nil, err
	}
	if c.Verification.State == core.StateVerified {
		return c, nil
	}

	if v.limiter != nil {
		res, err := v.limiter.Allow(ctx, "canary:verify:"+c.Domain)
		if err != nil {
			return nil, fmt.Errorf("canary: rate limiter: %w", err)
		}
		if !res.Allowed {
			return nil, ErrRateLimited
		}
	}

	if c.Verification.State == core.StateFailed {
		now := time.Now().UTC()
		next := c.Verification
		next.State = core.StateVerifying
		next.Attempts = 0
		next.NextCheckAt = now
		err := v.repo.UpdateVerification(ctx, c.Domain,
			[]core.VerificationState{core.StateFailed}, next)
		if err != nil && !errors.Is(err, core.ErrConflict) {
			return nil, err
		}
		metrics.CanaryTransitions.WithLabelValues(string(core.StateVerifying)).Inc()
	}

	if err := v.Check(ctx, c.Domain); err != nil {
		return nil, err
	}
	return v.repo.Get(ctx, c.Domain)
}

// Check ejecuta un chequeo DNS del dominio y persiste la transición
// resultante. Chequeos concurrentes del mismo dominio se colapsan en uno.
func (v *Verifier) Check(ctx context.Context, domain string) error {
	_, err, _ := v.group.Do(domain, func() (interface{}, error) {
		return nil, v.checkOnce(ctx, domain)
	})
	return err
}

func (v *Verifier) checkOnce(ctx context.Context, domain string) error {
	c, err := v.repo.Get(ctx, domain)
	if err != nil {
		return err
	}
	// Estados terminales o ya resueltos por otro actor: nada que hacer.
	if c.Verification.State == core.StateVerified || c.Verification.State == core.StateFailed {
		return nil
	}

	records, lookupErr := v.resolver.LookupTXT(ctx, domain)

	now := time.Now().UTC()
	matched := false
	if lookupErr == nil {
		for _, rec := range records {
			if recordMatches(rec, c.Verification.Code) {
				matched = true
				break
			}
		}
	}

	switch {
	case matched:
		metrics.CanaryChecks.WithLabelValues("match").Inc()
		return v.markVerified(ctx, c, now)
	case lookupErr != nil:
		metrics.CanaryChecks.WithLabelValues("dns_error").Inc()
		v.log.Warn("lookup TXT falló",
			logger.Domain(domain), logger.Attempt(c.Verification.Attempts+1), logger.Err(lookupErr))
		return v.markMissed(ctx, c, now)
	default:
		metrics.CanaryChecks.WithLabelValues("no_match").Inc()
		return v.markMissed(ctx, c, now)
	}
}

// markVerified transiciona a verified. Si la CAS pierde contra otro chequeo
// concurrente el resultado final es el mismo; solo notifica quien ganó, así
// el dueño recibe una sola notificación.
func (v *Verifier) markVerified(ctx context.Context, c *core.CanaryDomain, now time.Time) error {
	next := c.Verification
	next.State = core.StateVerified
	next.Completed = true
	next.Attempts++
	next.LastCheckedAt = &now
	next.NextCheckAt = now

	err := v.repo.UpdateVerification(ctx, c.Domain,
		[]core.VerificationState{core.StatePending, core.StateVerifying}, next)
	if errors.Is(err, core.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	metrics.CanaryTransitions.WithLabelValues(string(core.StateVerified)).Inc()
	v.log.Info("dominio verificado",
		logger.Domain(c.Domain), logger.AccountID(c.AccountID), logger.Attempt(next.Attempts))

	if v.notifier != nil && v.accounts != nil {
		if acc, err := v.accounts.GetByID(ctx, c.AccountID); err == nil {
			v.notifier.CanaryVerified(ctx, acc, c.Domain)
		} else {
			v.log.Warn("no se pudo cargar la cuenta para notificar",
				logger.AccountID(c.AccountID), logger.Err(err))
		}
	}
	return nil
}

// markMissed registra un chequeo sin match: agenda el reintento con backoff o,
// agotados los intentos, declara failed.
func (v *Verifier) markMissed(ctx context.Context, c *core.CanaryDomain, now time.Time) error {
	next := c.Verification
	next.Attempts++
	next.LastCheckedAt = &now

	if next.Attempts >= v.opts.MaxAttempts {
		next.State = core.StateFailed
		next.NextCheckAt = now
	} else {
		next.State = core.StateVerifying
		next.NextCheckAt = now.Add(v.backoff(next.Attempts))
	}

	err := v.repo.UpdateVerification(ctx, c.Domain,
		[]core.VerificationState{core.StatePending, core.StateVerifying}, next)
	if errors.Is(err, core.ErrConflict) {
		// otro actor (verify manual) llegó primero; su transición manda.
		return nil
	}
	if err != nil {
		return err
	}
	metrics.CanaryTransitions.WithLabelValues(string(next.State)).Inc()
	return nil
}

// backoff retorna el delay del próximo chequeo tras `attempts` fallidos:
// base·2^(attempts-1), acotado por MaxBackoff.
func (v *Verifier) backoff(attempts int) time.Duration {
	d := v.opts.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= v.opts.MaxBackoff {
			return v.opts.MaxBackoff
		}
	}
	if d > v.opts.MaxBackoff {
		d = v.opts.MaxBackoff
	}
	return d
}

// Trust registra la confianza de una cuenta sobre un canary ajeno: el hash de
// la clave pública que el cliente verificó, firmado localmente.
func (v *Verifier) Trust(ctx context.Context, accountID, domain, publicKeyHash, signature string) error {
	domain, err := NormalizeDomain(domain)
	if err != nil {
		return err
	}
	if _, err := v.repo.Get(ctx, domain); err != nil {
		return err
	}
	return v.repo.AddTrusted(ctx, &core.TrustedCanary{
		AccountID:     accountID,
		Domain:        domain,
		PublicKeyHash: publicKeyHash,
		Signature:     signature,
		CreatedAt:     time.Now().UTC(),
	})
}

// Trusted retorna el registro de confianza de la cuenta sobre un dominio.
func (v *Verifier) Trusted(ctx context.Context, accountID, domain string) (*core.TrustedCanary, error) {
	domain, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}
	return v.repo.GetTrusted(ctx, accountID, domain)
}

// Delete borra el canary del dueño y deja un tombstone del dominio para
// impedir que otra cuenta lo re-registre y herede su historial de confianza.
func (v *Verifier) Delete(ctx context.Context, domain, accountID string) error {
	c, err := v.Get(ctx, domain, accountID)
	if err != nil {
		return err
	}
	if err := v.repo.Delete(ctx, c.Domain); err != nil {
		return err
	}
	if err := v.repo.AddTombstone(ctx, tokens.DomainHash(c.Domain)); err != nil {
		return fmt.Errorf("canary: registrando tombstone: %w", err)
	}
	v.log.Info("canary borrado", logger.Domain(c.Domain), logger.AccountID(accountID))
	return nil
}
