package canary

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/perchsec/perch/internal/metrics"
	"github.com/perchsec/perch/internal/observability/logger"
	"github.com/perchsec/perch/internal/store/core"
)

// PollerOptions parámetros del loop de fondo.
type PollerOptions struct {
	// Interval cadencia del barrido de dominios vencidos.
	Interval time.Duration
	// BatchSize máximo de dominios por barrido.
	BatchSize int
	// Concurrency chequeos DNS en vuelo simultáneos.
	Concurrency int
}

func (o PollerOptions) withDefaults() PollerOptions {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	return o
}

// Poller recorre periódicamente los dominios con chequeo vencido y los
// verifica. No guarda estado propio: attempts y next_check_at viven en el
// repo, así que tras un restart retoma exactamente donde quedó.
type Poller struct {
	verifier *Verifier
	repo     core.CanaryRepository
	opts     PollerOptions
	log      *zap.Logger
}

func NewPoller(verifier *Verifier, repo core.CanaryRepository, opts PollerOptions) *Poller {
	return &Poller{
		verifier: verifier,
		repo:     repo,
		opts:     opts.withDefaults(),
		log:      logger.Named("canary.poller"),
	}
}

// Run bloquea ejecutando barridos hasta que el contexto se cancele. Un barrido
// en curso termina sus chequeos en vuelo antes de retornar.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("poller iniciado",
		logger.Any("interval", p.opts.Interval),
		logger.Int("batch", p.opts.BatchSize))

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	// primer barrido inmediato para drenar lo acumulado durante el downtime.
	p.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller detenido")
			return ctx.Err()
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep ejecuta un barrido: lista los dominios vencidos y los chequea con
// concurrencia acotada. Errores por dominio se loguean y no frenan el resto.
func (p *Poller) Sweep(ctx context.Context) {
	due, err := p.repo.ListDue(ctx, time.Now().UTC(), p.opts.BatchSize)
	if err != nil {
		p.log.Error("listando dominios vencidos", logger.Err(err))
		return
	}
	metrics.VerificationsPending.Set(float64(len(due)))
	if len(due) == 0 {
		return
	}

	sem := make(chan struct{}, p.opts.Concurrency)
	var wg sync.WaitGroup
	for _, c := range due {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(domain string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := p.verifier.Check(ctx, domain); err != nil {
				p.log.Warn("chequeo de dominio falló",
					logger.Domain(domain), logger.Err(err))
			}
		}(c.Domain)
	}
	wg.Wait()
}
