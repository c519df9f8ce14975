// Package app arma la aplicación completa: storage, cache, servicios,
// controllers y router. cmd/perch solo carga config y llama App.Run.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	rdb "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/perchsec/perch/internal/cache"
	"github.com/perchsec/perch/internal/canary"
	"github.com/perchsec/perch/internal/captcha"
	"github.com/perchsec/perch/internal/challenge"
	"github.com/perchsec/perch/internal/config"
	"github.com/perchsec/perch/internal/email"
	accountctrl "github.com/perchsec/perch/internal/http/controllers/account"
	canaryctrl "github.com/perchsec/perch/internal/http/controllers/canary"
	healthctrl "github.com/perchsec/perch/internal/http/controllers/health"
	"github.com/perchsec/perch/internal/http/router"
	accountsvc "github.com/perchsec/perch/internal/http/services/account"
	canarysvc "github.com/perchsec/perch/internal/http/services/canary"
	jwtx "github.com/perchsec/perch/internal/jwt"
	"github.com/perchsec/perch/internal/metrics"
	"github.com/perchsec/perch/internal/notify"
	"github.com/perchsec/perch/internal/observability/logger"
	"github.com/perchsec/perch/internal/rate"
	"github.com/perchsec/perch/internal/store/core"
	"github.com/perchsec/perch/internal/store/memory"
	"github.com/perchsec/perch/internal/store/pg"
)

// App es la aplicación ya cableada, lista para correr.
type App struct {
	cfg *config.Config

	Handler http.Handler
	Poller  *canary.Poller

	repo  core.Repository
	cache cache.Client
	redis *rdb.Client
}

// New construye la aplicación a partir de la configuración. El contexto
// acota los pings iniciales a storage/cache.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := metrics.Register(nil); err != nil {
		return nil, fmt.Errorf("registrando métricas: %w", err)
	}

	a := &App{cfg: cfg}

	// La clave maestra puede venir por config; el paquete secretbox la lee
	// del entorno.
	if cfg.Security.SecretBoxMasterKey != "" && os.Getenv("PERCH_MASTER_KEY") == "" {
		_ = os.Setenv("PERCH_MASTER_KEY", cfg.Security.SecretBoxMasterKey)
	}

	repo, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.repo = repo

	cacheClient, err := buildCache(cfg)
	if err != nil {
		repo.Close()
		return nil, err
	}
	a.cache = cacheClient

	keys, err := buildKeys(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	issuer := jwtx.NewIssuer(keys, cfg.JWT.Issuer,
		config.Dur(cfg.JWT.TTL, 30*24*time.Hour),
		config.Dur(cfg.JWT.ShortTTL, 24*time.Hour),
		repo.Sessions(), cacheClient)

	challenges := challenge.NewStore(cacheClient, config.Dur(cfg.Challenge.TTL, 2*time.Minute))

	sender := buildSender(cfg)
	gateway := notify.NewGateway(sender, cfg.App.SiteName)

	var verifier captcha.Verifier = captcha.AllowAll{}
	if cfg.Captcha.Enabled {
		verifier = captcha.NewHTTPVerifier(cfg.Captcha.VerifyURL, cfg.Captcha.Secret)
	}

	otp := accountsvc.NewOtpGuard(repo.Accounts(), cacheClient, cfg.OTP.WindowSteps, cfg.App.SiteName)
	emailFlow := accountsvc.NewEmailFlow(repo.Accounts(), sender, cfg.App.SiteName,
		cfg.Email.BaseURL, config.Dur(cfg.Email.VerifyTTL, 24*time.Hour))

	accountService := accountsvc.NewService(accountsvc.Deps{
		Accounts:   repo.Accounts(),
		Challenges: challenges,
		Issuer:     issuer,
		Captcha:    verifier,
		OTP:        otp,
		Email:      emailFlow,
	})

	loginLimiter, emailLimiter, manualLimiter := a.buildLimiters(cfg)

	resolver := canary.NewResolver(config.Dur(cfg.Canary.DNSTimeout, 5*time.Second))
	canaryVerifier := canary.NewVerifier(repo.Canaries(), repo.Accounts(), resolver, gateway,
		manualLimiter, canary.Options{
			BaseBackoff:       config.Dur(cfg.Canary.BaseBackoff, time.Minute),
			MaxBackoff:        config.Dur(cfg.Canary.MaxBackoff, 30*time.Minute),
			MaxAttempts:       cfg.Canary.MaxAttempts,
			MinManualInterval: config.Dur(cfg.Canary.MinManualInterval, time.Minute),
		})

	a.Poller = canary.NewPoller(canaryVerifier, repo.Canaries(), canary.PollerOptions{
		Interval:    config.Dur(cfg.Canary.PollInterval, 30*time.Second),
		BatchSize:   cfg.Canary.BatchSize,
		Concurrency: cfg.Canary.Concurrency,
	})

	canaryService := canarysvc.NewService(canaryVerifier, repo.Accounts(), otp)

	a.Handler = router.New(router.Deps{
		Account:      accountctrl.NewController(accountService, otp, emailFlow),
		Canary:       canaryctrl.NewController(canaryService),
		Health:       healthctrl.NewController(repo),
		Issuer:       issuer,
		JWKS:         keys.JWKSJSON(),
		LoginLimiter: loginLimiter,
		EmailLimiter: emailLimiter,
		CORSOrigins:  cfg.Server.CORSAllowedOrigins,
	})

	return a, nil
}

// Run levanta el servidor HTTP y el poller de verificación, y apaga ambos
// de forma ordenada cuando el contexto se cancela.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      a.Handler,
		ReadTimeout:  config.Dur(a.cfg.Server.ReadTimeout, 10*time.Second),
		WriteTimeout: config.Dur(a.cfg.Server.WriteTimeout, 30*time.Second),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.L().Info("http server listening", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.Poller.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(),
			config.Dur(a.cfg.Server.ShutdownTimeout, 15*time.Second))
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	err := g.Wait()
	if err == context.Canceled {
		err = nil
	}
	return err
}

// Close libera storage y cache. Seguro de llamar con campos a medio armar.
func (a *App) Close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.repo != nil {
		_ = a.repo.Close()
	}
}

func buildStore(ctx context.Context, cfg *config.Config) (core.Repository, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return memory.New(), nil
	case "postgres":
		maxConns := int32(cfg.Storage.Postgres.MaxConns)
		return pg.New(ctx, cfg.Storage.DSN, maxConns)
	default:
		return nil, fmt.Errorf("app: storage driver desconocido %q", cfg.Storage.Driver)
	}
}

func buildCache(cfg *config.Config) (cache.Client, error) {
	return cache.New(cache.Config{
		Driver: cfg.Cache.Kind,
		Addr:   cfg.Cache.Redis.Addr,
		DB:     cfg.Cache.Redis.DB,
		Prefix: cfg.Cache.Redis.Prefix,
	})
}

func buildKeys(cfg *config.Config) (*jwtx.KeySet, error) {
	if cfg.JWT.KeyFile == "" {
		logger.L().Warn("jwt: sin key_file, usando clave efímera (las sesiones no sobreviven reinicios)")
		return jwtx.NewEphemeralEd25519("ephemeral")
	}
	keys, err := jwtx.LoadEd25519File(cfg.JWT.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("app: cargando claves jwt: %w", err)
	}
	return keys, nil
}

func buildSender(cfg *config.Config) email.Sender {
	if cfg.SMTP.Host == "" {
		logger.L().Warn("smtp sin configurar, los emails se descartan")
		return email.Noop{}
	}
	s := email.FromConfig(email.SMTPConfig{
		Host:      cfg.SMTP.Host,
		Port:      cfg.SMTP.Port,
		FromEmail: cfg.SMTP.From,
		Username:  cfg.SMTP.Username,
		Password:  cfg.SMTP.Password,
		TLSMode:   cfg.SMTP.TLS,
	})
	s.InsecureSkipVerify = cfg.SMTP.InsecureSkipVerify
	return s
}

// buildLimiters arma los rate limiters de login, email y verificación
// manual. Con cache redis los limiters también van a redis para que la
// ventana sea compartida entre réplicas.
func (a *App) buildLimiters(cfg *config.Config) (login, emailL, manual rate.Limiter) {
	if !cfg.Rate.Enabled {
		return nil, nil, rate.NewMemoryLimiter(1, config.Dur(cfg.Canary.MinManualInterval, time.Minute))
	}

	loginMax := cfg.Rate.Login.Limit
	loginWin := config.Dur(cfg.Rate.Login.Window, time.Minute)
	emailMax := cfg.Rate.Email.Limit
	emailWin := config.Dur(cfg.Rate.Email.Window, time.Hour)
	manualWin := config.Dur(cfg.Canary.MinManualInterval, time.Minute)

	if cfg.Cache.Kind == "redis" {
		a.redis = rdb.NewClient(&rdb.Options{
			Addr: cfg.Cache.Redis.Addr,
			DB:   cfg.Cache.Redis.DB,
		})
		return rate.NewRedisLimiter(a.redis, "rl:login", loginMax, loginWin),
			rate.NewRedisLimiter(a.redis, "rl:email", emailMax, emailWin),
			rate.NewRedisLimiter(a.redis, "rl:manual", 1, manualWin)
	}

	return rate.NewMemoryLimiter(loginMax, loginWin),
		rate.NewMemoryLimiter(emailMax, emailWin),
		rate.NewMemoryLimiter(1, manualWin)
}
