package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env      string `yaml:"app_env"`
		SiteName string `yaml:"site_name"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		ReadTimeout        string   `yaml:"read_timeout"`
		WriteTimeout       string   `yaml:"write_timeout"`
		ShutdownTimeout    string   `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Storage struct {
		// memory | postgres
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int    `yaml:"max_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	JWT struct {
		Issuer   string `yaml:"issuer"`
		KeyFile  string `yaml:"key_file"`
		TTL      string `yaml:"ttl"`
		ShortTTL string `yaml:"short_ttl"` // sesiones de un día
	} `yaml:"jwt"`

	Challenge struct {
		TTL string `yaml:"ttl"`
	} `yaml:"challenge"`

	OTP struct {
		// WindowSteps pasos de 30s tolerados a cada lado del reloj.
		WindowSteps int `yaml:"window_steps"`
	} `yaml:"otp"`

	Canary struct {
		PollInterval      string `yaml:"poll_interval"`
		BatchSize         int    `yaml:"batch_size"`
		Concurrency       int    `yaml:"concurrency"`
		BaseBackoff       string `yaml:"base_backoff"`
		MaxBackoff        string `yaml:"max_backoff"`
		MaxAttempts       int    `yaml:"max_attempts"`
		MinManualInterval string `yaml:"min_manual_interval"`
		DNSTimeout        string `yaml:"dns_timeout"`
	} `yaml:"canary"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		Login   struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"login"`
		Email struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"email"`
	} `yaml:"rate"`

	SMTP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		From               string `yaml:"from"`
		TLS                string `yaml:"tls"`                  // auto | starttls | ssl | none
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"` // sólo dev
	} `yaml:"smtp"`

	Email struct {
		BaseURL   string `yaml:"base_url"` // base de los links de verificación
		VerifyTTL string `yaml:"verify_ttl"`
	} `yaml:"email"`

	Captcha struct {
		Enabled   bool   `yaml:"enabled"`
		VerifyURL string `yaml:"verify_url"`
		Secret    string `yaml:"secret"`
	} `yaml:"captcha"`

	Security struct {
		// base64(32 bytes); cifra secretos at-rest (TOTP).
		SecretBoxMasterKey string `yaml:"secretbox_master_key"`
	} `yaml:"security"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()
	c.applyEnvOverrides()

	// validar todas las duraciones declaradas como string
	for _, s := range []string{
		c.Server.ReadTimeout, c.Server.WriteTimeout, c.Server.ShutdownTimeout,
		c.Storage.Postgres.ConnMaxLifetime,
		c.Cache.Memory.DefaultTTL,
		c.JWT.TTL, c.JWT.ShortTTL,
		c.Challenge.TTL,
		c.Canary.PollInterval, c.Canary.BaseBackoff, c.Canary.MaxBackoff,
		c.Canary.MinManualInterval, c.Canary.DNSTimeout,
		c.Rate.Login.Window, c.Rate.Email.Window,
		c.Email.VerifyTTL,
	} {
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return nil, err
		}
	}

	// Guardia dura: en prod un captcha habilitado sin secreto no pasa
	// silenciosamente a permitir todo.
	if strings.EqualFold(c.App.Env, "prod") && c.Captcha.Enabled && c.Captcha.Secret == "" {
		c.Captcha.Enabled = false
	}

	return &c, nil
}

// Default retorna la config con defaults aplicados, sin leer archivo. Útil en
// tests y para correr con storage en memoria.
func Default() *Config {
	var c Config
	c.applyDefaults()
	c.applyEnvOverrides()
	return &c
}

func (c *Config) applyDefaults() {
	if c.App.SiteName == "" {
		c.App.SiteName = "Perch"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "15s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "2m"
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "http://localhost:8080"
	}
	if c.JWT.TTL == "" {
		c.JWT.TTL = "720h" // 30d
	}
	if c.JWT.ShortTTL == "" {
		c.JWT.ShortTTL = "24h"
	}
	if c.Challenge.TTL == "" {
		c.Challenge.TTL = "5m"
	}
	if c.OTP.WindowSteps == 0 {
		c.OTP.WindowSteps = 1
	}
	if c.Canary.PollInterval == "" {
		c.Canary.PollInterval = "30s"
	}
	if c.Canary.BatchSize == 0 {
		c.Canary.BatchSize = 50
	}
	if c.Canary.Concurrency == 0 {
		c.Canary.Concurrency = 8
	}
	if c.Canary.BaseBackoff == "" {
		c.Canary.BaseBackoff = "1m"
	}
	if c.Canary.MaxBackoff == "" {
		c.Canary.MaxBackoff = "30m"
	}
	if c.Canary.MaxAttempts == 0 {
		c.Canary.MaxAttempts = 5
	}
	if c.Canary.MinManualInterval == "" {
		c.Canary.MinManualInterval = "1m"
	}
	if c.Canary.DNSTimeout == "" {
		c.Canary.DNSTimeout = "5s"
	}
	if c.Rate.Login.Limit == 0 {
		c.Rate.Login.Limit = 10
	}
	if c.Rate.Login.Window == "" {
		c.Rate.Login.Window = "1m"
	}
	if c.Rate.Email.Limit == 0 {
		c.Rate.Email.Limit = 5
	}
	if c.Rate.Email.Window == "" {
		c.Rate.Email.Window = "10m"
	}
	if c.SMTP.TLS == "" {
		c.SMTP.TLS = "auto"
	}
	if c.Email.VerifyTTL == "" {
		c.Email.VerifyTTL = "48h"
	}
}

// Dur parsea una duración ya validada en Load. Ante valor vacío o roto retorna
// el fallback.
func Dur(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, true
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("APP_SITE_NAME"); ok {
		c.App.SiteName = v
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_CONNS"); ok {
		c.Storage.Postgres.MaxConns = v
	}
	if v, ok := getEnvStr("POSTGRES_CONN_MAX_LIFETIME"); ok {
		c.Storage.Postgres.ConnMaxLifetime = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}

	// JWT
	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.JWT.Issuer = v
	}
	if v, ok := getEnvStr("JWT_KEY_FILE"); ok {
		c.JWT.KeyFile = v
	}
	if v, ok := getEnvStr("JWT_TTL"); ok {
		c.JWT.TTL = v
	}
	if v, ok := getEnvStr("JWT_SHORT_TTL"); ok {
		c.JWT.ShortTTL = v
	}

	// CHALLENGE / OTP
	if v, ok := getEnvStr("CHALLENGE_TTL"); ok {
		c.Challenge.TTL = v
	}
	if v, ok := getEnvInt("OTP_WINDOW_STEPS"); ok {
		c.OTP.WindowSteps = v
	}

	// CANARY
	if v, ok := getEnvStr("CANARY_POLL_INTERVAL"); ok {
		c.Canary.PollInterval = v
	}
	if v, ok := getEnvInt("CANARY_BATCH_SIZE"); ok {
		c.Canary.BatchSize = v
	}
	if v, ok := getEnvInt("CANARY_CONCURRENCY"); ok {
		c.Canary.Concurrency = v
	}
	if v, ok := getEnvStr("CANARY_BASE_BACKOFF"); ok {
		c.Canary.BaseBackoff = v
	}
	if v, ok := getEnvStr("CANARY_MAX_BACKOFF"); ok {
		c.Canary.MaxBackoff = v
	}
	if v, ok := getEnvInt("CANARY_MAX_ATTEMPTS"); ok {
		c.Canary.MaxAttempts = v
	}
	if v, ok := getEnvStr("CANARY_MIN_MANUAL_INTERVAL"); ok {
		c.Canary.MinManualInterval = v
	}
	if v, ok := getEnvStr("CANARY_DNS_TIMEOUT"); ok {
		c.Canary.DNSTimeout = v
	}

	// RATE
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("RATE_LOGIN_LIMIT"); ok {
		c.Rate.Login.Limit = v
	}
	if v, ok := getEnvStr("RATE_LOGIN_WINDOW"); ok {
		c.Rate.Login.Window = v
	}
	if v, ok := getEnvInt("RATE_EMAIL_LIMIT"); ok {
		c.Rate.Email.Limit = v
	}
	if v, ok := getEnvStr("RATE_EMAIL_WINDOW"); ok {
		c.Rate.Email.Window = v
	}

	// SMTP
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}
	if v, ok := getEnvStr("SMTP_TLS"); ok {
		c.SMTP.TLS = strings.ToLower(v)
	}
	if v, ok := getEnvBool("SMTP_INSECURE_SKIP_VERIFY"); ok {
		c.SMTP.InsecureSkipVerify = v
	}

	// EMAIL
	if v, ok := getEnvStr("EMAIL_BASE_URL"); ok {
		c.Email.BaseURL = v
	}
	if v, ok := getEnvStr("EMAIL_VERIFY_TTL"); ok {
		c.Email.VerifyTTL = v
	}

	// CAPTCHA
	if v, ok := getEnvBool("CAPTCHA_ENABLED"); ok {
		c.Captcha.Enabled = v
	}
	if v, ok := getEnvStr("CAPTCHA_VERIFY_URL"); ok {
		c.Captcha.VerifyURL = v
	}
	if v, ok := getEnvStr("CAPTCHA_SECRET"); ok {
		c.Captcha.Secret = v
	}

	// SECURITY
	if v, ok := getEnvStr("SECRETBOX_MASTER_KEY"); ok {
		c.Security.SecretBoxMasterKey = v
	}
}
