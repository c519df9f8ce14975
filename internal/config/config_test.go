package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadAplicaDefaults(t *testing.T) {
	c, err := Load(writeYAML(t, "app:\n  app_env: dev\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "memory", c.Storage.Driver)
	assert.Equal(t, "memory", c.Cache.Kind)
	assert.Equal(t, "5m", c.Challenge.TTL)
	assert.Equal(t, 5, c.Canary.MaxAttempts)
	assert.Equal(t, "1m", c.Canary.BaseBackoff)
	assert.Equal(t, "30m", c.Canary.MaxBackoff)
	assert.Equal(t, 1, c.OTP.WindowSteps)
}

func TestLoadRechazaDuracionRota(t *testing.T) {
	_, err := Load(writeYAML(t, "canary:\n  poll_interval: treinta\n"))
	assert.Error(t, err)
}

func TestEnvPisaYAML(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9999")
	t.Setenv("CANARY_MAX_ATTEMPTS", "3")
	t.Setenv("STORAGE_DRIVER", "postgres")

	c, err := Load(writeYAML(t, "server:\n  addr: \":8080\"\n"))
	require.NoError(t, err)
	assert.Equal(t, ":9999", c.Server.Addr)
	assert.Equal(t, 3, c.Canary.MaxAttempts)
	assert.Equal(t, "postgres", c.Storage.Driver)
}

func TestCaptchaSinSecretoEnProd(t *testing.T) {
	c, err := Load(writeYAML(t, "app:\n  app_env: prod\ncaptcha:\n  enabled: true\n"))
	require.NoError(t, err)
	assert.False(t, c.Captcha.Enabled, "en prod un captcha sin secreto queda apagado")
}

func TestDur(t *testing.T) {
	assert.Equal(t, 5*time.Minute, Dur("5m", time.Second))
	assert.Equal(t, time.Second, Dur("", time.Second))
	assert.Equal(t, time.Second, Dur("roto", time.Second))
}
