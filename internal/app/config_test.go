package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := configFromEnv(envFrom(map[string]string{
		"TELEGRAM_BOT_TOKEN":  " tg ",
		"REPLICATE_API_TOKEN": "r8",
	}))
	require.NoError(t, err)
	assert.Equal(t, "tg", cfg.TelegramToken)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 5*time.Minute, cfg.ProviderTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Vault.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestConfigFromEnvParsesValues(t *testing.T) {
	cfg, err := configFromEnv(envFrom(map[string]string{
		"TELEGRAM_BOT_TOKEN": "tg",
		"GEMINI_API_KEY":     "g",
		"STORE_BACKEND":      "Redis",
		"REDIS_ADDR":         "localhost:6379",
		"REDIS_DB":           "3",
		"VAULT_ENDPOINT":     "minio:9000",
		"VAULT_BUCKET":       "media",
		"VAULT_USE_SSL":      "true",
		"VAULT_URL_EXPIRY":   "48h",
		"PROVIDER_TIMEOUT":   "90s",
		"LOG_LEVEL":          "DEBUG",
	}))
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.StoreBackend)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.Vault.UseSSL)
	assert.True(t, cfg.Vault.Enabled())
	assert.Equal(t, 48*time.Hour, cfg.Vault.Expiry)
	assert.Equal(t, 90*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestConfigFromEnvRejectsBadNumbers(t *testing.T) {
	for _, key := range []string{"REDIS_DB", "VAULT_USE_SSL", "PROVIDER_TIMEOUT", "VAULT_URL_EXPIRY"} {
		_, err := configFromEnv(envFrom(map[string]string{key: "nope"}))
		assert.ErrorContains(t, err, key)
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{TelegramToken: "tg", ReplicateToken: "r8", StoreBackend: BackendMemory}
	assert.NoError(t, base.Validate())

	c := base
	c.TelegramToken = ""
	assert.ErrorContains(t, c.Validate(), "TELEGRAM_BOT_TOKEN")

	c = base
	c.ReplicateToken = ""
	assert.ErrorContains(t, c.Validate(), "GEMINI_API_KEY")

	c = base
	c.StoreBackend = BackendRedis
	assert.ErrorContains(t, c.Validate(), "REDIS_ADDR")

	c = base
	c.StoreBackend = "etcd"
	assert.Error(t, c.Validate())
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	for _, k := range []string{"TELEGRAM_BOT_TOKEN", "REPLICATE_API_TOKEN", "STORE_BACKEND"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TELEGRAM_BOT_TOKEN=from-file\nREPLICATE_API_TOKEN=r8\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.TelegramToken)
	assert.Equal(t, "r8", cfg.ReplicateToken)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}
