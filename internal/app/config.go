package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"mediabot/internal/store"
	"mediabot/internal/vault"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	defaultProviderTimeout = 5 * time.Minute
)

// Config groups startup parameters for the bot runtime.
type Config struct {
	TelegramToken   string
	ReplicateToken  string
	GeminiAPIKey    string
	StoreBackend    string
	Redis           store.RedisOptions
	Vault           vault.Config
	ModelsFile      string
	ProviderTimeout time.Duration
	LogLevel        string
}

// Validate ensures the configuration includes mandatory values.
func (c Config) Validate() error {
	if strings.TrimSpace(c.TelegramToken) == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if strings.TrimSpace(c.ReplicateToken) == "" && strings.TrimSpace(c.GeminiAPIKey) == "" {
		return errors.New("REPLICATE_API_TOKEN or GEMINI_API_KEY is required")
	}
	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("REDIS_ADDR is required when STORE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}

// LoadConfig reads envFile, when it exists, into the process environment and
// builds a Config from the environment. Variables already set win over the
// file.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return configFromEnv(os.Getenv)
}

func configFromEnv(getenv func(string) string) (Config, error) {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	cfg := Config{
		TelegramToken:  env("TELEGRAM_BOT_TOKEN"),
		ReplicateToken: env("REPLICATE_API_TOKEN"),
		GeminiAPIKey:   env("GEMINI_API_KEY"),
		StoreBackend:   strings.ToLower(env("STORE_BACKEND")),
		Redis: store.RedisOptions{
			Addr:     env("REDIS_ADDR"),
			Password: getenv("REDIS_PASSWORD"),
			Prefix:   env("REDIS_PREFIX"),
		},
		Vault: vault.Config{
			Endpoint:      env("VAULT_ENDPOINT"),
			Region:        env("VAULT_REGION"),
			AccessKey:     env("VAULT_ACCESS_KEY"),
			SecretKey:     env("VAULT_SECRET_KEY"),
			Bucket:        env("VAULT_BUCKET"),
			PublicBaseURL: env("VAULT_PUBLIC_BASE_URL"),
		},
		ModelsFile:      env("MODELS_FILE"),
		ProviderTimeout: defaultProviderTimeout,
		LogLevel:        strings.ToLower(env("LOG_LEVEL")),
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = BackendMemory
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	var err error
	if v := env("REDIS_DB"); v != "" {
		if cfg.Redis.DB, err = strconv.Atoi(v); err != nil {
			return cfg, fmt.Errorf("REDIS_DB: %w", err)
		}
	}
	if v := env("VAULT_USE_SSL"); v != "" {
		if cfg.Vault.UseSSL, err = strconv.ParseBool(v); err != nil {
			return cfg, fmt.Errorf("VAULT_USE_SSL: %w", err)
		}
	}
	if v := env("VAULT_URL_EXPIRY"); v != "" {
		if cfg.Vault.Expiry, err = time.ParseDuration(v); err != nil {
			return cfg, fmt.Errorf("VAULT_URL_EXPIRY: %w", err)
		}
	}
	if v := env("PROVIDER_TIMEOUT"); v != "" {
		if cfg.ProviderTimeout, err = time.ParseDuration(v); err != nil {
			return cfg, fmt.Errorf("PROVIDER_TIMEOUT: %w", err)
		}
	}
	return cfg, nil
}
