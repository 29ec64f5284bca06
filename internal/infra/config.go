package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Backend names accepted by DURABLE_BACKEND and SESSION_BACKEND.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config represents application configuration loaded from environment
// variables, optionally seeded from a TOML file named by CONFIG_FILE.
type Config struct {
	AppEnv        string `toml:"app_env"`
	Port          string `toml:"port"`
	PublicBaseURL string `toml:"public_base_url"`
	Headless      bool   `toml:"headless"`

	DurableBackend string `toml:"durable_backend"`
	DurablePath    string `toml:"durable_path"`
	SQLitePath     string `toml:"sqlite_path"`
	DatabaseURL    string `toml:"database_url"`
	KVTable        string `toml:"kv_table"`
	RedisURL       string `toml:"redis_url"`
	SessionBackend string `toml:"session_backend"`

	GeminiAPIKey       string        `toml:"gemini_api_key"`
	GeminiModel        string        `toml:"gemini_model"`
	GeminiBaseURL      string        `toml:"gemini_base_url"`
	OpenAIAPIKey       string        `toml:"openai_api_key"`
	OpenAIModel        string        `toml:"openai_model"`
	OpenAIBaseURL      string        `toml:"openai_base_url"`
	ModelServiceURL    string        `toml:"model_service_url"`
	ModelServiceAPIKey string        `toml:"model_service_api_key"`
	ModerationProvider string        `toml:"moderation_provider"`
	GeneratorTimeout   time.Duration `toml:"-"`

	GeoIPDBPath      string   `toml:"geoip_db_path"`
	SupportedLocales []string `toml:"supported_locales"`
	AllowedOrigins   []string `toml:"allowed_origins"`

	DailySaveLimit int           `toml:"daily_save_limit"`
	RetentionTTL   time.Duration `toml:"-"`
	ShareTTL       time.Duration `toml:"-"`
	SessionTTL     time.Duration `toml:"-"`
	SweepInterval  time.Duration `toml:"-"`
	LockStaleAfter time.Duration `toml:"-"`

	HTTPReadTimeout  time.Duration `toml:"-"`
	HTTPWriteTimeout time.Duration `toml:"-"`
	HTTPIdleTimeout  time.Duration `toml:"-"`
	RateLimitPerMin  int           `toml:"rate_limit_per_minute"`
}

// fileConfig carries the duration fields as strings since TOML has no
// duration type.
type fileConfig struct {
	Config
	GeneratorTimeout string `toml:"generator_timeout"`
	RetentionTTL     string `toml:"retention_ttl"`
	ShareTTL         string `toml:"share_ttl"`
	SessionTTL       string `toml:"session_ttl"`
	SweepInterval    string `toml:"sweep_interval"`
	LockStaleAfter   string `toml:"lock_stale_after"`
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. Values from CONFIG_FILE act as defaults that the
// environment overrides.
func LoadConfig() (*Config, error) {
	file, err := loadConfigFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	port := getEnv("PORT", or(file.Port, "8080"))
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", or(file.AppEnv, "development")),
		Port:          port,
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", or(file.PublicBaseURL, "http://localhost:"+port)), "/"),
		Headless:      getEnvBool("HEADLESS", file.Headless),

		DurableBackend: strings.ToLower(getEnv("DURABLE_BACKEND", or(file.DurableBackend, BackendFile))),
		DurablePath:    getEnv("DURABLE_PATH", or(file.DurablePath, "./data")),
		SQLitePath:     getEnv("SQLITE_PATH", or(file.SQLitePath, "./data/studio.db")),
		DatabaseURL:    getEnv("DATABASE_URL", file.DatabaseURL),
		KVTable:        getEnv("KV_TABLE", or(file.KVTable, "studio_kv")),
		RedisURL:       getEnv("REDIS_URL", file.RedisURL),
		SessionBackend: strings.ToLower(getEnv("SESSION_BACKEND", or(file.SessionBackend, BackendMemory))),

		GeminiAPIKey:       getEnv("GEMINI_API_KEY", file.GeminiAPIKey),
		GeminiModel:        getEnv("GEMINI_MODEL", or(file.GeminiModel, "gemini-2.5-flash")),
		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", or(file.GeminiBaseURL, "https://generativelanguage.googleapis.com/v1beta")),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", file.OpenAIAPIKey),
		OpenAIModel:        getEnv("OPENAI_MODEL", or(file.OpenAIModel, "omni-moderation-latest")),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", or(file.OpenAIBaseURL, "https://api.openai.com/v1")),
		ModelServiceURL:    getEnv("MODEL_SERVICE_URL", file.ModelServiceURL),
		ModelServiceAPIKey: getEnv("MODEL_SERVICE_API_KEY", file.ModelServiceAPIKey),
		ModerationProvider: strings.ToLower(getEnv("MODERATION_PROVIDER", or(file.ModerationProvider, "static"))),
		GeneratorTimeout:   getEnvDuration("GENERATOR_TIMEOUT", file.GeneratorTimeout, 90*time.Second),

		GeoIPDBPath:      getEnv("GEOIP_DB_PATH", file.GeoIPDBPath),
		SupportedLocales: getEnvList("SUPPORTED_LOCALES", orList(file.SupportedLocales, []string{"en", "es", "ja"})),
		AllowedOrigins:   getEnvList("ALLOWED_ORIGINS", orList(file.AllowedOrigins, []string{"http://localhost:5173"})),

		DailySaveLimit: getEnvInt("DAILY_SAVE_LIMIT", orInt(file.DailySaveLimit, 3)),
		RetentionTTL:   getEnvDuration("RETENTION_TTL", file.RetentionTTL, 7*24*time.Hour),
		ShareTTL:       getEnvDuration("SHARE_TTL", file.ShareTTL, 30*24*time.Hour),
		SessionTTL:     getEnvDuration("SESSION_TTL", file.SessionTTL, 24*time.Hour),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", file.SweepInterval, 5*time.Minute),
		LockStaleAfter: getEnvDuration("LOCK_STALE_AFTER", file.LockStaleAfter, 0),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", orInt(file.RateLimitPerMin, 60)),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DurableBackend {
	case BackendMemory, BackendFile, BackendSQLite:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported DURABLE_BACKEND %q", c.DurableBackend)
	}
	switch c.SessionBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis session backend")
		}
	default:
		return fmt.Errorf("unsupported SESSION_BACKEND %q", c.SessionBackend)
	}
	if c.DailySaveLimit <= 0 {
		return errors.New("DAILY_SAVE_LIMIT must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}
	return nil
}

func loadConfigFile(path string) (fileConfig, error) {
	var fc fileConfig
	path = strings.TrimSpace(path)
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config file: %w", err)
	}
	return fc, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration reads a Go duration from the environment, then from the
// config file value, then falls back.
func getEnvDuration(key, fileValue string, fallback time.Duration) time.Duration {
	for _, raw := range []string{os.Getenv(key), fileValue} {
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func or(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func orList(v, fallback []string) []string {
	if len(v) > 0 {
		return v
	}
	return fallback
}
