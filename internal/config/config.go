/**
 * @description
 * Configuration loader for the KRX collector.
 * Responsible for reading environment variables, setting defaults, and performing validation.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files
 * - standard "os": For reading env vars
 *
 * @notes
 * - Provider API keys are optional at load time; each command calls Require() for the
 *   keys its source needs so that a missing key halts the run before any work begins.
 * - Config is passed explicitly to constructors; there is no package-level state.
 */

package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/stockdata-project/collector/internal/pipeline"
)

// Config holds all configuration for the collector
type Config struct {
	Server   ServerConfig
	DB       DBConfig
	Redis    RedisConfig
	DataGoKr DataGoKrConfig
	Dart     DartConfig
	KIS      KISConfig
	Ingest   IngestConfig
	Admin    AdminConfig
}

// ServerConfig holds admin HTTP server settings
type ServerConfig struct {
	Port string
	Env  string // "development", "staging", "production" or "test"
}

// DBConfig holds PostgreSQL settings. URL wins over the discrete fields when set.
type DBConfig struct {
	URL      string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
	MinConns int
	MaxConns int
	// ConnLifetime recycles pooled connections; pgbouncer and managed
	// Postgres both cut long-lived sessions.
	ConnLifetime time.Duration
}

// RedisConfig holds Redis settings. An empty URL means one-shot commands fall back to
// an in-process Redis.
type RedisConfig struct {
	URL string
}

// DataGoKrConfig holds the public open-data portal settings
type DataGoKrConfig struct {
	APIKey   string
	StockURL string
	ETFURL   string
}

// DartConfig holds the financial disclosure API settings
type DartConfig struct {
	APIKey  string
	BaseURL string
}

// KISConfig holds the brokerage open API settings
type KISConfig struct {
	AppKey    string
	AppSecret string
	BaseURL   string
}

// IngestConfig holds batch driver tuning
type IngestConfig struct {
	PageSize        int
	PageDelay       time.Duration
	UnitDelay       time.Duration
	HTTPTimeout     time.Duration
	MaxWriteRetries int
	RetryBaseDelay  time.Duration
	BatchSize       int
	UniversePath    string
}

// AdminConfig holds admin API auth settings
type AdminConfig struct {
	JWTSecret string
	JWKSURL   string
}

const (
	DefaultStockURL = "https://apis.data.go.kr/1160100/service/GetStockSecuritiesInfoService/getStockPriceInfo"
	DefaultETFURL   = "https://apis.data.go.kr/1160100/service/GetSecuritiesProductInfoService/getETFPriceInfo"
	DefaultDartURL  = "https://opendart.fss.or.kr/api"
	DefaultKISURL   = "https://openapi.koreainvestment.com:9443"
)

// Load reads .env file and populates the Config struct
func Load() (*Config, error) {
	// Missing .env is fine; containers inject env vars directly
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("GO_ENV", "development"),
		},
		DB: DBConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "stock_analysis"),
			User:     getEnv("DB_USER", ""),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSLMODE", "prefer"),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 1),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),

			ConnLifetime: getEnvAsDuration("DB_CONN_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		DataGoKr: DataGoKrConfig{
			APIKey:   sanitizeCredential(getEnv("DATA_GO_KR_API_KEY", "")),
			StockURL: getEnv("DATA_GO_KR_STOCK_URL", DefaultStockURL),
			ETFURL:   getEnv("DATA_GO_KR_ETF_URL", DefaultETFURL),
		},
		Dart: DartConfig{
			APIKey:  sanitizeCredential(getEnv("DART_API_KEY", "")),
			BaseURL: getEnv("DART_BASE_URL", DefaultDartURL),
		},
		KIS: KISConfig{
			AppKey:    sanitizeCredential(getEnv("KIS_APP_KEY", "")),
			AppSecret: sanitizeCredential(getEnv("KIS_APP_SECRET", "")),
			BaseURL:   getEnv("KIS_BASE_URL", DefaultKISURL),
		},
		Ingest: IngestConfig{
			PageSize:        getEnvAsInt("INGEST_PAGE_SIZE", 1000),
			PageDelay:       getEnvAsDuration("INGEST_PAGE_DELAY", 500*time.Millisecond),
			UnitDelay:       getEnvAsDuration("INGEST_UNIT_DELAY", time.Second),
			HTTPTimeout:     getEnvAsDuration("INGEST_HTTP_TIMEOUT", 30*time.Second),
			MaxWriteRetries: getEnvAsInt("INGEST_MAX_WRITE_RETRIES", 3),
			RetryBaseDelay:  getEnvAsDuration("INGEST_RETRY_BASE_DELAY", 200*time.Millisecond),
			BatchSize:       getEnvAsInt("INGEST_BATCH_SIZE", 100),
			UniversePath:    getEnv("UNIVERSE_PATH", "configs/universe.yaml"),
		},
		Admin: AdminConfig{
			JWTSecret: sanitizeCredential(getEnv("ADMIN_JWT_SECRET", "")),
			JWKSURL:   getEnv("ADMIN_JWKS_URL", ""),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks structural settings. Provider keys are checked later by Require.
func validate(cfg *Config) error {
	if cfg.DB.URL == "" {
		if cfg.DB.Host == "" {
			return &pipeline.ConfigurationError{Key: "DB_HOST", Reason: "required when DATABASE_URL is unset"}
		}
		if cfg.DB.User == "" {
			return &pipeline.ConfigurationError{Key: "DB_USER", Reason: "required when DATABASE_URL is unset"}
		}
	}
	if cfg.DB.MaxConns < 1 {
		return &pipeline.ConfigurationError{Key: "DB_MAX_CONNS", Reason: "must be >= 1"}
	}
	if cfg.DB.MinConns < 0 || cfg.DB.MinConns > cfg.DB.MaxConns {
		return &pipeline.ConfigurationError{
			Key:    "DB_MIN_CONNS",
			Reason: fmt.Sprintf("must be between 0 and DB_MAX_CONNS (%d)", cfg.DB.MaxConns),
		}
	}
	if cfg.Ingest.PageSize < 1 {
		return &pipeline.ConfigurationError{Key: "INGEST_PAGE_SIZE", Reason: "must be >= 1"}
	}
	if cfg.Ingest.BatchSize < 1 {
		return &pipeline.ConfigurationError{Key: "INGEST_BATCH_SIZE", Reason: "must be >= 1"}
	}
	if cfg.Ingest.MaxWriteRetries < 1 {
		return &pipeline.ConfigurationError{Key: "INGEST_MAX_WRITE_RETRIES", Reason: "must be >= 1"}
	}
	return nil
}

// Requirement names a credential a command cannot run without
type Requirement string

const (
	RequireDataGoKr Requirement = "DATA_GO_KR_API_KEY"
	RequireDart     Requirement = "DART_API_KEY"
	RequireKIS      Requirement = "KIS_APP_KEY"
)

// Require returns a ConfigurationError for the first missing credential.
func (c *Config) Require(reqs ...Requirement) error {
	for _, r := range reqs {
		switch r {
		case RequireDataGoKr:
			if c.DataGoKr.APIKey == "" {
				return &pipeline.ConfigurationError{Key: string(r), Reason: "missing; add the open-data portal key to .env"}
			}
		case RequireDart:
			if c.Dart.APIKey == "" {
				return &pipeline.ConfigurationError{Key: string(r), Reason: "missing; add the disclosure API key to .env"}
			}
		case RequireKIS:
			if c.KIS.AppKey == "" || c.KIS.AppSecret == "" {
				return &pipeline.ConfigurationError{Key: "KIS_APP_KEY/KIS_APP_SECRET", Reason: "both are required"}
			}
		}
	}
	return nil
}

// DSN returns the connection string for gorm's postgres driver.
func (d DBConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(d.Password),
		d.Host,
		d.Port,
		d.Name,
		sslMode,
	)
}

// Helper to get env var with default
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func sanitizeCredential(value string) string {
	trimmed := strings.TrimSpace(value)
	return strings.Trim(trimmed, "\"")
}

// Helper to get env var as int
func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

// Accepts Go duration strings ("750ms") or bare milliseconds ("750").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
