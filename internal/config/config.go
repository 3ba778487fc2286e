package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Review   ReviewConfig
	Email    EmailConfig
	Dispatch DispatchConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	PublicBaseURL         string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr               string
	Password           string
	DB                 int
	PoolSize           int
	DialTimeoutSeconds int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines admin token parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// ReviewConfig tunes the review workflow.
type ReviewConfig struct {
	UpdateTokenTTLHours int
	TokenDigestKey      string
	LenientApproval     bool
}

// EmailConfig mirrors the EMAIL_* environment knobs. It is turned into an
// explicit dispatch.Config per run.
type EmailConfig struct {
	Mode              string
	CapMaxPerRun      int
	ThrottleMs        int
	RetryOn429        int
	RetryBackoffMs    int
	Allowlist         []string
	BlockNonAllowlist bool
	From              string
	ProviderURL       string
	ProviderAPIKey    string
	ProviderTimeoutMs int
}

// DispatchConfig controls how dispatch runs are triggered.
type DispatchConfig struct {
	Secret            string
	IntervalSeconds   int
	ClaimTTLSeconds   int
	LedgerTTLHours    int
	RunTimeoutSeconds int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	mode := strings.ToUpper(getEnv("EMAIL_MODE", "DRY_RUN"))
	switch mode {
	case "DRY_RUN", "FULL", "CAPPED":
	default:
		return nil, fmt.Errorf("invalid EMAIL_MODE %q", mode)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "registration-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			PublicBaseURL:         strings.TrimRight(getEnv("APP_PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:               getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:           os.Getenv("REDIS_PASSWORD"),
			DB:                 redisDB,
			PoolSize:           getEnvAsInt("REDIS_POOL_SIZE", 10),
			DialTimeoutSeconds: getEnvAsInt("REDIS_DIAL_TIMEOUT_SECONDS", 5),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Review: ReviewConfig{
			UpdateTokenTTLHours: getEnvAsInt("REVIEW_UPDATE_TOKEN_TTL_HOURS", 72),
			TokenDigestKey:      getEnv("REVIEW_TOKEN_DIGEST_KEY", "dev-digest-key"),
			LenientApproval:     getEnvAsBool("REVIEW_LENIENT_APPROVAL", false),
		},
		Email: EmailConfig{
			Mode:              mode,
			CapMaxPerRun:      getEnvAsInt("EMAIL_CAP_MAX_PER_RUN", 50),
			ThrottleMs:        getEnvAsInt("EMAIL_THROTTLE_MS", 500),
			RetryOn429:        getEnvAsInt("EMAIL_RETRY_ON_429", 2),
			RetryBackoffMs:    getEnvAsInt("EMAIL_RETRY_BACKOFF_MS", 1000),
			Allowlist:         ParseAllowlist(os.Getenv("EMAIL_ALLOWLIST")),
			BlockNonAllowlist: getEnvAsBool("BLOCK_NON_ALLOWLIST", false),
			From:              getEnv("EMAIL_FROM", "noreply@example.com"),
			ProviderURL:       getEnv("EMAIL_PROVIDER_URL", ""),
			ProviderAPIKey:    os.Getenv("EMAIL_PROVIDER_API_KEY"),
			ProviderTimeoutMs: getEnvAsInt("EMAIL_PROVIDER_TIMEOUT_MS", 10000),
		},
		Dispatch: DispatchConfig{
			Secret:            os.Getenv("DISPATCH_SECRET"),
			IntervalSeconds:   getEnvAsInt("DISPATCH_INTERVAL_SECONDS", 0),
			ClaimTTLSeconds:   getEnvAsInt("DISPATCH_CLAIM_TTL_SECONDS", 600),
			LedgerTTLHours:    getEnvAsInt("DISPATCH_LEDGER_TTL_HOURS", 168),
			RunTimeoutSeconds: getEnvAsInt("DISPATCH_RUN_TIMEOUT_SECONDS", 300),
		},
	}

	return cfg, nil
}

// ParseAllowlist splits a comma separated list of addresses, lowercased and trimmed.
func ParseAllowlist(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		addr := strings.ToLower(strings.TrimSpace(part))
		if addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// UpdateTokenTTL returns the lifetime of update-request links.
func (r ReviewConfig) UpdateTokenTTL() time.Duration {
	if r.UpdateTokenTTLHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(r.UpdateTokenTTLHours) * time.Hour
}

// Interval returns the in-process dispatch interval; zero disables the worker.
func (d DispatchConfig) Interval() time.Duration {
	if d.IntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(d.IntervalSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
