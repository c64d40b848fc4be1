package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Public SUNAT beta credentials. Production must override them.
const (
	defaultSubUser  = "MODDATOS"
	defaultPassword = "moddatos"
)

var rucPattern = regexp.MustCompile(`^\d{11}$`)

// AppConfig encapsulates all runtime configuration knobs.
type AppConfig struct {
	App          AppSettings
	HTTP         HTTPSettings
	Auth         AuthSettings
	Log          LogSettings
	Database     DatabaseSettings
	Audit        AuditSettings
	Sunat        SunatSettings
	Certificates CertificateSettings
	Polling      PollingSettings
	Cdr          CdrSettings
	Workers      WorkerSettings
	Redis        RedisSettings
	Archive      ArchiveSettings
	Storage      StorageSettings
}

type AppSettings struct {
	Name        string
	Version     string
	Environment string
}

type HTTPSettings struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	SubmitTimeout   time.Duration // Deadline for submit and poll routes, which wait on SUNAT
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type AuthSettings struct {
	Enabled     bool
	IssuerURI   string
	JWKSetURI   string
	Audience    string
	ClockSkew   time.Duration
	BypassPaths []string
}

type LogSettings struct {
	Level string
}

type DatabaseSettings struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuditSettings struct {
	Enabled         bool
	LogRequestBody  bool
	LogResponseBody bool
	MaxBodySize     int
	LogExchanges    bool // Append a soap_exchange entry per billService call
}

// SunatSettings configures the billService client.
type SunatSettings struct {
	Environment     string // "beta" or "production"
	Endpoint        string // Overrides the environment's default endpoint when set
	RUC             string
	SubUser         string
	Password        string
	AttemptTimeout  time.Duration
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	MaxConcurrent   int
	RateLimitRPS    int
	BreakerFailures int
	BreakerCooldown time.Duration
}

// CertificateBundle locates the PKCS#12 bundle of one taxpayer in one environment.
type CertificateBundle struct {
	Environment string
	RUC         string
	Path        string
	Password    string
}

type CertificateSettings struct {
	Bundles  []CertificateBundle
	CacheTTL time.Duration
}

type PollingSettings struct {
	Interval      time.Duration
	MaxInterval   time.Duration
	MaxAttempts   int
	MaxElapsed    time.Duration
	SweepInterval time.Duration // Background sweep of outstanding tickets; 0 disables it
	SweepLimit    int
}

type CdrSettings struct {
	ObservationRanges string
}

type WorkerSettings struct {
	PoolSize int
	LockTTL  time.Duration
}

type RedisSettings struct {
	URL          string // Empty selects the in-process locker
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type ArchiveSettings struct {
	Bucket          string // Empty disables archiving
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type StorageSettings struct {
	Driver string // "postgres" or "memory"
}

// Load resolves the application configuration from environment variables.
// It first attempts to load variables from a .env file if it exists.
// Environment variables set in the system take precedence over .env file values.
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	cfg := AppConfig{
		App: AppSettings{
			Name:        getEnv("APP_NAME", "ms_facturacion_sunat"),
			Version:     getEnv("APP_VERSION", "0.1.0"),
			Environment: getEnv("APP_ENV", "local"),
		},
		HTTP: HTTPSettings{
			Port:            getEnvAsInt("APP_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
			SubmitTimeout:   getEnvAsDuration("HTTP_SUBMIT_TIMEOUT", 3*time.Minute),
			IdleTimeout:     getEnvAsDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Auth: AuthSettings{
			Enabled:     getEnvAsBool("AUTH_ENABLED", true),
			IssuerURI:   strings.TrimSpace(os.Getenv("JWT_ISSUER_URI")),
			JWKSetURI:   strings.TrimSpace(os.Getenv("JWT_JWK_SET_URI")),
			Audience:    strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
			ClockSkew:   getEnvAsDuration("AUTH_CLOCK_SKEW", 2*time.Minute),
			BypassPaths: getEnvAsCSV("AUTH_BYPASS_PATHS", []string{"/health", "/metrics"}),
		},
		Log: LogSettings{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseSettings{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Database:        getEnv("DB_NAME", "ms_facturacion_sunat"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Audit: AuditSettings{
			Enabled:         getEnvAsBool("AUDIT_ENABLED", true),
			LogRequestBody:  getEnvAsBool("AUDIT_LOG_REQUEST_BODY", true),
			LogResponseBody: getEnvAsBool("AUDIT_LOG_RESPONSE_BODY", true),
			MaxBodySize:     getEnvAsInt("AUDIT_MAX_BODY_SIZE", 102400),
			LogExchanges:    getEnvAsBool("AUDIT_LOG_EXCHANGES", false),
		},
		Sunat: SunatSettings{
			Environment:     strings.ToLower(getEnv("SUNAT_ENV", "beta")),
			Endpoint:        strings.TrimSpace(os.Getenv("SUNAT_ENDPOINT")),
			RUC:             strings.TrimSpace(getEnv("SUNAT_RUC", "20000000001")),
			SubUser:         strings.TrimSpace(getEnv("SUNAT_SUB_USER", defaultSubUser)),
			Password:        getEnv("SUNAT_PASSWORD", defaultPassword),
			AttemptTimeout:  getEnvAsDuration("SUNAT_ATTEMPT_TIMEOUT", 30*time.Second),
			MaxAttempts:     getEnvAsInt("SUNAT_MAX_ATTEMPTS", 3),
			BaseDelay:       getEnvAsDuration("SUNAT_RETRY_BASE_DELAY", time.Second),
			MaxDelay:        getEnvAsDuration("SUNAT_RETRY_MAX_DELAY", 10*time.Second),
			MaxConcurrent:   getEnvAsInt("SUNAT_MAX_CONCURRENT_REQUESTS", 20),
			RateLimitRPS:    getEnvAsInt("SUNAT_RATE_LIMIT_RPS", 10),
			BreakerFailures: getEnvAsInt("SUNAT_BREAKER_FAILURES", 5),
			BreakerCooldown: getEnvAsDuration("SUNAT_BREAKER_COOLDOWN", 30*time.Second),
		},
		Certificates: CertificateSettings{
			CacheTTL: getEnvAsDuration("CERT_CACHE_TTL", 0),
		},
		Polling: PollingSettings{
			Interval:      getEnvAsDuration("POLL_INTERVAL", 2*time.Second),
			MaxInterval:   getEnvAsDuration("POLL_MAX_INTERVAL", 30*time.Second),
			MaxAttempts:   getEnvAsInt("POLL_MAX_ATTEMPTS", 10),
			MaxElapsed:    getEnvAsDuration("POLL_MAX_ELAPSED", 5*time.Minute),
			SweepInterval: getEnvAsDuration("POLL_SWEEP_INTERVAL", time.Minute),
			SweepLimit:    getEnvAsInt("POLL_SWEEP_LIMIT", 50),
		},
		Cdr: CdrSettings{
			ObservationRanges: getEnv("CDR_OBSERVATION_RANGES", "2000-4999"),
		},
		Workers: WorkerSettings{
			PoolSize: getEnvAsInt("WORKER_POOL_SIZE", 10),
			LockTTL:  getEnvAsDuration("DOCUMENT_LOCK_TTL", 10*time.Minute),
		},
		Redis: RedisSettings{
			URL:          strings.TrimSpace(os.Getenv("REDIS_URL")),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			DialTimeout:  getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvAsDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvAsDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Archive: ArchiveSettings{
			Bucket:          strings.TrimSpace(os.Getenv("ARCHIVE_S3_BUCKET")),
			Prefix:          getEnv("ARCHIVE_PREFIX", "sunat"),
			Region:          getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			Endpoint:        strings.TrimSpace(os.Getenv("ARCHIVE_S3_ENDPOINT")),
			AccessKeyID:     strings.TrimSpace(os.Getenv("ARCHIVE_S3_ACCESS_KEY_ID")),
			SecretAccessKey: strings.TrimSpace(os.Getenv("ARCHIVE_S3_SECRET_ACCESS_KEY")),
		},
		Storage: StorageSettings{
			Driver: strings.ToLower(getEnv("STORAGE_DRIVER", "postgres")),
		},
	}

	if cfg.Sunat.Environment != "beta" && cfg.Sunat.Environment != "production" {
		return cfg, fmt.Errorf("invalid config: SUNAT_ENV must be 'beta' or 'production', got %q", cfg.Sunat.Environment)
	}
	if !rucPattern.MatchString(cfg.Sunat.RUC) {
		return cfg, fmt.Errorf("invalid config: SUNAT_RUC must have 11 digits, got %q", cfg.Sunat.RUC)
	}
	if cfg.Sunat.MaxAttempts < 1 {
		return cfg, errors.New("invalid config: SUNAT_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.Sunat.MaxConcurrent <= 0 {
		return cfg, errors.New("invalid config: SUNAT_MAX_CONCURRENT_REQUESTS must be greater than 0")
	}
	if cfg.Sunat.Environment == "production" {
		if strings.EqualFold(cfg.Sunat.SubUser, defaultSubUser) || cfg.Sunat.Password == defaultPassword || cfg.Sunat.Password == "" {
			return cfg, errors.New("invalid config: production requires SUNAT_SUB_USER and SUNAT_PASSWORD other than the beta defaults")
		}
	}

	if cfg.Polling.MaxAttempts < 1 {
		return cfg, errors.New("invalid config: POLL_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.Polling.Interval <= 0 || cfg.Polling.MaxElapsed <= 0 {
		return cfg, errors.New("invalid config: POLL_INTERVAL and POLL_MAX_ELAPSED must be positive")
	}
	if cfg.Polling.MaxInterval < cfg.Polling.Interval {
		cfg.Polling.MaxInterval = cfg.Polling.Interval
	}

	if cfg.Workers.PoolSize <= 0 {
		return cfg, errors.New("invalid config: WORKER_POOL_SIZE must be greater than 0")
	}
	if cfg.Workers.LockTTL < time.Second {
		return cfg, errors.New("invalid config: DOCUMENT_LOCK_TTL must be at least 1s")
	}

	if cfg.Storage.Driver != "postgres" && cfg.Storage.Driver != "memory" {
		return cfg, fmt.Errorf("invalid config: STORAGE_DRIVER must be 'postgres' or 'memory', got %q", cfg.Storage.Driver)
	}

	bundles, err := loadCertificateBundles(cfg.Sunat.Environment, cfg.Sunat.RUC)
	if err != nil {
		return cfg, err
	}
	cfg.Certificates.Bundles = bundles

	if cfg.Auth.Enabled {
		if cfg.Auth.IssuerURI == "" {
			return cfg, errors.New("invalid config: JWT_ISSUER_URI is required when AUTH_ENABLED=true")
		}
		if cfg.Auth.JWKSetURI == "" {
			return cfg, errors.New("invalid config: JWT_JWK_SET_URI is required when AUTH_ENABLED=true")
		}
	}

	return cfg, nil
}

// loadCertificateBundles collects every CERT_PATH_{ENV}_{RUC} variable.
// CERT_PATH and CERT_PASSWORD apply to the configured RUC in the configured environment.
func loadCertificateBundles(environment, ruc string) ([]CertificateBundle, error) {
	byKey := make(map[string]CertificateBundle)

	if path := strings.TrimSpace(os.Getenv("CERT_PATH")); path != "" {
		byKey[environment+"/"+ruc] = CertificateBundle{
			Environment: environment,
			RUC:         ruc,
			Path:        path,
			Password:    os.Getenv("CERT_PASSWORD"),
		}
	}

	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, "CERT_PATH_") || strings.TrimSpace(value) == "" {
			continue
		}

		suffix := strings.TrimPrefix(name, "CERT_PATH_")
		env, bundleRUC, ok := strings.Cut(suffix, "_")
		env = strings.ToLower(env)
		if !ok || (env != "beta" && env != "production") || !rucPattern.MatchString(bundleRUC) {
			return nil, fmt.Errorf("invalid config: %s must be named CERT_PATH_{BETA|PRODUCTION}_{RUC}", name)
		}

		byKey[env+"/"+bundleRUC] = CertificateBundle{
			Environment: env,
			RUC:         bundleRUC,
			Path:        strings.TrimSpace(value),
			Password:    os.Getenv("CERT_PASSWORD_" + suffix),
		}
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bundles := make([]CertificateBundle, 0, len(keys))
	for _, k := range keys {
		bundles = append(bundles, byKey[k])
	}
	return bundles, nil
}

// Address returns the HTTP listen address in host:port form.
func (h HTTPSettings) Address() string {
	return fmt.Sprintf(":%d", h.Port)
}

// DSN returns a libpq connection URL for tools that need one.
func (d DatabaseSettings) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsCSV(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}
