package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"golang.org/x/text/language"

	"github.com/noah-isme/pos-kasir/internal/cart"
)

// MockBackendURL selects the in-memory backend instead of HTTP.
const MockBackendURL = "mock"

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string

	BackendBaseURL   string
	BackendAPIToken  string
	BackendTimeout   time.Duration
	BackendRetryBase time.Duration

	CircuitMinRequests int
	CircuitFailureRate float64
	CircuitOpenFor     time.Duration

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTRoles    []string

	SessionTTL    time.Duration
	SubmitLockTTL time.Duration
	SaleChannel   cart.Channel
	PaidPolicy    cart.PaidPolicy
	DefaultLocale language.Tag

	SearchRateLimit  int
	SearchRateWindow time.Duration

	LogFormat        string
	LogLevel         string
	EnableTracing    bool
	TracingExporter  string
	TracingSampling  float64
	OTLPEndpoint     string
	MetricsNamespace string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		BackendBaseURL:   strings.TrimSpace(k.String("BACKEND_BASE_URL")),
		BackendAPIToken:  strings.TrimSpace(k.String("BACKEND_API_TOKEN")),
		BackendTimeout:   parseDuration(k.String("BACKEND_TIMEOUT"), "5s"),
		BackendRetryBase: parseDuration(k.String("BACKEND_RETRY_BASE"), "200ms"),

		CircuitMinRequests: parseInt(k.String("CIRCUIT_BACKEND_MIN_REQ"), 10),
		CircuitFailureRate: parseFloat(k.String("CIRCUIT_BACKEND_FAILURE_RATE"), 0.5),
		CircuitOpenFor:     parseDuration(k.String("CIRCUIT_BACKEND_OPEN_FOR"), "30s"),

		JWTSecret:   k.String("JWT_SECRET"),
		JWTIssuer:   strings.TrimSpace(k.String("JWT_ISSUER")),
		JWTAudience: strings.TrimSpace(k.String("JWT_AUDIENCE")),
		JWTRoles:    splitAndTrim(k.String("JWT_ALLOWED_ROLES")),

		SessionTTL:    parseDuration(k.String("SESSION_TTL"), "12h"),
		SubmitLockTTL: parseDuration(k.String("SUBMIT_LOCK_TTL"), "30s"),

		SearchRateLimit:  parseInt(k.String("SEARCH_RATE_LIMIT"), 30),
		SearchRateWindow: parseDuration(k.String("SEARCH_RATE_WINDOW"), "1m"),

		LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		EnableTracing:    parseBool(k.String("OBS_ENABLE_TRACING")),
		TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		TracingSampling:  parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "pos"),
	}

	var err error
	if cfg.SaleChannel, err = cart.ParseChannel(k.String("SALE_CHANNEL")); err != nil {
		return nil, fmt.Errorf("SALE_CHANNEL: %w", err)
	}
	if cfg.PaidPolicy, err = cart.ParsePaidPolicy(k.String("PAID_POLICY")); err != nil {
		return nil, fmt.Errorf("PAID_POLICY: %w", err)
	}
	if cfg.DefaultLocale, err = language.Parse(valueOrDefault(k.String("DEFAULT_LOCALE"), "bn")); err != nil {
		return nil, fmt.Errorf("DEFAULT_LOCALE: %w", err)
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.BackendBaseURL == "" {
		return nil, errors.New("BACKEND_BASE_URL is required")
	}
	if cfg.BackendBaseURL != MockBackendURL {
		if u, err := url.Parse(cfg.BackendBaseURL); err != nil || u.Host == "" {
			return nil, fmt.Errorf("BACKEND_BASE_URL %q is not an absolute url", cfg.BackendBaseURL)
		}
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.CircuitFailureRate <= 0 || cfg.CircuitFailureRate > 1 {
		return nil, errors.New("CIRCUIT_BACKEND_FAILURE_RATE must be in (0,1]")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// UseMockBackend reports whether the in-memory backend is selected.
func (c *Config) UseMockBackend() bool { return c.BackendBaseURL == MockBackendURL }

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
