package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/noah-isme/pos-kasir/internal/cart"
	"github.com/noah-isme/pos-kasir/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"REDIS_URL":        "redis://localhost:6379/0",
		"BACKEND_BASE_URL": "https://backend.example.com/api",
		"JWT_SECRET":       "secret",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, 5*time.Second, cfg.BackendTimeout)
	require.Equal(t, 200*time.Millisecond, cfg.BackendRetryBase)
	require.Equal(t, 10, cfg.CircuitMinRequests)
	require.Equal(t, 0.5, cfg.CircuitFailureRate)
	require.Equal(t, 12*time.Hour, cfg.SessionTTL)
	require.Equal(t, cart.ChannelNormal, cfg.SaleChannel)
	require.Equal(t, cart.PaidInFull, cfg.PaidPolicy)
	require.Equal(t, language.Bengali, cfg.DefaultLocale)
	require.Equal(t, 30, cfg.SearchRateLimit)
	require.Equal(t, "pos", cfg.MetricsNamespace)
	require.Equal(t, "otlp", cfg.TracingExporter)
	require.Equal(t, 1.0, cfg.TracingSampling)
	require.False(t, cfg.UseMockBackend())
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["BACKEND_BASE_URL"] = config.MockBackendURL
	env["SALE_CHANNEL"] = "shadow"
	env["PAID_POLICY"] = "as_tendered"
	env["DEFAULT_LOCALE"] = "en"
	env["PORT"] = "9090"
	env["CORS_ALLOWED_ORIGINS"] = "https://pos.example.com, http://localhost:5173"
	env["JWT_ALLOWED_ROLES"] = "cashier, manager"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.True(t, cfg.UseMockBackend())
	require.Equal(t, cart.ChannelShadow, cfg.SaleChannel)
	require.Equal(t, cart.PaidAsTendered, cfg.PaidPolicy)
	require.Equal(t, language.English, cfg.DefaultLocale)
	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.Equal(t, []string{"https://pos.example.com", "http://localhost:5173"}, cfg.CORSAllowedOrigins)
	require.Equal(t, []string{"cashier", "manager"}, cfg.JWTRoles)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	for name, mutate := range map[string]func(map[string]string){
		"missing redis":   func(e map[string]string) { e["REDIS_URL"] = "" },
		"missing backend": func(e map[string]string) { e["BACKEND_BASE_URL"] = "" },
		"relative url":    func(e map[string]string) { e["BACKEND_BASE_URL"] = "backend/api" },
		"missing secret":  func(e map[string]string) { e["JWT_SECRET"] = "" },
		"bad channel":     func(e map[string]string) { e["SALE_CHANNEL"] = "vip" },
		"bad policy":      func(e map[string]string) { e["PAID_POLICY"] = "whatever" },
		"bad rate":        func(e map[string]string) { e["CIRCUIT_BACKEND_FAILURE_RATE"] = "2" },
	} {
		t.Run(name, func(t *testing.T) {
			env := baseEnv()
			mutate(env)
			_, err := config.LoadForTests(env)
			require.Error(t, err)
		})
	}
}
