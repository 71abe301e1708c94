package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pos-kasir/internal/auth"
	"github.com/noah-isme/pos-kasir/internal/backend"
	"github.com/noah-isme/pos-kasir/internal/common"
	"github.com/noah-isme/pos-kasir/internal/config"
	"github.com/noah-isme/pos-kasir/internal/health"
	"github.com/noah-isme/pos-kasir/internal/locale"
	"github.com/noah-isme/pos-kasir/internal/lock"
	"github.com/noah-isme/pos-kasir/internal/obs"
	"github.com/noah-isme/pos-kasir/internal/ratelimit"
	"github.com/noah-isme/pos-kasir/internal/resilience"
	"github.com/noah-isme/pos-kasir/internal/sale"
	"github.com/noah-isme/pos-kasir/internal/security"
	"github.com/noah-isme/pos-kasir/internal/session"
)

const shutdownGrace = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	zerolog.DefaultContextLogger = &logger

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, nil, registry)
	domainMetrics := obs.NewDomainMetrics(cfg.MetricsNamespace, registry)
	if err := resilience.RegisterMetrics(registry); err != nil {
		logger.Fatal().Err(err).Msg("register breaker metrics")
	}

	tracingEnabled := cfg.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "pos-kasir",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
			Backend:       cfg.BackendBaseURL,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	breaker := resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRate, cfg.CircuitOpenFor).
		WithTarget("pos_backend").
		WithLogger(logger)

	var salesBackend backend.Client
	if cfg.UseMockBackend() {
		logger.Warn().Msg("using in-memory sales backend")
		salesBackend = backend.NewMockClient()
	} else {
		client, err := backend.NewHTTPClient(backend.Options{
			BaseURL:   cfg.BackendBaseURL,
			Token:     cfg.BackendAPIToken,
			Timeout:   cfg.BackendTimeout,
			RetryBase: cfg.BackendRetryBase,
			Breaker:   breaker,
			Logger:    &logger,
			Observer:  domainMetrics,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise sales backend client")
		}
		salesBackend = client
	}

	verifier, err := auth.NewVerifier(auth.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Roles:    cfg.JWTRoles,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise token verifier")
	}
	authMiddleware := auth.Middleware{Verifier: verifier}

	saleSvc := &sale.Service{
		Store:   session.NewRedisStore(redisClient, cfg.SessionTTL),
		Guard:   lock.Locker{R: redisClient},
		Backend: salesBackend,
		Metrics: domainMetrics,
		Logger:  logger,
		Config: sale.Config{
			Channel:       cfg.SaleChannel,
			PaidPolicy:    cfg.PaidPolicy,
			SubmitLockTTL: cfg.SubmitLockTTL,
		},
	}
	defaultLocale, ok := locale.ForLanguage(cfg.DefaultLocale.String())
	if !ok {
		defaultLocale = locale.English
	}
	saleHandler := &sale.Handler{Svc: saleSvc, DefaultLocale: defaultLocale}

	searchLimiter, err := ratelimit.NewRedis(redisClient, "pos:ratelimit:stock", int64(cfg.SearchRateLimit), cfg.SearchRateWindow)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise stock search limiter")
	}
	searchLimit := ratelimit.Handler{
		Limiter: searchLimiter,
		Key:     ratelimit.ByCashier,
		OnError: func(err error) { logger.Warn().Err(err).Msg("stock search limiter unavailable") },
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{EnableHSTS: cfg.AppEnv == "production"}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type", common.TillHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	healthHandler := health.Handler{
		Checker:        health.Deps{Redis: redisClient, Backend: salesBackend},
		Breaker:        breaker,
		RedisTimeout:   300 * time.Millisecond,
		BackendTimeout: cfg.BackendTimeout,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1/pos", func(pos chi.Router) {
		pos.Use(security.BodyLimit{Max: security.DefaultBodyLimit}.Middleware)
		pos.Use(authMiddleware.RequireAuth)
		saleHandler.Routes(pos, searchLimit.Middleware)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop, release := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer release()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("backend", backendLabel(cfg)).Msg("server starting")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-stop.Done():
		health.SetReady(false)
		logger.Info().Msg("shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func backendLabel(cfg *config.Config) string {
	if cfg.UseMockBackend() {
		return "mock"
	}
	return cfg.BackendBaseURL
}
