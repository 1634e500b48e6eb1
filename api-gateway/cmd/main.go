package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ecofinds/storefront/backend"
	"github.com/ecofinds/storefront/cart/cache"
	"github.com/ecofinds/storefront/cart/poller"
	"github.com/ecofinds/storefront/cart/store"
	"github.com/ecofinds/storefront/checkout/gate"
	"github.com/ecofinds/storefront/checkout/publisher"
	"github.com/ecofinds/storefront/checkout/repository"
	"github.com/ecofinds/storefront/checkout/service"
	"github.com/ecofinds/storefront/pkg/circuitbreaker"
	"github.com/ecofinds/storefront/pkg/logger"
	"github.com/ecofinds/storefront/pkg/metrics"
	"github.com/ecofinds/storefront/pkg/telemetry"
	"github.com/redis/go-redis/v9"

	h "github.com/ecofinds/storefront/api-gateway/internal/http"
)

type Config struct {
	HTTPPort           string
	BackendURL         string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	SessionIdleTTL     time.Duration
	MaxRequestBodySize int64
	OptimisticCart     bool

	RedisAddr     string
	RedisPassword string
	KafkaBrokers  []string
	DB            *repository.Credentials

	OTelEndpoint string
	LogLevel     string
}

func loadConfig() *Config {
	cfg := &Config{
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		BackendURL:         getEnv("BACKEND_URL", "http://localhost:8000/api/v1"),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:    getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		SessionIdleTTL:     getDuration("SESSION_IDLE_TTL", 30*time.Minute),
		MaxRequestBodySize: 1 << 20, // 1MB
		OptimisticCart:     getBool("OPTIMISTIC_CART", false),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:       getList("KAFKA_BROKERS"),
		OTelEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}

	if host := os.Getenv("DB_HOST"); host != "" {
		port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
		if err != nil {
			port = 5432
		}
		cfg.DB = &repository.Credentials{
			Host:              host,
			Port:              port,
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "storefront"),
			MigrationsDirPath: getEnv("MIGRATIONS_PATH", "checkout/repository/migrations"),
		}
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func getBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return b
}

func getList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func main() {
	cfg := loadConfig()
	log := logger.Init("api-gateway", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTelEndpoint != "" {
		shutdownTracer, err := telemetry.SetupTracer(ctx, "storefront-gateway", cfg.OTelEndpoint)
		if err != nil {
			log.Error("failed to set up tracing", slog.Any("error", err))
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracer(sctx); err != nil {
					log.Warn("tracer shutdown", slog.Any("error", err))
				}
			}()
		}
	}

	m := metrics.New("gateway")

	breaker := circuitbreaker.DefaultSettings("marketplace-backend")
	breaker.Logger = log
	client, err := backend.NewClient(cfg.BackendURL,
		backend.WithBreaker(breaker),
		backend.WithLogger(log))
	if err != nil {
		log.Error("invalid backend url", slog.String("url", cfg.BackendURL), slog.Any("error", err))
		os.Exit(1)
	}

	// Redis shares cart views and the submission gate between replicas.
	var (
		cartCache cache.CartCache = cache.NewMemoryCache(cfg.SessionIdleTTL)
		subGate   gate.SubmissionGate
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("redis connection failed", slog.String("addr", cfg.RedisAddr), slog.Any("error", err))
			os.Exit(1)
		}
		log.Info("redis ping succeeded", slog.String("addr", cfg.RedisAddr))
		cartCache = cache.NewRedisCache(redisClient, 0)
		subGate = gate.NewRedisGate(redisClient, 2*cfg.RequestTimeout)
	} else {
		subGate = gate.NewLocalGate()
	}

	var journal repository.AttemptRepository = repository.NewMemoryRepository()
	if cfg.DB != nil {
		repo, err := repository.NewPostgresRepository(ctx, cfg.DB)
		if err != nil {
			log.Error("failed to connect to postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer repo.Close()
		if err := repo.RunMigrations(cfg.DB); err != nil {
			log.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
		log.Info("checkout journal on postgres", slog.String("host", cfg.DB.Host))
		journal = repo
	}

	var events service.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		pub := publisher.NewOrderPublisher(cfg.KafkaBrokers...)
		defer pub.Close()
		events = pub
	}

	storeOpts := []store.Option{store.WithLogger(log)}
	if cfg.OptimisticCart {
		storeOpts = append(storeOpts, store.WithOptimisticUpdates())
	}

	factory := func(key, token string) *h.Session {
		sc := client.ForSession(backend.StaticToken(token))
		cs := store.NewCartStore(sc, cartCache, key, storeOpts...)

		opts := []service.Option{
			service.WithAttemptJournal(journal),
			service.WithGate(subGate),
			service.WithMetrics(m),
			service.WithLogger(log),
		}
		if events != nil {
			opts = append(opts, service.WithPublisher(events))
		}
		return &h.Session{
			Cart:     cs,
			Checkout: service.NewOrchestrator(cs, sc, opts...),
			Orders:   sc,
		}
	}

	sessions := h.NewSessionRegistry(factory, cfg.SessionIdleTTL,
		h.WithRegistryMetrics(m),
		h.WithRegistryLogger(log))
	go sessions.Run(ctx)

	if len(cfg.KafkaBrokers) > 0 {
		hostname, _ := os.Hostname()
		p := poller.NewPoller(sessions, "storefront-gateway-"+hostname, log, cfg.KafkaBrokers...)
		defer p.Close()
		go p.Run(ctx)
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.NewRouter(h.RouterConfig{
			Sessions:           sessions,
			Metrics:            m,
			Logger:             log,
			RequestTimeout:     cfg.RequestTimeout,
			MaxRequestBodySize: cfg.MaxRequestBodySize,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api gateway starting", slog.String("port", cfg.HTTPPort), slog.String("backend", cfg.BackendURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", slog.Any("error", err))
	}
	sessions.CloseAll()

	log.Info("server exited")
}
