package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"example.com/signup/internal/api"
	"example.com/signup/internal/catalog"
	"example.com/signup/internal/config"
	"example.com/signup/internal/domain"
	"example.com/signup/internal/logging"
	"example.com/signup/internal/outbox"
	"example.com/signup/internal/persistence/memory"
	"example.com/signup/internal/persistence/postgres"
	"example.com/signup/internal/persistence/redisstore"
	httptransport "example.com/signup/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("activity signup service stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seed, err := catalog.Load(cfg.SeedFile)
	if err != nil {
		return err
	}

	var producer *outbox.KafkaProducer
	if cfg.EventsEnabled() {
		producer = outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Warn("close kafka producer", zap.Error(err))
			}
		}()
	}

	var (
		repo       domain.Repository
		opts       = []domain.Option{domain.WithLogger(logger)}
		dispatcher *outbox.Dispatcher
	)

	switch cfg.StorageBackend {
	case config.BackendPostgres:
		if cfg.RunMigrations {
			version, err := postgres.Migrate(cfg.PostgresURL)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", zap.Uint("version", version))
		}

		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}

		repo = postgres.NewRepository(pool, cfg.EventsTopic)
		if producer != nil {
			dispatcher = outbox.NewDispatcher(pool, producer, schemaRegistry(cfg), cfg.OutboxPollInterval, cfg.OutboxBatchSize, outbox.WithLogger(logger.Named("outbox")))
			go dispatcher.Start(ctx)
		}
	case config.BackendRedis:
		client, err := redisstore.Connect(ctx, redisstore.Options{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		repo = redisstore.NewRepository(client, cfg.RedisKeyPrefix)
	default:
		repo = memory.NewRepository()
	}

	// Backends without an outbox table publish straight from the request path.
	if producer != nil && dispatcher == nil {
		opts = append(opts, domain.WithPublisher(outbox.NewPublisher(producer, schemaRegistry(cfg), cfg.EventsTopic, outbox.WithLogger(logger.Named("events")))))
	}

	if err := repo.Seed(ctx, seed); err != nil {
		return fmt.Errorf("seed registry: %w", err)
	}
	logger.Info("registry seeded", zap.String("backend", cfg.StorageBackend), zap.Int("activities", len(seed)))

	service := domain.NewService(repo, opts...)

	mux := http.NewServeMux()
	api.NewHandler(service, logger).RegisterRoutes(mux)
	api.RegisterStatic(mux, cfg.StaticDir)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := httptransport.NewServer(
		httptransport.DefaultServerConfig(cfg.HTTPAddress),
		httptransport.Chain(mux, middlewares(ctx, cfg, logger)...),
		logger,
	)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("activity signup service listening", zap.String("address", cfg.HTTPAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdownCh:
		logger.Info("shutdown requested", zap.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	if dispatcher != nil {
		dispatcher.Wait()
	}
	return nil
}

func schemaRegistry(cfg config.Config) outbox.SchemaRegistrar {
	if cfg.SchemaRegistryURL == "" {
		return outbox.UnregisteredSchemas{}
	}
	return outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
}

// middlewares builds the request chain. Rate limiting is added only when
// RATE_LIMIT_RPS is set.
func middlewares(ctx context.Context, cfg config.Config, logger *zap.Logger) []httptransport.Middleware {
	chain := []httptransport.Middleware{
		httptransport.RequestLogger(logger.Named("access")),
		httptransport.CORS(cfg.CORSAllowedOrigin),
	}
	if cfg.RateLimitRPS > 0 {
		chain = append(chain, httptransport.RateLimit(httptransport.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst)))
	}
	return chain
}
