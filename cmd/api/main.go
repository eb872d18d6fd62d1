package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garage-pos/settlement/internal/handlers"
	"github.com/garage-pos/settlement/internal/platform/config"
	"github.com/garage-pos/settlement/internal/platform/events"
	pfirestore "github.com/garage-pos/settlement/internal/platform/firestore"
	"github.com/garage-pos/settlement/internal/platform/idempotency"
	pmongo "github.com/garage-pos/settlement/internal/platform/mongo"
	"github.com/garage-pos/settlement/internal/platform/observability"
	"github.com/garage-pos/settlement/internal/platform/secrets"
	"github.com/garage-pos/settlement/internal/repositories"
	firestoreRepo "github.com/garage-pos/settlement/internal/repositories/firestore"
	memoryRepo "github.com/garage-pos/settlement/internal/repositories/memory"
	mongoRepo "github.com/garage-pos/settlement/internal/repositories/mongo"
	"github.com/garage-pos/settlement/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var vErr *config.ValidationError
		if errors.As(err, &vErr) {
			logger.Fatal("invalid configuration", zap.Strings("fields", vErr.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, startedAt)

	backend, err := openStore(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := backend.registry.Close(closeCtx); err != nil {
			logger.Warn("store close error", zap.Error(err))
		}
	}()

	checks := []repositories.DependencyCheck{{
		Name:     "store",
		Timeout:  1500 * time.Millisecond,
		Critical: true,
		Check:    backend.registry.Ping,
	}}
	checks = append(checks, repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check:   fetcher.Check,
	})

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	idempotencyStore, err := newIdempotencyStore(cfg, backend, redisClient)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	if pinger, ok := idempotencyStore.(interface{ Ping(context.Context) error }); ok {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check:   pinger.Ping,
		})
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	var publisher services.SettlementEventPublisher
	if cfg.Events.Enabled {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		eventPublisher, err := events.NewPubSubPublisher(pubsubClient.Topic(cfg.Events.Topic))
		if err != nil {
			logger.Fatal("failed to initialise settlement publisher", zap.Error(err))
		}
		defer eventPublisher.Stop()
		publisher = eventPublisher
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 1500 * time.Millisecond,
			Check:   eventPublisher.Ping,
		})
	}

	settlementService, err := services.NewSettlementService(services.SettlementServiceDeps{
		Orders:       backend.registry.Orders(),
		Invoices:     backend.registry.SalesInvoices(),
		Commissions:  backend.registry.TechnicianCommissions(),
		Employees:    backend.registry.Employees(),
		UnitOfWork:   backend.registry.UnitOfWork(),
		Clock:        time.Now,
		Events:       publisher,
		Logger:       observability.ServiceLogger(logger.Named("settlement")),
		DefaultLimit: cfg.Settlement.DefaultLimit,
		MaxLimit:     cfg.Settlement.MaxLimit,
	})
	if err != nil {
		logger.Fatal("failed to initialise settlement service", zap.Error(err))
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}
	systemService, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Clock:            time.Now,
		Build:            buildInfo,
		Settlement: services.SettlementRuntime{
			StoreDriver:      cfg.Store.Driver,
			Transactional:    backend.registry.UnitOfWork() != nil,
			IdempotencyStore: cfg.Idempotency.Store,
			EventsEnabled:    cfg.Events.Enabled,
		},
	})
	if err != nil {
		logger.Fatal("failed to initialise system service", zap.Error(err))
	}

	settlementHandlers := handlers.NewSettlementHandlers(settlementService,
		handlers.WithSettleBodyLimit(cfg.Server.MaxBodyBytes),
		handlers.WithSettleIdempotency(idempotencyMiddleware),
	)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	router := handlers.NewRouter(
		handlers.WithBasePath(cfg.Server.BasePath),
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithSettlementRoutes(settlementHandlers.Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(
		zap.String("addr", server.Addr),
		zap.String("store", cfg.Store.Driver),
		zap.String("idempotency_store", cfg.Idempotency.Store),
	)
	go func() {
		serverLogger.Info("settlement api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// storeBackend keeps the concrete Firestore provider alongside the registry so the
// idempotency store can share its client.
type storeBackend struct {
	registry  repositories.Registry
	firestore *pfirestore.Provider
}

func openStore(ctx context.Context, logger *zap.Logger, cfg config.Config) (storeBackend, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		if _, err := provider.Client(ctx); err != nil {
			return storeBackend{}, err
		}
		store, err := firestoreRepo.NewStore(provider, cfg.Collections)
		if err != nil {
			return storeBackend{}, err
		}
		return storeBackend{registry: store, firestore: provider}, nil
	case config.StoreDriverMongo:
		client, err := pmongo.Connect(ctx, cfg.Mongo)
		if err != nil {
			return storeBackend{}, err
		}
		store, err := mongoRepo.NewStore(client, cfg.Collections)
		if err != nil {
			_ = client.Close(ctx)
			return storeBackend{}, err
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			logger.Warn("mongo index creation failed", zap.Error(err))
		}
		if !client.TransactionsEnabled() {
			logger.Info("mongo transactions disabled; settlement falls back to compensation")
		}
		return storeBackend{registry: store}, nil
	case config.StoreDriverMemory:
		logger.Warn("memory store selected; data is lost on restart")
		return storeBackend{registry: memoryRepo.NewStore()}, nil
	default:
		return storeBackend{}, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func newIdempotencyStore(cfg config.Config, backend storeBackend, redisClient *redis.Client) (idempotency.Store, error) {
	switch cfg.Idempotency.Store {
	case config.IdempotencyStoreFirestore:
		provider := backend.firestore
		if provider == nil {
			provider = pfirestore.NewProvider(cfg.Firestore)
		}
		return idempotency.NewFirestoreStore(provider), nil
	case config.IdempotencyStoreRedis:
		if redisClient == nil {
			return nil, errors.New("redis idempotency store requires API_REDIS_ADDR")
		}
		return idempotency.NewRedisStore(redisClient, cfg.Redis.KeyPrefix), nil
	case config.IdempotencyStoreMemory:
		return idempotency.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported idempotency store %q", cfg.Idempotency.Store)
	}
}

func buildInfoFromEnv(env map[string]string, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(env["API_ENVIRONMENT"])
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firestore.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Events.ProjectID)
}

// newSecretFetcher runs before config.Load, so it reads its own settings from the raw
// environment values.
func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRETS_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_GCP_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRETS_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	return secrets.NewFetcher(ctx, opts...)
}
