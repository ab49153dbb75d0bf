package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"quizdesk/internal/auth"
	"quizdesk/internal/config"
	transporthttp "quizdesk/internal/http"
	"quizdesk/internal/metrics"
	"quizdesk/internal/platform/database"
	"quizdesk/internal/platform/logging"
	"quizdesk/internal/platform/migrate"
	"quizdesk/internal/session"
	"quizdesk/internal/storage"
)

const (
	janitorInterval      = time.Minute
	rateLimitSweepPeriod = 5 * time.Minute
	shutdownTimeout      = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var db *sqlx.DB
	if cfg.NeedsDatabase() {
		var err error
		db, err = database.NewPostgres(ctx, cfg.DatabaseURL, database.ServerPool)
		if err != nil {
			return err
		}
		defer func() {
			_ = db.Close()
		}()

		if err := migrate.Apply(ctx, db, logger); err != nil {
			return err
		}
		logger.Info("connected to postgres")
	}

	httpClient := &http.Client{Timeout: 12 * time.Second}

	provider, memoryProvider := buildProvider(cfg, httpClient)
	profiles := buildProfiles(cfg, db, httpClient)

	store, closeStore, err := buildStore(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.UseDemoAccounts() {
		if err := seedDemoAccounts(ctx, memoryProvider, profiles, logger); err != nil {
			return err
		}
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(promRegistry)

	var verifier session.SessionVerifier
	if cfg.VerifyJWT {
		verifier = auth.NewTokenVerifier(ctx, cfg.SupabaseURL)
	}

	validator := auth.NewCredentialValidator()
	storageKey := cfg.StorageKey()
	factory := func(clientID string) (*session.Manager, error) {
		clientLogger := logger.With("client_id", clientID)
		client := session.NewClient(provider, store, session.ClientConfig{
			Namespace:  clientID,
			StorageKey: storageKey,
			Verifier:   verifier,
			Logger:     clientLogger,
		})
		return session.NewManager(client, profiles,
			session.WithLogger(clientLogger),
			session.WithMetrics(collector),
			session.WithValidator(validator),
		), nil
	}

	registryOpts := []session.RegistryOption{
		session.WithRegistryLogger(logger),
		session.WithRegistryMetrics(collector),
		session.WithIdleTTL(cfg.SessionIdleTTL),
		session.WithMaxManagers(cfg.SessionMaxClients),
	}
	if sweeper, ok := store.(storage.Sweeper); ok {
		registryOpts = append(registryOpts, session.WithStorageSweeper(sweeper))
	}
	registry := session.NewRegistry(factory, registryOpts...)
	defer registry.CloseAll()

	limiter := transporthttp.NewRateLimiter(cfg.AuthRateLimitPerMinute, logger, collector)
	router := transporthttp.NewRouter(cfg, registry, limiter, collector, promRegistry, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("quizdesk API listening", "addr", srv.Addr, "auth", cfg.AuthProvider, "profiles", cfg.DataStore, "sessions", cfg.SessionStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	g.Go(func() error { return registry.Run(gctx, janitorInterval) })
	g.Go(func() error { return limiter.Run(gctx, rateLimitSweepPeriod) })

	return g.Wait()
}

func buildProvider(cfg config.Config, client *http.Client) (auth.Provider, *auth.MemoryProvider) {
	if cfg.AuthProvider == "supabase" {
		return auth.NewGoTrueProvider(cfg.SupabaseURL, cfg.SupabaseAnonKey, client), nil
	}
	memory := auth.NewMemoryProvider(cfg.MemoryAuthSecret, auth.WithAutoConfirm(true))
	return memory, memory
}

func buildProfiles(cfg config.Config, db *sqlx.DB, client *http.Client) auth.ProfileRepository {
	switch cfg.DataStore {
	case "postgres":
		return auth.NewPostgresRepository(db)
	case "supabase":
		return auth.NewPostgrestRepository(cfg.SupabaseURL, cfg.SupabaseServiceKey, client)
	default:
		return auth.NewInMemoryRepository(nil)
	}
}

func buildStore(ctx context.Context, cfg config.Config, db *sqlx.DB, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.SessionStore {
	case "postgres":
		return storage.NewPostgresStore(db), func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
		return storage.NewRedisStore(client), func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close error", "error", err)
			}
		}, nil
	default:
		logger.Info("using in-memory session storage")
		return storage.NewMemoryStore(), func() {}, nil
	}
}
