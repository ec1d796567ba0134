package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
	"google.golang.org/grpc"

	"uolems/internal/auth"
	"uolems/internal/config"
	"uolems/internal/console"
	"uolems/internal/database"
	"uolems/internal/docstore"
	"uolems/internal/docstore/fsstore"
	"uolems/internal/docstore/memstore"
	"uolems/internal/docstore/pgstore"
	uolgrpc "uolems/internal/grpc"
	internalhttp "uolems/internal/http"
	"uolems/internal/identity"
	"uolems/internal/identity/local"
	"uolems/internal/identity/toolkit"
	"uolems/internal/session"
	"uolems/internal/sessionstore"
	"uolems/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint, "uolems")
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", slog.String("error", err.Error()))
		}
	}()

	var db *database.Store
	if cfg.StoreBackend == config.StorePostgres || cfg.IdentityBackend == config.IdentityLocal {
		if err := database.Migrate(cfg.DatabaseURL, logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		pool, err := database.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("db connection: %w", err)
		}
		defer pool.Close()
		db = database.NewStore(pool)
	}

	store, closeStore, err := openDocStore(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	provider, err := newIdentityProvider(ctx, cfg, db, logger)
	if err != nil {
		return err
	}

	sessions, closeSessions, err := openSessionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	issuer := auth.NewIssuer(sessions, cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL)
	resolver := session.NewResolver(store, provider, cfg.SuperAdminEmails, logger)
	service := session.NewService(provider, resolver, issuer, cfg.AllowedEmailDomains, logger)

	consoleOpts := console.Options{TickerInterval: cfg.TickerInterval, Logger: logger}
	consoles := console.NewRegistry(cfg.ConsoleCacheSize, cfg.ConsoleIdleTTL, func(ctx context.Context, adminUID string) (*console.Console, error) {
		return console.Open(ctx, store, adminUID, consoleOpts)
	})
	defer consoles.Close()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           internalhttp.NewServer(service, issuer, consoles, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	health := uolgrpc.NewHealth(uolgrpc.StoreProbe(store), 15*time.Second, logger)
	var grpcServer *grpc.Server
	if cfg.ServiceAuthToken != "" {
		srv, err := uolgrpc.NewServer(cfg.ServiceAuthToken, health)
		if err != nil {
			return fmt.Errorf("grpc init: %w", err)
		}
		grpcServer = srv
	} else {
		logger.Warn("SERVICE_AUTH_TOKEN not set, gRPC health service disabled")
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	if grpcServer != nil {
		go health.Run(healthCtx)
		go func() {
			listener, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				errCh <- fmt.Errorf("grpc listen: %w", err)
				return
			}
			logger.Info("grpc listening", slog.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(listener); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.String("error", err.Error()))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	return runErr
}

func openDocStore(ctx context.Context, cfg config.Config, db *database.Store, logger *slog.Logger) (docstore.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		return pgstore.New(db.Pool, logger), func() {}, nil
	case config.StoreFirestore:
		fs, err := fsstore.New(ctx, cfg.FirestoreProjectID, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore: %w", err)
		}
		return fs, func() { _ = fs.Close() }, nil
	default:
		logger.Warn("using in-memory document store")
		return memstore.New(), func() {}, nil
	}
}

func newIdentityProvider(ctx context.Context, cfg config.Config, db *database.Store, logger *slog.Logger) (identity.Provider, error) {
	if cfg.IdentityBackend == config.IdentityLocal {
		verifier, err := local.NewGoogleVerifier(cfg.GoogleJWKSURL, cfg.GoogleClientID, logger)
		if err != nil {
			return nil, fmt.Errorf("google verifier: %w", err)
		}
		return local.New(local.NewPGAccounts(db), verifier), nil
	}
	if cfg.FirebaseAPIKey == "" {
		return nil, errors.New("FIREBASE_API_KEY is required for the toolkit identity backend")
	}
	var opts []option.ClientOption
	if cfg.IdentityToolkitURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.IdentityToolkitURL))
	}
	client, err := toolkit.New(ctx, cfg.FirebaseAPIKey, cfg.FederatedRequestURI, logger, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func openSessionStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (sessionstore.Store, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, sessions kept in memory")
		return sessionstore.NewMemoryStore(10000, cfg.AccessTokenTTL), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return sessionstore.NewRedisStore(client), func() { _ = client.Close() }, nil
}
