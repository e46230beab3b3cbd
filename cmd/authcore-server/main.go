// Command authcore-server runs the authentication engine behind a JSON HTTP
// API, with accounts in Postgres and sessions in Redis or Postgres.
//
// Environment (a .env file is loaded when present):
//
//	AUTHCORE_JWT_SIGNING_KEY  HMAC key, at least 32 bytes (required)
//	DATABASE_URL              Postgres DSN (required)
//	REDIS_ADDR                Redis address, default localhost:6379
//	SESSION_BACKEND           "redis" (default) or "postgres"
//	HTTP_ADDR                 listen address, default :8080
//	GRPC_ADDR                 optional gRPC listen address for health checks
//	LOG_LEVEL, LOG_DEV        logger settings
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/httpapi"
	"github.com/MrEthical07/authcore/internal/logging"
	otelexport "github.com/MrEthical07/authcore/metrics/export/otel"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/MrEthical07/authcore/store/postgres"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUTHCORE_CONFIG"), "path to a TOML config file")
	flag.Parse()

	_ = godotenv.Load()

	logger, err := logging.New(logging.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("goodbye")
}

func loadConfig(path string) (authcore.Config, error) {
	cfg := authcore.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = authcore.LoadConfigFile(path); err != nil {
			return authcore.Config{}, err
		}
	}
	if key := os.Getenv("AUTHCORE_JWT_SIGNING_KEY"); key != "" {
		cfg.JWT.SigningKey = key
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(ctx context.Context, logger *zap.Logger, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return errors.New("DATABASE_URL is required")
	}
	db, err := postgres.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{getenv("REDIS_ADDR", "localhost:6379")},
	})
	defer func() { _ = rdb.Close() }()

	builder := authcore.New().
		WithConfig(cfg).
		WithAccountStore(postgres.NewAccountRepository(db)).
		WithAuditSink(authcore.NewZapSink(logger)).
		WithLoginHistorySink(authcore.NewZapLoginHistory(logger)).
		WithPasswordResetRequester(loggingResetRequester{logger: logger.Named("password_reset")}).
		WithRedis(rdb).
		WithLogger(logger)

	// Redis always holds MFA challenges; SESSION_BACKEND picks where
	// sessions live.
	var sessions *postgres.SessionRepository
	switch backend := getenv("SESSION_BACKEND", "redis"); backend {
	case "redis":
	case "postgres":
		sessions = postgres.NewSessionRepository(db)
		builder = builder.WithSessionPersistence(sessions)
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", backend)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("engine build: %w", err)
	}

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()
	otel.SetMeterProvider(provider)

	exporter, err := otelexport.NewExporter(otel.Meter("github.com/MrEthical07/authcore"), engine)
	if err != nil {
		return err
	}
	defer func() { _ = exporter.Close() }()

	if sessions != nil {
		go purgeExpiredSessions(ctx, logger, sessions, time.Hour)
	}

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.NewHandler(engine, logger).Routes())
	mux.HandleFunc("GET /healthz", healthHandler(engine))
	mux.HandleFunc("GET /debug/metrics", metricsHandler(reader))

	srv := &http.Server{
		Addr:              getenv("HTTP_ADDR", ":8080"),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if addr := os.Getenv("GRPC_ADDR"); addr != "" {
		grpcServer = grpc.NewServer(
			grpc.ChainUnaryInterceptor(middleware.UnaryServerInterceptor(engine)),
			grpc.ChainStreamInterceptor(middleware.StreamServerInterceptor(engine)),
		)
		healthpb.RegisterHealthServer(grpcServer, health.NewServer())

		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		go func() {
			logger.Info("grpc listening", zap.String("addr", addr))
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
	}
	return nil
}

func purgeExpiredSessions(ctx context.Context, logger *zap.Logger, repo *postgres.SessionRepository, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := repo.DeleteExpired(ctx, now)
			if err != nil {
				logger.Warn("expired session purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("purged expired sessions", zap.Int("count", n))
			}
		}
	}
}

// loggingResetRequester records reset requests. Token issue and delivery
// belong to the mail service, which this binary does not include.
type loggingResetRequester struct {
	logger *zap.Logger
}

func (r loggingResetRequester) RequestPasswordReset(_ context.Context, account *authcore.Account) error {
	r.logger.Info("password reset requested", zap.String("account_id", account.ID))
	return nil
}

