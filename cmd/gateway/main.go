// Command gateway runs the MNX HTTP ingress: event append, range reads,
// branch registration, and admin fan-out to the registered projectors
// (spec §6).
package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/mnemonic-nexus/mnx/internal/branch"
	"github.com/mnemonic-nexus/mnx/internal/eventstore"
	"github.com/mnemonic-nexus/mnx/internal/gateway"
	"github.com/mnemonic-nexus/mnx/internal/platform/authcache"
	"github.com/mnemonic-nexus/mnx/internal/platform/config"
	"github.com/mnemonic-nexus/mnx/internal/platform/healthgrpc"
	"github.com/mnemonic-nexus/mnx/internal/platform/telemetry"
	"github.com/mnemonic-nexus/mnx/internal/watermark"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "mnx-gateway", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
		}
	}

	vaultEnv := config.LoadVaultEnv("secret/data/mnx/gateway")
	secrets, err := vaultEnv.LoadSecrets()
	if err != nil {
		logger.Fatal("failed to load secrets from Vault", zap.Error(err))
	}

	pgURL, err := config.StringSecret(secrets, "PG_URL")
	if err != nil {
		logger.Fatal("missing PG_URL secret", zap.Error(err))
	}
	redisAddr := config.OptionalStringSecret(secrets, "REDIS_ADDR", "localhost:6379")

	poolCfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		logger.Fatal("failed to parse PG_URL", zap.Error(err))
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()
	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer redisClient.Close()

	cfg := loadGatewayConfig(secrets, logger)

	store := eventstore.New(pool)
	branches := branch.New(pool)
	watermarks := watermark.New(pool)
	limiter := authcache.New(redisClient, cfg.RateLimitPerMinute)

	srv := gateway.New(cfg, store, branches, watermarks, limiter, logger)

	grpcServer, _ := healthgrpc.NewServer()
	lis, err := net.Listen("tcp", ":50051")
	if err != nil {
		logger.Fatal("failed to listen on gRPC port", zap.Error(err))
	}
	go func() {
		logger.Info("mnx-gateway gRPC health server listening on :50051")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc serve failed", zap.Error(err))
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware("mnx-gateway"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request", zap.String("URI", v.URI), zap.Int("status", v.Status))
			return nil
		},
	}))
	e.Use(middleware.Recover())

	srv.Register(e)

	go func() {
		logger.Info("mnx-gateway HTTP server listening on :8080")
		if err := e.Start(":8080"); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()
	logger.Info("mnx-gateway shut down cleanly")
}

// loadGatewayConfig reads the Gateway's recognized options (spec §6) from
// the Vault-loaded secret map. api_keys_by_scope and
// projector_endpoints arrive as JSON-encoded maps since Vault's KV-v2
// values are flat strings.
func loadGatewayConfig(secrets map[string]interface{}, logger *zap.Logger) gateway.Config {
	cfg := gateway.Config{
		APIKeysByScope:              map[string]string{},
		ProjectorEndpoints:          map[string]string{},
		IdempotencyRequiredForKinds: nil,
	}

	if raw, err := config.StringSecret(secrets, "RATE_LIMIT_PER_MINUTE"); err == nil {
		if n, err := strconv.Atoi(raw); err == nil {
			cfg.RateLimitPerMinute = n
		}
	}
	if raw, err := config.StringSecret(secrets, "API_KEYS_BY_SCOPE"); err == nil {
		_ = json.Unmarshal([]byte(raw), &cfg.APIKeysByScope)
	}
	if raw, err := config.StringSecret(secrets, "PROJECTOR_ENDPOINTS"); err == nil {
		_ = json.Unmarshal([]byte(raw), &cfg.ProjectorEndpoints)
	}
	if raw, err := config.StringSecret(secrets, "IDEMPOTENCY_REQUIRED_FOR_KINDS"); err == nil {
		_ = json.Unmarshal([]byte(raw), &cfg.IdempotencyRequiredForKinds)
	}

	if len(cfg.ProjectorEndpoints) == 0 {
		cfg.ProjectorEndpoints = map[string]string{
			"relational":    "http://localhost:8090",
			"semantic":      "http://localhost:8091",
			"graph":         "http://localhost:8092",
			"emo-translator": "http://localhost:8093",
		}
	}
	if len(cfg.APIKeysByScope) == 0 {
		cfg.APIKeysByScope = map[string]string{"dev-admin-key": "admin"}
		logger.Warn("API_KEYS_BY_SCOPE not configured, using insecure default admin key")
	}
	return cfg
}
