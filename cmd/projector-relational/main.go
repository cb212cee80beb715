// Command projector-relational runs the relational projector as a
// standalone service behind the shared Projector SDK runtime (spec
// §4.4, §4.5).
package main

import (
	"context"
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
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/mnemonic-nexus/mnx/internal/eventstore"
	"github.com/mnemonic-nexus/mnx/internal/platform/config"
	"github.com/mnemonic-nexus/mnx/internal/platform/healthgrpc"
	"github.com/mnemonic-nexus/mnx/internal/platform/telemetry"
	"github.com/mnemonic-nexus/mnx/internal/projectorsdk"
	"github.com/mnemonic-nexus/mnx/internal/relational"
)

// intervalSecret reads key as a Vault secret and parses it as seconds,
// falling back to def when unset or unparsable.
func intervalSecret(secrets map[string]interface{}, key string, def int) int {
	raw := config.OptionalStringSecret(secrets, key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "mnx-projector-relational", otelEndpoint)
		if err == nil {
			defer tp.Shutdown(context.Background())
		}
	}

	vaultEnv := config.LoadVaultEnv("secret/data/mnx/projector-relational")
	secrets, err := vaultEnv.LoadSecrets()
	if err != nil {
		logger.Fatal("failed to load secrets from Vault", zap.Error(err))
	}
	pgURL, err := config.StringSecret(secrets, "PG_URL")
	if err != nil {
		logger.Fatal("missing PG_URL secret", zap.Error(err))
	}

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

	store := eventstore.New(pool)
	lens := relational.New()
	runtime := projectorsdk.New(pool, lens, store, logger)
	if err := runtime.StartTicks(intervalSecret(secrets, "HEALTH_INTERVAL_S", 30), intervalSecret(secrets, "METRICS_INTERVAL_S", 30), intervalSecret(secrets, "STATE_HASH_INTERVAL_S", 300)); err != nil {
		logger.Fatal("failed to start admin ticks", zap.Error(err))
	}
	defer runtime.StopTicks()

	grpcServer, _ := healthgrpc.NewServer()
	lis, err := net.Listen("tcp", ":50061")
	if err != nil {
		logger.Fatal("failed to listen on gRPC port", zap.Error(err))
	}
	go func() {
		logger.Info("mnx-projector-relational gRPC health server listening on :50061")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc serve failed", zap.Error(err))
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware("mnx-projector-relational"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request", zap.String("URI", v.URI), zap.Int("status", v.Status))
			return nil
		},
	}))
	e.Use(middleware.Recover())
	runtime.Register(e)

	go func() {
		logger.Info("mnx-projector-relational HTTP server listening on :8090")
		if err := e.Start(":8090"); err != nil && err != http.ErrServerClosed {
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
	logger.Info("mnx-projector-relational shut down cleanly")
}
