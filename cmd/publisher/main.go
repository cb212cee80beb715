// Command publisher runs the CDC Publisher: it drains the event_log
// outbox and fans every event out to the registered projectors and the
// EMO translator (spec §4.3).
package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mnemonic-nexus/mnx/internal/eventstore"
	"github.com/mnemonic-nexus/mnx/internal/platform/config"
	"github.com/mnemonic-nexus/mnx/internal/platform/healthgrpc"
	"github.com/mnemonic-nexus/mnx/internal/platform/telemetry"
	"github.com/mnemonic-nexus/mnx/internal/publisher"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "mnx-publisher", otelEndpoint)
		if err == nil {
			defer tp.Shutdown(context.Background())
		}
		mp, err := telemetry.InitMeterProvider(context.Background(), "mnx-publisher", otelEndpoint)
		if err == nil {
			defer mp.Shutdown(context.Background())
		}
	}

	vaultEnv := config.LoadVaultEnv("secret/data/mnx/publisher")
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

	subscribers := loadSubscribers(secrets)
	metrics, err := publisher.NewMetrics(otel.Meter("mnx-publisher"))
	if err != nil {
		logger.Fatal("failed to register publisher metrics", zap.Error(err))
	}

	cfg := publisher.Config{RequestTimeout: 10 * time.Second}
	pub := publisher.New(store, subscribers, cfg, metrics, logger)

	dlqSpec := config.OptionalStringSecret(secrets, "DLQ_SWEEP_CRON", "@hourly")
	sweep := publisher.NewDLQSweep(store, dlqSpec, logger)
	sweep.Start()

	pubCtx, pubCancel := context.WithCancel(context.Background())
	go pub.Run(pubCtx)

	grpcServer, _ := healthgrpc.NewServer()
	lis, err := net.Listen("tcp", ":50052")
	if err != nil {
		logger.Fatal("failed to listen on gRPC port", zap.Error(err))
	}
	go func() {
		logger.Info("mnx-publisher gRPC health server listening on :50052")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc serve failed", zap.Error(err))
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	go func() {
		logger.Info("mnx-publisher HTTP health server listening on :8081")
		if err := e.Start(":8081"); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failure", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("initiating graceful shutdown")
	pubCancel()
	sweep.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()
	logger.Info("mnx-publisher shut down cleanly")
}

// loadSubscribers reads the SUBSCRIBERS secret, a JSON array of
// {"name","url"} pairs, falling back to the default four-lens topology
// used by local/dev deployments when unset.
func loadSubscribers(secrets map[string]interface{}) []publisher.Subscriber {
	var subs []publisher.Subscriber
	if raw, err := config.StringSecret(secrets, "SUBSCRIBERS"); err == nil {
		_ = json.Unmarshal([]byte(raw), &subs)
	}
	if len(subs) == 0 {
		subs = []publisher.Subscriber{
			{Name: "relational", URL: "http://localhost:8090"},
			{Name: "semantic", URL: "http://localhost:8091"},
			{Name: "graph", URL: "http://localhost:8092"},
			{Name: "emo-translator", URL: "http://localhost:8093"},
		}
	}
	return subs
}
