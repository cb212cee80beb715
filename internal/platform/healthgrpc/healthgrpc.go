// Package healthgrpc wires the standard grpc_health_v1.Health service
// alongside every service's HTTP port, the same side-by-side
// gRPC+HTTP shape iam-service's main.go runs (grpc.NewServer with
// otelgrpc.NewServerHandler, served in its own goroutine, stopped with
// GracefulStop during shutdown).
package healthgrpc

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
)

// NewServer returns an OTel-instrumented gRPC server with the standard
// health service registered and reporting SERVING, plus the health.Server
// handle so callers can flip to NOT_SERVING during shutdown drain.
func NewServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	return srv, hs
}
