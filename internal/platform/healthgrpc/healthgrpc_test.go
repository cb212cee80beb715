package healthgrpc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mnemonic-nexus/mnx/internal/platform/healthgrpc"
)

func TestNewServer_ReportsServing(t *testing.T) {
	srv, hs := healthgrpc.NewServer()
	defer srv.Stop()

	resp, err := hs.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
}
