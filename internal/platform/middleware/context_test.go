package middleware_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mnemonic-nexus/mnx/internal/platform/middleware"
)

func TestPrincipalRoundTrip(t *testing.T) {
	ctx := middleware.WithPrincipal(context.Background(), "gateway-admin-key")
	v, ok := middleware.GetPrincipal(ctx)
	assert.True(t, ok)
	assert.Equal(t, "gateway-admin-key", v)
}

func TestScopeRoundTrip(t *testing.T) {
	ctx := middleware.WithScope(context.Background(), "write")
	v, ok := middleware.GetScope(ctx)
	assert.True(t, ok)
	assert.Equal(t, "write", v)
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := middleware.WithCorrelationID(context.Background(), "corr-123")
	v, ok := middleware.GetCorrelationID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "corr-123", v)
}

func TestGetters_AbsentWhenUnset(t *testing.T) {
	ctx := context.Background()
	_, ok := middleware.GetPrincipal(ctx)
	assert.False(t, ok)
	_, ok = middleware.GetScope(ctx)
	assert.False(t, ok)
	_, ok = middleware.GetCorrelationID(ctx)
	assert.False(t, ok)
}
