package authcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemonic-nexus/mnx/internal/platform/authcache"
)

func TestAllow_DisabledWhenLimitNotPositive(t *testing.T) {
	l := authcache.New(nil, 0)
	allowed, err := l.Allow(context.Background(), "any-key", time.Now())
	require.NoError(t, err)
	assert.True(t, allowed)
}

// Allow's counting path requires a live Redis connection and is exercised
// by integration tests rather than here.
