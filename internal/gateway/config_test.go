package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeSatisfies(t *testing.T) {
	tests := []struct {
		have string
		need string
		want bool
	}{
		{"admin", "admin", true},
		{"admin", "write", true},
		{"admin", "read", true},
		{"write", "write", true},
		{"write", "read", true},
		{"write", "admin", false},
		{"read", "write", false},
		{"read", "admin", false},
		{"", "read", false},
		{"unknown", "read", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, scopeSatisfies(tc.have, tc.need), "have=%q need=%q", tc.have, tc.need)
	}
}

func TestConfig_RequiresIdempotency(t *testing.T) {
	cfg := Config{IdempotencyRequiredForKinds: []string{"memory.item.upserted", "memory.item.deleted"}}

	assert.True(t, cfg.requiresIdempotency("memory.item.upserted"))
	assert.True(t, cfg.requiresIdempotency("memory.item.deleted"))
	assert.False(t, cfg.requiresIdempotency("note.created"))
}

func TestConfig_RequiresIdempotency_EmptyList(t *testing.T) {
	cfg := Config{}
	assert.False(t, cfg.requiresIdempotency("anything"))
}
