package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemonic-nexus/mnx/internal/platform/config"
)

func TestLoadVaultEnv_Defaults(t *testing.T) {
	env := config.LoadVaultEnv("secret/data/mnx/gateway")
	assert.Equal(t, "http://localhost:8200", env.Addr)
	assert.Equal(t, "root", env.Token)
	assert.Equal(t, "secret/data/mnx/gateway", env.SecretPath)
}

func TestLoadVaultEnv_EnvOverrides(t *testing.T) {
	t.Setenv("VAULT_ADDR", "http://vault.internal:8200")
	t.Setenv("VAULT_TOKEN", "s.mytoken")
	t.Setenv("VAULT_SECRET_PATH", "secret/data/mnx/custom")

	env := config.LoadVaultEnv("secret/data/mnx/gateway")
	assert.Equal(t, "http://vault.internal:8200", env.Addr)
	assert.Equal(t, "s.mytoken", env.Token)
	assert.Equal(t, "secret/data/mnx/custom", env.SecretPath)
}

func TestStringSecret_Found(t *testing.T) {
	secrets := map[string]interface{}{"api_key": "abc123"}
	v, err := config.StringSecret(secrets, "api_key")
	require.NoError(t, err)
	assert.Equal(t, "abc123", v)
}

func TestStringSecret_Missing(t *testing.T) {
	_, err := config.StringSecret(map[string]interface{}{}, "api_key")
	assert.Error(t, err)
}

func TestStringSecret_WrongType(t *testing.T) {
	secrets := map[string]interface{}{"api_key": 42}
	_, err := config.StringSecret(secrets, "api_key")
	assert.Error(t, err)
}

func TestOptionalStringSecret_Present(t *testing.T) {
	secrets := map[string]interface{}{"psk": "supersecret"}
	assert.Equal(t, "supersecret", config.OptionalStringSecret(secrets, "psk", "default"))
}

func TestOptionalStringSecret_MissingFallsBackToDefault(t *testing.T) {
	assert.Equal(t, "default", config.OptionalStringSecret(map[string]interface{}{}, "psk", "default"))
}

func TestOptionalStringSecret_EmptyStringFallsBackToDefault(t *testing.T) {
	secrets := map[string]interface{}{"psk": ""}
	assert.Equal(t, "default", config.OptionalStringSecret(secrets, "psk", "default"))
}

// GetSecret, GetKV2, and LoadSecrets all require a live Vault connection
// and are exercised by integration tests rather than here.
