// Package config loads per-service secrets from Vault, the same way the
// teacher's go-core/config/vault.go does, and layers typed configuration
// structs over them matching spec §6's recognized option sets.
package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/vault/api"
)

// SecretManager wraps the Vault API client for reading secrets.
type SecretManager struct {
	client *api.Client
}

// NewSecretManager creates a Vault client pointed at the given address and
// authenticated with the provided token.
func NewSecretManager(address, token string) (*SecretManager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &SecretManager{client: client}, nil
}

// GetSecret reads a secret at the given path and returns the raw data map.
// For KV v2 backends the caller must unwrap the nested "data" key.
func (s *SecretManager) GetSecret(path string) (map[string]interface{}, error) {
	secret, err := s.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	return secret.Data, nil
}

// GetKV2 is a convenience wrapper that reads from a KV v2 backend and
// returns the inner "data" map, unwrapping the v2 envelope automatically.
func (s *SecretManager) GetKV2(path string) (map[string]interface{}, error) {
	raw, err := s.GetSecret(path)
	if err != nil {
		return nil, err
	}
	data, ok := raw["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}
	return data, nil
}

// VaultEnv holds the VAULT_ADDR / VAULT_TOKEN / VAULT_SECRET_PATH triple
// every service reads the same way, with the teacher's exact local-dev
// fallbacks.
type VaultEnv struct {
	Addr       string
	Token      string
	SecretPath string
}

// LoadVaultEnv reads the standard Vault bootstrap environment variables,
// defaulting secretPath to the given service-scoped default when unset.
func LoadVaultEnv(defaultSecretPath string) VaultEnv {
	addr := os.Getenv("VAULT_ADDR")
	if addr == "" {
		addr = "http://localhost:8200"
	}
	token := os.Getenv("VAULT_TOKEN")
	if token == "" {
		token = "root"
	}
	path := os.Getenv("VAULT_SECRET_PATH")
	if path == "" {
		path = defaultSecretPath
	}
	return VaultEnv{Addr: addr, Token: token, SecretPath: path}
}

// LoadSecrets connects to Vault and fetches the KV-v2 secret map for this
// environment in one call, matching the three-line idiom repeated at the
// top of every teacher cmd/*/main.go.
func (v VaultEnv) LoadSecrets() (map[string]interface{}, error) {
	mgr, err := NewSecretManager(v.Addr, v.Token)
	if err != nil {
		return nil, err
	}
	return mgr.GetKV2(v.SecretPath)
}

// StringSecret reads a required string secret, returning an error if it is
// absent or not a string.
func StringSecret(secrets map[string]interface{}, key string) (string, error) {
	v, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("secret %q not found", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("secret %q is not a string", key)
	}
	return s, nil
}

// OptionalStringSecret reads a string secret, falling back to def when
// absent. Mirrors the WEBHOOK_PSK fallback chain in iam-service's main.go
// (secret → env var → insecure dev default, with a warning left to the
// caller).
func OptionalStringSecret(secrets map[string]interface{}, key, def string) string {
	v, ok := secrets[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return def
	}
	return s
}
