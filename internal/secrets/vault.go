package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// VaultConfig configures the HashiCorp Vault resolver (KV v2 engine).
type VaultConfig struct {
	// Address is the Vault server address, e.g. "http://localhost:8200".
	Address string
	// Token authenticates the lookup.
	Token string
	// MountPath is the KV engine mount (default "secret").
	MountPath string
	// SecretPath is the path under the mount (default "corpus").
	SecretPath string
	// Timeout bounds each Vault request.
	Timeout time.Duration
}

// VaultResolver reads secrets from a single KV v2 path. All keys live in
// one secret object, so one GET serves every lookup.
type VaultResolver struct {
	cfg    VaultConfig
	client *http.Client
}

// NewVaultResolver validates the config and builds a resolver.
func NewVaultResolver(cfg *VaultConfig) (*VaultResolver, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, fmt.Errorf("vault address required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("vault token required")
	}
	c := *cfg
	if c.MountPath == "" {
		c.MountPath = "secret"
	}
	if c.SecretPath == "" {
		c.SecretPath = "corpus"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return &VaultResolver{
		cfg:    c,
		client: &http.Client{Timeout: c.Timeout},
	}, nil
}

func (r *VaultResolver) Name() string { return "vault" }

func (r *VaultResolver) Lookup(ctx context.Context, key string) (string, error) {
	data, err := r.read(ctx)
	if err != nil {
		return "", err
	}
	val, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key not found in vault: %s", key)
	}
	if s, ok := val.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", val), nil
}

func (r *VaultResolver) url() string {
	return fmt.Sprintf("%s/v1/%s/data/%s",
		strings.TrimSuffix(r.cfg.Address, "/"), r.cfg.MountPath, r.cfg.SecretPath)
}

func (r *VaultResolver) read(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Vault-Token", r.cfg.Token)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("secret path not found: %s", r.cfg.SecretPath)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vault error %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.Data.Data, nil
}
