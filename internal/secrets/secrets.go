// Package secrets resolves credentials from pluggable backends.
//
// Resolution is read-only: the pipeline looks keys up at startup and never
// writes them back. Every manager falls back to the environment, so a plain
// CORPUS_LLM_API_KEY works regardless of the configured backend.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Well-known secret keys.
const (
	KeyLLMAPIKey    = "llm_api_key"
	KeyQdrantAPIKey = "qdrant_api_key"
)

// DefaultEnvPrefix is prepended to upper-cased keys for env lookups.
const DefaultEnvPrefix = "CORPUS_"

// Resolver looks up a secret by key.
type Resolver interface {
	Lookup(ctx context.Context, key string) (string, error)
	Name() string
}

// Config selects and configures the secrets backend.
type Config struct {
	// Provider is one of "env", "file", "vault". Empty means "env".
	Provider string
	// Vault holds settings for the vault backend.
	Vault *VaultConfig
	// File holds settings for the file backend (development only).
	File *FileConfig
	// EnvPrefix overrides DefaultEnvPrefix for env lookups.
	EnvPrefix string
}

// Manager resolves secrets from a primary backend with env fallback.
// Resolved values are cached for the lifetime of the manager.
type Manager struct {
	primary  Resolver
	fallback Resolver

	mu    sync.RWMutex
	cache map[string]string
}

// NewManager builds a manager for the configured backend.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	var primary Resolver
	var err error
	switch cfg.Provider {
	case "vault":
		primary, err = NewVaultResolver(cfg.Vault)
		if err != nil {
			return nil, fmt.Errorf("vault resolver: %w", err)
		}
	case "file":
		primary, err = NewFileResolver(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("file resolver: %w", err)
		}
	case "env", "":
		primary = NewEnvResolver(cfg.EnvPrefix)
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}

	return &Manager{
		primary:  primary,
		fallback: NewEnvResolver(cfg.EnvPrefix),
		cache:    make(map[string]string),
	}, nil
}

// Lookup resolves a secret, trying the primary backend then the environment.
func (m *Manager) Lookup(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	if val, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		return val, nil
	}
	m.mu.RUnlock()

	val, err := m.primary.Lookup(ctx, key)
	if err != nil || val == "" {
		val, err = m.fallback.Lookup(ctx, key)
	}
	if err != nil || val == "" {
		return "", fmt.Errorf("secret not found: %s", key)
	}

	m.mu.Lock()
	m.cache[key] = val
	m.mu.Unlock()
	return val, nil
}

// LookupOrDefault resolves a secret or returns defaultVal when absent.
func (m *Manager) LookupOrDefault(ctx context.Context, key, defaultVal string) string {
	val, err := m.Lookup(ctx, key)
	if err != nil {
		return defaultVal
	}
	return val
}

// EnvResolver reads secrets from environment variables.
type EnvResolver struct {
	prefix string
}

// NewEnvResolver creates an environment-based resolver.
func NewEnvResolver(prefix string) *EnvResolver {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvResolver{prefix: prefix}
}

func (r *EnvResolver) Name() string { return "env" }

// Lookup tries the prefixed name first, then the bare upper-cased key.
func (r *EnvResolver) Lookup(ctx context.Context, key string) (string, error) {
	envKey := r.prefix + strings.ToUpper(key)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}
	if val := os.Getenv(strings.ToUpper(key)); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("env var not found: %s", envKey)
}
