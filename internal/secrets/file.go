package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileConfig configures the file-based resolver.
// The file backend is for development only; use vault or env in production.
type FileConfig struct {
	// Path is the path to a flat JSON object of key/value pairs.
	Path string
}

// FileResolver reads secrets from a JSON file loaded at construction.
type FileResolver struct {
	path string

	mu   sync.RWMutex
	data map[string]string
}

// NewFileResolver loads the secrets file. A missing file is an error; the
// resolver never creates or writes files.
func NewFileResolver(cfg *FileConfig) (*FileResolver, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("file path required")
	}
	r := &FileResolver{path: cfg.Path, data: make(map[string]string)}
	if err := r.Reload(); err != nil {
		return nil, fmt.Errorf("load secrets file: %w", err)
	}
	return r, nil
}

func (r *FileResolver) Name() string { return "file" }

func (r *FileResolver) Lookup(ctx context.Context, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.data[key]
	if !ok {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return val, nil
}

// Reload re-reads the file, replacing the in-memory map.
func (r *FileResolver) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}
	parsed := make(map[string]string)
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse %s: %w", r.path, err)
	}
	r.mu.Lock()
	r.data = parsed
	r.mu.Unlock()
	return nil
}
