// Package embed adapts an LLM provider's embeddings endpoint to the
// fixed-dimension vectors the index expects.
package embed

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/efebarandurmaz/corpus/internal/llm"
)

// Error reports a failed embedding operation. Backend failures are
// retryable; oversized input is not, since the caller must pre-chunk
// instead of relying on silent truncation.
type Error struct {
	Op        string
	Err       error
	retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("embedding %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether retrying the operation can succeed.
func (e *Error) Retryable() bool { return e.retryable }

func backendErr(op string, err error) *Error {
	return &Error{Op: op, Err: err, retryable: llm.IsRetryable(err)}
}

// Config fixes the embedding model's published properties. These are
// configuration values, not discovered at call time.
type Config struct {
	Dimension     int
	MaxInputChars int
	CacheSize     int           // 0 disables the cache
	Timeout       time.Duration // per-call deadline on the backend, 0 disables
}

// Embedder maps texts to dense vectors via the provider, with a bounded
// cache for repeated texts. Batched and one-at-a-time calls return
// identical vectors for identical inputs.
type Embedder struct {
	provider llm.Provider
	cfg      Config
	cache    *textCache
}

// New creates an Embedder over the given provider.
func New(provider llm.Provider, cfg Config) *Embedder {
	var cache *textCache
	if cfg.CacheSize > 0 {
		cache = newTextCache(cfg.CacheSize)
	}
	return &Embedder{provider: provider, cfg: cfg, cache: cache}
}

// Dimension returns the fixed output vector size.
func (e *Embedder) Dimension() int { return e.cfg.Dimension }

// Embed returns one vector per input text, preserving order. Inputs longer
// than the model's maximum are rejected, never truncated.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if e.cfg.MaxInputChars > 0 && len([]rune(t)) > e.cfg.MaxInputChars {
			return nil, &Error{
				Op:  "validate",
				Err: fmt.Errorf("input %d has %d chars, model maximum is %d", i, len([]rune(t)), e.cfg.MaxInputChars),
			}
		}
	}

	out := make([][]float32, len(texts))
	var misses []int
	if e.cache != nil {
		for i, t := range texts {
			if vec, ok := e.cache.get(t); ok {
				out[i] = vec
			} else {
				misses = append(misses, i)
			}
		}
	} else {
		misses = make([]int, len(texts))
		for i := range texts {
			misses[i] = i
		}
	}

	if len(misses) > 0 {
		uncached := make([]string, len(misses))
		for j, i := range misses {
			uncached[j] = texts[i]
		}
		bctx := ctx
		if e.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			bctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
			defer cancel()
		}
		vectors, err := e.provider.Embed(bctx, uncached)
		if err != nil {
			return nil, backendErr("backend", err)
		}
		if len(vectors) != len(uncached) {
			return nil, &Error{
				Op:  "backend",
				Err: fmt.Errorf("got %d vectors for %d inputs", len(vectors), len(uncached)),
			}
		}
		for j, i := range misses {
			out[i] = vectors[j]
			if e.cache != nil {
				e.cache.put(texts[i], vectors[j])
			}
		}
	}

	for i, vec := range out {
		if len(vec) != e.cfg.Dimension {
			return nil, &Error{
				Op:  "validate",
				Err: fmt.Errorf("vector %d has dimension %d, index requires %d", i, len(vec), e.cfg.Dimension),
			}
		}
	}
	return out, nil
}

// EmbedOne embeds a single text.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// textCache is a bounded insertion-order cache keyed by a text hash. Safe
// for concurrent use: one Embedder is shared across concurrent batches.
type textCache struct {
	mu      sync.Mutex
	max     int
	entries map[string][]float32
	order   []string
}

func newTextCache(max int) *textCache {
	return &textCache{
		max:     max,
		entries: make(map[string][]float32, max),
	}
}

func hashKey(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:8])
}

func (c *textCache) get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.entries[hashKey(text)]
	return vec, ok
}

func (c *textCache) put(text string, vec []float32) {
	key := hashKey(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return
	}
	if len(c.entries) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = vec
	c.order = append(c.order, key)
}
