// Package llmutil provides shared provider registration used across binaries.
package llmutil

import (
	"github.com/efebarandurmaz/corpus/internal/llm"
	"github.com/efebarandurmaz/corpus/internal/llm/openai"
)

// RegisterDefaultProviders registers all built-in LLM provider constructors
// (openai and all OpenAI-compatible providers) into factory. Both cmd/corpus
// and cmd/worker call this to avoid duplicating registration logic across
// binaries.
//
// Each constructor applies the rate limiter directly over the HTTP client,
// so when the factory adds a retry wrapper every retry attempt is accounted
// against the rate budget.
func RegisterDefaultProviders(factory *llm.ProviderFactory) {
	factory.Register("openai", func(c llm.ProviderConfig) (llm.Provider, error) {
		return rateLimited(openai.New(c.APIKey, c.Model, c.BaseURL, c.EmbedModel)), nil
	})
	// All OpenAI-compatible providers
	for _, p := range []struct{ name, url string }{
		{"groq", llm.KnownProviders["groq"]},
		{"ollama", llm.KnownProviders["ollama"]},
		{"together", llm.KnownProviders["together"]},
		{"deepseek", llm.KnownProviders["deepseek"]},
		{"custom", ""},
	} {
		p := p
		factory.Register(p.name, func(c llm.ProviderConfig) (llm.Provider, error) {
			base := c.BaseURL
			if base == "" {
				base = p.url
			}
			return rateLimited(openai.New(c.APIKey, c.Model, base, c.EmbedModel)), nil
		})
	}
}

func rateLimited(p llm.Provider) llm.Provider {
	return llm.WithRateLimit(p, llm.DefaultRateLimitConfig())
}
