package llmutil

import (
	"testing"
	"time"

	"github.com/efebarandurmaz/corpus/internal/llm"
)

func TestRegisterDefaultProviders(t *testing.T) {
	factory := llm.NewFactory()
	RegisterDefaultProviders(factory)

	for _, name := range []string{"openai", "groq", "ollama", "together", "deepseek", "custom"} {
		cfg := llm.DefaultProviderConfig()
		cfg.Provider = name
		cfg.APIKey = "test-key"
		cfg.Model = "test-model"

		p, err := factory.Create(cfg)
		if err != nil {
			t.Errorf("Create(%s) error = %v", name, err)
			continue
		}
		if p == nil {
			t.Errorf("Create(%s) returned nil provider", name)
		}
	}
}

func TestRegisterDefaultProviders_RateLimitInsideRetry(t *testing.T) {
	factory := llm.NewFactory()
	RegisterDefaultProviders(factory)

	// Without a timeout or retry budget the factory adds no wrapper, so the
	// constructor's own wrapping is visible: rate limiting sits directly over
	// the HTTP client.
	cfg := llm.ProviderConfig{Provider: "groq", APIKey: "test-key", Model: "llama-3.1-8b-instant"}
	p, err := factory.Create(cfg)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, ok := p.(*llm.RateLimitProvider); !ok {
		t.Fatalf("Create() returned %T, want *llm.RateLimitProvider", p)
	}

	// With a timeout the retry wrapper goes outermost, so every retry attempt
	// is accounted against the rate budget.
	cfg.Timeout = time.Minute
	p, err = factory.Create(cfg)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, ok := p.(*llm.RetryProvider); !ok {
		t.Fatalf("Create() with timeout returned %T, want *llm.RetryProvider", p)
	}
}

func TestRegisterDefaultProviders_UnknownStillFails(t *testing.T) {
	factory := llm.NewFactory()
	RegisterDefaultProviders(factory)

	cfg := llm.DefaultProviderConfig()
	cfg.Provider = "anthropic"

	if _, err := factory.Create(cfg); err == nil {
		t.Fatal("expected error for unregistered provider")
	}
}
