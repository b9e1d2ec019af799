package llm

import (
	"context"
	"testing"
	"time"
)

// countingBackend records how many calls reach the upstream API.
type countingBackend struct {
	completions int
	embeds      int
	streams     int
	usage       int
}

func (c *countingBackend) Name() string { return "counting" }

func (c *countingBackend) Complete(_ context.Context, _ *Prompt, _ *RequestOptions) (*Response, error) {
	c.completions++
	return &Response{
		Content:      "answer",
		InputTokens:  c.usage / 2,
		OutputTokens: c.usage - c.usage/2,
	}, nil
}

func (c *countingBackend) Stream(_ context.Context, _ *Prompt, _ *RequestOptions) (<-chan StreamEvent, error) {
	c.streams++
	ch := make(chan StreamEvent, 1)
	ch <- StreamEvent{Done: true}
	close(ch)
	return ch, nil
}

func (c *countingBackend) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.embeds++
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.5}
	}
	return out, nil
}

func TestRateLimit_BurstOfEmbedBatchesPasses(t *testing.T) {
	backend := &countingBackend{}
	rl := NewRateLimitProvider(backend, &RateLimitConfig{
		RequestsPerMinute: 60,
		TokensPerMinute:   100000,
		BurstSize:         4,
	})

	// An ingestion embeds its chunks in consecutive batches; the burst
	// allowance covers one document without throttling.
	for i := 0; i < 4; i++ {
		if _, err := rl.Embed(context.Background(), []string{"chunk a", "chunk b"}); err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
	}
	if backend.embeds != 4 {
		t.Errorf("upstream saw %d batches, want 4", backend.embeds)
	}
}

func TestRateLimit_ThrottledCallHonorsCancellation(t *testing.T) {
	backend := &countingBackend{}
	rl := NewRateLimitProvider(backend, &RateLimitConfig{
		RequestsPerMinute: 1, // refills far slower than the test runs
		TokensPerMinute:   100000,
		BurstSize:         1,
	})

	if _, err := rl.Embed(context.Background(), []string{"chunk"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := rl.Embed(ctx, []string{"chunk"}); err != context.Canceled {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if backend.embeds != 1 {
		t.Errorf("upstream saw %d batches, want 1", backend.embeds)
	}
}

func TestRateLimit_CompletionUsageCountsAgainstBudget(t *testing.T) {
	backend := &countingBackend{usage: 6000}
	rl := NewRateLimitProvider(backend, &RateLimitConfig{
		RequestsPerMinute: 100,
		TokensPerMinute:   12000,
		BurstSize:         10,
	})

	ctx := context.Background()
	prompt := &Prompt{Messages: []Message{{Role: "user", Content: "what do zebras eat?"}}}
	for i := 0; i < 2; i++ {
		if _, err := rl.Complete(ctx, prompt, nil); err != nil {
			t.Fatal(err)
		}
	}

	stats := rl.Stats()
	if stats.TokensInWindow != 12000 {
		t.Errorf("TokensInWindow = %d, want 12000", stats.TokensInWindow)
	}
	if stats.RemainingTokens != 0 {
		t.Errorf("RemainingTokens = %d, want 0", stats.RemainingTokens)
	}
	if stats.RequestsInWindow != 2 {
		t.Errorf("RequestsInWindow = %d, want 2", stats.RequestsInWindow)
	}
}

func TestRateLimit_StreamTakesARequestSlot(t *testing.T) {
	backend := &countingBackend{}
	rl := NewRateLimitProvider(backend, &RateLimitConfig{
		RequestsPerMinute: 1,
		TokensPerMinute:   100000,
		BurstSize:         1,
	})

	if _, err := rl.Stream(context.Background(), &Prompt{}, nil); err != nil {
		t.Fatal(err)
	}

	// The stream consumed the only slot; the next call throttles.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := rl.Embed(ctx, []string{"chunk"}); err == nil {
		t.Error("expected the follow-up call to be throttled")
	}
}

func TestRateLimit_ZeroLimitsDisableThrottling(t *testing.T) {
	backend := &countingBackend{usage: 50}
	rl := NewRateLimitProvider(backend, &RateLimitConfig{})

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		if _, err := rl.Complete(ctx, &Prompt{}, nil); err != nil {
			t.Fatal(err)
		}
	}
	if backend.completions != 20 {
		t.Errorf("upstream saw %d completions, want 20", backend.completions)
	}
}

func TestRateLimit_DefaultsMatchFreeTier(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerMinute != 25 || cfg.TokensPerMinute != 25000 || cfg.BurstSize != 3 {
		t.Errorf("defaults = %+v", cfg)
	}

	rl := NewRateLimitProvider(&countingBackend{}, nil)
	if rl.Stats().RemainingRequests != 3 {
		t.Errorf("nil config must start with the default burst, got %d", rl.Stats().RemainingRequests)
	}
}

func TestWithRateLimit_NilProvider(t *testing.T) {
	if WithRateLimit(nil, nil) != nil {
		t.Error("nil provider must stay nil")
	}
}

func TestWithRateLimit_PreservesName(t *testing.T) {
	p := WithRateLimit(&countingBackend{}, DefaultRateLimitConfig())
	if p.Name() != "counting" {
		t.Errorf("Name() = %q, want the inner provider's name", p.Name())
	}
}
