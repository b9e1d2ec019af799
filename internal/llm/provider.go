package llm

import "context"

// Provider is the interface all LLM backends must implement.
type Provider interface {
	// Complete sends a prompt and returns the full completion.
	Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error)
	// Stream sends a prompt and returns a channel of completion fragments.
	// The channel is closed after a terminal event: either Done or Err is
	// set. Cancelling ctx stops consumption and releases the connection.
	Stream(ctx context.Context, prompt *Prompt, opts *RequestOptions) (<-chan StreamEvent, error)
	// Embed returns embedding vectors for the given texts, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns the provider identifier (e.g. "openai", "groq").
	Name() string
}

// StreamEvent is one element of a completion stream. Exactly one terminal
// event arrives before the channel closes: Done on normal completion, Err
// when the stream fails after zero or more fragments.
type StreamEvent struct {
	Delta string
	Done  bool
	Err   error
}

// RequestOptions tunes a single completion request. Nil fields fall back to
// provider defaults.
type RequestOptions struct {
	MaxTokens   *int
	Temperature *float64
	TopP        *float64
	StopSeqs    []string
}
