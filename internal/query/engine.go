package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/efebarandurmaz/corpus/internal/embed"
	"github.com/efebarandurmaz/corpus/internal/llm"
	"github.com/efebarandurmaz/corpus/internal/observability"
	"github.com/efebarandurmaz/corpus/internal/vector"
)

// StreamError reports a completion stream that failed after zero or more
// fragments had already been delivered. Callers that rendered partial
// output can tell the reader how much of the answer arrived.
type StreamError struct {
	Fragments int
	Err       error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("answer stream failed after %d fragments: %v", e.Fragments, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// EngineConfig carries the retrieval and generation defaults.
type EngineConfig struct {
	TopK             int
	MaxContextTokens int
	MaxTokens        int
	Temperature      float64
}

// AskOptions overrides per-question settings. Zero values fall back to the
// engine defaults.
type AskOptions struct {
	TopK   int
	Source string // restrict retrieval to one document source
}

// Engine answers questions over the index.
type Engine struct {
	embedder  *embed.Embedder
	repo      vector.Repository
	provider  llm.Provider
	assembler Assembler
	cfg       EngineConfig
	log       *slog.Logger
}

// NewEngine wires retrieval and generation together.
func NewEngine(embedder *embed.Embedder, repo vector.Repository, provider llm.Provider, cfg EngineConfig, log *slog.Logger) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 3000
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		embedder:  embedder,
		repo:      repo,
		provider:  provider,
		assembler: Assembler{MaxContextTokens: cfg.MaxContextTokens},
		cfg:       cfg,
		log:       log,
	}
}

// Result is a streaming answer in progress. Events carries answer
// fragments and exactly one terminal event; Citations lists the chunks the
// prompt was grounded on, known before the first fragment arrives.
type Result struct {
	Events    <-chan llm.StreamEvent
	Citations []Citation
}

// Ask retrieves context for the question and streams the model's answer.
// Embedding and retrieval failures surface immediately as the returned
// error; stream failures arrive as a terminal Err event wrapped in
// *StreamError, after any fragments already produced. Cancelling ctx stops
// the stream.
func (e *Engine) Ask(ctx context.Context, question string, opts AskOptions) (*Result, error) {
	start := time.Now()
	prompt, citations, err := e.prepare(ctx, question, opts)
	if err != nil {
		observability.Audit().LogQueryFailed(ctx, err)
		return nil, err
	}

	sctx, span := observability.StartLLMSpan(ctx, e.provider.Name(), "")
	events, err := e.provider.Stream(sctx, prompt, e.requestOptions())
	if err != nil {
		observability.RecordError(span, err)
		span.End()
		observability.Audit().LogQueryFailed(ctx, err)
		return nil, fmt.Errorf("starting answer stream: %w", err)
	}

	out := make(chan llm.StreamEvent)
	go func() {
		defer close(out)
		defer span.End()
		var fragments int
		for {
			var ev llm.StreamEvent
			var ok bool
			select {
			case ev, ok = <-events:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
			if ev.Err != nil {
				ev.Err = &StreamError{Fragments: fragments, Err: ev.Err}
				observability.RecordError(span, ev.Err)
				observability.Metrics().StreamFailuresTotal.Inc()
				observability.Audit().LogQueryFailed(ctx, ev.Err)
			} else if ev.Delta != "" {
				fragments++
			}
			if ev.Done {
				observability.Audit().LogQueryAnswered(ctx, time.Since(start), len(citations), fragments)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return &Result{Events: out, Citations: citations}, nil
}

// Answer is a complete, non-streamed response.
type Answer struct {
	Text      string
	Citations []Citation
}

// AskOnce answers without streaming. Reasoning models that emit
// <think> blocks get them stripped here; the streaming path passes
// fragments through untouched.
func (e *Engine) AskOnce(ctx context.Context, question string, opts AskOptions) (*Answer, error) {
	prompt, citations, err := e.prepare(ctx, question, opts)
	if err != nil {
		observability.Audit().LogQueryFailed(ctx, err)
		return nil, err
	}

	sctx, span := observability.StartLLMSpan(ctx, e.provider.Name(), "")
	defer span.End()
	t0 := time.Now()
	resp, err := e.provider.Complete(sctx, prompt, e.requestOptions())
	if err != nil {
		observability.RecordError(span, err)
		observability.Metrics().RecordLLMRequest(time.Since(t0), 0, err)
		observability.Audit().LogQueryFailed(ctx, err)
		return nil, fmt.Errorf("completing answer: %w", err)
	}
	observability.Metrics().RecordLLMRequest(time.Since(t0), resp.InputTokens+resp.OutputTokens, nil)
	observability.RecordLLMMetrics(span, resp.InputTokens, resp.OutputTokens, time.Since(t0))
	return &Answer{
		Text:      llm.SanitizeAnswer(resp.Content),
		Citations: citations,
	}, nil
}

// Sources lists the distinct document sources available for filtering.
func (e *Engine) Sources(ctx context.Context) ([]string, error) {
	return e.repo.ListSources(ctx)
}

func (e *Engine) prepare(ctx context.Context, question string, opts AskOptions) (*llm.Prompt, []Citation, error) {
	qvec, err := e.embedder.EmbedOne(ctx, question)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding question: %w", err)
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = e.cfg.TopK
	}
	var filter *vector.SearchFilter
	if opts.Source != "" {
		filter = &vector.SearchFilter{Source: opts.Source}
	}
	observability.Audit().LogQueryAsked(ctx, len(question), topK, opts.Source)

	sctx, span := observability.StartSearchSpan(ctx, topK, opts.Source)
	defer span.End()
	t0 := time.Now()
	results, err := e.repo.Search(sctx, qvec, topK, filter)
	observability.Metrics().RecordSearch(time.Since(t0), err)
	if err != nil {
		observability.RecordError(span, err)
		return nil, nil, fmt.Errorf("searching index: %w", err)
	}
	var topScore float64
	if len(results) > 0 {
		topScore = float64(results[0].Score)
	}
	observability.RecordSearchResult(span, len(results), topScore)
	e.log.Debug("retrieved context", "question_len", len(question), "hits", len(results))

	prompt, citations := e.assembler.Assemble(question, results)
	return prompt, citations, nil
}

func (e *Engine) requestOptions() *llm.RequestOptions {
	opts := &llm.RequestOptions{}
	if e.cfg.MaxTokens > 0 {
		mt := e.cfg.MaxTokens
		opts.MaxTokens = &mt
	}
	temp := e.cfg.Temperature
	opts.Temperature = &temp
	return opts
}
