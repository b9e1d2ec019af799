package e2e

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/efebarandurmaz/corpus/internal/chunk"
	"github.com/efebarandurmaz/corpus/internal/embed"
	"github.com/efebarandurmaz/corpus/internal/ingest"
	"github.com/efebarandurmaz/corpus/internal/llm"
	"github.com/efebarandurmaz/corpus/internal/query"
	"github.com/efebarandurmaz/corpus/internal/vector"
)

const testDim = 16

// bagProvider embeds text as a bag-of-letters histogram, so cosine
// similarity ranks chunks that share words with the query above the rest.
// Completions echo a fixed answer as two stream fragments.
type bagProvider struct{}

func (p *bagProvider) Name() string { return "bag" }

func (p *bagProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, testDim)
		for _, r := range strings.ToLower(text) {
			if r >= 'a' && r <= 'z' {
				vec[int(r-'a')%testDim]++
			}
		}
		out[i] = vec
	}
	return out, nil
}

func (p *bagProvider) Complete(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions) (*llm.Response, error) {
	return &llm.Response{Content: "The answer is in the context."}, nil
}

func (p *bagProvider) Stream(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions) (<-chan llm.StreamEvent, error) {
	events := make(chan llm.StreamEvent, 3)
	events <- llm.StreamEvent{Delta: "The answer is "}
	events <- llm.StreamEvent{Delta: "in the context."}
	events <- llm.StreamEvent{Done: true}
	close(events)
	return events, nil
}

// memRepo is an in-memory Repository with real cosine ranking.
type memRepo struct {
	mu      sync.Mutex
	entries map[string]vector.Entry
}

func newMemRepo() *memRepo {
	return &memRepo{entries: make(map[string]vector.Entry)}
}

func (r *memRepo) Upsert(ctx context.Context, entries []vector.Entry) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		r.entries[e.ID] = e
	}
	return len(entries), nil
}

func (r *memRepo) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.entries {
		if e.Payload.DocumentID == documentID {
			delete(r.entries, id)
			removed++
		}
	}
	return removed, nil
}

func (r *memRepo) Search(ctx context.Context, vec []float32, k int, filter *vector.SearchFilter) ([]vector.SearchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var results []vector.SearchResult
	for _, e := range r.entries {
		if filter != nil && filter.Source != "" && e.Payload.Source != filter.Source {
			continue
		}
		results = append(results, vector.SearchResult{
			ID:      e.ID,
			Score:   cosine(vec, e.Vector),
			Payload: e.Payload,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (r *memRepo) ListSources(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	for _, e := range r.entries {
		seen[e.Payload.Source] = true
	}
	var sources []string
	for s := range seen {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources, nil
}

func (r *memRepo) Close() error { return nil }

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func newPipeline(t *testing.T) (*ingest.Workflow, *query.Engine, *memRepo, *ingest.FileStore) {
	t.Helper()

	provider := &bagProvider{}
	embedder := embed.New(provider, embed.Config{Dimension: testDim})
	repo := newMemRepo()

	store, err := ingest.OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("state store: %v", err)
	}

	chunker, err := chunk.New(80, 16)
	if err != nil {
		t.Fatalf("chunker: %v", err)
	}

	wf := ingest.NewWorkflow(chunker, embedder, repo, store, ingest.Options{}, nil)
	engine := query.NewEngine(embedder, repo, provider, query.EngineConfig{TopK: 3}, nil)
	return wf, engine, repo, store
}

func TestPipeline_IngestThenAsk(t *testing.T) {
	ctx := context.Background()
	wf, engine, _, store := newPipeline(t)

	docs := []ingest.Document{
		{ID: "zebras.txt", Source: "zebras.txt", Text: strings.Repeat("Zebras have black and white stripes for camouflage. ", 5)},
		{ID: "rivers.txt", Source: "rivers.txt", Text: strings.Repeat("Rivers flow downhill toward the ocean or a lake. ", 5)},
	}
	for _, doc := range docs {
		rec, err := wf.Run(ctx, doc)
		if err != nil {
			t.Fatalf("ingest %s: %v", doc.ID, err)
		}
		if rec.Status != ingest.StatusComplete {
			t.Fatalf("ingest %s: status %s, want %s", doc.ID, rec.Status, ingest.StatusComplete)
		}
		if rec.IndexedCount == 0 {
			t.Fatalf("ingest %s: nothing indexed", doc.ID)
		}
	}

	res, err := engine.Ask(ctx, "Why do zebras have stripes?", query.AskOptions{})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}

	var answer strings.Builder
	for ev := range res.Events {
		if ev.Err != nil {
			t.Fatalf("stream error: %v", ev.Err)
		}
		answer.WriteString(ev.Delta)
	}
	if answer.String() == "" {
		t.Fatal("expected a non-empty streamed answer")
	}

	if len(res.Citations) == 0 {
		t.Fatal("expected citations")
	}
	// The top citation must come from the document that shares vocabulary
	// with the question.
	if res.Citations[0].DocumentID != "zebras.txt" {
		t.Fatalf("top citation from %s, want zebras.txt", res.Citations[0].DocumentID)
	}

	records, err := store.List()
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 ingestion records, got %d", len(records))
	}
}

func TestPipeline_SourceFilter(t *testing.T) {
	ctx := context.Background()
	wf, engine, _, _ := newPipeline(t)

	for _, doc := range []ingest.Document{
		{ID: "a.txt", Source: "a.txt", Text: "Alpha document about zebras and stripes."},
		{ID: "b.txt", Source: "b.txt", Text: "Beta document about zebras and stripes."},
	} {
		if _, err := wf.Run(ctx, doc); err != nil {
			t.Fatalf("ingest %s: %v", doc.ID, err)
		}
	}

	ans, err := engine.AskOnce(ctx, "zebras stripes", query.AskOptions{Source: "b.txt"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	for _, c := range ans.Citations {
		if c.Source != "b.txt" {
			t.Fatalf("citation from %s leaked through source filter", c.Source)
		}
	}
}

func TestPipeline_ReingestReplacesIndex(t *testing.T) {
	ctx := context.Background()
	wf, engine, repo, _ := newPipeline(t)

	long := ingest.Document{ID: "doc", Source: "doc", Text: strings.Repeat("Original text about glaciers moving slowly. ", 10)}
	if _, err := wf.Run(ctx, long); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	before := len(repo.entries)

	short := ingest.Document{ID: "doc", Source: "doc", Text: "Revised glacier note."}
	rec, err := wf.Run(ctx, short)
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if rec.Status != ingest.StatusComplete {
		t.Fatalf("re-ingest status %s", rec.Status)
	}
	if len(repo.entries) >= before {
		t.Fatalf("expected fewer entries after re-ingest, had %d now %d", before, len(repo.entries))
	}

	ans, err := engine.AskOnce(ctx, "glaciers", query.AskOptions{})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	for _, c := range ans.Citations {
		if !strings.Contains(c.Source, "doc") {
			t.Fatalf("unexpected citation source %s", c.Source)
		}
	}
}
