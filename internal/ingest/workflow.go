// Package ingest orchestrates the chunk → embed → index pipeline for one
// uploaded document, with bounded retries and idempotent re-ingestion.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/corpus/internal/chunk"
	"github.com/efebarandurmaz/corpus/internal/embed"
	"github.com/efebarandurmaz/corpus/internal/observability"
	"github.com/efebarandurmaz/corpus/internal/vector"
)

// Document is one uploaded document: raw extracted text plus source
// metadata. Immutable once received; re-uploading the same id supersedes
// the prior index entries.
type Document struct {
	ID         string
	Text       string
	Source     string
	UploadedAt time.Time
}

// Options tunes retry behavior and embedding batching.
type Options struct {
	MaxAttempts  int           // attempts per retryable step (default 3)
	InitialDelay time.Duration // first backoff delay (default 500ms)
	MaxDelay     time.Duration // backoff cap (default 30s)
	EmbedBatch   int           // chunks per embedding call (default 16)
	Concurrency  int           // concurrent embedding batches (default 4)
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.EmbedBatch <= 0 {
		o.EmbedBatch = 16
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

// Workflow drives one document through the ingestion state machine.
// Documents ingest independently; a Workflow is safe for concurrent Run
// calls on different documents.
type Workflow struct {
	chunker  *chunk.Chunker
	embedder *embed.Embedder
	repo     vector.Repository
	store    StateStore
	opts     Options
	log      *slog.Logger
}

// NewWorkflow wires the pipeline components together.
func NewWorkflow(chunker *chunk.Chunker, embedder *embed.Embedder, repo vector.Repository, store StateStore, opts Options, log *slog.Logger) *Workflow {
	if log == nil {
		log = slog.Default()
	}
	return &Workflow{
		chunker:  chunker,
		embedder: embedder,
		repo:     repo,
		store:    store,
		opts:     opts.withDefaults(),
		log:      log,
	}
}

// Run ingests one document end to end and returns its final state record.
// On failure the record carries StatusFailed and the last error; the
// returned error is non-nil in that case.
func (w *Workflow) Run(ctx context.Context, doc Document) (*Record, error) {
	start := time.Now()
	ctx, span := observability.StartIngestSpan(ctx, doc.ID, doc.Source)
	defer span.End()

	m := observability.Metrics()
	m.ActiveIngestions.Inc()
	defer m.ActiveIngestions.Dec()
	observability.Audit().LogDocumentReceived(ctx, doc.ID, doc.Source, len(doc.Text))

	rec, err := w.run(ctx, doc)
	if err != nil {
		observability.RecordError(span, err)
		m.RecordIngestion(time.Since(start), 0, err)
		observability.Audit().LogDocumentFailed(ctx, doc.ID, err)
		return rec, err
	}
	observability.RecordIngestResult(span, string(rec.Status), rec.ChunkCount, rec.IndexedCount)
	m.RecordIngestion(time.Since(start), rec.IndexedCount, nil)
	observability.Audit().LogDocumentIndexed(ctx, doc.ID, time.Since(start), rec.ChunkCount, rec.IndexedCount)
	return rec, nil
}

func (w *Workflow) run(ctx context.Context, doc Document) (*Record, error) {
	rec := &Record{DocumentID: doc.ID, Source: doc.Source, Status: StatusReceived}
	if err := w.store.Put(rec); err != nil {
		return nil, fmt.Errorf("persisting state: %w", err)
	}

	chunks, err := w.ChunkStep(ctx, doc, rec)
	if err != nil {
		return rec, err
	}
	if len(chunks) == 0 {
		// Nothing to index; an empty document completes immediately.
		rec.Status = StatusComplete
		if err := w.store.Put(rec); err != nil {
			return rec, fmt.Errorf("persisting state: %w", err)
		}
		w.log.Info("document had no text, nothing indexed", "document_id", doc.ID)
		return rec, nil
	}

	vectors, err := w.EmbedStep(ctx, doc, chunks, rec)
	if err != nil {
		return rec, err
	}

	if _, err := w.IndexStep(ctx, doc, chunks, vectors, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// ChunkStep advances RECEIVED → CHUNKED. Chunking is pure and cheap, so a
// failure here is a configuration problem and is never retried.
func (w *Workflow) ChunkStep(ctx context.Context, doc Document, rec *Record) ([]chunk.Chunk, error) {
	chunks := w.chunker.Split(doc.Text)
	rec.Status = StatusChunked
	rec.ChunkCount = len(chunks)
	if err := w.store.Put(rec); err != nil {
		return nil, fmt.Errorf("persisting state: %w", err)
	}
	w.log.Info("chunked document", "document_id", doc.ID, "chunks", len(chunks))
	return chunks, nil
}

// EmbedStep advances CHUNKED → EMBEDDED. Chunks are embedded in batches;
// batches of one document may run concurrently since embedding is pure and
// order-independent, and results are reassembled in chunk index order.
// Transient backend errors are retried with bounded exponential backoff.
func (w *Workflow) EmbedStep(ctx context.Context, doc Document, chunks []chunk.Chunk, rec *Record) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Concurrency)
	for start := 0; start < len(chunks); start += w.opts.EmbedBatch {
		end := start + w.opts.EmbedBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		offset := start
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, ck := range batch {
				texts[i] = ck.Text
			}
			return w.retry(gctx, "embed", func() error {
				bctx, bspan := observability.StartEmbedSpan(gctx, len(batch))
				defer bspan.End()
				t0 := time.Now()
				vecs, err := w.embedder.Embed(bctx, texts)
				observability.Metrics().RecordEmbedBatch(time.Since(t0), err)
				if err != nil {
					observability.RecordError(bspan, err)
					return err
				}
				copy(vectors[offset:], vecs)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, w.fail(rec, fmt.Errorf("embedding document %s: %w", doc.ID, err))
	}

	rec.Status = StatusEmbedded
	if err := w.store.Put(rec); err != nil {
		return nil, fmt.Errorf("persisting state: %w", err)
	}
	w.log.Info("embedded document", "document_id", doc.ID, "chunks", len(chunks))
	return vectors, nil
}

// IndexStep advances EMBEDDED → INDEXED → COMPLETE. Prior entries of the
// document are deleted first so re-ingestion replaces rather than
// duplicates, then all entries are upserted in one call. Both operations
// are idempotent, so the whole step retries safely after a partial failure.
func (w *Workflow) IndexStep(ctx context.Context, doc Document, chunks []chunk.Chunk, vectors [][]float32, rec *Record) (int, error) {
	if len(vectors) != len(chunks) {
		return 0, w.fail(rec, fmt.Errorf("indexing document %s: %d vectors for %d chunks", doc.ID, len(vectors), len(chunks)))
	}

	entries := make([]vector.Entry, len(chunks))
	for i, ck := range chunks {
		entries[i] = vector.Entry{
			ID:     vector.EntryID(doc.ID, ck.Index),
			Vector: vectors[i],
			Payload: vector.Payload{
				DocumentID: doc.ID,
				ChunkIndex: ck.Index,
				Text:       ck.Text,
				Source:     doc.Source,
			},
		}
	}

	var written int
	err := w.retry(ctx, "index", func() error {
		if _, err := w.repo.DeleteByDocument(ctx, doc.ID); err != nil {
			return err
		}
		n, err := w.repo.Upsert(ctx, entries)
		if err != nil {
			return err
		}
		written = n
		return nil
	})
	if err != nil {
		return 0, w.fail(rec, fmt.Errorf("indexing document %s: %w", doc.ID, err))
	}

	rec.Status = StatusIndexed
	rec.IndexedCount = written
	if err := w.store.Put(rec); err != nil {
		return written, fmt.Errorf("persisting state: %w", err)
	}

	rec.Status = StatusComplete
	if err := w.store.Put(rec); err != nil {
		return written, fmt.Errorf("persisting state: %w", err)
	}
	w.log.Info("indexed document", "document_id", doc.ID, "entries", written)
	return written, nil
}

// fail moves the record to FAILED with the triggering error recorded.
func (w *Workflow) fail(rec *Record, cause error) error {
	rec.Status = StatusFailed
	rec.LastError = cause.Error()
	if err := w.store.Put(rec); err != nil {
		w.log.Error("persisting failed state", "document_id", rec.DocumentID, "error", err)
	}
	w.log.Error("ingestion failed", "document_id", rec.DocumentID, "error", cause)
	return cause
}

// retry runs fn up to MaxAttempts times with exponential backoff and
// jitter, stopping early on non-retryable errors or context cancellation.
func (w *Workflow) retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	delay := w.opts.InitialDelay

	for attempt := 1; attempt <= w.opts.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == w.opts.MaxAttempts {
			break
		}

		w.log.Warn("retrying after transient failure", "op", op, "attempt", attempt, "delay", delay, "error", lastErr)
		jitter := time.Duration(rand.Int64N(int64(delay)/4 + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
		if delay > w.opts.MaxDelay {
			delay = w.opts.MaxDelay
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", w.opts.MaxAttempts, lastErr)
}

// retryable classifies pipeline errors: vector-store outages and transient
// embedding failures retry; everything else (bad config, oversized input,
// cancellation) is final.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, vector.ErrUnavailable) {
		return true
	}
	var embErr *embed.Error
	if errors.As(err, &embErr) {
		return embErr.Retryable()
	}
	return false
}
