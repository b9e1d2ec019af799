package temporal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/efebarandurmaz/corpus/internal/chunk"
	"github.com/efebarandurmaz/corpus/internal/ingest"
)

// ActivityResult is the serializable result passed between activities.
// Chunks and vectors travel as JSON so Temporal can persist them in
// workflow history.
type ActivityResult struct {
	ChunksJSON  string
	VectorsJSON string
	Count       int
}

// Dependencies holds shared resources injected into activities.
type Dependencies struct {
	Ingest *ingest.Workflow
	Store  ingest.StateStore
}

var deps *Dependencies

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

func document(input IngestionInput) ingest.Document {
	return ingest.Document{
		ID:         input.DocumentID,
		Text:       input.Text,
		Source:     input.Source,
		UploadedAt: input.UploadedAt,
	}
}

// loadRecord fetches the persisted state for the document, or starts a
// fresh record on first sight.
func loadRecord(input IngestionInput) (*ingest.Record, error) {
	rec, err := deps.Store.Get(input.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	if rec == nil {
		rec = &ingest.Record{
			DocumentID: input.DocumentID,
			Source:     input.Source,
			Status:     ingest.StatusReceived,
		}
		if err := deps.Store.Put(rec); err != nil {
			return nil, fmt.Errorf("persisting state: %w", err)
		}
	}
	return rec, nil
}

func ChunkActivity(ctx context.Context, input IngestionInput) (ActivityResult, error) {
	rec, err := loadRecord(input)
	if err != nil {
		return ActivityResult{}, err
	}

	chunks, err := deps.Ingest.ChunkStep(ctx, document(input), rec)
	if err != nil {
		return ActivityResult{}, err
	}

	chunksJSON, err := json.Marshal(chunks)
	if err != nil {
		return ActivityResult{}, fmt.Errorf("marshal chunks: %w", err)
	}
	return ActivityResult{ChunksJSON: string(chunksJSON), Count: len(chunks)}, nil
}

func EmbedActivity(ctx context.Context, input IngestionInput, chunksJSON string) (ActivityResult, error) {
	var chunks []chunk.Chunk
	if err := json.Unmarshal([]byte(chunksJSON), &chunks); err != nil {
		return ActivityResult{}, err
	}

	rec, err := loadRecord(input)
	if err != nil {
		return ActivityResult{}, err
	}

	vectors, err := deps.Ingest.EmbedStep(ctx, document(input), chunks, rec)
	if err != nil {
		return ActivityResult{}, err
	}

	vectorsJSON, err := json.Marshal(vectors)
	if err != nil {
		return ActivityResult{}, fmt.Errorf("marshal vectors: %w", err)
	}
	return ActivityResult{VectorsJSON: string(vectorsJSON), Count: len(vectors)}, nil
}

func IndexActivity(ctx context.Context, input IngestionInput, chunksJSON, vectorsJSON string) (ActivityResult, error) {
	var chunks []chunk.Chunk
	if err := json.Unmarshal([]byte(chunksJSON), &chunks); err != nil {
		return ActivityResult{}, err
	}
	var vectors [][]float32
	if err := json.Unmarshal([]byte(vectorsJSON), &vectors); err != nil {
		return ActivityResult{}, err
	}

	rec, err := loadRecord(input)
	if err != nil {
		return ActivityResult{}, err
	}

	written, err := deps.Ingest.IndexStep(ctx, document(input), chunks, vectors, rec)
	if err != nil {
		return ActivityResult{}, err
	}
	return ActivityResult{Count: written}, nil
}
