package temporal

import (
	"fmt"
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// TaskQueue is the queue ingestion workflows and workers share.
const TaskQueue = "corpus-ingest"

// IngestionInput holds the workflow parameters: one document to ingest.
type IngestionInput struct {
	DocumentID string
	Text       string
	Source     string
	UploadedAt time.Time
}

// IngestionOutput holds the workflow result.
type IngestionOutput struct {
	DocumentID   string
	ChunkCount   int
	IndexedCount int
}

// IngestionWorkflow orchestrates the chunk → embed → index pipeline as
// three activities. The activities retry transient failures internally, so
// the Temporal retry policy only covers worker crashes.
func IngestionWorkflow(ctx workflow.Context, input IngestionInput) (*IngestionOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &sdktemporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var chunkResult ActivityResult
	if err := workflow.ExecuteActivity(ctx, ChunkActivity, input).Get(ctx, &chunkResult); err != nil {
		return nil, fmt.Errorf("chunk: %w", err)
	}

	output := &IngestionOutput{DocumentID: input.DocumentID, ChunkCount: chunkResult.Count}
	if chunkResult.Count == 0 {
		return output, nil
	}

	var embedResult ActivityResult
	if err := workflow.ExecuteActivity(ctx, EmbedActivity, input, chunkResult.ChunksJSON).Get(ctx, &embedResult); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	var indexResult ActivityResult
	if err := workflow.ExecuteActivity(ctx, IndexActivity, input, chunkResult.ChunksJSON, embedResult.VectorsJSON).Get(ctx, &indexResult); err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}

	output.IndexedCount = indexResult.Count
	return output, nil
}
