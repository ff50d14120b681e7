package workflows

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"docflow/internal/activities"
	"docflow/internal/models"
	"docflow/internal/pipeline"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func registerDeferredActivities(env *testsuite.TestWorkflowEnvironment) {
	registerActivityName(env, "LoadDocumentActivity", func(context.Context, activities.DocumentRef) error { return nil })
	registerActivityName(env, "EnrichChunkActivity", func(context.Context, activities.EnrichChunkInput) (activities.EnrichChunkOutput, error) {
		return activities.EnrichChunkOutput{}, nil
	})
	registerActivityName(env, "IndexChunksActivity", func(context.Context, activities.ChunkBatchInput) (activities.IndexChunksOutput, error) {
		return activities.IndexChunksOutput{}, nil
	})
	registerActivityName(env, "UpsertChunksActivity", func(context.Context, activities.ChunkBatchInput) error { return nil })
	registerActivityName(env, "FinishDocumentActivity", func(context.Context, activities.FinishDocumentInput) (models.DocumentStatus, error) {
		return "", nil
	})
	registerActivityName(env, "MarkDocumentFailedActivity", func(context.Context, activities.MarkFailedInput) error { return nil })
}

func deferredInput(n int) DeferredChunksInput {
	chunks := make([]models.Chunk, n)
	for i := range chunks {
		chunks[i] = models.Chunk{ChunkNum: i + 4, Content: "row"}
	}
	return DeferredChunksInput{
		Job:          pipeline.DeferredJob{PdfID: "pdf-1", Filename: "a.pdf", DocType: models.DocTypeInvoice, Chunks: chunks},
		BatchSize:    5,
		PacingMillis: 1000,
	}
}

func enrichOK(_ context.Context, in activities.EnrichChunkInput) (activities.EnrichChunkOutput, error) {
	c := in.Chunk
	c.Processed = true
	c.LLMAnalysis = map[string]any{"summary": "ok"}
	return activities.EnrichChunkOutput{Chunk: c}, nil
}

func finishFromErrors(_ context.Context, in activities.FinishDocumentInput) (models.DocumentStatus, error) {
	status, _ := pipeline.FinalStatus(in.BatchErrors)
	return status, nil
}

func TestDeferredChunksWorkflowProcessesAllBatches(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DeferredChunksWorkflow)
	registerDeferredActivities(env)

	var mu sync.Mutex
	upserted := 0
	env.OnActivity("LoadDocumentActivity", mock.Anything, activities.DocumentRef{PdfID: "pdf-1"}).Return(nil)
	env.OnActivity("EnrichChunkActivity", mock.Anything, mock.Anything).Return(enrichOK)
	env.OnActivity("IndexChunksActivity", mock.Anything, mock.Anything).Return(activities.IndexChunksOutput{Indexed: 5}, nil)
	env.OnActivity("UpsertChunksActivity", mock.Anything, mock.Anything).Return(func(_ context.Context, in activities.ChunkBatchInput) error {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range in.Chunks {
			assert.True(t, c.Processed)
		}
		upserted += len(in.Chunks)
		return nil
	})
	env.OnActivity("FinishDocumentActivity", mock.Anything, activities.FinishDocumentInput{PdfID: "pdf-1"}).Return(models.StatusProcessed, nil)

	env.ExecuteWorkflow(DeferredChunksWorkflow, deferredInput(7))
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out pipeline.DeferredResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, models.StatusProcessed, out.Status)
	require.Equal(t, 2, out.Batches)
	require.Equal(t, 7, out.Persisted)
	require.Equal(t, 7, out.Enriched)
	require.Equal(t, 7, upserted)

	val, err := env.QueryWorkflow(QueryGetProgress)
	require.NoError(t, err)
	var p DeferredProgress
	require.NoError(t, val.Get(&p))
	require.Equal(t, 7, p.DoneChunks)
	require.Equal(t, "done", p.CurrentStep)
	require.Equal(t, string(models.StatusProcessed), p.Status)
}

func TestDeferredChunksWorkflowIsolatesFailures(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DeferredChunksWorkflow)
	registerDeferredActivities(env)

	var mu sync.Mutex
	var failedChunk models.Chunk
	env.OnActivity("LoadDocumentActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("EnrichChunkActivity", mock.Anything, mock.Anything).Return(func(ctx context.Context, in activities.EnrichChunkInput) (activities.EnrichChunkOutput, error) {
		if in.Chunk.ChunkNum == 10 {
			return activities.EnrichChunkOutput{}, temporal.NewNonRetryableApplicationError("worker lost", "Crash", nil)
		}
		return enrichOK(ctx, in)
	})
	env.OnActivity("IndexChunksActivity", mock.Anything, mock.Anything).Return(activities.IndexChunksOutput{}, errors.New("index down"))
	env.OnActivity("UpsertChunksActivity", mock.Anything, mock.Anything).Return(func(_ context.Context, in activities.ChunkBatchInput) error {
		if in.Chunks[0].ChunkNum == 4 {
			return temporal.NewNonRetryableApplicationError("chunk persistence failed: deadlock", "Persistence", nil)
		}
		mu.Lock()
		defer mu.Unlock()
		for _, c := range in.Chunks {
			if c.ChunkNum == 10 {
				failedChunk = c
			}
		}
		return nil
	})
	env.OnActivity("FinishDocumentActivity", mock.Anything, mock.Anything).Return(finishFromErrors)

	env.ExecuteWorkflow(DeferredChunksWorkflow, deferredInput(7))
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out pipeline.DeferredResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, models.StatusFailed, out.Status)
	require.Equal(t, 1, out.FailedBatches)
	require.Equal(t, 2, out.Persisted)
	require.Equal(t, 6, out.Enriched)
	require.Len(t, out.Errors, 1)
	require.Contains(t, out.Errors[0], "chunks 4-8")

	require.Equal(t, 10, failedChunk.ChunkNum)
	require.False(t, failedChunk.Processed)
	require.Contains(t, failedChunk.LLMError, "worker lost")
}

func TestDeferredChunksWorkflowMissingDocument(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DeferredChunksWorkflow)
	registerDeferredActivities(env)

	env.OnActivity("LoadDocumentActivity", mock.Anything, mock.Anything).Return(
		temporal.NewNonRetryableApplicationError("not found: document pdf-1", "DocumentNotFound", nil))
	env.OnActivity("MarkDocumentFailedActivity", mock.Anything, mock.Anything).Return(nil).Once()

	env.ExecuteWorkflow(DeferredChunksWorkflow, deferredInput(3))
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out pipeline.DeferredResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, models.StatusFailed, out.Status)
	require.Zero(t, out.Batches)
	env.AssertExpectations(t)
}
