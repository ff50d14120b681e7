package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"docflow/internal/activities"
	"docflow/internal/models"
	"docflow/internal/pipeline"
)

const QueryGetProgress = "GetProgress"

// DeferredChunksWorkflow processes the chunks left after an upload's
// immediate batch. Each sub-batch fans enrichment out as concurrent
// activities, then mirrors and upserts the batch and sleeps before the next.
func DeferredChunksWorkflow(ctx workflow.Context, input DeferredChunksInput) (pipeline.DeferredResult, error) {
	job := input.Job
	progress := DeferredProgress{
		PdfID:       job.PdfID,
		TotalChunks: len(job.Chunks),
		CurrentStep: "init",
		Status:      string(models.StatusProcessing),
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (DeferredProgress, error) {
		return progress, nil
	}); err != nil {
		return pipeline.DeferredResult{}, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)
	res := pipeline.DeferredResult{PdfID: job.PdfID, Status: models.StatusProcessing}

	fail := func(cause error) (pipeline.DeferredResult, error) {
		res.Status = models.StatusFailed
		res.Errors = append(res.Errors, cause.Error())
		progress.Status = string(models.StatusFailed)
		progress.Errors = res.Errors
		logger.Error("deferred chunks aborted", "PdfID", job.PdfID, "Error", cause)
		// the failure is written even when the workflow itself was cancelled
		dctx, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()
		if err := workflow.ExecuteActivity(dctx, "MarkDocumentFailedActivity", activities.MarkFailedInput{
			PdfID:  job.PdfID,
			Reason: cause.Error(),
		}).Get(dctx, nil); err != nil {
			logger.Error("could not mark document failed", "PdfID", job.PdfID, "Error", err)
		}
		return res, nil
	}

	progress.CurrentStep = "load_document"
	if err := workflow.ExecuteActivity(ctx, "LoadDocumentActivity", activities.DocumentRef{PdfID: job.PdfID}).Get(ctx, nil); err != nil {
		return fail(err)
	}

	size := input.BatchSize
	if size <= 0 {
		size = 5
	}
	pacing := time.Duration(input.PacingMillis) * time.Millisecond

	for start := 0; start < len(job.Chunks); start += size {
		part := job.Chunks[start:min(start+size, len(job.Chunks))]
		res.Batches++
		progress.Batches = res.Batches

		progress.CurrentStep = "enrich"
		futures := make([]workflow.Future, len(part))
		for i, c := range part {
			futures[i] = workflow.ExecuteActivity(ctx, "EnrichChunkActivity", activities.EnrichChunkInput{
				PdfID:   job.PdfID,
				DocType: job.DocType,
				Chunk:   c,
			})
		}
		enriched := make([]models.Chunk, len(part))
		for i, f := range futures {
			var out activities.EnrichChunkOutput
			if err := f.Get(ctx, &out); err != nil {
				c := part[i]
				c.LLMAnalysis, c.Processed, c.LLMError = nil, false, err.Error()
				enriched[i] = c
				continue
			}
			enriched[i] = out.Chunk
			if out.Chunk.Processed {
				res.Enriched++
			}
		}

		batch := activities.ChunkBatchInput{PdfID: job.PdfID, Filename: job.Filename, DocType: job.DocType, Chunks: enriched}
		progress.CurrentStep = "index"
		var rep activities.IndexChunksOutput
		if err := workflow.ExecuteActivity(ctx, "IndexChunksActivity", batch).Get(ctx, &rep); err != nil {
			logger.Warn("vector mirror failed", "PdfID", job.PdfID, "Error", err)
		}

		progress.CurrentStep = "upsert"
		if err := workflow.ExecuteActivity(ctx, "UpsertChunksActivity", batch).Get(ctx, nil); err != nil {
			res.FailedBatches++
			res.Errors = append(res.Errors, fmt.Sprintf("chunks %d-%d: %v", part[0].ChunkNum, part[len(part)-1].ChunkNum, err))
			progress.FailedBatches = res.FailedBatches
			progress.Errors = res.Errors
		} else {
			res.Persisted += len(part)
		}
		progress.DoneChunks += len(part)

		if start+size < len(job.Chunks) && pacing > 0 {
			progress.CurrentStep = "pacing"
			if err := workflow.Sleep(ctx, pacing); err != nil {
				return fail(err)
			}
		}
	}

	progress.CurrentStep = "finish"
	var status models.DocumentStatus
	if err := workflow.ExecuteActivity(ctx, "FinishDocumentActivity", activities.FinishDocumentInput{
		PdfID:       job.PdfID,
		BatchErrors: res.Errors,
	}).Get(ctx, &status); err != nil {
		return fail(fmt.Errorf("record final status: %w", err))
	}
	res.Status = status
	progress.Status = string(status)
	progress.CurrentStep = "done"
	return res, nil
}
