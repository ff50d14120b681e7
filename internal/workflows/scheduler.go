package workflows

import (
	"context"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"

	"docflow/internal/config"
	"docflow/internal/pipeline"
)

// TemporalScheduler hands deferred jobs to DeferredChunksWorkflow.
type TemporalScheduler struct {
	client       tclient.Client
	taskQueue    string
	batchSize    int
	pacingMillis int
}

func NewTemporalScheduler(c tclient.Client, cfg config.Config) *TemporalScheduler {
	return &TemporalScheduler{
		client:       c,
		taskQueue:    cfg.TemporalTaskQueue,
		batchSize:    cfg.DeferredBatchSize,
		pacingMillis: cfg.PacingMillis,
	}
}

func WorkflowID(pdfID string) string {
	return "deferred-chunks-" + pdfID
}

func (s *TemporalScheduler) Schedule(ctx context.Context, job pipeline.DeferredJob) error {
	_, err := s.client.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:                                       WorkflowID(job.PdfID),
		TaskQueue:                                s.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, DeferredChunksWorkflow, DeferredChunksInput{
		Job:          job,
		BatchSize:    s.batchSize,
		PacingMillis: s.pacingMillis,
	})
	if err != nil {
		return fmt.Errorf("start deferred workflow for %s: %w", job.PdfID, err)
	}
	return nil
}

// Progress queries a running workflow for its progress snapshot.
func (s *TemporalScheduler) Progress(ctx context.Context, pdfID string) (DeferredProgress, error) {
	val, err := s.client.QueryWorkflow(ctx, WorkflowID(pdfID), "", QueryGetProgress)
	if err != nil {
		return DeferredProgress{}, fmt.Errorf("query deferred workflow for %s: %w", pdfID, err)
	}
	var p DeferredProgress
	if err := val.Get(&p); err != nil {
		return DeferredProgress{}, fmt.Errorf("decode deferred progress: %w", err)
	}
	return p, nil
}
