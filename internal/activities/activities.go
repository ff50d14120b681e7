package activities

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"

	"docflow/internal/models"
	"docflow/internal/providers"
	"docflow/internal/util"
	"docflow/internal/vector"
)

// Steps is the part of the pipeline service the deferred workflow drives.
type Steps interface {
	GetDocument(ctx context.Context, id string) (models.Document, error)
	EnrichOne(ctx context.Context, chunk models.Chunk, docType models.DocType) models.Chunk
	MirrorBatch(ctx context.Context, pdfID, filename string, docType models.DocType, chunks []models.Chunk) vector.IndexReport
	UpsertBatch(ctx context.Context, pdfID, filename string, docType models.DocType, chunks []models.Chunk) error
	Finish(ctx context.Context, pdfID string, batchErrors []string) (models.DocumentStatus, error)
	MarkFailed(ctx context.Context, pdfID, reason string) error
}

type Activities struct {
	steps Steps
}

func New(steps Steps) *Activities {
	return &Activities{steps: steps}
}

// LoadDocumentActivity fails without retry when the document is gone.
func (a *Activities) LoadDocumentActivity(ctx context.Context, in DocumentRef) error {
	_, err := a.steps.GetDocument(ctx, in.PdfID)
	if errors.Is(err, util.ErrNotFound) {
		return temporal.NewNonRetryableApplicationError(err.Error(), "DocumentNotFound", err)
	}
	return err
}

// EnrichChunkActivity never fails; enrichment errors travel on the chunk.
func (a *Activities) EnrichChunkActivity(ctx context.Context, in EnrichChunkInput) (EnrichChunkOutput, error) {
	ctx = providers.WithDocumentID(ctx, in.PdfID)
	return EnrichChunkOutput{Chunk: a.steps.EnrichOne(ctx, in.Chunk, in.DocType)}, nil
}

func (a *Activities) IndexChunksActivity(ctx context.Context, in ChunkBatchInput) (IndexChunksOutput, error) {
	rep := a.steps.MirrorBatch(ctx, in.PdfID, in.Filename, in.DocType, in.Chunks)
	return IndexChunksOutput{Indexed: rep.Indexed, Failed: rep.Failed, Unembedded: rep.Unembedded}, nil
}

func (a *Activities) UpsertChunksActivity(ctx context.Context, in ChunkBatchInput) error {
	return a.steps.UpsertBatch(ctx, in.PdfID, in.Filename, in.DocType, in.Chunks)
}

func (a *Activities) FinishDocumentActivity(ctx context.Context, in FinishDocumentInput) (models.DocumentStatus, error) {
	return a.steps.Finish(ctx, in.PdfID, in.BatchErrors)
}

func (a *Activities) MarkDocumentFailedActivity(ctx context.Context, in MarkFailedInput) error {
	return a.steps.MarkFailed(ctx, in.PdfID, in.Reason)
}
