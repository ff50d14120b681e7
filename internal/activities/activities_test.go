package activities

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"docflow/internal/models"
	"docflow/internal/providers"
	"docflow/internal/util"
	"docflow/internal/vector"
)

type fakeSteps struct {
	docs     map[string]bool
	upserted int
	docIDs   []string
	finished []string
}

func (f *fakeSteps) GetDocument(ctx context.Context, id string) (models.Document, error) {
	if !f.docs[id] {
		return models.Document{}, fmt.Errorf("%w: document %s", util.ErrNotFound, id)
	}
	return models.Document{ID: id}, nil
}

func (f *fakeSteps) EnrichOne(ctx context.Context, chunk models.Chunk, docType models.DocType) models.Chunk {
	f.docIDs = append(f.docIDs, providers.DocumentIDFrom(ctx))
	chunk.Processed = true
	return chunk
}

func (f *fakeSteps) MirrorBatch(ctx context.Context, pdfID, filename string, docType models.DocType, chunks []models.Chunk) vector.IndexReport {
	return vector.IndexReport{Indexed: len(chunks)}
}

func (f *fakeSteps) UpsertBatch(ctx context.Context, pdfID, filename string, docType models.DocType, chunks []models.Chunk) error {
	f.upserted += len(chunks)
	return nil
}

func (f *fakeSteps) Finish(ctx context.Context, pdfID string, batchErrors []string) (models.DocumentStatus, error) {
	f.finished = append(f.finished, pdfID)
	if len(batchErrors) > 0 {
		return models.StatusFailed, nil
	}
	return models.StatusProcessed, nil
}

func (f *fakeSteps) MarkFailed(ctx context.Context, pdfID, reason string) error {
	return nil
}

func TestLoadDocumentActivityMissingIsNonRetryable(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	a := New(&fakeSteps{docs: map[string]bool{"p1": true}})
	env.RegisterActivity(a.LoadDocumentActivity)

	_, err := env.ExecuteActivity(a.LoadDocumentActivity, DocumentRef{PdfID: "p1"})
	require.NoError(t, err)

	_, err = env.ExecuteActivity(a.LoadDocumentActivity, DocumentRef{PdfID: "gone"})
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	require.True(t, appErr.NonRetryable())
}

func TestEnrichChunkActivityCarriesDocumentID(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	steps := &fakeSteps{}
	a := New(steps)
	env.RegisterActivity(a.EnrichChunkActivity)

	val, err := env.ExecuteActivity(a.EnrichChunkActivity, EnrichChunkInput{PdfID: "p1", DocType: models.DocTypeInvoice, Chunk: models.Chunk{ChunkNum: 4}})
	require.NoError(t, err)
	var out EnrichChunkOutput
	require.NoError(t, val.Get(&out))
	require.True(t, out.Chunk.Processed)
	require.Equal(t, 4, out.Chunk.ChunkNum)
	require.Equal(t, []string{"p1"}, steps.docIDs)
}

func TestBatchActivities(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	steps := &fakeSteps{}
	a := New(steps)
	env.RegisterActivity(a.IndexChunksActivity)
	env.RegisterActivity(a.UpsertChunksActivity)
	env.RegisterActivity(a.FinishDocumentActivity)

	in := ChunkBatchInput{PdfID: "p1", Filename: "a.pdf", Chunks: []models.Chunk{{ChunkNum: 4}, {ChunkNum: 5}}}
	val, err := env.ExecuteActivity(a.IndexChunksActivity, in)
	require.NoError(t, err)
	var rep IndexChunksOutput
	require.NoError(t, val.Get(&rep))
	require.Equal(t, 2, rep.Indexed)

	_, err = env.ExecuteActivity(a.UpsertChunksActivity, in)
	require.NoError(t, err)
	require.Equal(t, 2, steps.upserted)

	val, err = env.ExecuteActivity(a.FinishDocumentActivity, FinishDocumentInput{PdfID: "p1", BatchErrors: []string{"x"}})
	require.NoError(t, err)
	var status models.DocumentStatus
	require.NoError(t, val.Get(&status))
	require.Equal(t, models.StatusFailed, status)
}
