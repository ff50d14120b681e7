package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"docflow/internal/models"
	"docflow/internal/providers"
	"docflow/internal/util"
)

func TestChunkJSONRoundTrip(t *testing.T) {
	c := models.Chunk{ChunkNum: 2, LLMError: "boom"}
	analysis, meta, err := encodeChunkJSON(c)
	require.NoError(t, err)
	require.Nil(t, analysis)
	require.JSONEq(t, `{"processed":false,"error":"boom"}`, meta)

	var back models.Chunk
	require.NoError(t, decodeChunkJSON(&back, nil, []byte(meta)))
	require.False(t, back.Processed)
	require.Equal(t, "boom", back.LLMError)

	c = models.Chunk{ChunkNum: 3, Processed: true, LLMAnalysis: map[string]any{"summary": "s"}}
	analysis, meta, err = encodeChunkJSON(c)
	require.NoError(t, err)
	require.JSONEq(t, `{"summary":"s"}`, analysis.(string))
	require.JSONEq(t, `{"processed":true,"error":null}`, meta)
}

func testDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("DOCFLOW_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("DOCFLOW_TEST_POSTGRES_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := NewDB(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.EnsureSchema(ctx))
	return db
}

func TestRepositoriesAgainstPostgres(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	docs := NewDocumentRepo(db)
	chunks := NewChunkRepo(db)

	id := uuid.NewString()
	filename := "it-" + id[:8] + ".pdf"
	require.NoError(t, docs.Create(ctx, models.Document{
		ID: id, Filename: filename, DocType: models.DocTypeInvoice, Status: models.StatusProcessing,
		ExtractedData: models.ExtractedData{TotalChunks: 2},
	}))

	in := []models.Chunk{
		{ChunkNum: 1, Content: "first", ApproxPage: 1},
		{ChunkNum: 2, Content: "second", ApproxPage: 1, LLMError: "timeout"},
	}
	require.NoError(t, chunks.UpsertChunks(ctx, id, filename, models.DocTypeInvoice, in))

	// re-upsert replaces content and metadata instead of duplicating rows
	in[1].Content, in[1].LLMError, in[1].Processed = "second v2", "", true
	in[1].LLMAnalysis = map[string]any{"summary": "ok"}
	require.NoError(t, chunks.UpsertChunks(ctx, id, filename, models.DocTypeInvoice, in[1:]))

	n, err := chunks.CountByDocument(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err := chunks.ListChunks(ctx, id, 1, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "second v2", got[0].Chunk.Content)
	require.True(t, got[0].Chunk.Processed)
	require.Equal(t, "ok", got[0].Chunk.LLMAnalysis["summary"])

	require.NoError(t, docs.UpdateStatus(ctx, id, models.StatusProcessed, ""))
	d, err := docs.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.StatusProcessed, d.Status)
	require.Equal(t, 2, d.ExtractedData.TotalChunks)

	_, err = docs.Get(ctx, uuid.NewString())
	require.ErrorIs(t, err, util.ErrNotFound)

	stats, err := chunks.ChunkStats(ctx)
	require.NoError(t, err)
	require.Contains(t, stats, models.ChunkStat{Filename: filename, ChunkCount: 2})

	require.NoError(t, NewLLMAuditRepo(db).RecordCall(ctx, providers.CallRecord{
		Operation: "enrich_chunk", DocumentID: id, Provider: "mock", Status: "ok", Latency: 3 * time.Millisecond,
	}))
}

func TestUpsertChunksEmptyIsNoop(t *testing.T) {
	// nil pool is never touched for empty input
	require.NoError(t, NewChunkRepo(&DB{}).UpsertChunks(context.Background(), "x", "f.pdf", models.DocTypeDefault, nil))
}
