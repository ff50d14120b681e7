package vector

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/internal/models"
	"docflow/internal/providers"
	"docflow/internal/util"
)

type fakeRows struct {
	data [][]any
	i    int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.data[r.i-1], nil }

func (r *fakeRows) Next() bool {
	if r.i < len(r.data) {
		r.i++
		return true
	}
	return false
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.i-1]
	for j, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(row[j]))
	}
	return nil
}

type fakeBatchResults struct {
	n       int
	failAll error
}

func (b *fakeBatchResults) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, b.failAll }
func (b *fakeBatchResults) Query() (pgx.Rows, error)         { return &fakeRows{}, b.failAll }
func (b *fakeBatchResults) QueryRow() pgx.Row                { return nil }
func (b *fakeBatchResults) Close() error                     { return nil }

type fakeDB struct {
	mu       sync.Mutex
	execs    []string
	queries  []string
	args     [][]any
	batches  []*pgx.Batch
	queryErr func(sql string) error
	rows     [][]any
	batchErr func(call int) error
}

func (d *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.execs = append(d.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (d *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries = append(d.queries, sql)
	d.args = append(d.args, args)
	if d.queryErr != nil {
		if err := d.queryErr(sql); err != nil {
			return nil, err
		}
	}
	return &fakeRows{data: d.rows}, nil
}

func (d *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, b)
	var err error
	if d.batchErr != nil {
		err = d.batchErr(len(d.batches))
	}
	return &fakeBatchResults{n: b.Len(), failAll: err}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	return nil, providers.ProviderInfo{Name: "down"}, errors.New("connection refused")
}

func newMirror(t *testing.T, db DB, embed providers.EmbeddingProvider) *Mirror {
	t.Helper()
	m, err := NewMirror(db, embed, Options{Collection: "pdf_chunk_index", Dim: 8, BatchSize: 50, Alpha: 0.75})
	require.NoError(t, err)
	return m
}

func hitRow(pdfID string, n int) []any {
	return []any{pdfID, n, "a.pdf", "invoice", 1, "The total amount is 42 dollars. Paid in full.", 0.5}
}

func TestNewMirrorValidatesCollection(t *testing.T) {
	_, err := NewMirror(&fakeDB{}, nil, Options{Collection: "bad; DROP TABLE x"})
	require.ErrorIs(t, err, util.ErrInvalidConfig)
	_, err = NewMirror(&fakeDB{}, nil, Options{Collection: "ok_name", Alpha: 2})
	require.ErrorIs(t, err, util.ErrInvalidConfig)
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, newMirror(t, db, nil).EnsureSchema(context.Background()))
	all := strings.Join(db.execs, "\n")
	assert.Contains(t, all, "CREATE EXTENSION IF NOT EXISTS vector")
	assert.Contains(t, all, `CREATE TABLE IF NOT EXISTS "pdf_chunk_index"`)
	assert.Contains(t, all, "vector(8)")
	assert.Contains(t, all, "USING hnsw (embedding vector_cosine_ops)")
	assert.Contains(t, all, "USING gin (tsv)")
	assert.Contains(t, all, "INSERT INTO vector_collections")
}

func TestSearchHybrid(t *testing.T) {
	db := &fakeDB{rows: [][]any{hitRow("p1", 1)}}
	res := newMirror(t, db, providers.NewMockProvider(8)).Search(context.Background(), "What is the total amount?", Filters{PdfID: "p1", DocType: "invoice"}, 6)

	require.Equal(t, ModeHybrid, res.Mode)
	require.NoError(t, res.Degraded)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, models.DocTypeInvoice, res.Hits[0].DocType)
	assert.Equal(t, "The total amount is 42 dollars.", res.Hits[0].Snippet)

	require.Len(t, db.queries, 1)
	assert.Contains(t, db.queries[0], "<=> $1::vector")
	assert.Contains(t, db.queries[0], " AND pdf_id = $5 AND doc_type = $6")
	args := db.args[0]
	require.Len(t, args, 6)
	assert.IsType(t, pgvector.Vector{}, args[0])
	assert.Equal(t, "total | amount", args[1])
	assert.Equal(t, 0.75, args[2])
	assert.Equal(t, "p1", args[4])
}

func TestSearchFallsBackToLexicalWhenEmbeddingFails(t *testing.T) {
	db := &fakeDB{rows: [][]any{hitRow("p1", 2)}}
	res := newMirror(t, db, failingEmbedder{}).Search(context.Background(), "total amount", Filters{}, 6)

	require.Equal(t, ModeLexical, res.Mode)
	require.ErrorIs(t, res.Degraded, util.ErrSearchDegraded)
	require.Len(t, res.Hits, 1)
	require.Len(t, db.queries, 1)
	assert.Contains(t, db.queries[0], "WHERE tsv @@ to_tsquery('english', $1)")
}

func TestSearchFallsBackToLexicalWhenHybridFails(t *testing.T) {
	db := &fakeDB{
		rows: [][]any{hitRow("p1", 3)},
		queryErr: func(sql string) error {
			if strings.Contains(sql, "<=>") {
				return errors.New("operator does not exist")
			}
			return nil
		},
	}
	res := newMirror(t, db, providers.NewMockProvider(8)).Search(context.Background(), "total amount", Filters{Filename: "a.pdf"}, 6)

	require.Equal(t, ModeLexical, res.Mode)
	require.Len(t, db.queries, 2)
	assert.Contains(t, db.queries[1], " AND filename = $3")
}

func TestSearchNeverFails(t *testing.T) {
	db := &fakeDB{queryErr: func(string) error { return errors.New("relation does not exist") }}
	res := newMirror(t, db, providers.NewMockProvider(8)).Search(context.Background(), "total amount", Filters{}, 6)

	require.Equal(t, ModeNone, res.Mode)
	require.NotNil(t, res.Hits)
	require.Empty(t, res.Hits)
	require.ErrorIs(t, res.Degraded, util.ErrSearchDegraded)
}

func TestIndexWritesNullEmbeddingsWhenEmbeddingFails(t *testing.T) {
	db := &fakeDB{}
	chunks := make([]models.Chunk, 3)
	for i := range chunks {
		chunks[i] = models.Chunk{ChunkNum: i + 1, Content: "c", ApproxPage: 1}
	}
	rep := newMirror(t, db, failingEmbedder{}).Index(context.Background(), "p1", "a.pdf", models.DocTypeDefault, chunks)

	assert.Equal(t, IndexReport{Indexed: 3, Unembedded: 3}, rep)
	require.Len(t, db.batches, 1)
	for _, q := range db.batches[0].QueuedQueries {
		assert.Nil(t, q.Arguments[7])
	}
}

func TestIndexBatchesAndContinuesAfterFailure(t *testing.T) {
	db := &fakeDB{batchErr: func(call int) error {
		if call == 1 {
			return errors.New("deadlock detected")
		}
		return nil
	}}
	m, err := NewMirror(db, providers.NewMockProvider(8), Options{Collection: "pdf_chunk_index", Dim: 8, BatchSize: 2, Alpha: 0.75})
	require.NoError(t, err)
	chunks := make([]models.Chunk, 5)
	for i := range chunks {
		chunks[i] = models.Chunk{ChunkNum: i + 1, Content: "c"}
	}

	rep := m.Index(context.Background(), "p1", "a.pdf", models.DocTypeDefault, chunks)
	assert.Equal(t, 3, rep.Indexed)
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, 1, rep.FailedBatches)
	require.Len(t, rep.Errors, 1)
	require.Len(t, db.batches, 3)
	assert.IsType(t, pgvector.Vector{}, db.batches[1].QueuedQueries[0].Arguments[7])
}

func TestIndexMetadataCarriesChunkShape(t *testing.T) {
	db := &fakeDB{}
	chunks := []models.Chunk{
		{ChunkNum: 1, Content: "| a | b |", CharCount: 9, WordCount: 5, TokenEstimate: 2, HasTables: true, IsTableRow: true},
		{ChunkNum: 2, Content: "Total due", CharCount: 9, WordCount: 2, TokenEstimate: 2, Processed: true},
	}
	rep := newMirror(t, db, providers.NewMockProvider(8)).Index(context.Background(), "p1", "a.pdf", models.DocTypeInvoice, chunks)
	require.Equal(t, 2, rep.Indexed)
	require.Len(t, db.batches, 1)

	var row, text chunkMeta
	require.NoError(t, json.Unmarshal([]byte(db.batches[0].QueuedQueries[0].Arguments[6].(string)), &row))
	require.NoError(t, json.Unmarshal([]byte(db.batches[0].QueuedQueries[1].Arguments[6].(string)), &text))
	assert.True(t, row.IsTableRow)
	assert.True(t, row.HasTables)
	assert.Equal(t, 2, row.TokenEstimate)
	assert.False(t, text.IsTableRow)
	assert.Equal(t, 2, text.TokenEstimate)
	assert.True(t, text.Processed)
	assert.Contains(t, db.batches[0].QueuedQueries[0].Arguments[6], `"is_table_row":true`)
}

func TestOrTSQuery(t *testing.T) {
	assert.Equal(t, "total | amount | due", orTSQuery("Total amount, total due!"))
	assert.Equal(t, "oneil", orTSQuery("O'Neil"))
	assert.Equal(t, "", orTSQuery("a an of"))
	assert.Equal(t, "drop | table", orTSQuery("'); DROP TABLE --"))
}
