// Package vector mirrors enriched chunks into a pgvector + tsvector table and
// serves hybrid retrieval over it. Every method is best effort: failures are
// reported in the returned value, never as errors.
package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"docflow/internal/models"
	"docflow/internal/providers"
	"docflow/internal/util"
)

// DB is the subset of pgxpool.Pool the mirror needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type SearchMode string

const (
	ModeHybrid  SearchMode = "hybrid"
	ModeLexical SearchMode = "lexical"
	ModeNone    SearchMode = "none"
)

type Options struct {
	Collection string
	// Vectorizer is "local" (Ollama embeddings) or "hosted" (OpenAI/Gemini).
	Vectorizer string
	Dim        int
	BatchSize  int
	Alpha      float64
}

type Filters struct {
	PdfID    string
	DocType  string
	Filename string
}

type IndexReport struct {
	Indexed       int      `json:"indexed"`
	Failed        int      `json:"failed"`
	Unembedded    int      `json:"unembedded"`
	FailedBatches int      `json:"failed_batches"`
	Errors        []string `json:"errors,omitempty"`
}

type SearchResult struct {
	Hits []models.SearchHit `json:"hits"`
	Mode SearchMode         `json:"mode"`
	// Degraded holds why a better mode was skipped, for logging.
	Degraded error `json:"-"`
}

type Mirror struct {
	db     DB
	embed  providers.EmbeddingProvider
	opts   Options
	table  string
	logger *slog.Logger
}

var collectionName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func NewMirror(db DB, embed providers.EmbeddingProvider, opts Options) (*Mirror, error) {
	if !collectionName.MatchString(opts.Collection) {
		return nil, fmt.Errorf("%w: invalid vector collection %q", util.ErrInvalidConfig, opts.Collection)
	}
	if opts.Dim <= 0 {
		opts.Dim = 1536
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Alpha < 0 || opts.Alpha > 1 {
		return nil, fmt.Errorf("%w: hybrid alpha %.2f outside [0,1]", util.ErrInvalidConfig, opts.Alpha)
	}
	if opts.Vectorizer == "" {
		opts.Vectorizer = "hosted"
	}
	return &Mirror{
		db:     db,
		embed:  embed,
		opts:   opts,
		table:  pgx.Identifier{opts.Collection}.Sanitize(),
		logger: slog.Default().With("component", "vector", "collection", opts.Collection),
	}, nil
}

// EnsureSchema creates the collection table and its indexes if absent.
func (m *Mirror) EnsureSchema(ctx context.Context) error {
	name := m.opts.Collection
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  pdf_id     TEXT NOT NULL,
  chunk_num  INT NOT NULL,
  filename   TEXT NOT NULL,
  doc_type   TEXT NOT NULL,
  page_no    INT NOT NULL DEFAULT 1,
  content    TEXT NOT NULL,
  chunk_meta JSONB NOT NULL DEFAULT '{}'::jsonb,
  embedding  vector(%d),
  tsv        tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (pdf_id, chunk_num)
)`, m.table, m.opts.Dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`, pgx.Identifier{name + "_embedding_idx"}.Sanitize(), m.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING gin (tsv)`, pgx.Identifier{name + "_tsv_idx"}.Sanitize(), m.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (doc_type, filename)`, pgx.Identifier{name + "_filter_idx"}.Sanitize(), m.table),
		`CREATE TABLE IF NOT EXISTS vector_collections (
  name       TEXT PRIMARY KEY,
  vectorizer TEXT NOT NULL,
  embed_dim  INT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	}
	for _, s := range stmts {
		if _, err := m.db.Exec(ctx, s); err != nil {
			return fmt.Errorf("%w: ensure collection %s: %w", util.ErrIndex, name, err)
		}
	}
	if _, err := m.db.Exec(ctx, `
INSERT INTO vector_collections (name, vectorizer, embed_dim) VALUES ($1, $2, $3)
ON CONFLICT (name) DO NOTHING`, name, m.opts.Vectorizer, m.opts.Dim); err != nil {
		return fmt.Errorf("%w: record collection %s: %w", util.ErrIndex, name, err)
	}
	return nil
}

type chunkMeta struct {
	CharCount     int            `json:"char_count"`
	WordCount     int            `json:"word_count"`
	TokenEstimate int            `json:"token_estimate"`
	HasTables     bool           `json:"has_tables"`
	HasFigures    bool           `json:"has_figures"`
	IsTableRow    bool           `json:"is_table_row"`
	LLMAnalysis   map[string]any `json:"llm_analysis,omitempty"`
	Processed     bool           `json:"processed"`
}

// Index upserts chunks in batches. A failed batch is logged and counted and
// the next batch still runs. When embedding fails rows are written without a
// vector so lexical search still finds them.
func (m *Mirror) Index(ctx context.Context, pdfID, filename string, docType models.DocType, chunks []models.Chunk) IndexReport {
	var rep IndexReport
	for start := 0; start < len(chunks); start += m.opts.BatchSize {
		end := min(start+m.opts.BatchSize, len(chunks))
		part := chunks[start:end]
		if err := m.indexBatch(ctx, pdfID, filename, docType, part, &rep); err != nil {
			rep.Failed += len(part)
			rep.FailedBatches++
			rep.Errors = append(rep.Errors, err.Error())
			m.logger.Warn("index batch failed", "pdf_id", pdfID, "from", part[0].ChunkNum, "count", len(part), "error", err)
			continue
		}
		rep.Indexed += len(part)
	}
	return rep
}

const upsertRowSQL = `
INSERT INTO %s (pdf_id, chunk_num, filename, doc_type, page_no, content, chunk_meta, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (pdf_id, chunk_num)
DO UPDATE SET
  filename = EXCLUDED.filename,
  doc_type = EXCLUDED.doc_type,
  page_no = EXCLUDED.page_no,
  content = EXCLUDED.content,
  chunk_meta = EXCLUDED.chunk_meta,
  embedding = COALESCE(EXCLUDED.embedding, %s.embedding),
  updated_at = NOW()`

func (m *Mirror) indexBatch(ctx context.Context, pdfID, filename string, docType models.DocType, part []models.Chunk, rep *IndexReport) error {
	vectors := m.embedContents(ctx, part)
	if vectors == nil {
		rep.Unembedded += len(part)
	}
	sql := fmt.Sprintf(upsertRowSQL, m.table, m.table)
	batch := &pgx.Batch{}
	for i, c := range part {
		meta, err := json.Marshal(chunkMeta{
			CharCount:     c.CharCount,
			WordCount:     c.WordCount,
			TokenEstimate: c.TokenEstimate,
			HasTables:     c.HasTables,
			HasFigures:    c.HasFigures,
			IsTableRow:    c.IsTableRow,
			LLMAnalysis:   c.LLMAnalysis,
			Processed:     c.Processed,
		})
		if err != nil {
			return fmt.Errorf("encode chunk meta %d: %w", c.ChunkNum, err)
		}
		var emb any
		if vectors != nil {
			emb = pgvector.NewVector(vectors[i])
		}
		batch.Queue(sql, pdfID, c.ChunkNum, filename, string(docType), c.ApproxPage, c.Content, string(meta), emb)
	}
	br := m.db.SendBatch(ctx, batch)
	for _, c := range part {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("%w: chunk %d: %w", util.ErrIndex, c.ChunkNum, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("%w: %w", util.ErrIndex, err)
	}
	return nil
}

// embedContents returns one vector per chunk, or nil if embedding failed.
func (m *Mirror) embedContents(ctx context.Context, part []models.Chunk) [][]float32 {
	if m.embed == nil {
		return nil
	}
	inputs := make([]string, len(part))
	for i, c := range part {
		inputs[i] = c.Content
	}
	vecs, info, err := m.embed.Embed(ctx, providers.EmbedRequest{Operation: "index_chunks", Inputs: inputs, Dimension: m.opts.Dim})
	if err != nil {
		m.logger.Warn("embedding failed, indexing without vectors", "provider", info.Name, "error", err)
		return nil
	}
	if len(vecs) != len(part) {
		m.logger.Warn("embedding count mismatch, indexing without vectors", "provider", info.Name, "want", len(part), "got", len(vecs))
		return nil
	}
	return vecs
}

// Search runs hybrid retrieval and degrades to lexical, then to an empty result.
func (m *Mirror) Search(ctx context.Context, query string, f Filters, limit int) SearchResult {
	if limit <= 0 {
		limit = 6
	}
	tsq := orTSQuery(query)

	var degraded []error
	if qv, err := m.embedQuery(ctx, query); err != nil {
		degraded = append(degraded, err)
	} else {
		hits, err := m.hybrid(ctx, qv, tsq, f, limit)
		if err == nil {
			return SearchResult{Hits: m.withSnippets(hits, query), Mode: ModeHybrid}
		}
		degraded = append(degraded, fmt.Errorf("hybrid query: %w", err))
	}

	hits, err := m.lexical(ctx, tsq, f, limit)
	if err == nil {
		res := SearchResult{Hits: m.withSnippets(hits, query), Mode: ModeLexical, Degraded: fmt.Errorf("%w: %w", util.ErrSearchDegraded, errors.Join(degraded...))}
		m.logger.Warn("search fell back to lexical", "error", res.Degraded)
		return res
	}
	degraded = append(degraded, fmt.Errorf("lexical query: %w", err))
	res := SearchResult{Hits: []models.SearchHit{}, Mode: ModeNone, Degraded: fmt.Errorf("%w: %w", util.ErrSearchDegraded, errors.Join(degraded...))}
	m.logger.Error("search unavailable", "error", res.Degraded)
	return res
}

func (m *Mirror) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if m.embed == nil {
		return nil, errors.New("no embedding provider")
	}
	vecs, _, err := m.embed.Embed(ctx, providers.EmbedRequest{Operation: "search_query", Inputs: []string{query}, Dimension: m.opts.Dim})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, errors.New("embed query: empty vector")
	}
	return vecs[0], nil
}

func (m *Mirror) hybrid(ctx context.Context, qv []float32, tsq string, f Filters, limit int) ([]models.SearchHit, error) {
	args := []any{pgvector.NewVector(qv), tsq, m.opts.Alpha, limit}
	where, args := filterSQL(f, args)
	sql := fmt.Sprintf(`
SELECT pdf_id, chunk_num, filename, doc_type, page_no, content,
       $3::float8 * COALESCE(1 - (embedding <=> $1::vector), 0)
         + (1 - $3::float8) * ts_rank_cd(tsv, to_tsquery('english', $2)) AS score
FROM %s
WHERE (embedding IS NOT NULL OR tsv @@ to_tsquery('english', $2))%s
ORDER BY score DESC
LIMIT $4`, m.table, where)
	return m.collect(ctx, sql, args)
}

func (m *Mirror) lexical(ctx context.Context, tsq string, f Filters, limit int) ([]models.SearchHit, error) {
	if tsq == "" {
		return []models.SearchHit{}, nil
	}
	args := []any{tsq, limit}
	where, args := filterSQL(f, args)
	sql := fmt.Sprintf(`
SELECT pdf_id, chunk_num, filename, doc_type, page_no, content,
       ts_rank_cd(tsv, to_tsquery('english', $1))::float8 AS score
FROM %s
WHERE tsv @@ to_tsquery('english', $1)%s
ORDER BY score DESC
LIMIT $2`, m.table, where)
	return m.collect(ctx, sql, args)
}

func (m *Mirror) collect(ctx context.Context, sql string, args []any) ([]models.SearchHit, error) {
	rows, err := m.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.SearchHit, 0)
	for rows.Next() {
		var h models.SearchHit
		var docType string
		if err := rows.Scan(&h.PdfID, &h.ChunkNum, &h.Filename, &docType, &h.PageNo, &h.Content, &h.Score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		h.DocType = models.DocType(docType)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Mirror) withSnippets(hits []models.SearchHit, query string) []models.SearchHit {
	for i := range hits {
		hits[i].Snippet = util.EvidenceSnippet(hits[i].Content, query, 320)
	}
	return hits
}

// filterSQL appends equality filters on whitelisted columns. Values always
// travel as parameters.
func filterSQL(f Filters, args []any) (string, []any) {
	var b strings.Builder
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		fmt.Fprintf(&b, " AND %s = $%d", col, len(args))
	}
	add("pdf_id", f.PdfID)
	add("doc_type", f.DocType)
	add("filename", f.Filename)
	return b.String(), args
}

// orTSQuery turns free text into an OR-of-terms tsquery. Terms are reduced to
// letters and digits so the result always parses.
func orTSQuery(q string) string {
	terms := util.QueryTerms(q)
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, t)
		if t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, " | ")
}
