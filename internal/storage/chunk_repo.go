package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"docflow/internal/models"
	"docflow/internal/util"
)

type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

const upsertChunkSQL = `
INSERT INTO pdf_chunks (pdf_id, filename, doc_type, chunk_num, approx_page, content, char_count, word_count,
                        token_estimate, has_tables, has_figures, is_table_row, llm_analysis, processing_metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (pdf_id, chunk_num)
DO UPDATE SET
  content = EXCLUDED.content,
  llm_analysis = EXCLUDED.llm_analysis,
  processing_metadata = EXCLUDED.processing_metadata`

// UpsertChunks writes chunks in one transaction. Either every row lands or none does.
func (r *ChunkRepo) UpsertChunks(ctx context.Context, pdfID, filename string, docType models.DocType, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		analysis, meta, err := encodeChunkJSON(c)
		if err != nil {
			return fmt.Errorf("%w: chunk %d: %w", util.ErrPersistence, c.ChunkNum, err)
		}
		batch.Queue(upsertChunkSQL, pdfID, filename, string(docType), c.ChunkNum, c.ApproxPage, c.Content, c.CharCount, c.WordCount,
			c.TokenEstimate, c.HasTables, c.HasFigures, c.IsTableRow, analysis, meta)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin tx upsert chunks: %w", util.ErrPersistence, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	br := tx.SendBatch(ctx, batch)
	for _, c := range chunks {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("%w: upsert chunk %d: %w", util.ErrPersistence, c.ChunkNum, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("%w: close chunk batch: %w", util.ErrPersistence, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit chunks tx: %w", util.ErrPersistence, err)
	}
	return nil
}

func (r *ChunkRepo) ListChunks(ctx context.Context, pdfID string, skip, limit int) ([]models.StoredChunk, error) {
	if limit <= 0 {
		limit = 100
	}
	if skip < 0 {
		skip = 0
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT id::text, pdf_id::text, filename, doc_type, chunk_num, approx_page, content, char_count, word_count,
       token_estimate, has_tables, has_figures, is_table_row, llm_analysis, processing_metadata, created_at
FROM pdf_chunks
WHERE pdf_id::text=$1
ORDER BY chunk_num ASC
OFFSET $2 LIMIT $3`, pdfID, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	out := make([]models.StoredChunk, 0, limit)
	for rows.Next() {
		var s models.StoredChunk
		var analysis, meta []byte
		c := &s.Chunk
		if err := rows.Scan(&s.ID, &s.PdfID, &s.Filename, &s.DocType, &c.ChunkNum, &c.ApproxPage, &c.Content, &c.CharCount, &c.WordCount,
			&c.TokenEstimate, &c.HasTables, &c.HasFigures, &c.IsTableRow, &analysis, &meta, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := decodeChunkJSON(c, analysis, meta); err != nil {
			return nil, fmt.Errorf("decode chunk %d: %w", c.ChunkNum, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

func (r *ChunkRepo) CountByDocument(ctx context.Context, pdfID string) (int, error) {
	var n int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM pdf_chunks WHERE pdf_id::text=$1`, pdfID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// ChunkStats counts stored chunks per filename.
func (r *ChunkRepo) ChunkStats(ctx context.Context) ([]models.ChunkStat, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT filename, COUNT(*)
FROM pdf_chunks
GROUP BY filename
ORDER BY filename ASC`)
	if err != nil {
		return nil, fmt.Errorf("chunk stats: %w", err)
	}
	defer rows.Close()
	out := make([]models.ChunkStat, 0)
	for rows.Next() {
		var s models.ChunkStat
		if err := rows.Scan(&s.Filename, &s.ChunkCount); err != nil {
			return nil, fmt.Errorf("scan chunk stat: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// encodeChunkJSON returns the jsonb arguments; a nil analysis is stored as NULL.
func encodeChunkJSON(c models.Chunk) (any, string, error) {
	meta, err := json.Marshal(c.Metadata())
	if err != nil {
		return nil, "", err
	}
	if c.LLMAnalysis == nil {
		return nil, string(meta), nil
	}
	analysis, err := json.Marshal(c.LLMAnalysis)
	if err != nil {
		return nil, "", err
	}
	return string(analysis), string(meta), nil
}

func decodeChunkJSON(c *models.Chunk, analysis, meta []byte) error {
	if len(analysis) > 0 && string(analysis) != "null" {
		if err := json.Unmarshal(analysis, &c.LLMAnalysis); err != nil {
			return err
		}
	}
	if len(meta) > 0 {
		var md models.ProcessingMetadata
		if err := json.Unmarshal(meta, &md); err != nil {
			return err
		}
		c.Processed = md.Processed
		if md.Error != nil {
			c.LLMError = *md.Error
		}
	}
	return nil
}
