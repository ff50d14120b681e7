package storage

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS pdf_documents (
  id               UUID PRIMARY KEY,
  filename         TEXT NOT NULL,
  doc_type         TEXT NOT NULL DEFAULT 'default',
  detection_reason TEXT,
  status           TEXT NOT NULL DEFAULT 'pending',
  extracted_text   TEXT,
  extracted_data   JSONB NOT NULL DEFAULT '{}'::jsonb,
  blob_location    TEXT,
  content_sha256   TEXT,
  error            TEXT,
  upload_time      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS pdf_chunks (
  id                  UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  pdf_id              UUID NOT NULL REFERENCES pdf_documents(id) ON DELETE CASCADE,
  filename            TEXT NOT NULL,
  doc_type            TEXT NOT NULL,
  chunk_num           INT NOT NULL,
  approx_page         INT NOT NULL DEFAULT 1,
  content             TEXT NOT NULL,
  char_count          INT NOT NULL DEFAULT 0,
  word_count          INT NOT NULL DEFAULT 0,
  token_estimate      INT NOT NULL DEFAULT 0,
  has_tables          BOOLEAN NOT NULL DEFAULT FALSE,
  has_figures         BOOLEAN NOT NULL DEFAULT FALSE,
  is_table_row        BOOLEAN NOT NULL DEFAULT FALSE,
  llm_analysis        JSONB,
  processing_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  UNIQUE (pdf_id, chunk_num)
)`,
	`CREATE INDEX IF NOT EXISTS pdf_chunks_filename_idx ON pdf_chunks (filename)`,
	`CREATE TABLE IF NOT EXISTS llm_calls (
  call_id       UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  operation     TEXT NOT NULL,
  pdf_id        UUID,
  provider_name TEXT NOT NULL,
  model         TEXT,
  key_alias     TEXT,
  status        TEXT NOT NULL,
  error_type    TEXT,
  latency_ms    BIGINT NOT NULL DEFAULT 0,
  created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS llm_calls_pdf_idx ON llm_calls (pdf_id, created_at DESC)`,
}

// EnsureSchema creates the relational tables if they do not exist.
func (d *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
