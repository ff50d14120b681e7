package storage

import (
	"context"
	"fmt"

	"docflow/internal/providers"
)

// LLMAuditRepo stores one row per provider call. It is the manager's CallRecorder.
type LLMAuditRepo struct {
	db *DB
}

func NewLLMAuditRepo(db *DB) *LLMAuditRepo {
	return &LLMAuditRepo{db: db}
}

func (r *LLMAuditRepo) RecordCall(ctx context.Context, rec providers.CallRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO llm_calls (operation, pdf_id, provider_name, model, key_alias, status, error_type, latency_ms)
VALUES ($1, NULLIF($2,'')::uuid, $3, NULLIF($4,''), NULLIF($5,''), $6, NULLIF($7,''), $8)`,
		rec.Operation, rec.DocumentID, rec.Provider, rec.Model, rec.Key, rec.Status, rec.ErrorType, rec.Latency.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}

var _ providers.CallRecorder = (*LLMAuditRepo)(nil)
