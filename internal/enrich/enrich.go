// Package enrich runs per-chunk LLM analysis. Failures are captured on the
// chunk itself and never propagate to siblings or callers.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"docflow/internal/models"
	"docflow/internal/providers"
	"docflow/internal/util"
)

const InvalidResponse = "Invalid LLM response format"

type Enricher struct {
	llm    providers.LLMProvider
	logger *slog.Logger
}

func New(llm providers.LLMProvider) *Enricher {
	return &Enricher{llm: llm, logger: slog.Default().With("component", "enrich")}
}

// Enrich returns a copy of chunk with its analysis fields set.
func (e *Enricher) Enrich(ctx context.Context, chunk models.Chunk, docType models.DocType) models.Chunk {
	out := chunk
	out.LLMAnalysis = nil
	out.LLMError = ""
	out.Processed = false

	resp, info, err := e.llm.Generate(ctx, providers.GenerateRequest{
		Operation:   "enrich_chunk",
		Prompt:      BuildChunkPrompt(chunk.Content, docType),
		Temperature: 0.2,
		JSON:        true,
	})
	if err != nil {
		out.LLMError = fmt.Errorf("%w: %w", util.ErrEnrichment, err).Error()
		e.logger.Warn("chunk enrichment failed", "chunk_num", chunk.ChunkNum, "provider", info.Name, "error", err)
		return out
	}
	analysis, ok := ParseAnalysis(resp.Text)
	if !ok {
		out.LLMAnalysis = map[string]any{"error": InvalidResponse}
		e.logger.Warn("chunk enrichment returned malformed json", "chunk_num", chunk.ChunkNum, "provider", info.Name)
		return out
	}
	out.LLMAnalysis = analysis
	out.Processed = true
	return out
}

// EnrichAll enriches chunks concurrently and returns them in input order.
func (e *Enricher) EnrichAll(ctx context.Context, chunks []models.Chunk, docType models.DocType) []models.Chunk {
	out := make([]models.Chunk, len(chunks))
	var g errgroup.Group
	for i := range chunks {
		i := i
		g.Go(func() error {
			out[i] = e.Enrich(ctx, chunks[i], docType)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ParseAnalysis decodes an LLM reply into a JSON object. Markdown fences and
// prose around the outermost braces are tolerated.
func ParseAnalysis(raw string) (map[string]any, bool) {
	raw = stripCodeFence(strings.TrimSpace(raw))
	if raw == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil && obj != nil {
		return obj, true
	}
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	obj = nil
	if err := json.Unmarshal([]byte(raw[start:end+1]), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func stripCodeFence(s string) string {
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
