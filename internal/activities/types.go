package activities

import "docflow/internal/models"

type DocumentRef struct {
	PdfID string `json:"pdf_id"`
}

type EnrichChunkInput struct {
	PdfID   string         `json:"pdf_id"`
	DocType models.DocType `json:"doc_type"`
	Chunk   models.Chunk   `json:"chunk"`
}

type EnrichChunkOutput struct {
	Chunk models.Chunk `json:"chunk"`
}

type ChunkBatchInput struct {
	PdfID    string         `json:"pdf_id"`
	Filename string         `json:"filename"`
	DocType  models.DocType `json:"doc_type"`
	Chunks   []models.Chunk `json:"chunks"`
}

type IndexChunksOutput struct {
	Indexed    int `json:"indexed"`
	Failed     int `json:"failed"`
	Unembedded int `json:"unembedded"`
}

// FinishDocumentInput carries the per-batch errors of a deferred run.
type FinishDocumentInput struct {
	PdfID       string   `json:"pdf_id"`
	BatchErrors []string `json:"batch_errors,omitempty"`
}

type MarkFailedInput struct {
	PdfID  string `json:"pdf_id"`
	Reason string `json:"reason"`
}
