package pipeline

import (
	"docflow/internal/models"
	"docflow/internal/vector"
)

type UploadRequest struct {
	Filename string
	Data     []byte
	// DocType skips detection when set.
	DocType string
}

type UploadResult struct {
	PdfID            string                `json:"pdf_id"`
	Filename         string                `json:"filename"`
	ProcessedChunks  int                   `json:"processed_chunks"`
	TotalChunks      int                   `json:"total_chunks"`
	Status           models.DocumentStatus `json:"status"`
	DocType          models.DocType        `json:"doc_type"`
	DetectionReason  string                `json:"detection_reason"`
	ProcessingErrors []string              `json:"processing_errors"`
}

// DeferredJob carries the chunks left after the immediate batch.
type DeferredJob struct {
	PdfID    string         `json:"pdf_id"`
	Filename string         `json:"filename"`
	DocType  models.DocType `json:"doc_type"`
	Chunks   []models.Chunk `json:"chunks"`
}

type DeferredResult struct {
	PdfID         string                `json:"pdf_id"`
	Batches       int                   `json:"batches"`
	FailedBatches int                   `json:"failed_batches"`
	Persisted     int                   `json:"persisted"`
	Enriched      int                   `json:"enriched"`
	Status        models.DocumentStatus `json:"status"`
	Errors        []string              `json:"errors,omitempty"`
}

type QueryRequest struct {
	Question string `json:"question"`
	PdfID    string `json:"pdf_id,omitempty"`
}

type Answer struct {
	Answer     string  `json:"answer"`
	Source     *string `json:"source"`
	Confidence float64 `json:"confidence"`
}

type QueryResult struct {
	Result          Answer             `json:"result"`
	RetrievedChunks []models.SearchHit `json:"retrieved_chunks"`
	SearchMode      vector.SearchMode  `json:"search_mode"`
}

type PromptRequest struct {
	Text    string `json:"text"`
	Goal    string `json:"goal,omitempty"`
	DocType string `json:"doc_type,omitempty"`
}

type PromptResult struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}
