package workflows

import "docflow/internal/pipeline"

type DeferredChunksInput struct {
	Job          pipeline.DeferredJob `json:"job"`
	BatchSize    int                  `json:"batch_size"`
	PacingMillis int                  `json:"pacing_millis"`
}

// DeferredProgress is what the GetProgress query returns.
type DeferredProgress struct {
	PdfID         string   `json:"pdf_id"`
	TotalChunks   int      `json:"total_chunks"`
	DoneChunks    int      `json:"done_chunks"`
	Batches       int      `json:"batches"`
	FailedBatches int      `json:"failed_batches"`
	CurrentStep   string   `json:"current_step"`
	Status        string   `json:"status"`
	Errors        []string `json:"errors,omitempty"`
}
