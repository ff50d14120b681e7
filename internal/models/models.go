package models

import "time"

type DocType string

const (
	DocTypeMedical DocType = "medical"
	DocTypeInvoice DocType = "invoice"
	DocTypeResume  DocType = "resume"
	DocTypeDefault DocType = "default"
)

// CanonicalDocTypes lists every label the classifier may return.
var CanonicalDocTypes = []DocType{DocTypeDefault, DocTypeInvoice, DocTypeMedical, DocTypeResume}

func ParseDocType(s string) (DocType, bool) {
	for _, t := range CanonicalDocTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusProcessed  DocumentStatus = "processed"
	StatusFailed     DocumentStatus = "failed"
)

// Chunk is one bounded, page-attributed piece of a document.
type Chunk struct {
	ChunkNum      int            `json:"chunk_num"`
	Content       string         `json:"content"`
	ApproxPage    int            `json:"approx_page"`
	CharCount     int            `json:"char_count"`
	WordCount     int            `json:"word_count"`
	TokenEstimate int            `json:"token_estimate"`
	HasTables     bool           `json:"has_tables"`
	HasFigures    bool           `json:"has_figures"`
	IsTableRow    bool           `json:"is_table_row"`
	LLMAnalysis   map[string]any `json:"llm_analysis,omitempty"`
	Processed     bool           `json:"processed"`
	LLMError      string         `json:"llm_error,omitempty"`
}

// ProcessingMetadata is the mutable per-chunk status persisted next to the analysis.
type ProcessingMetadata struct {
	Processed bool    `json:"processed"`
	Error     *string `json:"error"`
}

func (c Chunk) Metadata() ProcessingMetadata {
	md := ProcessingMetadata{Processed: c.Processed}
	if c.LLMError != "" {
		e := c.LLMError
		md.Error = &e
	}
	return md
}

// ExtractedData summarises the immediate batch on the parent document.
type ExtractedData struct {
	InitialChunks    []Chunk  `json:"initial_chunks"`
	TotalChunks      int      `json:"total_chunks"`
	ProcessingErrors []string `json:"processing_errors"`
}

type Document struct {
	ID            string         `json:"id"`
	Filename      string         `json:"filename"`
	DocType       DocType        `json:"doc_type"`
	Detection     string         `json:"detection_reason,omitempty"`
	Status        DocumentStatus `json:"status"`
	ExtractedText string         `json:"extracted_text,omitempty"`
	ExtractedData ExtractedData  `json:"extracted_data"`
	BlobLocation  string         `json:"blob_location,omitempty"`
	ContentSHA256 string         `json:"content_sha256,omitempty"`
	Error         string         `json:"error,omitempty"`
	UploadTime    time.Time      `json:"upload_time"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// StoredChunk is a persisted chunk row.
type StoredChunk struct {
	ID        string    `json:"id"`
	PdfID     string    `json:"pdf_id"`
	Filename  string    `json:"filename"`
	DocType   DocType   `json:"doc_type"`
	Chunk     Chunk     `json:"chunk"`
	CreatedAt time.Time `json:"created_at"`
}

type ChunkSummary struct {
	ChunkNum   int    `json:"chunk_num"`
	ApproxPage int    `json:"approx_page"`
	Preview    string `json:"preview"`
	CharCount  int    `json:"char_count"`
	HasTables  bool   `json:"has_tables"`
	HasFigures bool   `json:"has_figures"`
	IsTableRow bool   `json:"is_table_row"`
	Processed  bool   `json:"processed"`
	Error      string `json:"error,omitempty"`
}

type ChunkStat struct {
	Filename   string `json:"filename"`
	ChunkCount int    `json:"chunk_count"`
}

// SearchHit is one row returned by the vector index mirror.
type SearchHit struct {
	PdfID    string  `json:"pdf_id"`
	ChunkNum int     `json:"chunk_num"`
	Filename string  `json:"filename"`
	DocType  DocType `json:"doc_type"`
	PageNo   int     `json:"page_no"`
	Content  string  `json:"chunk"`
	Snippet  string  `json:"snippet,omitempty"`
	Score    float64 `json:"score"`
}
