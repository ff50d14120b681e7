package util

import "errors"

// Stage errors. Callers wrap the underlying cause with one of these so the
// API layer and the orchestrator can branch with errors.Is.
var (
	ErrExtraction        = errors.New("pdf extraction failed")
	ErrNoExtractableText = errors.New("no extractable text found in PDF")
	ErrClassification    = errors.New("doc type classification failed")
	ErrEnrichment        = errors.New("chunk enrichment failed")
	ErrPersistence       = errors.New("chunk persistence failed")
	ErrIndex             = errors.New("vector index write failed")
	ErrSearchDegraded    = errors.New("search degraded")

	ErrNotFound      = errors.New("not found")
	ErrInvalidFile   = errors.New("only PDF files are allowed")
	ErrInvalidInput  = errors.New("invalid request")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrOverloaded    = errors.New("deferred processing queue is full")
)
