// Package pipeline orchestrates upload, deferred chunk processing and
// retrieval-augmented query. It is the only place that moves a document
// between statuses.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"docflow/internal/blob"
	"docflow/internal/chunker"
	"docflow/internal/config"
	"docflow/internal/doctype"
	"docflow/internal/enrich"
	"docflow/internal/extract"
	"docflow/internal/models"
	"docflow/internal/providers"
	"docflow/internal/util"
	"docflow/internal/vector"
)

const NoAnswer = "No relevant information found"

type DocumentStore interface {
	Create(ctx context.Context, d models.Document) error
	Get(ctx context.Context, id string) (models.Document, error)
	List(ctx context.Context) ([]models.Document, error)
	UpdateStatus(ctx context.Context, id string, status models.DocumentStatus, errText string) error
	MarkFailed(ctx context.Context, id, errText string) error
}

type ChunkStore interface {
	UpsertChunks(ctx context.Context, pdfID, filename string, docType models.DocType, chunks []models.Chunk) error
	ListChunks(ctx context.Context, pdfID string, skip, limit int) ([]models.StoredChunk, error)
	ChunkStats(ctx context.Context) ([]models.ChunkStat, error)
}

type Index interface {
	EnsureSchema(ctx context.Context) error
	Index(ctx context.Context, pdfID, filename string, docType models.DocType, chunks []models.Chunk) vector.IndexReport
	Search(ctx context.Context, query string, f vector.Filters, limit int) vector.SearchResult
}

type Deps struct {
	Documents DocumentStore
	Chunks    ChunkStore
	Index     Index
	Blobs     blob.Store
	Extractor extract.Extractor
	LLM       providers.LLMProvider
}

type Options struct {
	ImmediateBatch int
	DeferredBatch  int
	Pacing         time.Duration
	MaxTextChars   int
	SearchLimit    int
	Chunker        chunker.Options
	Detect         doctype.Options
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ImmediateBatch: cfg.ImmediateBatchSize,
		DeferredBatch:  cfg.DeferredBatchSize,
		Pacing:         cfg.Pacing(),
		MaxTextChars:   cfg.MaxTextCharsUpload,
		SearchLimit:    cfg.SearchLimit,
		Chunker: chunker.Options{
			MaxChars:  cfg.MaxChunkChars,
			Overlap:   cfg.MaxOverlap,
			PageStart: cfg.PageStart,
			PageBias:  cfg.PageBias,
		},
		Detect: doctype.Options{UseLLM: cfg.DocTypeDetectUseLLM, MaxChars: cfg.DocTypeDetectMaxChars},
	}
}

type Service struct {
	deps       Deps
	opts       Options
	chunker    *chunker.Chunker
	classifier *doctype.Classifier
	enricher   *enrich.Enricher
	scheduler  Scheduler
	logger     *slog.Logger
}

func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Documents == nil || deps.Chunks == nil || deps.Index == nil || deps.Extractor == nil || deps.LLM == nil {
		return nil, fmt.Errorf("%w: pipeline dependencies incomplete", util.ErrInvalidConfig)
	}
	if opts.ImmediateBatch <= 0 {
		opts.ImmediateBatch = 3
	}
	if opts.DeferredBatch <= 0 {
		opts.DeferredBatch = 5
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 6
	}
	ck, err := chunker.New(opts.Chunker)
	if err != nil {
		return nil, err
	}
	return &Service{
		deps:       deps,
		opts:       opts,
		chunker:    ck,
		classifier: doctype.New(deps.LLM, opts.Detect),
		enricher:   enrich.New(deps.LLM),
		logger:     slog.Default().With("component", "pipeline"),
	}, nil
}

// SetScheduler wires the executor for deferred jobs. Without one, uploads
// with more chunks than the immediate batch are rejected.
func (s *Service) SetScheduler(sch Scheduler) {
	s.scheduler = sch
}

// Upload runs the immediate path and hands the remainder to the scheduler.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if !strings.EqualFold(filepath.Ext(req.Filename), ".pdf") {
		return UploadResult{}, fmt.Errorf("%w: %q", util.ErrInvalidFile, req.Filename)
	}
	if len(req.Data) == 0 {
		return UploadResult{}, fmt.Errorf("%w: %q is empty", util.ErrInvalidFile, req.Filename)
	}
	var provided models.DocType
	if strings.TrimSpace(req.DocType) != "" {
		t, ok := models.ParseDocType(strings.ToLower(strings.TrimSpace(req.DocType)))
		if !ok {
			return UploadResult{}, fmt.Errorf("%w: unknown doc_type %q", util.ErrInvalidInput, req.DocType)
		}
		provided = t
	}

	pages, err := s.deps.Extractor.Extract(ctx, req.Data)
	if err != nil {
		return UploadResult{}, err
	}
	fullText := extract.FullText(pages)
	chunks, err := s.chunker.Chunk(fullText)
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: chunk text: %w", util.ErrExtraction, err)
	}
	if len(chunks) == 0 {
		return UploadResult{}, util.ErrNoExtractableText
	}

	pdfID := uuid.NewString()
	ctx = providers.WithDocumentID(ctx, pdfID)
	logger := s.logger.With("pdf_id", pdfID, "filename", req.Filename)

	detection := doctype.Detection{DocType: provided, Reason: doctype.ReasonProvided}
	if provided == "" {
		detection = s.classifier.DetectOrDefault(ctx, fullText)
	}

	k := min(s.opts.ImmediateBatch, len(chunks))
	immediate := make([]models.Chunk, 0, k)
	procErrs := make([]string, 0)
	for _, c := range chunks[:k] {
		out := s.enricher.Enrich(ctx, c, detection.DocType)
		if out.LLMError != "" {
			procErrs = append(procErrs, fmt.Sprintf("Chunk %d: %s", c.ChunkNum, out.LLMError))
		}
		immediate = append(immediate, out)
	}

	status := models.StatusProcessed
	if len(chunks) > k {
		status = models.StatusProcessing
		if s.scheduler == nil {
			return UploadResult{}, fmt.Errorf("%w: no scheduler for deferred chunks", util.ErrInvalidConfig)
		}
	}

	location := ""
	if s.deps.Blobs != nil {
		location, err = s.deps.Blobs.Put(ctx, pdfID+".pdf", req.Data, "application/pdf")
		if err != nil {
			logger.Warn("storing original file failed", "error", err)
		}
	}

	doc := models.Document{
		ID:            pdfID,
		Filename:      req.Filename,
		DocType:       detection.DocType,
		Detection:     detection.Reason,
		Status:        status,
		ExtractedText: util.Truncate(fullText, s.opts.MaxTextChars),
		ExtractedData: models.ExtractedData{
			InitialChunks:    immediate,
			TotalChunks:      len(chunks),
			ProcessingErrors: procErrs,
		},
		BlobLocation:  location,
		ContentSHA256: util.SHA256Hex(req.Data),
	}
	if err := s.deps.Documents.Create(ctx, doc); err != nil {
		return UploadResult{}, err
	}

	if err := s.persistBatch(ctx, pdfID, req.Filename, detection.DocType, immediate, true); err != nil {
		s.markFailed(ctx, pdfID, err)
		return UploadResult{}, err
	}

	if status == models.StatusProcessing {
		job := DeferredJob{PdfID: pdfID, Filename: req.Filename, DocType: detection.DocType, Chunks: chunks[k:]}
		if err := s.scheduler.Schedule(ctx, job); err != nil {
			err = fmt.Errorf("schedule deferred chunks: %w", err)
			s.markFailed(ctx, pdfID, err)
			return UploadResult{}, err
		}
	}

	logger.Info("document uploaded", "doc_type", detection.DocType, "total_chunks", len(chunks), "status", status)
	return UploadResult{
		PdfID:            pdfID,
		Filename:         req.Filename,
		ProcessedChunks:  len(immediate),
		TotalChunks:      len(chunks),
		Status:           status,
		DocType:          detection.DocType,
		DetectionReason:  detection.Reason,
		ProcessingErrors: procErrs,
	}, nil
}

// ProcessDeferred works through job.Chunks in sub-batches and records the
// final document status. It never returns an error; failures end up on the
// document and in the result.
func (s *Service) ProcessDeferred(ctx context.Context, job DeferredJob) DeferredResult {
	ctx = providers.WithDocumentID(ctx, job.PdfID)
	logger := s.logger.With("pdf_id", job.PdfID)
	res := DeferredResult{PdfID: job.PdfID, Status: models.StatusProcessing}

	fail := func(err error) DeferredResult {
		res.Status = models.StatusFailed
		res.Errors = append(res.Errors, err.Error())
		logger.Error("deferred processing aborted", "error", err)
		s.markFailed(ctx, job.PdfID, err)
		return res
	}

	if _, err := s.deps.Documents.Get(ctx, job.PdfID); err != nil {
		return fail(err)
	}

	size := s.opts.DeferredBatch
	for start := 0; start < len(job.Chunks); start += size {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		part := job.Chunks[start:min(start+size, len(job.Chunks))]
		res.Batches++

		enriched := s.EnrichBatch(ctx, part, job.DocType)
		for _, c := range enriched {
			if c.Processed {
				res.Enriched++
			}
		}
		if err := s.PersistBatch(ctx, job.PdfID, job.Filename, job.DocType, enriched); err != nil {
			res.FailedBatches++
			res.Errors = append(res.Errors, fmt.Sprintf("chunks %d-%d: %v", part[0].ChunkNum, part[len(part)-1].ChunkNum, err))
			logger.Error("deferred batch not persisted", "from", part[0].ChunkNum, "count", len(part), "error", err)
		} else {
			res.Persisted += len(part)
		}

		if start+size < len(job.Chunks) {
			if err := sleepCtx(ctx, s.opts.Pacing); err != nil {
				return fail(err)
			}
		}
	}

	status, err := s.Finish(ctx, job.PdfID, res.Errors)
	if err != nil {
		return fail(fmt.Errorf("record final status: %w", err))
	}
	res.Status = status
	logger.Info("deferred processing finished", "batches", res.Batches, "failed_batches", res.FailedBatches, "status", status)
	return res
}

// EnrichBatch enriches one sub-batch concurrently.
func (s *Service) EnrichBatch(ctx context.Context, chunks []models.Chunk, docType models.DocType) []models.Chunk {
	return s.enricher.EnrichAll(ctx, chunks, docType)
}

// EnrichOne enriches a single chunk; used by workflow activities that fan out
// themselves.
func (s *Service) EnrichOne(ctx context.Context, chunk models.Chunk, docType models.DocType) models.Chunk {
	return s.enricher.Enrich(ctx, chunk, docType)
}

// PersistBatch mirrors chunks into the index and then upserts them. Only the
// relational write can fail the batch.
func (s *Service) PersistBatch(ctx context.Context, pdfID, filename string, docType models.DocType, chunks []models.Chunk) error {
	return s.persistBatch(ctx, pdfID, filename, docType, chunks, false)
}

func (s *Service) persistBatch(ctx context.Context, pdfID, filename string, docType models.DocType, chunks []models.Chunk, ensure bool) error {
	if ensure {
		if err := s.deps.Index.EnsureSchema(ctx); err != nil {
			s.logger.Warn("vector index schema unavailable", "pdf_id", pdfID, "error", err)
		}
	}
	s.MirrorBatch(ctx, pdfID, filename, docType, chunks)
	return s.UpsertBatch(ctx, pdfID, filename, docType, chunks)
}

// MirrorBatch writes chunks to the vector index, logging partial failures.
func (s *Service) MirrorBatch(ctx context.Context, pdfID, filename string, docType models.DocType, chunks []models.Chunk) vector.IndexReport {
	rep := s.deps.Index.Index(ctx, pdfID, filename, docType, chunks)
	if rep.Failed > 0 || rep.Unembedded > 0 {
		s.logger.Warn("vector mirror incomplete", "pdf_id", pdfID, "indexed", rep.Indexed, "failed", rep.Failed, "unembedded", rep.Unembedded)
	}
	return rep
}

// UpsertBatch writes chunks to the relational store in one transaction.
func (s *Service) UpsertBatch(ctx context.Context, pdfID, filename string, docType models.DocType, chunks []models.Chunk) error {
	return s.deps.Chunks.UpsertChunks(ctx, pdfID, filename, docType, chunks)
}

// MarkFailed records a terminal failure reported by an external executor.
func (s *Service) MarkFailed(ctx context.Context, pdfID, reason string) error {
	return s.deps.Documents.MarkFailed(ctx, pdfID, reason)
}

// Finish records the terminal status for a deferred run.
func (s *Service) Finish(ctx context.Context, pdfID string, batchErrors []string) (models.DocumentStatus, error) {
	status, errText := FinalStatus(batchErrors)
	if err := s.deps.Documents.UpdateStatus(ctx, pdfID, status, errText); err != nil {
		return status, err
	}
	return status, nil
}

// FinalStatus maps the per-batch errors of a deferred run to a document status.
func FinalStatus(batchErrors []string) (models.DocumentStatus, string) {
	if len(batchErrors) == 0 {
		return models.StatusProcessed, ""
	}
	return models.StatusFailed, strings.Join(batchErrors, "; ")
}

// markFailed writes the failed status on a context that outlives the caller's.
func (s *Service) markFailed(ctx context.Context, pdfID string, cause error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.deps.Documents.MarkFailed(wctx, pdfID, cause.Error()); err != nil {
		s.logger.Error("could not mark document failed", "pdf_id", pdfID, "cause", cause, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Query answers a question from retrieved chunks. Retrieval and LLM failures
// degrade the answer; only an unknown pdf_id is an error.
func (s *Service) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return QueryResult{}, fmt.Errorf("%w: question is required", util.ErrInvalidInput)
	}
	var f vector.Filters
	if req.PdfID != "" {
		doc, err := s.deps.Documents.Get(ctx, req.PdfID)
		if err != nil {
			return QueryResult{}, err
		}
		f = vector.Filters{PdfID: doc.ID, DocType: string(doc.DocType)}
		ctx = providers.WithDocumentID(ctx, doc.ID)
	}

	sr := s.deps.Index.Search(ctx, question, f, s.opts.SearchLimit)
	out := QueryResult{Result: Answer{Answer: NoAnswer}, RetrievedChunks: sr.Hits, SearchMode: sr.Mode}
	if out.RetrievedChunks == nil {
		out.RetrievedChunks = []models.SearchHit{}
	}
	if len(sr.Hits) == 0 {
		return out, nil
	}

	contexts := make([]string, 0, len(sr.Hits))
	for _, h := range sr.Hits {
		contexts = append(contexts, fmt.Sprintf("[Source: %s, page %d] %s", h.Filename, h.PageNo, h.Content))
	}
	resp, info, err := s.deps.LLM.Generate(ctx, providers.GenerateRequest{
		Operation: "rag_query",
		Prompt: "Answer the question strictly using the provided context.\n" +
			"Return JSON with: answer, source, confidence (0 to 1).\n\n" +
			"Question: " + question,
		Context:     contexts,
		Temperature: 0.2,
		JSON:        true,
	})
	if err != nil {
		s.logger.Warn("rag answer generation failed", "provider", info.Name, "error", err)
		return out, nil
	}
	out.Result = ParseAnswer(resp.Text)
	return out, nil
}

// ParseAnswer reads {answer, source, confidence}. Unparseable output becomes
// the answer text with zero confidence.
func ParseAnswer(raw string) Answer {
	obj, ok := enrich.ParseAnalysis(raw)
	if !ok {
		return Answer{Answer: strings.TrimSpace(raw)}
	}
	a := Answer{}
	if v, ok := obj["answer"].(string); ok {
		a.Answer = v
	} else {
		a.Answer = strings.TrimSpace(raw)
	}
	if v, ok := obj["source"].(string); ok && v != "" {
		a.Source = &v
	}
	if v, ok := obj["confidence"].(float64); ok && v >= 0 && v <= 1 {
		a.Confidence = v
	}
	return a
}

// GetChunks pages through stored chunk summaries of a document.
func (s *Service) GetChunks(ctx context.Context, pdfID string, skip, limit int) ([]models.ChunkSummary, error) {
	rows, err := s.deps.Chunks.ListChunks(ctx, pdfID, skip, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.ChunkSummary, 0, len(rows))
	for _, r := range rows {
		c := r.Chunk
		out = append(out, models.ChunkSummary{
			ChunkNum:   c.ChunkNum,
			ApproxPage: c.ApproxPage,
			Preview:    util.Preview(c.Content, 200),
			CharCount:  c.CharCount,
			HasTables:  c.HasTables,
			HasFigures: c.HasFigures,
			IsTableRow: c.IsTableRow,
			Processed:  c.Processed,
			Error:      c.LLMError,
		})
	}
	return out, nil
}

func (s *Service) ListDocuments(ctx context.Context) ([]models.Document, error) {
	return s.deps.Documents.List(ctx)
}

func (s *Service) GetDocument(ctx context.Context, id string) (models.Document, error) {
	return s.deps.Documents.Get(ctx, id)
}

func (s *Service) ChunkStats(ctx context.Context) ([]models.ChunkStat, error) {
	return s.deps.Chunks.ChunkStats(ctx)
}

// Detect classifies free text the same way uploads do.
func (s *Service) Detect(ctx context.Context, text string) (doctype.Detection, error) {
	if strings.TrimSpace(text) == "" {
		return doctype.Detection{}, fmt.Errorf("%w: text is required", util.ErrInvalidInput)
	}
	return s.classifier.DetectOrDefault(ctx, text), nil
}

// EngineerPrompt builds the extraction prompt for text and runs it once.
func (s *Service) EngineerPrompt(ctx context.Context, req PromptRequest) (PromptResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return PromptResult{}, fmt.Errorf("%w: text is required", util.ErrInvalidInput)
	}
	docType, ok := models.ParseDocType(strings.ToLower(strings.TrimSpace(req.DocType)))
	if !ok {
		docType = models.DocTypeDefault
	}
	goal := req.Goal
	if strings.TrimSpace(goal) == "" {
		goal = enrich.RuleBasedGoal(req.Text)
	}
	prompt := enrich.BuildExtractionPrompt(req.Text, goal, docType)
	resp, _, err := s.deps.LLM.Generate(ctx, providers.GenerateRequest{
		Operation:   "prompt_engineer",
		Prompt:      prompt,
		Temperature: 0.2,
	})
	if err != nil {
		return PromptResult{Prompt: prompt}, err
	}
	return PromptResult{Prompt: prompt, Response: resp.Text}, nil
}
