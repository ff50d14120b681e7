package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"docflow/internal/doctype"
	"docflow/internal/models"
	"docflow/internal/pipeline"
	"docflow/internal/providers"
	"docflow/internal/util"
	"docflow/internal/workflows"
)

// Pipeline is the set of document operations the HTTP surface exposes.
type Pipeline interface {
	Upload(ctx context.Context, req pipeline.UploadRequest) (pipeline.UploadResult, error)
	Query(ctx context.Context, req pipeline.QueryRequest) (pipeline.QueryResult, error)
	ListDocuments(ctx context.Context) ([]models.Document, error)
	GetDocument(ctx context.Context, id string) (models.Document, error)
	GetChunks(ctx context.Context, pdfID string, skip, limit int) ([]models.ChunkSummary, error)
	ChunkStats(ctx context.Context) ([]models.ChunkStat, error)
	Detect(ctx context.Context, text string) (doctype.Detection, error)
	EngineerPrompt(ctx context.Context, req pipeline.PromptRequest) (pipeline.PromptResult, error)
}

// ProgressSource reports deferred-processing progress. Only the Temporal
// executor has one.
type ProgressSource interface {
	Progress(ctx context.Context, pdfID string) (workflows.DeferredProgress, error)
}

type Server struct {
	pipeline  Pipeline
	progress  ProgressSource
	maxUpload int64
	origins   []string
	logger    *slog.Logger
}

type Option func(*Server)

func WithProgress(p ProgressSource) Option {
	return func(s *Server) { s.progress = p }
}

func WithMaxUpload(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

func NewServer(p Pipeline, opts ...Option) *Server {
	s := &Server{
		pipeline:  p,
		maxUpload: 64 << 20,
		origins:   []string{"*"},
		logger:    slog.Default().With("component", "api"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusNotFound, util.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	})

	r.Get("/healthz", s.handleHealthz)
	r.Route("/pdfs", func(r chi.Router) {
		r.Get("/", s.handleListDocuments)
		r.Post("/upload", s.handleUpload)
		r.Post("/query", s.handleQuery)
		r.Get("/{pdfID}", s.handleGetDocument)
		r.Get("/{pdfID}/chunks", s.handleGetChunks)
		r.Get("/{pdfID}/progress", s.handleProgress)
	})
	r.Get("/chunks/stats", s.handleChunkStats)
	r.Post("/detect/doc-type", s.handleDetect)
	r.Post("/prompts/engineer", s.handleEngineerPrompt)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}
	f, fh, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no file provided"))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}

	start := time.Now()
	res, err := s.pipeline.Upload(r.Context(), pipeline.UploadRequest{
		Filename: fh.Filename,
		Data:     data,
		DocType:  r.FormValue("doc_type"),
	})
	if err != nil {
		s.logger.Error("upload failed", "filename", fh.Filename, "error", err)
		writeErr(w, statusFor(err), err)
		return
	}
	s.logger.Info("upload accepted",
		"pdf_id", res.PdfID,
		"doc_type", res.DocType,
		"status", res.Status,
		"chunks", res.TotalChunks,
		"elapsed", time.Since(start))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req pipeline.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	res, err := s.pipeline.Query(r.Context(), req)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.pipeline.ListDocuments(r.Context())
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pdfs": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.pipeline.GetDocument(r.Context(), chi.URLParam(r, "pdfID"))
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGetChunks(w http.ResponseWriter, r *http.Request) {
	pdfID := chi.URLParam(r, "pdfID")
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.pipeline.GetDocument(r.Context(), pdfID); err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	chunks, err := s.pipeline.GetChunks(r.Context(), pdfID, skip, limit)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pdf_id": pdfID, "chunks": chunks})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if s.progress == nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("%w: progress tracking is not enabled", util.ErrNotFound))
		return
	}
	p, err := s.progress.Progress(r.Context(), chi.URLParam(r, "pdfID"))
	if err != nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("%w: %v", util.ErrNotFound, err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleChunkStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.pipeline.ChunkStats(r.Context())
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	d, err := s.pipeline.Detect(r.Context(), req.Text)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleEngineerPrompt(w http.ResponseWriter, r *http.Request) {
	var req pipeline.PromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	res, err := s.pipeline.EngineerPrompt(r.Context(), req)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", util.ErrInvalidInput, key)
	}
	return n, nil
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	var pe *providers.ProviderError
	switch {
	case errors.Is(err, util.ErrInvalidFile),
		errors.Is(err, util.ErrInvalidInput),
		errors.Is(err, util.ErrNoExtractableText):
		return http.StatusBadRequest
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, util.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, util.ErrOverloaded):
		return http.StatusServiceUnavailable
	case errors.As(err, &pe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "DF-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusBadGateway:
		return apiError{
			Code:    "DF-API-5020",
			Message: "Upstream provider unavailable. Retry shortly.",
		}
	case status == http.StatusServiceUnavailable:
		return apiError{
			Code:    "DF-API-5030",
			Message: "Deferred processing is at capacity. Retry shortly.",
		}
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "DF-DB-5001",
				Message: "Database schema is not initialized. Run migrations and retry.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "DF-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "DF-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "DF-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "DF-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusMethodNotAllowed:
		code = "DF-API-4005"
		msg = "This endpoint does not support the requested method."
	case status == http.StatusUnprocessableEntity:
		code = "DF-API-4022"
		msg = "The PDF could not be read."
	}

	// 4xx messages only carry user-safe validation context.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case errors.Is(err, util.ErrInvalidFile):
			msg = "Only PDF files are allowed."
		case errors.Is(err, util.ErrNoExtractableText):
			msg = "No extractable text found in PDF."
		case strings.Contains(raw, "question is required"):
			msg = "A question is required."
		case strings.Contains(raw, "text is required"):
			msg = "Text is required."
		case strings.Contains(raw, "unknown doc_type"):
			msg = "Unknown doc_type. Use one of default, invoice, medical, resume."
		case strings.Contains(raw, "must be a non-negative integer"):
			msg = "Paging parameters must be non-negative integers."
		case strings.Contains(raw, "no file provided"):
			msg = "No PDF file was provided."
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		}
	}

	return apiError{Code: code, Message: msg}
}
