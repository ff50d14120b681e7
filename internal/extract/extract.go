// Package extract turns uploaded PDF bytes into per-page text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"

	"docflow/internal/util"
)

type Page struct {
	PageNo int    `json:"page_no"`
	Text   string `json:"text"`
}

type Extractor interface {
	Extract(ctx context.Context, data []byte) ([]Page, error)
}

// PDFExtractor reads text with the pure-Go ledongthuc/pdf reader.
type PDFExtractor struct{}

func (PDFExtractor) Extract(ctx context.Context, data []byte) (pages []Page, err error) {
	// the reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("%w: %v", util.ErrExtraction, r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %w", util.ErrExtraction, err)
	}
	n := r.NumPage()
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", util.ErrExtraction, i, err)
		}
		pages = append(pages, Page{PageNo: i, Text: util.SanitizeText(text)})
	}
	return nonEmpty(pages)
}

// DocconvExtractor shells out to pdftotext through docconv. Pages are split on
// the form feeds pdftotext emits.
type DocconvExtractor struct{}

func (DocconvExtractor) Extract(ctx context.Context, data []byte) ([]Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, _, err := docconv.ConvertPDF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: docconv: %w", util.ErrExtraction, err)
	}
	var pages []Page
	for i, text := range strings.Split(body, "\f") {
		pages = append(pages, Page{PageNo: i + 1, Text: util.SanitizeText(text)})
	}
	return nonEmpty(pages)
}

// Chain tries each extractor in order and returns the first non-empty result.
type Chain struct {
	extractors []Extractor
	logger     *slog.Logger
}

func NewChain(extractors ...Extractor) *Chain {
	return &Chain{extractors: extractors, logger: slog.Default().With("component", "extract")}
}

// Default is the ledongthuc reader, optionally backed by docconv.
func Default(withDocconv bool) *Chain {
	if withDocconv {
		return NewChain(PDFExtractor{}, DocconvExtractor{})
	}
	return NewChain(PDFExtractor{})
}

func (c *Chain) Extract(ctx context.Context, data []byte) ([]Page, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", util.ErrExtraction)
	}
	var errs []error
	for _, e := range c.extractors {
		pages, err := e.Extract(ctx, data)
		if err == nil {
			return pages, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("extractor failed", "extractor", fmt.Sprintf("%T", e), "error", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no extractor configured", util.ErrExtraction)
	}
	return nil, errors.Join(errs...)
}

// FullText joins page texts with newlines.
func FullText(pages []Page) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n")
}

func nonEmpty(pages []Page) ([]Page, error) {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return pages, nil
		}
	}
	return nil, util.ErrNoExtractableText
}
