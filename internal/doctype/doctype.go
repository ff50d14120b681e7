// Package doctype labels a document as medical, invoice, resume or default.
// Keyword rules run first; an LLM closed-label prompt is consulted only when
// no rule matches and LLM detection is enabled.
package doctype

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"docflow/internal/models"
	"docflow/internal/providers"
	"docflow/internal/util"
)

type Detection struct {
	DocType models.DocType `json:"doc_type"`
	Reason  string         `json:"reason"`
}

const (
	ReasonLLM      = "llm-based"
	ReasonFallback = "fallback default"
	ReasonProvided = "provided"
)

type rule struct {
	docType  models.DocType
	keywords []string
}

// rules are checked in order; the first category with any keyword wins.
var rules = []rule{
	{models.DocTypeMedical, []string{
		"patient id", "hemoglobin", "diagnosis", "prescription", "blood pressure",
		"icd-10", "lab result", "admission date", "patient", "health",
	}},
	{models.DocTypeInvoice, []string{
		"invoice number", "invoice", "subtotal", "total amount", "total", "vat",
		"net 30", "bill to", "purchase order", "po #", "line items",
	}},
	{models.DocTypeResume, []string{
		"work experience", "profile", "education", "skills", "summary",
		"linkedin.com/in/", "curriculum vitae", "certifications",
	}},
}

type Options struct {
	UseLLM   bool
	MaxChars int
}

type Classifier struct {
	llm    providers.LLMProvider
	opts   Options
	logger *slog.Logger
}

func New(llm providers.LLMProvider, opts Options) *Classifier {
	if opts.MaxChars <= 0 {
		opts.MaxChars = 2000
	}
	return &Classifier{llm: llm, opts: opts, logger: slog.Default().With("component", "doctype")}
}

// RuleBased returns the first matching category, or ok=false.
func RuleBased(text string) (Detection, bool) {
	t := strings.ToLower(text)
	for _, r := range rules {
		for _, k := range r.keywords {
			if strings.Contains(t, k) {
				return Detection{DocType: r.docType, Reason: fmt.Sprintf("rule-based: matched %s keywords", r.docType)}, true
			}
		}
	}
	return Detection{}, false
}

// Classify returns the detected type. LLM failures are returned wrapped in
// util.ErrClassification; callers pick the fallback.
func (c *Classifier) Classify(ctx context.Context, text string) (Detection, error) {
	if d, ok := RuleBased(text); ok {
		return d, nil
	}
	if c.opts.UseLLM && c.llm != nil {
		resp, info, err := c.llm.Generate(ctx, providers.GenerateRequest{
			Operation:   "classify_doc_type",
			System:      "Return only one label.",
			Prompt:      labelPrompt(util.Truncate(text, c.opts.MaxChars)),
			Temperature: 0,
		})
		if err != nil {
			return Detection{}, fmt.Errorf("%w: %s: %w", util.ErrClassification, info.Name, err)
		}
		if t, ok := models.ParseDocType(normalizeLabel(resp.Text)); ok {
			return Detection{DocType: t, Reason: ReasonLLM}, nil
		}
		c.logger.Debug("llm returned non-canonical label", "label", resp.Text, "provider", info.Name)
	}
	return Detection{DocType: models.DocTypeDefault, Reason: ReasonFallback}, nil
}

// DetectOrDefault never fails: a classification error is logged and turned
// into the default type.
func (c *Classifier) DetectOrDefault(ctx context.Context, text string) Detection {
	d, err := c.Classify(ctx, text)
	if err != nil {
		c.logger.Warn("doc type detection failed, using default", "error", err)
		return Detection{DocType: models.DocTypeDefault, Reason: ReasonFallback + ": " + err.Error()}
	}
	return d
}

func labelPrompt(sample string) string {
	return `You are a classifier. Given the document text, output ONE WORD from this set exactly:
default, invoice, medical, resume

Choose the best fit:
- medical: clinical notes, lab results, patient info
- invoice: billing docs (invoice number, totals, line items)
- resume: CV, work experience, skills
- default: anything else

Document:
"""` + sample + `"""

Answer with only one of: medical | invoice | resume | default`
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' {
			return r
		}
		return -1
	}, s)
}
