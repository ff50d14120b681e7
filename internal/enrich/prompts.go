package enrich

import (
	"strings"

	"docflow/internal/models"
)

var docTypeInstructions = map[models.DocType]string{
	models.DocTypeMedical: "You are a medical document assistant. Extract patient info, diagnosis, treatment, and date fields.",
	models.DocTypeInvoice: "You are an invoice parser. Extract invoice number, date, total, tax, and itemized list.",
	models.DocTypeResume:  "You are an HR assistant. Extract name, contact, education, work experience, and skills.",
	models.DocTypeDefault: "You are a document analysis assistant. Your job is to extract structured data from the following text.",
}

// Instruction returns the doc-type specific preamble; unknown types get the default one.
func Instruction(docType models.DocType) string {
	if s, ok := docTypeInstructions[docType]; ok {
		return s
	}
	return docTypeInstructions[models.DocTypeDefault]
}

const chunkPromptTemplate = `Analyze the following document chunk and return STRICT JSON with this schema:
{
  "entities": ["named people, organisations, products, amounts or dates"],
  "topics": ["short topic labels"],
  "actions": ["requested or described actions"],
  "summary": "one or two sentences"
}

Rules:
- Use only information present in the chunk.
- Use empty lists when nothing applies.
- Do not wrap the JSON in markdown.

Chunk:
`

// BuildChunkPrompt is the enrichment prompt for a single chunk.
func BuildChunkPrompt(content string, docType models.DocType) string {
	return Instruction(docType) + "\n\n" + chunkPromptTemplate + content
}

// BuildExtractionPrompt builds the whole-text extraction prompt used by the
// prompt engineering endpoint. goal is optional.
func BuildExtractionPrompt(text, goal string, docType models.DocType) string {
	var b strings.Builder
	b.WriteString(Instruction(docType))
	b.WriteString("\n\n")
	if g := strings.TrimSpace(goal); g != "" {
		b.WriteString("Goal: ")
		b.WriteString(g)
		b.WriteString("\n\n")
	}
	b.WriteString("Text:\n")
	b.WriteString(text)
	b.WriteString("\n\nReturn the data in JSON format.")
	return b.String()
}

// RuleBasedGoal guesses an extraction goal from keywords.
func RuleBasedGoal(text string) string {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "invoice number"), strings.Contains(t, "total amount"):
		return "Extract invoice information"
	case strings.Contains(t, "patient name"), strings.Contains(t, "diagnosis"):
		return "Extract medical data"
	case strings.Contains(t, "work experience"), strings.Contains(t, "skills"):
		return "Extract resume details"
	default:
		return "Extract structured data from document"
	}
}
