package providers

import "context"

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

// GenerateRequest is a single completion call. Operation names the pipeline step
// ("classify_doc_type", "enrich_chunk", "rag_query", "prompt_engineer") and is
// used for auditing and by the mock provider.
type GenerateRequest struct {
	Operation   string   `json:"operation"`
	DocumentID  string   `json:"document_id,omitempty"`
	System      string   `json:"system,omitempty"`
	Prompt      string   `json:"prompt"`
	Context     []string `json:"context,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature float32  `json:"temperature"`
	JSON        bool     `json:"json,omitempty"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}

type EmbedRequest struct {
	Operation string   `json:"operation"`
	Inputs    []string `json:"inputs"`
	Dimension int      `json:"dimension"`
}

type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error)
}

type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error)
}

const defaultSystemPrompt = "You are a helpful PDF document extraction assistant."

func systemOrDefault(s string) string {
	if s == "" {
		return defaultSystemPrompt
	}
	return s
}

func promptWithContext(req GenerateRequest) string {
	if len(req.Context) == 0 {
		return req.Prompt
	}
	out := req.Prompt + "\n\nContext:\n"
	for i, c := range req.Context {
		if i > 0 {
			out += "\n\n"
		}
		out += c
	}
	return out
}
