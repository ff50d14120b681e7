package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// OllamaProvider talks to a local Ollama server for both chat and embeddings.
// It backs the "local" vectorizer policy.
type OllamaProvider struct {
	alias      string
	baseURL    string
	chatModel  string
	embedModel string
	client     *http.Client
}

func NewOllamaProvider(alias string) *OllamaProvider {
	baseURL := strings.TrimSpace(os.Getenv("DOCFLOW_OLLAMA_HOST"))
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		alias:      alias,
		baseURL:    strings.TrimRight(baseURL, "/"),
		chatModel:  envOr("DOCFLOW_OLLAMA_MODEL", "llama3.1"),
		embedModel: resolveOllamaEmbedModel(alias),
		client:     &http.Client{Timeout: 90 * time.Second},
	}
}

func (o *OllamaProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "ollama", Model: o.embedModel, Key: o.alias}
	if len(req.Inputs) == 0 {
		return nil, info, fmt.Errorf("no embedding inputs")
	}
	out := make([][]float32, 0, len(req.Inputs))
	for _, text := range req.Inputs {
		raw, err := postJSON(ctx, o.client, o.baseURL+"/api/embeddings", "", map[string]any{
			"model":  o.embedModel,
			"prompt": text,
		})
		if err != nil {
			return nil, info, fmt.Errorf("ollama embedding: %w", err)
		}
		var parsed struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, info, fmt.Errorf("decode ollama embedding response: %w", err)
		}
		if len(parsed.Embedding) == 0 {
			return nil, info, fmt.Errorf("ollama returned empty embedding")
		}
		out = append(out, matchDimension(parsed.Embedding, req.Dimension))
	}
	return out, info, nil
}

func (o *OllamaProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	model := req.Model
	if model == "" {
		model = o.chatModel
	}
	info := ProviderInfo{Name: "ollama", Model: model, Key: o.alias}
	body := map[string]any{
		"model":  model,
		"stream": false,
		"messages": []map[string]string{
			{"role": "system", "content": systemOrDefault(req.System)},
			{"role": "user", "content": promptWithContext(req)},
		},
		"options": map[string]any{"temperature": req.Temperature},
	}
	if req.JSON {
		body["format"] = "json"
	}
	raw, err := postJSON(ctx, o.client, o.baseURL+"/api/chat", "", body)
	if err != nil {
		return GenerateResponse{}, info, fmt.Errorf("ollama generate: %w", err)
	}
	var parsed struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return GenerateResponse{}, info, fmt.Errorf("decode ollama chat response: %w", err)
	}
	return GenerateResponse{Text: parsed.Message.Content}, info, nil
}

func resolveOllamaEmbedModel(alias string) string {
	alias = strings.TrimSpace(alias)
	if alias != "" {
		if v := strings.TrimSpace(os.Getenv("DOCFLOW_OLLAMA_EMBED_MODEL_" + sanitizeEnvToken(alias))); v != "" {
			return v
		}
		switch strings.ToLower(alias) {
		case "nomic":
			return "nomic-embed-text"
		case "bge":
			return "bge-small-en-v1.5"
		}
		// ollama:nomic-embed-text names the model directly
		if strings.ContainsAny(alias, "-/.") {
			return alias
		}
	}
	return envOr("DOCFLOW_OLLAMA_EMBED_MODEL", "nomic-embed-text")
}
