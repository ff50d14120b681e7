package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"docflow/internal/config"
	"docflow/internal/util"
)

type NamedLLMProvider struct {
	Ref      ProviderRef
	Provider LLMProvider
}

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
}

// CallRecord is one provider attempt, successful or not.
type CallRecord struct {
	Operation  string
	DocumentID string
	Provider   string
	Model      string
	Key        string
	Status     string
	ErrorType  string
	Latency    time.Duration
}

type CallRecorder interface {
	RecordCall(ctx context.Context, rec CallRecord) error
}

// Manager owns the configured providers and fails over between them in
// preferred order (remote first, mock last). Providers that fail with quota,
// rate, auth or connection errors are skipped until their cooldown expires.
type Manager struct {
	llmProviders   []NamedLLMProvider
	embedProviders []NamedEmbedProvider

	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu            sync.Mutex
	cooldownUntil map[string]time.Time
	recorder      CallRecorder
}

func NewManager(cfg config.Config) (*Manager, error) {
	guard := GuardOptions{RequestsPerMinute: cfg.LLMRequestsPerMinute}

	var llms []NamedLLMProvider
	for _, ref := range ParseProviderList(cfg.LLMProviders) {
		p, err := buildProvider(ref, cfg.EmbedDim, guard)
		if err != nil {
			return nil, err
		}
		llm, ok := p.(LLMProvider)
		if !ok || !supportsLLM(p) {
			return nil, fmt.Errorf("provider %s does not support llm", ref.Raw)
		}
		llms = append(llms, NamedLLMProvider{Ref: ref, Provider: llm})
	}
	embeds, err := buildEmbeds(ParseProviderList(cfg.EmbedProviders), cfg.EmbedDim, guard)
	if err != nil {
		return nil, err
	}
	return NewManagerWith(llms, embeds, time.Duration(cfg.ProviderCooldownSecs)*time.Second), nil
}

// NewEmbedManager builds the embedding-only manager behind the vector
// mirror. Its providers are the configured embedding providers that match
// the vectorizer policy, so a collection never mixes local and hosted
// vectors.
func NewEmbedManager(cfg config.Config) (*Manager, error) {
	refs, err := VectorizerRefs(cfg.Vectorizer, ParseProviderList(cfg.EmbedProviders))
	if err != nil {
		return nil, err
	}
	embeds, err := buildEmbeds(refs, cfg.EmbedDim, GuardOptions{RequestsPerMinute: cfg.LLMRequestsPerMinute})
	if err != nil {
		return nil, err
	}
	return NewManagerWith(nil, embeds, time.Duration(cfg.ProviderCooldownSecs)*time.Second), nil
}

// VectorizerRefs filters refs down to the providers allowed by policy.
// "local" keeps Ollama and defaults to it; "hosted" keeps everything else.
// The mock provider satisfies either policy.
func VectorizerRefs(policy string, refs []ProviderRef) ([]ProviderRef, error) {
	var out []ProviderRef
	switch policy {
	case "local":
		for _, r := range refs {
			if r.Name == "ollama" || r.Name == "mock" {
				out = append(out, r)
			}
		}
		if len(out) == 0 {
			out = []ProviderRef{{Raw: "ollama", Name: "ollama"}}
		}
	case "hosted", "":
		for _, r := range refs {
			if r.Name != "ollama" {
				out = append(out, r)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: hosted vectorizer needs a non-ollama embedding provider", util.ErrInvalidConfig)
		}
	default:
		return nil, fmt.Errorf("%w: unknown vectorizer %q", util.ErrInvalidConfig, policy)
	}
	return out, nil
}

func buildEmbeds(refs []ProviderRef, dim int, guard GuardOptions) ([]NamedEmbedProvider, error) {
	var embeds []NamedEmbedProvider
	for _, ref := range refs {
		p, err := buildProvider(ref, dim, guard)
		if err != nil {
			return nil, err
		}
		embed, ok := p.(EmbeddingProvider)
		if !ok || !supportsEmbed(p) {
			return nil, fmt.Errorf("provider %s does not support embeddings", ref.Raw)
		}
		embeds = append(embeds, NamedEmbedProvider{Ref: ref, Provider: embed})
	}
	return embeds, nil
}

// NewManagerWith builds a manager from already constructed providers. Empty
// lists fall back to the mock provider.
func NewManagerWith(llms []NamedLLMProvider, embeds []NamedEmbedProvider, cooldown time.Duration) *Manager {
	mock := ProviderRef{Raw: "mock", Name: "mock"}
	if len(llms) == 0 {
		llms = []NamedLLMProvider{{Ref: mock, Provider: NewMockProvider(0)}}
	}
	if len(embeds) == 0 {
		embeds = []NamedEmbedProvider{{Ref: mock, Provider: NewMockProvider(0)}}
	}
	return &Manager{
		llmProviders:   llms,
		embedProviders: embeds,
		cooldown:       cooldown,
		now:            time.Now,
		logger:         slog.Default().With("component", "providers"),
		cooldownUntil:  map[string]time.Time{},
	}
}

func (m *Manager) SetRecorder(r CallRecorder) {
	m.mu.Lock()
	m.recorder = r
	m.mu.Unlock()
}

// Generate runs req against the first healthy LLM provider.
func (m *Manager) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	order := preferredOrder(len(m.llmProviders), func(i int) string { return strings.ToLower(m.llmProviders[i].Ref.Name) })
	var lastErr error
	var lastInfo ProviderInfo
	for _, i := range m.available(order, func(i int) ProviderRef { return m.llmProviders[i].Ref }) {
		named := m.llmProviders[i]
		start := m.now()
		resp, info, err := named.Provider.Generate(ctx, req)
		if info.Name == "" {
			info.Name = named.Ref.Name
		}
		docID := req.DocumentID
		if docID == "" {
			docID = DocumentIDFrom(ctx)
		}
		m.record(ctx, req.Operation, docID, info, err, m.now().Sub(start))
		if err == nil {
			return resp, info, nil
		}
		lastErr, lastInfo = m.onFailure(named.Ref, err), info
		if ctx.Err() != nil {
			break
		}
	}
	return GenerateResponse{}, lastInfo, lastErr
}

// Embed runs req against the first healthy embedding provider.
func (m *Manager) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	order := preferredOrder(len(m.embedProviders), func(i int) string { return strings.ToLower(m.embedProviders[i].Ref.Name) })
	var lastErr error
	var lastInfo ProviderInfo
	for _, i := range m.available(order, func(i int) ProviderRef { return m.embedProviders[i].Ref }) {
		named := m.embedProviders[i]
		start := m.now()
		vecs, info, err := named.Provider.Embed(ctx, req)
		if info.Name == "" {
			info.Name = named.Ref.Name
		}
		m.record(ctx, req.Operation, DocumentIDFrom(ctx), info, err, m.now().Sub(start))
		if err == nil {
			return vecs, info, nil
		}
		lastErr, lastInfo = m.onFailure(named.Ref, err), info
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastInfo, lastErr
}

// ProviderNames lists configured providers in failover order.
func (m *Manager) ProviderNames() (llm []string, embed []string) {
	for _, i := range preferredOrder(len(m.llmProviders), func(i int) string { return strings.ToLower(m.llmProviders[i].Ref.Name) }) {
		llm = append(llm, m.llmProviders[i].Ref.Raw)
	}
	for _, i := range preferredOrder(len(m.embedProviders), func(i int) string { return strings.ToLower(m.embedProviders[i].Ref.Name) }) {
		embed = append(embed, m.embedProviders[i].Ref.Raw)
	}
	return llm, embed
}

// available drops providers still cooling down. If every provider is cooling
// down the full order is returned so a call is still attempted.
func (m *Manager) available(order []int, refAt func(i int) ProviderRef) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make([]int, 0, len(order))
	for _, i := range order {
		if until, ok := m.cooldownUntil[refAt(i).Raw]; ok && now.Before(until) {
			continue
		}
		out = append(out, i)
	}
	if len(out) == 0 {
		return order
	}
	return out
}

func (m *Manager) onFailure(ref ProviderRef, err error) error {
	wrapped := wrapError(ref.Name, err)
	t := ClassifyError(wrapped)
	if shouldCooldown(t) && m.cooldown > 0 {
		m.mu.Lock()
		m.cooldownUntil[ref.Raw] = m.now().Add(m.cooldown)
		m.mu.Unlock()
		m.logger.Warn("provider cooling down", "provider", ref.Raw, "error_type", t, "cooldown", m.cooldown)
	} else {
		m.logger.Warn("provider call failed", "provider", ref.Raw, "error_type", t, "error", err)
	}
	return wrapped
}

func (m *Manager) record(ctx context.Context, op, docID string, info ProviderInfo, err error, latency time.Duration) {
	m.mu.Lock()
	r := m.recorder
	m.mu.Unlock()
	if r == nil {
		return
	}
	rec := CallRecord{
		Operation:  op,
		DocumentID: docID,
		Provider:   info.Name,
		Model:      info.Model,
		Key:        info.Key,
		Status:     "ok",
		Latency:    latency,
	}
	if err != nil {
		rec.Status = "error"
		rec.ErrorType = string(ClassifyError(err))
	}
	if rerr := r.RecordCall(context.WithoutCancel(ctx), rec); rerr != nil {
		m.logger.Debug("record provider call", "error", rerr)
	}
}

func preferredOrder(n int, nameAt func(i int) string) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if nameAt(i) != "mock" {
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if nameAt(i) == "mock" {
			out = append(out, i)
		}
	}
	return out
}

func supportsLLM(p any) bool {
	if g, ok := p.(*Guarded); ok {
		return g.SupportsLLM()
	}
	return true
}

func supportsEmbed(p any) bool {
	if g, ok := p.(*Guarded); ok {
		return g.SupportsEmbed()
	}
	return true
}

func buildProvider(ref ProviderRef, dim int, guard GuardOptions) (any, error) {
	var p any
	switch ref.Name {
	case "mock":
		return NewMockProvider(dim), nil
	case "openai":
		p = NewOpenAIProvider(ref.KeyAlias)
	case "groq":
		p = NewGroqProvider(ref.KeyAlias)
	case "ollama":
		p = NewOllamaProvider(ref.KeyAlias)
	case "gemini":
		p = NewGeminiProvider(ref.KeyAlias)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
	return NewGuarded(ref.Raw, p, guard), nil
}
