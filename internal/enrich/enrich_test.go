package enrich

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/internal/models"
	"docflow/internal/providers"
)

// fakeLLM fails any prompt containing failOn and echoes a fixed reply otherwise.
type fakeLLM struct {
	reply  string
	failOn string
	calls  atomic.Int32
}

func (f *fakeLLM) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	f.calls.Add(1)
	info := providers.ProviderInfo{Name: "fake"}
	if f.failOn != "" && strings.Contains(req.Prompt, f.failOn) {
		return providers.GenerateResponse{}, info, &providers.ProviderError{Type: providers.ErrorConnection, Provider: "fake", Err: errors.New("dial tcp: connection refused")}
	}
	return providers.GenerateResponse{Text: f.reply}, info, nil
}

func chunksN(n int) []models.Chunk {
	out := make([]models.Chunk, n)
	for i := range out {
		out[i] = models.Chunk{ChunkNum: i + 1, Content: "chunk body #" + string(rune('A'+i))}
	}
	return out
}

func TestEnrichAllIsolatesFailures(t *testing.T) {
	llm := &fakeLLM{
		reply:  "```json\n{\"entities\":[\"ACME\"],\"topics\":[],\"actions\":[],\"summary\":\"ok\"}\n```",
		failOn: "chunk body #C",
	}
	out := New(llm).EnrichAll(context.Background(), chunksN(5), models.DocTypeDefault)

	require.Len(t, out, 5)
	require.EqualValues(t, 5, llm.calls.Load())
	for i, c := range out {
		assert.Equal(t, i+1, c.ChunkNum)
		if c.ChunkNum == 3 {
			assert.False(t, c.Processed)
			assert.Contains(t, c.LLMError, "connection refused")
			assert.Contains(t, c.LLMError, "chunk enrichment failed")
			assert.Nil(t, c.LLMAnalysis)
			continue
		}
		assert.True(t, c.Processed)
		assert.Empty(t, c.LLMError)
		assert.Equal(t, "ok", c.LLMAnalysis["summary"])
	}
}

func TestEnrichMalformedJSON(t *testing.T) {
	c := New(&fakeLLM{reply: "Sure! Here are the entities: ACME"}).
		Enrich(context.Background(), models.Chunk{ChunkNum: 1, Content: "x"}, models.DocTypeInvoice)

	assert.False(t, c.Processed)
	assert.Empty(t, c.LLMError)
	assert.Equal(t, map[string]any{"error": InvalidResponse}, c.LLMAnalysis)
}

func TestEnrichResetsStaleState(t *testing.T) {
	in := models.Chunk{ChunkNum: 1, Content: "x", LLMError: "old", LLMAnalysis: map[string]any{"error": "old"}}
	c := New(&fakeLLM{reply: `{"summary":"fresh"}`}).Enrich(context.Background(), in, models.DocTypeDefault)
	assert.True(t, c.Processed)
	assert.Empty(t, c.LLMError)
	assert.Equal(t, "fresh", c.LLMAnalysis["summary"])
	assert.Equal(t, "old", in.LLMError)
}

func TestParseAnalysis(t *testing.T) {
	obj, ok := ParseAnalysis("Here you go: {\"topics\":[\"billing\"]} hope it helps")
	require.True(t, ok)
	assert.Equal(t, []any{"billing"}, obj["topics"])

	_, ok = ParseAnalysis("[1,2,3]")
	assert.False(t, ok)
	_, ok = ParseAnalysis("")
	assert.False(t, ok)
	_, ok = ParseAnalysis("null")
	assert.False(t, ok)
}

func TestPrompts(t *testing.T) {
	p := BuildExtractionPrompt("Invoice Number 12", "Extract invoice information", models.DocTypeInvoice)
	assert.True(t, strings.HasPrefix(p, "You are an invoice parser."))
	assert.Contains(t, p, "Goal: Extract invoice information")
	assert.True(t, strings.HasSuffix(p, "Return the data in JSON format."))

	p = BuildExtractionPrompt("text", "", models.DocType("unknown"))
	assert.NotContains(t, p, "Goal:")
	assert.True(t, strings.HasPrefix(p, "You are a document analysis assistant."))

	assert.Contains(t, BuildChunkPrompt("body", models.DocTypeMedical), "medical document assistant")

	assert.Equal(t, "Extract invoice information", RuleBasedGoal("TOTAL AMOUNT due"))
	assert.Equal(t, "Extract medical data", RuleBasedGoal("diagnosis: flu"))
	assert.Equal(t, "Extract resume details", RuleBasedGoal("skills: go"))
	assert.Equal(t, "Extract structured data from document", RuleBasedGoal("hello"))
}
