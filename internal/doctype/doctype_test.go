package doctype

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docflow/internal/models"
	"docflow/internal/providers"
	"docflow/internal/util"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(providers.GenerateResponse), args.Get(1).(providers.ProviderInfo), args.Error(2)
}

func TestRulesWinRegardlessOfLLM(t *testing.T) {
	llm := &mockLLM{}
	c := New(llm, Options{UseLLM: true})

	d, err := c.Classify(context.Background(), "Invoice Number: 42\nTotal: $10")
	require.NoError(t, err)
	assert.Equal(t, models.DocTypeInvoice, d.DocType)
	assert.Equal(t, "rule-based: matched invoice keywords", d.Reason)
	llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestRulePriority(t *testing.T) {
	// medical is checked before invoice
	d, ok := RuleBased("Patient ID 7, invoice attached")
	require.True(t, ok)
	assert.Equal(t, models.DocTypeMedical, d.DocType)

	d, ok = RuleBased("EDUCATION and SKILLS")
	require.True(t, ok)
	assert.Equal(t, models.DocTypeResume, d.DocType)

	_, ok = RuleBased("a quiet afternoon by the lake")
	assert.False(t, ok)
}

func TestLLMLabelIsNormalized(t *testing.T) {
	llm := &mockLLM{}
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req providers.GenerateRequest) bool {
		return req.Operation == "classify_doc_type" && req.System == "Return only one label."
	})).Return(providers.GenerateResponse{Text: "  Resume.\n"}, providers.ProviderInfo{Name: "mock"}, nil)

	d, err := New(llm, Options{UseLLM: true}).Classify(context.Background(), "a quiet afternoon by the lake")
	require.NoError(t, err)
	assert.Equal(t, models.DocTypeResume, d.DocType)
	assert.Equal(t, ReasonLLM, d.Reason)
	llm.AssertExpectations(t)
}

func TestLLMSampleIsBounded(t *testing.T) {
	llm := &mockLLM{}
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req providers.GenerateRequest) bool {
		return strings.Contains(req.Prompt, strings.Repeat("x", 10)+`"""`) && !strings.Contains(req.Prompt, strings.Repeat("x", 11))
	})).Return(providers.GenerateResponse{Text: "poem"}, providers.ProviderInfo{Name: "mock"}, nil)

	d, err := New(llm, Options{UseLLM: true, MaxChars: 10}).Classify(context.Background(), strings.Repeat("x", 50))
	require.NoError(t, err)
	assert.Equal(t, models.DocTypeDefault, d.DocType)
	assert.Equal(t, ReasonFallback, d.Reason)
	llm.AssertExpectations(t)
}

func TestLLMDisabledFallsBack(t *testing.T) {
	llm := &mockLLM{}
	d, err := New(llm, Options{UseLLM: false}).Classify(context.Background(), "lorem ipsum")
	require.NoError(t, err)
	assert.Equal(t, Detection{DocType: models.DocTypeDefault, Reason: ReasonFallback}, d)
	llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestLLMFailure(t *testing.T) {
	llm := &mockLLM{}
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(providers.GenerateResponse{}, providers.ProviderInfo{Name: "openai"}, errors.New("connection refused"))
	c := New(llm, Options{UseLLM: true})

	_, err := c.Classify(context.Background(), "lorem ipsum")
	require.ErrorIs(t, err, util.ErrClassification)

	d := c.DetectOrDefault(context.Background(), "lorem ipsum")
	assert.Equal(t, models.DocTypeDefault, d.DocType)
	assert.True(t, strings.HasPrefix(d.Reason, "fallback default: "))
}
