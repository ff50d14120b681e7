package providers

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/require"
)

func TestCandidateTextJoinsParts(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text("in"), genai.Text("voice")}},
	}}}
	text, err := candidateText(resp)
	require.NoError(t, err)
	require.Equal(t, "invoice", text)
}

func TestCandidateTextEmptyResponseIsError(t *testing.T) {
	_, err := candidateText(&genai.GenerateContentResponse{})
	require.EqualError(t, err, "gemini returned no candidates")

	_, err = candidateText(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}})
	require.Error(t, err)

	_, err = candidateText(&genai.GenerateContentResponse{
		PromptFeedback: &genai.PromptFeedback{BlockReason: genai.BlockReasonSafety},
	})
	require.ErrorContains(t, err, "prompt blocked")
}
