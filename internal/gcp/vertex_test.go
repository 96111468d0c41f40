package gcp

import (
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
)

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{}
	for _, p := range parts {
		content.Parts = append(content.Parts, genai.Text(p))
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content}}}
}

func TestResponseText(t *testing.T) {
	assert.Equal(t, "", ResponseText(nil))
	assert.Equal(t, "", ResponseText(&genai.GenerateContentResponse{}))
	assert.Equal(t, `{"a":1}`, ResponseText(textResponse("```json\n{\"a\":1}\n```")))
	assert.Equal(t, "Rx: Amoxicillin 500mg", ResponseText(textResponse("Rx: ", "Amoxicillin 500mg")))
}

func TestIsRefusal(t *testing.T) {
	assert.True(t, IsRefusal("I am unable to read medical documents."))
	assert.False(t, IsRefusal("Patient: Jane Doe"))
}

func TestGetEnv(t *testing.T) {
	t.Setenv("MDF_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnv("MDF_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnv("MDF_TEST_MISSING", "fallback"))
}
