package gcp

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// --- Extraction Model Prompts ---
const ExtractionSystemPrompt = "You are a medical document transcriber. Your task is to read a scanned or handwritten medical document page and reproduce its text exactly. Accuracy and completeness are of utmost importance."
const ExtractionUserPrompt = `You will be provided with a single page of a medical document.

Transcribe every piece of text on the page in reading order:

Handwriting: Transcribe handwritten text as faithfully as you can. If a word is illegible, write [illegible].
Tables: Reproduce tables row by row, separating cells with " | ".
Medications: Keep drug names, strengths, dosages and frequencies exactly as written.
Headers and Footers: Keep facility names, dates and patient identifiers. Ignore page numbers.

Return ONLY the transcribed text. Do not add commentary, summaries or markdown fences.`

// --- Structuring Model Prompts ---
const StructuringSystemPrompt = "You are a clinical data abstraction tool. Your task is to turn the text of a medical document into a structured clinical record. You must output your response as a single valid JSON object."

// --- Transcript Model Prompts ---
const TranscriptSystemPrompt = "You are a quality reviewer for patient verification calls. Your task is to read a call transcript and report any corrections the patient gave. You must output your response as a single valid JSON object."

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// VertexClient holds all pre-configured generative models for the pipeline.
type VertexClient struct {
	ExtractionModel  *genai.GenerativeModel
	StructuringModel *genai.GenerativeModel
	TranscriptModel  *genai.GenerativeModel
	baseClient       *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	// --- Configure the extraction model ---
	extractionModel := baseClient.GenerativeModel(modelName)
	extractionModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ExtractionSystemPrompt)},
	}
	extractionModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}
	extractionModel.SafetySettings = safetySettings()

	// --- Configure the structuring model ---
	structuringModel := baseClient.GenerativeModel(modelName)
	structuringModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(StructuringSystemPrompt)},
	}
	structuringModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	structuringModel.SafetySettings = safetySettings()

	// --- Configure the transcript model ---
	transcriptModel := baseClient.GenerativeModel(modelName)
	transcriptModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(TranscriptSystemPrompt)},
	}
	transcriptModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	transcriptModel.SafetySettings = safetySettings()

	return &VertexClient{
		ExtractionModel:  extractionModel,
		StructuringModel: structuringModel,
		TranscriptModel:  transcriptModel,
		baseClient:       baseClient,
	}, nil
}

// Medical text trips the default filters on dosage and anatomy terms.
func safetySettings() []*genai.SafetySetting {
	return []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
}

// ReadPage transcribes one page image or single-page PDF passed inline.
func (c *VertexClient) ReadPage(ctx context.Context, mimeType string, data []byte) (string, error) {
	resp, err := c.ExtractionModel.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: data},
		genai.Text(ExtractionUserPrompt),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	text := ResponseText(resp)
	if IsRefusal(text) {
		return "", fmt.Errorf("gemini response indicates refusal")
	}
	return text, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// TextModel adapts a configured model to a plain prompt-in, text-out call.
type TextModel struct {
	Model *genai.GenerativeModel
}

func (m TextModel) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := m.Model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	text := ResponseText(resp)
	if text == "" {
		return "", fmt.Errorf("gemini returned an empty response")
	}
	return text, nil
}

// ResponseText concatenates the text parts of the first candidate and strips
// markdown code fences.
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}

	content := strings.TrimSpace(sb.String())
	for _, fence := range []string{"```json", "```text", "```markdown", "```"} {
		if strings.HasPrefix(content, fence) {
			content = strings.TrimPrefix(content, fence)
			break
		}
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

func IsRefusal(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
