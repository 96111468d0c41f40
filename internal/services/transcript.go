package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Lllllllleong/medicaldocumentflow/internal/jsonx"
	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
)

// TranscriptInput accepts either a flat transcript or speaker turns. Turns
// win when both are present.
type TranscriptInput struct {
	Transcript string
	Turns      []models.TranscriptTurn
}

type AnalysisMetadata struct {
	RecordID     string
	DocumentType models.DocumentType
	PatientName  string
	PatientPhone string
}

type Analysis struct {
	Corrections          []models.Correction
	AdditionalInfo       string
	Summary              string
	VerificationComplete bool
}

type TranscriptAnalyzer struct {
	model  TextGenerator
	logger *slog.Logger
}

func NewTranscriptAnalyzer(model TextGenerator, logger *slog.Logger) *TranscriptAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TranscriptAnalyzer{model: model, logger: logger}
}

const transcriptPrompt = `Below is the transcript of a call in which an automated agent verified a %s with the patient.

Details we had on file:
Patient name: %s
Patient phone: %s

Return a single JSON object with these keys:
- "corrections": array of {"field": string, "incorrect": string, "correct": string} for every detail the patient said was wrong. Use "patientName" for the patient's name and "patientPhone" for their phone number.
- "additionalInfo": string with anything new the patient asked to add, or "".
- "summary": one or two sentences describing the call.
- "verificationComplete": true only if the patient confirmed or corrected their details and the call reached its end.

Transcript:
%s`

type analysisPayload struct {
	Corrections          []models.Correction `json:"corrections"`
	AdditionalInfo       any                 `json:"additionalInfo"`
	Summary              string              `json:"summary"`
	VerificationComplete bool                `json:"verificationComplete"`
}

// Analyze never fails. Upstream or parse errors produce an empty analysis
// with VerificationComplete=false, marked as degraded.
func (a *TranscriptAnalyzer) Analyze(ctx context.Context, in TranscriptInput, meta AnalysisMetadata) models.Outcome[Analysis] {
	logCtx := a.logger.With("recordId", meta.RecordID)

	out, err := a.analyze(ctx, in, meta)
	if err != nil {
		logCtx.Warn("Transcript analysis failed.", "error", err)
		return models.Degraded(Analysis{Corrections: []models.Correction{}}, err)
	}
	logCtx.Info("Transcript analyzed.", "corrections", len(out.Corrections), "verificationComplete", out.VerificationComplete)
	return models.Ok(out)
}

func (a *TranscriptAnalyzer) analyze(ctx context.Context, in TranscriptInput, meta AnalysisMetadata) (Analysis, error) {
	if a.model == nil {
		return Analysis{}, errors.New("transcript model not configured")
	}
	dialogue := NormalizeTranscript(in)
	if dialogue == "" {
		return Analysis{}, errors.New("empty transcript")
	}

	prompt := fmt.Sprintf(transcriptPrompt, meta.DocumentType.Label(), meta.PatientName, meta.PatientPhone, dialogue)
	raw, err := a.model.Generate(ctx, prompt)
	if err != nil {
		return Analysis{}, err
	}

	var payload analysisPayload
	if err := jsonx.Decode(raw, &payload); err != nil {
		return Analysis{}, fmt.Errorf("failed to parse transcript analysis: %w", err)
	}

	out := Analysis{
		Corrections:          make([]models.Correction, 0, len(payload.Corrections)),
		AdditionalInfo:       stringify(payload.AdditionalInfo),
		Summary:              payload.Summary,
		VerificationComplete: payload.VerificationComplete,
	}
	for _, c := range payload.Corrections {
		c.Field = CanonicalField(c.Field)
		if c.Field == "" {
			continue
		}
		out.Corrections = append(out.Corrections, c)
	}
	return out, nil
}

// NormalizeTranscript renders turns as "Agent: ..." / "Patient: ..." lines.
func NormalizeTranscript(in TranscriptInput) string {
	if len(in.Turns) == 0 {
		return strings.TrimSpace(in.Transcript)
	}
	lines := make([]string, 0, len(in.Turns))
	for _, turn := range in.Turns {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		lines = append(lines, speaker(turn.Role)+": "+content)
	}
	return strings.Join(lines, "\n")
}

func speaker(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "agent", "assistant", "bot":
		return "Agent"
	case "user", "patient", "customer":
		return "Patient"
	case "":
		return "Unknown"
	default:
		r := strings.TrimSpace(role)
		first, size := utf8.DecodeRuneInString(r)
		return string(unicode.ToUpper(first)) + r[size:]
	}
}

var fieldAliases = map[string]string{
	"name":          FieldPatientName,
	"patient name":  FieldPatientName,
	"patientname":   FieldPatientName,
	"full name":     FieldPatientName,
	"phone":         FieldPatientPhone,
	"phone number":  FieldPatientPhone,
	"patient phone": FieldPatientPhone,
	"patientphone":  FieldPatientPhone,
	"telephone":     FieldPatientPhone,
	"mobile":        FieldPatientPhone,
}

// CanonicalField maps the model's field naming onto Record field names.
// Unknown fields are returned trimmed but otherwise untouched.
func CanonicalField(field string) string {
	trimmed := strings.TrimSpace(field)
	key := strings.ToLower(trimmed)
	key = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(key)
	key = strings.Join(strings.Fields(key), " ")
	if canonical, ok := fieldAliases[key]; ok {
		return canonical
	}
	return trimmed
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}
