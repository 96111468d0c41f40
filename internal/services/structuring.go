package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/medicaldocumentflow/internal/jsonx"
	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
)

// TextGenerator sends a prompt to a language model and returns its text.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// StructuringContext is what the caller already knows about the document.
type StructuringContext struct {
	DocumentType models.DocumentType
	Title        string
	Description  string
	PatientName  string
	PatientPhone string
}

type StructuringService struct {
	model  TextGenerator
	logger *slog.Logger
}

func NewStructuringService(model TextGenerator, logger *slog.Logger) *StructuringService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StructuringService{model: model, logger: logger}
}

const structuringPrompt = `Convert the medical document text below into a structured clinical record.

Return a single JSON object with exactly these keys:
- "patient": {"name": string, "phone": string, "dateOfBirth": string}
- "provider": {"name": string, "facility": string}
- "diagnosis": array of strings
- "medications": array of {"name": string, "dosage": string, "frequency": string}
- "labs": array of {"test": string, "value": string, "unit": string}
- "vitals": object mapping vital sign names to their recorded values
- "documentType": string
- "documentDate": string (ISO 8601 date if present, otherwise "")

Use "" or [] for anything not present in the text. Do not invent values.

Known context:
Document type: %s
Title: %s
Description: %s
Patient name on file: %s
Patient phone on file: %s

Document text:
%s`

// Structure turns extracted text into the clinical schema. It does not touch
// persisted state.
func (s *StructuringService) Structure(ctx context.Context, text string, sc StructuringContext) models.Outcome[map[string]any] {
	out, err := s.structure(ctx, text, sc)
	if err != nil {
		s.logger.Warn("Structuring failed, using fallback skeleton.", "documentType", sc.DocumentType, "error", err)
		return models.Degraded(FallbackStructured(sc, err), err)
	}
	return models.Ok(out)
}

func (s *StructuringService) structure(ctx context.Context, text string, sc StructuringContext) (map[string]any, error) {
	if s.model == nil {
		return nil, errors.New("structuring model not configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("no text to structure")
	}

	prompt := fmt.Sprintf(structuringPrompt, sc.DocumentType.Label(), sc.Title, sc.Description, sc.PatientName, sc.PatientPhone, text)
	raw, err := s.model.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	out := map[string]any{}
	if err := jsonx.Decode(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse structuring response: %w", err)
	}
	if _, ok := out["documentType"]; !ok {
		out["documentType"] = string(sc.DocumentType)
	}
	return out, nil
}

// FallbackStructured is the minimal record used when structuring fails. It
// carries the known context and an explicit error marker.
func FallbackStructured(sc StructuringContext, cause error) map[string]any {
	msg := "structuring unavailable"
	if cause != nil {
		msg = cause.Error()
	}
	return map[string]any{
		"patient": map[string]any{
			"name":  sc.PatientName,
			"phone": sc.PatientPhone,
		},
		"provider":     map[string]any{},
		"diagnosis":    []any{},
		"medications":  []any{},
		"labs":         []any{},
		"vitals":       map[string]any{},
		"documentType": string(sc.DocumentType),
		"error":        msg,
		"source":       string(models.SourceMock),
	}
}
