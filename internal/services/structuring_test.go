package services

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
)

func TestStructureToleratesProse(t *testing.T) {
	model := replyWith("Sure! Here is the record:\n```json\n{\"patient\":{\"name\":\"Jane Doe\"},\"diagnosis\":[\"Hypertension\"],\"medications\":[]}\n```\nLet me know if you need more.")
	svc := NewStructuringService(model, nil)

	out := svc.Structure(t.Context(), "BP 150/95. Dx: hypertension.", StructuringContext{
		DocumentType: models.DocConsultationNote,
		PatientName:  "Jane Doe",
	})

	require.NoError(t, out.Err)
	assert.Equal(t, models.SourceReal, out.Source)
	assert.Equal(t, []any{"Hypertension"}, out.Value["diagnosis"])
	assert.Equal(t, "consultation_note", out.Value["documentType"])
	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "BP 150/95")
	assert.Contains(t, model.prompts[0], "consultation note")
}

func TestStructureFallbackCarriesContext(t *testing.T) {
	tests := []struct {
		name  string
		model TextGenerator
		text  string
	}{
		{"upstream error", failWith(errors.New("deadline exceeded")), "text"},
		{"malformed", replyWith("I could not parse this document."), "text"},
		{"no model", nil, "text"},
		{"no text", replyWith(`{"patient":{}}`), "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewStructuringService(tt.model, nil)
			out := svc.Structure(t.Context(), tt.text, StructuringContext{
				DocumentType: models.DocPrescription,
				PatientName:  "Bob",
				PatientPhone: "+10000000000",
			})

			require.Error(t, out.Err)
			assert.True(t, out.IsDegraded())
			require.NotNil(t, out.Value)
			assert.Equal(t, "mock", out.Value["source"])
			assert.NotEmpty(t, out.Value["error"])
			patient := out.Value["patient"].(map[string]any)
			assert.Equal(t, "Bob", patient["name"])
			assert.Equal(t, "+10000000000", patient["phone"])
		})
	}
}

func TestStructuringPromptListsSchema(t *testing.T) {
	for _, key := range []string{"patient", "provider", "diagnosis", "medications", "labs", "vitals", "documentDate"} {
		assert.True(t, strings.Contains(structuringPrompt, `"`+key+`"`), key)
	}
}
