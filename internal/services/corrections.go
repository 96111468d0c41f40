package services

import (
	"strings"

	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
	"github.com/Lllllllleong/medicaldocumentflow/internal/store"
)

const (
	FieldPatientName  = "patientName"
	FieldPatientPhone = "patientPhone"
)

// Only these fields are changed automatically. Every other correction is
// kept for audit in verificationCall.corrections.
var correctableFields = map[string]string{
	FieldPatientName:  "name",
	FieldPatientPhone: "phone",
}

type CorrectionResult struct {
	// Updates holds the top-level field writes for the store.
	Updates []store.Update
	// Structured is structuredData with name/phone mirrored into patient.
	Structured map[string]any
	Applied    []models.Correction
}

// ApplyCorrections computes the effect of corrections on structured without
// mutating it. Later corrections to the same field win.
func ApplyCorrections(corrections []models.Correction, structured map[string]any) CorrectionResult {
	final := map[string]models.Correction{}
	var order []string
	for _, c := range corrections {
		if _, ok := correctableFields[c.Field]; !ok {
			continue
		}
		c.Correct = strings.TrimSpace(c.Correct)
		if c.Correct == "" {
			continue
		}
		if _, seen := final[c.Field]; !seen {
			order = append(order, c.Field)
		}
		final[c.Field] = c
	}

	result := CorrectionResult{Structured: structured}
	if len(order) == 0 {
		return result
	}

	var patient map[string]any
	if structured != nil {
		if p, ok := structured["patient"].(map[string]any); ok {
			result.Structured = make(map[string]any, len(structured))
			for k, v := range structured {
				result.Structured[k] = v
			}
			patient = make(map[string]any, len(p)+1)
			for k, v := range p {
				patient[k] = v
			}
			result.Structured["patient"] = patient
		}
	}

	for _, field := range order {
		c := final[field]
		result.Updates = append(result.Updates, store.Update{Path: field, Value: c.Correct})
		result.Applied = append(result.Applied, c)
		if patient != nil {
			patient[correctableFields[field]] = c.Correct
		}
	}
	return result
}
