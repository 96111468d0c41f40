package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/medicaldocumentflow/internal/common"
	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
)

func TestApplyUpdatesNestedPaths(t *testing.T) {
	doc := map[string]any{
		"patientName": "Bob",
		"verificationCall": map[string]any{
			"status": "registered",
		},
	}
	err := ApplyUpdates(doc, []Update{
		{Path: "patientName", Value: "Robert"},
		{Path: "verificationCall.status", Value: models.CallEnded},
		{Path: "processingMetadata.timeline.documentAI", Value: &models.StageTiming{Source: models.SourceMock}},
		{Path: "verificationCall.corrections", Value: []models.Correction{{Field: "patientName", Incorrect: "Bob", Correct: "Robert"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Robert", doc["patientName"])
	call := doc["verificationCall"].(map[string]any)
	assert.Equal(t, "ended", call["status"])
	corrections := call["corrections"].([]any)
	require.Len(t, corrections, 1)
	assert.Equal(t, "Robert", corrections[0].(map[string]any)["correct"])

	timeline := doc["processingMetadata"].(map[string]any)["timeline"].(map[string]any)
	assert.Equal(t, "mock", timeline["documentAI"].(map[string]any)["source"])
}

func TestApplyUpdatesRejectsScalarParent(t *testing.T) {
	doc := map[string]any{"title": "scan"}
	err := ApplyUpdates(doc, []Update{{Path: "title.value", Value: "x"}})
	require.ErrorIs(t, err, common.ErrInvalidInput)

	err = ApplyUpdates(doc, []Update{{Path: "", Value: "x"}})
	require.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestWithUpdatedAt(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	out := withUpdatedAt([]Update{{Path: "title", Value: "a"}}, now)
	require.Len(t, out, 2)
	assert.Equal(t, "updatedAt", out[1].Path)

	explicit := []Update{{Path: "updatedAt", Value: now}}
	assert.Len(t, withUpdatedAt(explicit, now.Add(time.Hour)), 1)
}

func TestDocRoundTripKeepsRecord(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := &models.Record{
		ID:           "ignored",
		UserID:       "u1",
		Title:        "Rx",
		DocumentType: models.DocPrescription,
		ExtractedData: &models.ExtractedData{
			Text:  "Amoxicillin",
			Pages: []models.Page{{PageNumber: 1, Text: "Amoxicillin"}},
		},
		VerificationCall: models.VerificationCall{CallID: "c1", Status: models.CallOngoing, StartTime: &start},
	}
	doc, err := toDoc(rec)
	require.NoError(t, err)
	_, hasID := doc["id"]
	assert.False(t, hasID)

	back, err := fromDoc("rec-1", doc)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", back.ID)
	assert.Equal(t, rec.ExtractedData, back.ExtractedData)
	assert.Equal(t, start, *back.VerificationCall.StartTime)
}
