package models

import "time"

// These structs define the shapes that cross the boundary between the
// pipeline and its collaborators (upload intake and the read endpoints).

// UploadRequest is what the upload intake hands to the pipeline once the file
// has been received on local disk.
type UploadRequest struct {
	LocalFilePath    string `json:"localFilePath"`
	OriginalFileName string `json:"originalFileName"`
	MimeType         string `json:"mimeType"`
	SizeBytes        int64  `json:"sizeBytes"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	DocumentType     string `json:"documentType"`
	PatientName      string `json:"patientName"`
	PatientPhone     string `json:"patientPhone"`
	UserID           string `json:"userId"`
}

// UploadResponse is the deliberately truncated view returned to the uploader.
// Full text is only available through the full-record accessor.
type UploadResponse struct {
	ID                   string              `json:"id"`
	Title                string              `json:"title"`
	DocumentType         DocumentType        `json:"documentType"`
	PatientName          string              `json:"patientName,omitempty"`
	PatientPhone         string              `json:"patientPhone,omitempty"`
	ProcessingStatus     ProcessingStatus    `json:"processingStatus"`
	ExtractedTextPreview string              `json:"extractedTextPreview"`
	PageCount            int                 `json:"pageCount"`
	StructuredData       map[string]any      `json:"structuredData,omitempty"`
	FileURL              string              `json:"fileUrl,omitempty"`
	Verification         VerificationSummary `json:"verification"`
	FullRecordPath       string              `json:"fullRecordPath"`
}

type VerificationSummary struct {
	CallID               string     `json:"callId,omitempty"`
	Status               CallStatus `json:"status"`
	VerificationComplete bool       `json:"verificationComplete"`
	CorrectionCount      int        `json:"correctionCount"`
	Summary              string     `json:"summary,omitempty"`
}

// RecordSummary is the list-level view of a record.
type RecordSummary struct {
	ID                   string           `json:"id"`
	Title                string           `json:"title"`
	DocumentType         DocumentType     `json:"documentType"`
	PatientName          string           `json:"patientName,omitempty"`
	ProcessingStatus     ProcessingStatus `json:"processingStatus"`
	HasVerificationCall  bool             `json:"hasVerificationCall"`
	VerificationComplete bool             `json:"verificationComplete"`
	HasFile              bool             `json:"hasFile"`
	CreatedAt            time.Time        `json:"createdAt"`
}

// RecordView is the single-record view: structured data plus a preview of the
// extracted text.
type RecordView struct {
	ID                   string              `json:"id"`
	Title                string              `json:"title"`
	Description          string              `json:"description,omitempty"`
	DocumentType         DocumentType        `json:"documentType"`
	PatientName          string              `json:"patientName,omitempty"`
	PatientPhone         string              `json:"patientPhone,omitempty"`
	ProcessingStatus     ProcessingStatus    `json:"processingStatus"`
	StructuredData       map[string]any      `json:"structuredData,omitempty"`
	ExtractedTextPreview string              `json:"extractedTextPreview"`
	PageCount            int                 `json:"pageCount"`
	FileURL              string              `json:"fileUrl,omitempty"`
	Verification         VerificationSummary `json:"verification"`
	CreatedAt            time.Time           `json:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt"`
}

// PreviewLength is the number of runes of extracted text exposed outside the
// full-record accessor.
const PreviewLength = 500

// Preview truncates text to PreviewLength runes.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= PreviewLength {
		return text
	}
	return string(runes[:PreviewLength]) + "..."
}

func (r *Record) Summary() RecordSummary {
	return RecordSummary{
		ID:                   r.ID,
		Title:                r.Title,
		DocumentType:         r.DocumentType,
		PatientName:          r.PatientName,
		ProcessingStatus:     r.ProcessingStatus,
		HasVerificationCall:  r.VerificationCall.CallID != "",
		VerificationComplete: r.VerificationCall.VerificationComplete,
		HasFile:              r.FileURL != "",
		CreatedAt:            r.CreatedAt,
	}
}

func (r *Record) VerificationSummary() VerificationSummary {
	return VerificationSummary{
		CallID:               r.VerificationCall.CallID,
		Status:               r.VerificationCall.Status,
		VerificationComplete: r.VerificationCall.VerificationComplete,
		CorrectionCount:      len(r.VerificationCall.Corrections),
		Summary:              r.VerificationCall.Summary,
	}
}

func (r *Record) View() RecordView {
	v := RecordView{
		ID:               r.ID,
		Title:            r.Title,
		Description:      r.Description,
		DocumentType:     r.DocumentType,
		PatientName:      r.PatientName,
		PatientPhone:     r.PatientPhone,
		ProcessingStatus: r.ProcessingStatus,
		StructuredData:   r.StructuredData,
		PageCount:        r.ProcessingMetadata.PageCount,
		FileURL:          r.FileURL,
		Verification:     r.VerificationSummary(),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.ExtractedData != nil {
		v.ExtractedTextPreview = Preview(r.ExtractedData.Text)
	}
	return v
}

// UploadResponse builds the truncated view handed back to the uploader.
func (r *Record) UploadResponse() *UploadResponse {
	resp := &UploadResponse{
		ID:               r.ID,
		Title:            r.Title,
		DocumentType:     r.DocumentType,
		PatientName:      r.PatientName,
		PatientPhone:     r.PatientPhone,
		ProcessingStatus: r.ProcessingStatus,
		PageCount:        r.ProcessingMetadata.PageCount,
		StructuredData:   r.StructuredData,
		FileURL:          r.FileURL,
		Verification:     r.VerificationSummary(),
		FullRecordPath:   "/records/" + r.ID + "/full",
	}
	if r.ExtractedData != nil {
		resp.ExtractedTextPreview = Preview(r.ExtractedData.Text)
	}
	return resp
}
