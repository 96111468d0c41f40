package models

import "time"

// Record is the persisted unit for one uploaded medical document and its
// processing lineage. Firestore and JSON field names are kept identical so a
// dotted update path means the same thing in every store backend.
type Record struct {
	ID                 string             `firestore:"-" json:"id"`
	UserID             string             `firestore:"userId" json:"userId"`
	Title              string             `firestore:"title" json:"title"`
	Description        string             `firestore:"description,omitempty" json:"description,omitempty"`
	DocumentType       DocumentType       `firestore:"documentType" json:"documentType"`
	PatientName        string             `firestore:"patientName,omitempty" json:"patientName,omitempty"`
	PatientPhone       string             `firestore:"patientPhone,omitempty" json:"patientPhone,omitempty"`
	ExtractedData      *ExtractedData     `firestore:"extractedData,omitempty" json:"extractedData,omitempty"`
	StructuredData     map[string]any     `firestore:"structuredData,omitempty" json:"structuredData,omitempty"`
	ProcessingMetadata ProcessingMetadata `firestore:"processingMetadata" json:"processingMetadata"`
	VerificationCall   VerificationCall   `firestore:"verificationCall" json:"verificationCall"`
	ProcessingStatus   ProcessingStatus   `firestore:"processingStatus" json:"processingStatus"`
	FileURL            string             `firestore:"fileUrl,omitempty" json:"fileUrl,omitempty"`
	CreatedAt          time.Time          `firestore:"createdAt" json:"createdAt"`
	UpdatedAt          time.Time          `firestore:"updatedAt" json:"updatedAt"`
}

// ExtractedData is the output of the extraction stage. It is written once
// when the record is created and only ever replaced as a whole.
type ExtractedData struct {
	Text  string `firestore:"text" json:"text"`
	Pages []Page `firestore:"pages" json:"pages"`
}

type Page struct {
	PageNumber int    `firestore:"pageNumber" json:"pageNumber"`
	Text       string `firestore:"text" json:"text"`
}

// ProcessingMetadata is an append-only observability record.
type ProcessingMetadata struct {
	FileInfo            FileInfo        `firestore:"fileInfo" json:"fileInfo"`
	Timeline            Timeline        `firestore:"timeline" json:"timeline"`
	ExtractedTextLength int             `firestore:"extractedTextLength" json:"extractedTextLength"`
	PageCount           int             `firestore:"pageCount" json:"pageCount"`
	StorageLocation     StorageLocation `firestore:"storageLocation" json:"storageLocation"`
	Errors              []string        `firestore:"errors,omitempty" json:"errors,omitempty"`
}

type FileInfo struct {
	OriginalName string `firestore:"originalName" json:"originalName"`
	MimeType     string `firestore:"mimeType" json:"mimeType"`
	SizeBytes    int64  `firestore:"sizeBytes" json:"sizeBytes"`
}

// Timeline holds one entry per pipeline stage. A nil entry means the stage
// did not run for this record.
type Timeline struct {
	DocumentAI         *StageTiming `firestore:"documentAI,omitempty" json:"documentAI,omitempty"`
	VerificationCall   *StageTiming `firestore:"verificationCall,omitempty" json:"verificationCall,omitempty"`
	Structuring        *StageTiming `firestore:"structuring,omitempty" json:"structuring,omitempty"`
	TranscriptAnalysis *StageTiming `firestore:"transcriptAnalysis,omitempty" json:"transcriptAnalysis,omitempty"`
	Storage            *StageTiming `firestore:"storage,omitempty" json:"storage,omitempty"`
}

type StageTiming struct {
	StartTime time.Time `firestore:"startTime" json:"startTime"`
	EndTime   time.Time `firestore:"endTime" json:"endTime"`
	Source    Source    `firestore:"source" json:"source"`
	Error     string    `firestore:"error,omitempty" json:"error,omitempty"`
}

// VerificationCall tracks the outbound patient call and what came out of it.
type VerificationCall struct {
	CallID               string           `firestore:"callId,omitempty" json:"callId,omitempty"`
	Status               CallStatus       `firestore:"status" json:"status"`
	StartTime            *time.Time       `firestore:"startTime,omitempty" json:"startTime,omitempty"`
	EndTime              *time.Time       `firestore:"endTime,omitempty" json:"endTime,omitempty"`
	DurationSeconds      int              `firestore:"durationSeconds,omitempty" json:"durationSeconds,omitempty"`
	Transcript           string           `firestore:"transcript,omitempty" json:"transcript,omitempty"`
	TranscriptObject     []TranscriptTurn `firestore:"transcriptObject,omitempty" json:"transcriptObject,omitempty"`
	RecordingURL         string           `firestore:"recordingUrl,omitempty" json:"recordingUrl,omitempty"`
	VerificationComplete bool             `firestore:"verificationComplete" json:"verificationComplete"`
	Corrections          []Correction     `firestore:"corrections,omitempty" json:"corrections,omitempty"`
	AdditionalInfo       string           `firestore:"additionalInfo,omitempty" json:"additionalInfo,omitempty"`
	Summary              string           `firestore:"summary,omitempty" json:"summary,omitempty"`
	Metadata             map[string]any   `firestore:"metadata,omitempty" json:"metadata,omitempty"`
}

// TranscriptTurn is one speaker turn of a call transcript.
type TranscriptTurn struct {
	Role    string `firestore:"role" json:"role"`
	Content string `firestore:"content" json:"content"`
}

// Correction is a patient-asserted fix for a single field.
type Correction struct {
	Field     string `firestore:"field" json:"field"`
	Incorrect string `firestore:"incorrect" json:"incorrect"`
	Correct   string `firestore:"correct" json:"correct"`
}

// HasTranscript reports whether the call produced anything worth analysing.
func (v VerificationCall) HasTranscript() bool {
	return v.Transcript != "" || len(v.TranscriptObject) > 0
}
