package models

import "strings"

// ProcessingStatus is the coarse lifecycle tag of a Record.
type ProcessingStatus string

const (
	StatusUploaded              ProcessingStatus = "uploaded"
	StatusDocumentAIComplete    ProcessingStatus = "document_ai_complete"
	StatusVerificationInitiated ProcessingStatus = "verification_initiated"
	StatusVerificationEnded     ProcessingStatus = "verification_ended"
	StatusVerificationComplete  ProcessingStatus = "verification_complete"
	StatusProcessingComplete    ProcessingStatus = "processing_complete"
)

var processingRanks = map[ProcessingStatus]int{
	StatusUploaded:              0,
	StatusDocumentAIComplete:    1,
	StatusVerificationInitiated: 2,
	StatusVerificationEnded:     3,
	StatusVerificationComplete:  4,
	StatusProcessingComplete:    4,
}

// Rank returns the position of s in the lifecycle, or -1 if s is unknown.
func (s ProcessingStatus) Rank() int {
	if r, ok := processingRanks[s]; ok {
		return r
	}
	return -1
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s ProcessingStatus) CanAdvanceTo(next ProcessingStatus) bool {
	return next.Rank() > s.Rank()
}

func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusVerificationComplete || s == StatusProcessingComplete
}

// CallStatus is the status of the verification call as reported by the call
// platform.
type CallStatus string

const (
	CallNotInitiated CallStatus = "not_initiated"
	CallRegistered   CallStatus = "registered"
	CallOngoing      CallStatus = "ongoing"
	CallEnded        CallStatus = "ended"
	CallError        CallStatus = "error"
	// CallTimeout is reported by the poller when the ceiling passes while the
	// platform still says the call is live. It is never persisted.
	CallTimeout CallStatus = "timeout"
)

var callRanks = map[CallStatus]int{
	CallNotInitiated: 0,
	CallRegistered:   1,
	CallOngoing:      2,
	CallEnded:        3,
	CallError:        3,
}

func (s CallStatus) Rank() int {
	if r, ok := callRanks[s]; ok {
		return r
	}
	return -1
}

func (s CallStatus) IsTerminal() bool {
	return s == CallEnded || s == CallError
}

// Advance returns the status the call should hold after observing next.
// Statuses only move forward and a terminal status is final.
func (s CallStatus) Advance(next CallStatus) CallStatus {
	if s.IsTerminal() {
		return s
	}
	if next.Rank() > s.Rank() {
		return next
	}
	return s
}

// ParseCallStatus maps a platform status string onto CallStatus.
func ParseCallStatus(raw string) CallStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "registered":
		return CallRegistered
	case "ongoing", "in_progress", "in-progress":
		return CallOngoing
	case "ended", "completed":
		return CallEnded
	case "error", "not_connected", "failed":
		return CallError
	default:
		return CallNotInitiated
	}
}

// Source marks whether a stage's output came from the real upstream service
// or from deterministic fallback data.
type Source string

const (
	SourceReal Source = "real"
	SourceMock Source = "mock"
)

// StorageLocation says where the archived original lives.
type StorageLocation string

const (
	StoragePending StorageLocation = "pending"
	StorageRemote  StorageLocation = "remote"
	StorageLocal   StorageLocation = "local"
)

// DocumentType is the closed set of supported document kinds.
type DocumentType string

const (
	DocPrescription     DocumentType = "prescription"
	DocLabReport        DocumentType = "lab_report"
	DocDischargeSummary DocumentType = "discharge_summary"
	DocConsultationNote DocumentType = "consultation_note"
	DocImagingReport    DocumentType = "imaging_report"
	DocReferral         DocumentType = "referral"
	DocOther            DocumentType = "other"
)

var allDocumentTypes = []DocumentType{
	DocPrescription,
	DocLabReport,
	DocDischargeSummary,
	DocConsultationNote,
	DocImagingReport,
	DocReferral,
	DocOther,
}

var documentTypeSynonyms = map[string]DocumentType{
	"rx":                DocPrescription,
	"medication list":   DocPrescription,
	"lab":               DocLabReport,
	"lab results":       DocLabReport,
	"blood test":        DocLabReport,
	"discharge":         DocDischargeSummary,
	"discharge summary": DocDischargeSummary,
	"consultation":      DocConsultationNote,
	"clinic note":       DocConsultationNote,
	"doctor note":       DocConsultationNote,
	"radiology":         DocImagingReport,
	"x ray":             DocImagingReport,
	"imaging":           DocImagingReport,
	"referral letter":   DocReferral,
}

// ParseDocumentType canonicalises free-form input. The boolean is false when
// the input had to be mapped to DocOther.
func ParseDocumentType(input string) (DocumentType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return DocOther, false
	}
	normalized = strings.ReplaceAll(normalized, "-", "_")
	for _, t := range allDocumentTypes {
		if normalized == string(t) || strings.ReplaceAll(normalized, " ", "_") == string(t) {
			return t, true
		}
	}
	if t, ok := documentTypeSynonyms[strings.ReplaceAll(normalized, "_", " ")]; ok {
		return t, true
	}
	return DocOther, false
}

// Label returns a human readable form used in prompts and call scripts.
func (d DocumentType) Label() string {
	if d == "" {
		return "medical document"
	}
	return strings.ReplaceAll(string(d), "_", " ")
}
