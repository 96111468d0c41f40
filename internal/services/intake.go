package services

import (
	"mime"
	"os"
	"strings"

	"github.com/Lllllllleong/medicaldocumentflow/internal/common"
	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
	"github.com/Lllllllleong/medicaldocumentflow/internal/voice"
)

var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

// NormalizeMimeType lowercases and strips parameters; image/jpg is accepted
// as an alias of image/jpeg.
func NormalizeMimeType(raw string) string {
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(raw))
	}
	if mt == "image/jpg" {
		return "image/jpeg"
	}
	return mt
}

// ValidateUpload runs the fail-fast checks made before any record exists.
// It fills in SizeBytes from disk when the caller left it empty.
func ValidateUpload(req *models.UploadRequest, maxBytes int64) error {
	if strings.TrimSpace(req.UserID) == "" {
		return common.NewValidationError("userId", req.UserID, "user is required")
	}
	if strings.TrimSpace(req.Title) == "" {
		return common.NewValidationError("title", req.Title, "title is required")
	}
	if req.LocalFilePath == "" {
		return common.NewValidationError("file", "", "file is required")
	}
	info, err := os.Stat(req.LocalFilePath)
	if err != nil || info.IsDir() {
		return common.NewValidationError("file", req.OriginalFileName, "uploaded file is missing")
	}

	req.MimeType = NormalizeMimeType(req.MimeType)
	if !allowedMimeTypes[req.MimeType] {
		return common.NewValidationError("mimeType", req.MimeType, "only PDF, JPEG and PNG files are supported")
	}

	if req.SizeBytes <= 0 {
		req.SizeBytes = info.Size()
	}
	if req.SizeBytes > maxBytes || info.Size() > maxBytes {
		return common.NewValidationError("sizeBytes", req.SizeBytes, "file exceeds the upload size limit")
	}

	// An undialable phone is kept as given. The call stage records the
	// failure and the document is still processed.
	req.PatientPhone = strings.TrimSpace(req.PatientPhone)
	if req.PatientPhone != "" {
		if normalized, err := voice.NormalizePhone(req.PatientPhone); err == nil {
			req.PatientPhone = normalized
		}
	}
	return nil
}
