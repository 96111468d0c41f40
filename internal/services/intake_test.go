package services

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/medicaldocumentflow/internal/common"
	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
)

func TestNormalizeMimeType(t *testing.T) {
	assert.Equal(t, "image/jpeg", NormalizeMimeType("image/jpg"))
	assert.Equal(t, "application/pdf", NormalizeMimeType("Application/PDF; charset=binary"))
	assert.Equal(t, "image/png", NormalizeMimeType(" image/png "))
}

func TestValidateUpload(t *testing.T) {
	dir := t.TempDir()
	pdf := writeUpload(t, dir, "report.pdf", []byte("%PDF-1.4"))
	big := writeUpload(t, dir, "big.png", make([]byte, 2048))

	valid := func() models.UploadRequest {
		return models.UploadRequest{
			LocalFilePath:    pdf,
			OriginalFileName: "report.pdf",
			MimeType:         "application/pdf",
			Title:            "Blood work",
			UserID:           "user-1",
			PatientPhone:     "(555) 123-4567",
		}
	}

	tests := []struct {
		name   string
		mutate func(*models.UploadRequest)
		field  string
	}{
		{"missing user", func(r *models.UploadRequest) { r.UserID = " " }, "userId"},
		{"missing title", func(r *models.UploadRequest) { r.Title = "" }, "title"},
		{"no file", func(r *models.UploadRequest) { r.LocalFilePath = "" }, "file"},
		{"file gone", func(r *models.UploadRequest) { r.LocalFilePath = filepath.Join(dir, "gone.pdf") }, "file"},
		{"unsupported type", func(r *models.UploadRequest) { r.MimeType = "text/plain" }, "mimeType"},
		{"too large", func(r *models.UploadRequest) { r.LocalFilePath = big; r.MimeType = "image/png" }, "sizeBytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			err := ValidateUpload(&req, 1024)

			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrValidation))
			var ve *common.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	t.Run("valid request is normalized", func(t *testing.T) {
		req := valid()
		req.MimeType = "APPLICATION/PDF"
		require.NoError(t, ValidateUpload(&req, 1024))
		assert.Equal(t, "application/pdf", req.MimeType)
		assert.Equal(t, "+15551234567", req.PatientPhone)
		assert.Equal(t, int64(8), req.SizeBytes)
	})

	t.Run("undialable phone is kept as given", func(t *testing.T) {
		req := valid()
		req.PatientPhone = " 12345 "
		require.NoError(t, ValidateUpload(&req, 1024))
		assert.Equal(t, "12345", req.PatientPhone)
	})
}
