package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Lllllllleong/medicaldocumentflow/internal/common"
	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
)

// ObjectEvent is the payload of a storage "object finalized" CloudEvent.
// Upload fields travel as custom object metadata.
type ObjectEvent struct {
	Bucket      string            `json:"bucket"`
	Name        string            `json:"name"`
	ContentType string            `json:"contentType"`
	Metadata    map[string]string `json:"metadata"`
}

// Downloader copies a stored object to a local path.
type Downloader interface {
	Download(ctx context.Context, bucket, object, destPath string) (int64, error)
}

// archivePrefix is where archived originals live; events for it are ignored
// so archiving into the intake bucket cannot retrigger the pipeline.
const archivePrefix = "records/"

type IntakeFunction struct {
	pipeline   *Pipeline
	downloader Downloader
	uploadDir  string
	logger     *slog.Logger
}

func NewIntakeFunction(pipeline *Pipeline, downloader Downloader, uploadDir string, logger *slog.Logger) (*IntakeFunction, error) {
	if pipeline == nil || downloader == nil {
		return nil, fmt.Errorf("intake requires a pipeline and a downloader")
	}
	if err := os.MkdirAll(uploadDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IntakeFunction{pipeline: pipeline, downloader: downloader, uploadDir: uploadDir, logger: logger}, nil
}

// Process downloads the object and runs it through the pipeline. Rejected
// uploads are logged and acknowledged; only transient failures are returned
// so the event is redelivered.
func (f *IntakeFunction) Process(ctx context.Context, e ObjectEvent) error {
	logCtx := f.logger.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if strings.HasPrefix(e.Name, archivePrefix) || strings.HasSuffix(e.Name, "/") {
		logCtx.Debug("Ignoring object outside the upload area.")
		return nil
	}
	logCtx.Info("Processing new upload.")

	original := path.Base(e.Name)
	localPath := filepath.Join(f.uploadDir, uuid.New().String()+"-"+original)
	if _, err := f.downloader.Download(ctx, e.Bucket, e.Name, localPath); err != nil {
		_ = os.Remove(localPath)
		logCtx.Error("Failed to download upload.", "error", err)
		return fmt.Errorf("failed to download gs://%s/%s: %w", e.Bucket, e.Name, err)
	}

	resp, err := f.pipeline.Process(ctx, e.UploadRequest(localPath))
	if err != nil {
		if errors.Is(err, common.ErrValidation) {
			logCtx.Warn("Upload rejected, not retrying.", "error", err)
			return nil
		}
		return err
	}
	logCtx.Info("Upload processed.", "recordId", resp.ID, "status", resp.ProcessingStatus)
	return nil
}

// UploadRequest maps the event onto the pipeline input.
func (e ObjectEvent) UploadRequest(localPath string) models.UploadRequest {
	md := e.Metadata
	return models.UploadRequest{
		LocalFilePath:    localPath,
		OriginalFileName: path.Base(e.Name),
		MimeType:         e.ContentType,
		Title:            md["title"],
		Description:      md["description"],
		DocumentType:     md["documentType"],
		PatientName:      md["patientName"],
		PatientPhone:     md["patientPhone"],
		UserID:           md["userId"],
	}
}
