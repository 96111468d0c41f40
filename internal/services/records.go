package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Lllllllleong/medicaldocumentflow/internal/archive"
	"github.com/Lllllllleong/medicaldocumentflow/internal/common"
	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
	"github.com/Lllllllleong/medicaldocumentflow/internal/store"
)

// RecordService serves the read, delete and verification-refresh operations
// on persisted records. Every operation checks ownership first.
type RecordService struct {
	store     store.Store
	archive   archive.Store
	calls     CallStatusFetcher
	uploadDir string
	logger    *slog.Logger
}

func NewRecordService(st store.Store, arch archive.Store, calls CallStatusFetcher, uploadDir string, logger *slog.Logger) *RecordService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordService{store: st, archive: arch, calls: calls, uploadDir: uploadDir, logger: logger}
}

func (s *RecordService) List(ctx context.Context, userID string) ([]models.RecordSummary, error) {
	if userID == "" {
		return nil, common.ErrUnauthorized
	}
	recs, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	out := make([]models.RecordSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Summary())
	}
	return out, nil
}

func (s *RecordService) Get(ctx context.Context, userID, id string) (*models.RecordView, error) {
	rec, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	view := rec.View()
	return &view, nil
}

// GetFull returns the record unredacted, including the full extracted text.
func (s *RecordService) GetFull(ctx context.Context, userID, id string) (*models.Record, error) {
	return s.owned(ctx, userID, id)
}

// Delete removes the archived file (or the retained local copy) and then the
// record. Storage failures are logged; the record is deleted regardless.
func (s *RecordService) Delete(ctx context.Context, userID, id string) error {
	rec, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	logCtx := s.logger.With("recordId", id)

	switch {
	case rec.FileURL == "":
	case archive.IsRemote(rec.FileURL):
		if s.archive == nil {
			logCtx.Warn("No archive configured, remote file left in place.", "fileUrl", rec.FileURL)
			break
		}
		if err := s.archive.Delete(ctx, rec.FileURL); err != nil {
			logCtx.Error("Failed to delete archived file.", "error", err)
		}
	default:
		path := archive.LocalPath(s.uploadDir, rec.FileURL)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logCtx.Error("Failed to delete local file.", "error", err)
		}
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	logCtx.Info("Record deleted.")
	return nil
}

// VerificationStatus refreshes a non-terminal call from the platform, merges
// the result monotonically and persists whatever changed. A transcript that
// only arrives here is never analysed, and the call metadata says so.
func (s *RecordService) VerificationStatus(ctx context.Context, userID, id string) (*models.VerificationCall, error) {
	rec, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	call := rec.VerificationCall
	if call.CallID == "" || call.Status.IsTerminal() || s.calls == nil {
		return &call, nil
	}

	logCtx := s.logger.With("recordId", id, "callId", call.CallID)
	state, err := s.calls.GetStatus(ctx, call.CallID)
	if err != nil {
		logCtx.Warn("Failed to refresh call status, returning stored state.", "error", err)
		return &call, nil
	}

	next := call.Status.Advance(state.Status)
	if next == call.Status {
		return &call, nil
	}
	call.Status = next
	updates := []store.Update{{Path: "verificationCall.status", Value: next}}
	if next.IsTerminal() {
		call.EndTime = state.EndTime
		call.DurationSeconds = state.DurationSeconds
		call.Transcript = state.Transcript
		call.TranscriptObject = state.TranscriptObject
		call.RecordingURL = state.RecordingURL
		updates = append(updates,
			store.Update{Path: "verificationCall.durationSeconds", Value: call.DurationSeconds},
			store.Update{Path: "verificationCall.transcript", Value: call.Transcript},
			store.Update{Path: "verificationCall.transcriptObject", Value: call.TranscriptObject},
			store.Update{Path: "verificationCall.recordingUrl", Value: call.RecordingURL},
		)
		if call.EndTime != nil {
			updates = append(updates, store.Update{Path: "verificationCall.endTime", Value: *call.EndTime})
		}
		if call.HasTranscript() {
			metadata := make(map[string]any, len(call.Metadata)+1)
			for k, v := range call.Metadata {
				metadata[k] = v
			}
			metadata["transcriptAnalyzed"] = false
			call.Metadata = metadata
			updates = append(updates, store.Update{Path: "verificationCall.metadata.transcriptAnalyzed", Value: false})
		}
	}
	if err := s.store.UpdateFields(ctx, id, updates); err != nil {
		logCtx.Error("Failed to persist refreshed call status.", "error", err)
	}
	logCtx.Info("Call status refreshed.", "status", next)
	return &call, nil
}

func (s *RecordService) owned(ctx context.Context, userID, id string) (*models.Record, error) {
	if userID == "" {
		return nil, common.ErrUnauthorized
	}
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		s.logger.Warn("Record access denied.", "recordId", id, "userId", userID)
		return nil, fmt.Errorf("record %s: %w", id, common.ErrForbidden)
	}
	return rec, nil
}
