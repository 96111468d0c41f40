package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/Lllllllleong/medicaldocumentflow/internal/archive"
	"github.com/Lllllllleong/medicaldocumentflow/internal/common"
	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
	"github.com/Lllllllleong/medicaldocumentflow/internal/store"
	"github.com/Lllllllleong/medicaldocumentflow/internal/voice"
)

// CallClient places verification calls and reports on them.
type CallClient interface {
	Initiate(ctx context.Context, req voice.CallRequest) (voice.CallHandle, error)
	CallStatusFetcher
}

type PipelineConfig struct {
	UploadDir      string
	MaxUploadBytes int64
	// FinishTimeout bounds the stages that run after the call poll. They
	// are detached from the caller's cancellation so a shutdown mid-poll
	// still leaves a terminal, archived record.
	FinishTimeout time.Duration
}

// checkpointTimeout bounds a single record write made on a detached context.
const checkpointTimeout = 10 * time.Second

// PipelineDeps are the collaborators of one pipeline. Calls and Archive may
// be nil: a nil Calls marks every requested call as failed and a nil Archive
// keeps every file local.
type PipelineDeps struct {
	Extractor  *ExtractionService
	Structurer *StructuringService
	Analyzer   *TranscriptAnalyzer
	Calls      CallClient
	Poller     *CallPoller
	Store      store.Store
	Archive    archive.Store
}

// Pipeline drives one document from upload to a terminal processing status.
type Pipeline struct {
	deps   PipelineDeps
	config PipelineConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewPipeline(deps PipelineDeps, cfg PipelineConfig, logger *slog.Logger) (*Pipeline, error) {
	if deps.Extractor == nil || deps.Structurer == nil || deps.Analyzer == nil || deps.Store == nil {
		return nil, fmt.Errorf("pipeline requires extractor, structurer, analyzer and store")
	}
	if deps.Calls != nil && deps.Poller == nil {
		return nil, fmt.Errorf("pipeline with a call client requires a poller")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.FinishTimeout <= 0 {
		cfg.FinishTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		deps:   deps,
		config: cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// run holds the per-record state threaded through the stages.
type run struct {
	req         models.UploadRequest
	rec         *models.Record
	logCtx      *slog.Logger
	retainLocal bool
	analyzed    bool
}

// Process runs every stage for one upload. Only validation failures and a
// failed record creation are returned as errors; every later failure is
// absorbed into fallback data.
func (p *Pipeline) Process(ctx context.Context, req models.UploadRequest) (resp *models.UploadResponse, err error) {
	started := p.now()
	r := &run{req: req, logCtx: p.logger.With("file", req.OriginalFileName, "userId", req.UserID)}

	defer func() {
		if rec := recover(); rec != nil {
			r.logCtx.Error("Pipeline panicked.", "panic", rec, "stack", string(debug.Stack()))
			if !r.retainLocal {
				p.removeLocal(r)
			}
			resp = nil
			err = common.NewAppError("INTERNAL", "internal server error", common.ErrInternal)
		}
	}()

	if err := ValidateUpload(&r.req, p.config.MaxUploadBytes); err != nil {
		r.logCtx.Warn("Upload rejected.", "error", err)
		p.removeLocal(r)
		return nil, err
	}

	if err := p.extractAndCreate(ctx, r); err != nil {
		p.removeLocal(r)
		return nil, err
	}
	r.logCtx = r.logCtx.With("recordId", r.rec.ID)

	if r.req.PatientPhone != "" {
		if handle, ok := p.initiateCall(ctx, r); ok {
			p.awaitCall(ctx, r, handle)
		}
	}

	if ctx.Err() != nil {
		r.logCtx.Warn("Request context ended, finishing record on a detached context.", "error", ctx.Err())
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.FinishTimeout)
	defer cancel()

	structStart := p.now()
	structured := p.deps.Structurer.Structure(ctx, r.rec.ExtractedData.Text, StructuringContext{
		DocumentType: r.rec.DocumentType,
		Title:        r.rec.Title,
		Description:  r.rec.Description,
		PatientName:  r.rec.PatientName,
		PatientPhone: r.rec.PatientPhone,
	})
	r.rec.ProcessingMetadata.Timeline.Structuring = structured.Timing(structStart, p.now())
	observeStage("structuring", structured.Source)
	r.rec.StructuredData = structured.Value
	if structured.Err != nil {
		p.noteError(r, "structuring", structured.Err)
	}

	if r.rec.VerificationCall.HasTranscript() {
		p.analyzeTranscript(ctx, r)
	}

	p.archiveFile(ctx, r)
	p.finalize(ctx, r)

	pipelineDuration.Observe(p.now().Sub(started).Seconds())
	return r.rec.UploadResponse(), nil
}

func (p *Pipeline) extractAndCreate(ctx context.Context, r *run) error {
	docType, _ := models.ParseDocumentType(r.req.DocumentType)

	extStart := p.now()
	extracted := p.deps.Extractor.Extract(ctx, r.req.LocalFilePath, r.req.MimeType, ExtractionHints{
		DocumentType: docType,
		PatientName:  r.req.PatientName,
		OriginalName: r.req.OriginalFileName,
	})
	extEnd := p.now()
	observeStage("documentAI", extracted.Source)

	data := extracted.Value
	r.rec = &models.Record{
		UserID:        r.req.UserID,
		Title:         r.req.Title,
		Description:   r.req.Description,
		DocumentType:  docType,
		PatientName:   r.req.PatientName,
		PatientPhone:  r.req.PatientPhone,
		ExtractedData: &data,
		ProcessingMetadata: models.ProcessingMetadata{
			FileInfo: models.FileInfo{
				OriginalName: r.req.OriginalFileName,
				MimeType:     r.req.MimeType,
				SizeBytes:    r.req.SizeBytes,
			},
			Timeline:            models.Timeline{DocumentAI: extracted.Timing(extStart, extEnd)},
			ExtractedTextLength: utf8.RuneCountInString(data.Text),
			PageCount:           len(data.Pages),
			StorageLocation:     models.StoragePending,
		},
		VerificationCall: models.VerificationCall{Status: models.CallNotInitiated},
		ProcessingStatus: models.StatusDocumentAIComplete,
	}
	if extracted.Err != nil {
		r.rec.ProcessingMetadata.Errors = append(r.rec.ProcessingMetadata.Errors, "documentAI: "+extracted.Err.Error())
	}

	if _, err := p.deps.Store.Create(ctx, r.rec); err != nil {
		r.logCtx.Error("Failed to create record.", "error", err)
		return common.NewAppError("INTERNAL", "failed to create record", fmt.Errorf("%w: %v", common.ErrInternal, err))
	}
	r.logCtx.Info("Record created.", "recordId", r.rec.ID, "source", extracted.Source, "pageCount", len(data.Pages))
	return nil
}

func (p *Pipeline) initiateCall(ctx context.Context, r *run) (voice.CallHandle, bool) {
	callStart := p.now()
	var handle voice.CallHandle
	err := errors.New("call platform not configured")
	if p.deps.Calls != nil {
		handle, err = p.deps.Calls.Initiate(ctx, voice.CallRequest{
			PatientName:  r.rec.PatientName,
			Phone:        r.rec.PatientPhone,
			DocumentType: r.rec.DocumentType,
			RecordID:     r.rec.ID,
			Extracted:    r.rec.ExtractedData,
		})
	}

	call := &r.rec.VerificationCall
	if err != nil {
		r.logCtx.Error("Verification call could not be started, continuing without it.", "error", err)
		call.Status = call.Status.Advance(models.CallError)
		call.Metadata = map[string]any{"error": err.Error()}
		r.rec.ProcessingMetadata.Timeline.VerificationCall = models.Degraded(struct{}{}, err).Timing(callStart, p.now())
		observeStage("verificationCall", models.SourceMock)
		p.checkpoint(ctx, r, []store.Update{
			{Path: "verificationCall.status", Value: call.Status},
			{Path: "verificationCall.metadata", Value: call.Metadata},
			{Path: "processingMetadata.timeline.verificationCall", Value: r.rec.ProcessingMetadata.Timeline.VerificationCall},
		})
		return voice.CallHandle{}, false
	}

	startTime := handle.StartTime
	call.CallID = handle.CallID
	call.Status = call.Status.Advance(models.CallRegistered)
	call.StartTime = &startTime
	r.logCtx.Info("Verification call initiated.", "callId", handle.CallID)
	p.checkpoint(ctx, r, append([]store.Update{
		{Path: "verificationCall.callId", Value: call.CallID},
		{Path: "verificationCall.status", Value: call.Status},
		{Path: "verificationCall.startTime", Value: startTime},
	}, p.advance(r, models.StatusVerificationInitiated)...))
	return handle, true
}

func (p *Pipeline) awaitCall(ctx context.Context, r *run, handle voice.CallHandle) {
	result := p.deps.Poller.Wait(ctx, handle.CallID)
	state := result.State
	call := &r.rec.VerificationCall

	call.Status = call.Status.Advance(state.Status)
	if state.StartTime != nil {
		call.StartTime = state.StartTime
	}
	call.EndTime = state.EndTime
	call.DurationSeconds = state.DurationSeconds
	call.Transcript = state.Transcript
	call.TranscriptObject = state.TranscriptObject
	call.RecordingURL = state.RecordingURL
	call.Metadata = map[string]any{"polls": result.Polls}
	if state.DisconnectReason != "" {
		call.Metadata["disconnectionReason"] = state.DisconnectReason
	}

	timing := models.Ok(state).Timing(handle.StartTime, p.now())
	if result.TimedOut {
		call.Metadata["pollOutcome"] = string(models.CallTimeout)
		timing.Error = "call still " + string(call.Status) + " at poll ceiling"
	}
	r.rec.ProcessingMetadata.Timeline.VerificationCall = timing
	observeStage("verificationCall", models.SourceReal)
	r.logCtx.Info("Verification call finished.", "status", call.Status, "polls", result.Polls, "timedOut", result.TimedOut, "hasTranscript", call.HasTranscript())

	updates := []store.Update{
		{Path: "verificationCall.status", Value: call.Status},
		{Path: "verificationCall.metadata", Value: call.Metadata},
		{Path: "verificationCall.durationSeconds", Value: call.DurationSeconds},
		{Path: "verificationCall.transcript", Value: call.Transcript},
		{Path: "verificationCall.transcriptObject", Value: call.TranscriptObject},
		{Path: "verificationCall.recordingUrl", Value: call.RecordingURL},
		{Path: "processingMetadata.timeline.verificationCall", Value: timing},
	}
	if call.EndTime != nil {
		updates = append(updates, store.Update{Path: "verificationCall.endTime", Value: *call.EndTime})
	}
	p.checkpoint(ctx, r, append(updates, p.advance(r, models.StatusVerificationEnded)...))
}

func (p *Pipeline) analyzeTranscript(ctx context.Context, r *run) {
	call := &r.rec.VerificationCall
	start := p.now()
	analysis := p.deps.Analyzer.Analyze(ctx,
		TranscriptInput{Transcript: call.Transcript, Turns: call.TranscriptObject},
		AnalysisMetadata{
			RecordID:     r.rec.ID,
			DocumentType: r.rec.DocumentType,
			PatientName:  r.rec.PatientName,
			PatientPhone: r.rec.PatientPhone,
		},
	)
	r.rec.ProcessingMetadata.Timeline.TranscriptAnalysis = analysis.Timing(start, p.now())
	observeStage("transcriptAnalysis", analysis.Source)
	if analysis.Err != nil {
		p.noteError(r, "transcriptAnalysis", analysis.Err)
	}

	// Corrections are applied even when the call was not judged complete.
	result := ApplyCorrections(analysis.Value.Corrections, r.rec.StructuredData)
	r.rec.StructuredData = result.Structured
	for _, c := range result.Applied {
		switch c.Field {
		case FieldPatientName:
			r.rec.PatientName = c.Correct
		case FieldPatientPhone:
			r.rec.PatientPhone = c.Correct
		}
	}

	call.Corrections = analysis.Value.Corrections
	call.AdditionalInfo = analysis.Value.AdditionalInfo
	call.Summary = analysis.Value.Summary
	call.VerificationComplete = analysis.Value.VerificationComplete
	r.analyzed = true

	r.logCtx.Info("Corrections applied.", "returned", len(call.Corrections), "applied", len(result.Applied))
	p.checkpoint(ctx, r, append(result.Updates,
		store.Update{Path: "verificationCall.corrections", Value: call.Corrections},
		store.Update{Path: "verificationCall.additionalInfo", Value: call.AdditionalInfo},
		store.Update{Path: "verificationCall.summary", Value: call.Summary},
		store.Update{Path: "verificationCall.verificationComplete", Value: call.VerificationComplete},
		store.Update{Path: "processingMetadata.timeline.transcriptAnalysis", Value: r.rec.ProcessingMetadata.Timeline.TranscriptAnalysis},
	))
}

// archiveFile moves the upload into durable storage. On failure the local
// file is kept and becomes the record's only copy.
func (p *Pipeline) archiveFile(ctx context.Context, r *run) {
	start := p.now()
	url, err := p.putArchive(ctx, r)
	meta := &r.rec.ProcessingMetadata

	if err != nil {
		r.logCtx.Warn("Archival failed, keeping local file.", "error", err)
		r.retainLocal = true
		r.rec.FileURL = archive.LocalReference(r.req.LocalFilePath)
		meta.StorageLocation = models.StorageLocal
		meta.Timeline.Storage = models.Degraded(r.rec.FileURL, err).Timing(start, p.now())
		observeStage("storage", models.SourceMock)
		p.noteError(r, "storage", err)
		return
	}

	r.rec.FileURL = url
	meta.StorageLocation = models.StorageRemote
	meta.Timeline.Storage = models.Ok(url).Timing(start, p.now())
	observeStage("storage", models.SourceReal)
	p.removeLocal(r)
}

func (p *Pipeline) putArchive(ctx context.Context, r *run) (string, error) {
	if p.deps.Archive == nil {
		return "", fmt.Errorf("archive not configured: %w", common.ErrStorage)
	}
	data, err := os.ReadFile(r.req.LocalFilePath)
	if err != nil {
		return "", fmt.Errorf("failed to read local upload: %w", err)
	}
	return p.deps.Archive.Put(ctx, data, r.req.OriginalFileName, r.req.MimeType)
}

func (p *Pipeline) finalize(ctx context.Context, r *run) {
	final := models.StatusProcessingComplete
	if r.analyzed {
		final = models.StatusVerificationComplete
	}
	meta := r.rec.ProcessingMetadata

	updates := []store.Update{
		{Path: "structuredData", Value: r.rec.StructuredData},
		{Path: "fileUrl", Value: r.rec.FileURL},
		{Path: "processingMetadata.timeline", Value: meta.Timeline},
		{Path: "processingMetadata.storageLocation", Value: meta.StorageLocation},
	}
	if len(meta.Errors) > 0 {
		updates = append(updates, store.Update{Path: "processingMetadata.errors", Value: meta.Errors})
	}
	p.checkpoint(ctx, r, append(updates, p.advance(r, final)...))
	recordsFinalized.WithLabelValues(string(r.rec.ProcessingStatus)).Inc()
	r.logCtx.Info("Pipeline complete.", "status", r.rec.ProcessingStatus, "storageLocation", meta.StorageLocation)
}

// advance moves the record forward and returns the status write, or nothing
// if next is not ahead of the current status.
func (p *Pipeline) advance(r *run, next models.ProcessingStatus) []store.Update {
	if !r.rec.ProcessingStatus.CanAdvanceTo(next) {
		return nil
	}
	r.rec.ProcessingStatus = next
	return []store.Update{{Path: "processingStatus", Value: next}}
}

// checkpoint persists updates. Failures are logged only: the record stays
// at its last persisted checkpoint and the pipeline carries on. Writes
// ignore the caller's cancellation and get their own deadline.
func (p *Pipeline) checkpoint(ctx context.Context, r *run, updates []store.Update) {
	if len(updates) == 0 {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointTimeout)
	defer cancel()
	if err := p.deps.Store.UpdateFields(writeCtx, r.rec.ID, updates); err != nil {
		r.logCtx.Error("Failed to persist record checkpoint.", "fields", len(updates), "error", err)
	}
}

func (p *Pipeline) noteError(r *run, stage string, err error) {
	r.rec.ProcessingMetadata.Errors = append(r.rec.ProcessingMetadata.Errors, stage+": "+err.Error())
}

func (p *Pipeline) removeLocal(r *run) {
	if r.req.LocalFilePath == "" {
		return
	}
	if err := os.Remove(r.req.LocalFilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logCtx.Warn("Failed to remove local upload.", "path", filepath.Base(r.req.LocalFilePath), "error", err)
	}
}

func observeStage(stage string, source models.Source) {
	stageOutcomes.WithLabelValues(stage, string(source)).Inc()
}
