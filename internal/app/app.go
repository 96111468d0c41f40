// Package app assembles the pipeline and record service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/medicaldocumentflow/internal/archive"
	"github.com/Lllllllleong/medicaldocumentflow/internal/config"
	"github.com/Lllllllleong/medicaldocumentflow/internal/gcp"
	"github.com/Lllllllleong/medicaldocumentflow/internal/services"
	"github.com/Lllllllleong/medicaldocumentflow/internal/store"
	"github.com/Lllllllleong/medicaldocumentflow/internal/voice"
)

// App owns every long-lived client. Close releases them in reverse order.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    store.Store
	Archive  archive.Store
	Storage  *storage.Client
	Pipeline *services.Pipeline
	Records  *services.RecordService

	closers []func() error
}

// New builds the dependency graph. Missing AI or call credentials degrade the
// matching stage to its fallback rather than failing startup.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openArchive(ctx); err != nil {
		return nil, err
	}

	var (
		reader       services.PageReader
		structurer   services.TextGenerator
		transcriptAI services.TextGenerator
	)
	if cfg.ProjectID != "" {
		vertex, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create vertex client: %w", err)
		}
		a.closers = append(a.closers, vertex.Close)
		reader = vertex
		structurer = gcp.TextModel{Model: vertex.StructuringModel}
		transcriptAI = gcp.TextModel{Model: vertex.TranscriptModel}
	} else {
		logger.Warn("PROJECT_ID not set, extraction and structuring will use fallback data.")
	}

	var calls services.CallClient
	var poller *services.CallPoller
	if cfg.Voice.Enabled() {
		client, err := voice.NewClient(voice.Config{
			BaseURL:         cfg.Voice.BaseURL,
			APIKey:          cfg.Voice.APIKey,
			AgentID:         cfg.Voice.AgentID,
			LLMID:           cfg.Voice.LLMID,
			FromNumber:      cfg.Voice.FromNumber,
			VoiceID:         cfg.Voice.VoiceID,
			MaxCallDuration: cfg.CallMaxDuration,
			HTTPTimeout:     cfg.HTTPTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create voice client: %w", err)
		}
		calls = client
		poller = services.NewCallPoller(client, services.PollerConfig{
			Interval:    cfg.CallPollInterval,
			MaxDuration: cfg.CallMaxDuration,
		}, logger)
	} else {
		logger.Warn("Call platform not configured, verification calls will be marked as failed.")
	}

	a.Pipeline, err = services.NewPipeline(services.PipelineDeps{
		Extractor:  services.NewExtractionService(reader, services.ExtractionConfig{Concurrency: cfg.ExtractionConcurrency}, logger),
		Structurer: services.NewStructuringService(structurer, logger),
		Analyzer:   services.NewTranscriptAnalyzer(transcriptAI, logger),
		Calls:      calls,
		Poller:     poller,
		Store:      a.Store,
		Archive:    a.Archive,
	}, services.PipelineConfig{
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	var fetcher services.CallStatusFetcher
	if calls != nil {
		fetcher = calls
	}
	a.Records = services.NewRecordService(a.Store, a.Archive, fetcher, cfg.UploadDir, logger)

	logger.Info("Application initialized.",
		"store", cfg.StoreBackend,
		"archive", cfg.ArchiveBackend,
		"vertex", reader != nil,
		"calls", calls != nil,
	)
	return a, nil
}

// openStorage creates the GCS client when something needs it.
func (a *App) openStorage(ctx context.Context) error {
	if a.Config.ArchiveBackend != config.ArchiveGCS && a.Config.ProjectID == "" {
		return nil
	}
	client, err := gcp.NewStorageClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}
	a.Storage = client
	a.closers = append(a.closers, client.Close)
	return nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.StoreBackend {
	case config.StoreFirestore:
		client, err := gcp.NewFirestoreClient(ctx, a.Config.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to create firestore client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.Store = store.NewFirestore(client, a.Config.FirestoreCollection)
	case config.StorePostgres:
		pg, err := store.OpenPostgres(ctx, a.Config.DatabaseDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pg.Close)
		a.Store = pg
	default:
		a.Store = store.NewMemory()
	}
	return nil
}

func (a *App) openArchive(ctx context.Context) error {
	switch a.Config.ArchiveBackend {
	case config.ArchiveGCS:
		a.Archive = archive.NewGCS(a.Storage, a.Config.ArchiveBucket)
	case config.ArchiveS3:
		s3, err := archive.NewS3(ctx, archive.S3Config{
			Bucket:       a.Config.ArchiveBucket,
			Region:       a.Config.S3Region,
			AccessKey:    a.Config.S3AccessKey,
			SecretKey:    a.Config.S3SecretKey,
			BaseEndpoint: a.Config.S3BaseEndpoint,
		})
		if err != nil {
			return fmt.Errorf("failed to create s3 archive: %w", err)
		}
		a.Archive = s3
	}
	return nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
