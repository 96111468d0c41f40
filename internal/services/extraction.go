package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
)

// PageReader turns one page (a single-page PDF or an image) into text.
type PageReader interface {
	ReadPage(ctx context.Context, mimeType string, data []byte) (string, error)
}

type ExtractionConfig struct {
	Concurrency int
}

// ExtractionHints feed the fallback text when the real reader fails.
type ExtractionHints struct {
	DocumentType models.DocumentType
	PatientName  string
	OriginalName string
}

type ExtractionService struct {
	reader PageReader
	config ExtractionConfig
	logger *slog.Logger
}

func NewExtractionService(reader PageReader, cfg ExtractionConfig, logger *slog.Logger) *ExtractionService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractionService{reader: reader, config: cfg, logger: logger}
}

type pageInput struct {
	number   int
	mimeType string
	path     string
}

// Extract never fails: any error yields the fallback text marked as mock.
func (s *ExtractionService) Extract(ctx context.Context, path, mimeType string, hints ExtractionHints) models.Outcome[models.ExtractedData] {
	logCtx := s.logger.With("file", hints.OriginalName)

	data, err := s.extract(ctx, logCtx, path, mimeType)
	if err != nil {
		logCtx.Warn("Extraction failed, using fallback text.", "error", err)
		return models.Degraded(FallbackExtraction(hints), err)
	}
	logCtx.Info("Extraction complete.", "pageCount", len(data.Pages), "textLength", len(data.Text))
	return models.Ok(data)
}

func (s *ExtractionService) extract(ctx context.Context, logCtx *slog.Logger, path, mimeType string) (models.ExtractedData, error) {
	if s.reader == nil {
		return models.ExtractedData{}, errors.New("extraction model not configured")
	}

	pages := []pageInput{{number: 1, mimeType: mimeType, path: path}}
	if mimeType == "application/pdf" {
		tempDir, err := os.MkdirTemp("", "mdf-extract-*")
		if err != nil {
			return models.ExtractedData{}, fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(tempDir)

		split, err := splitPDF(path, tempDir)
		if err != nil {
			logCtx.Warn("Could not split PDF, reading it as a single page.", "error", err)
		} else {
			pages = split
		}
	}

	texts := make([]string, len(pages))
	pageErrs := make([]error, len(pages))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.config.Concurrency)
	for i, page := range pages {
		eg.Go(func() error {
			data, err := os.ReadFile(page.path)
			if err != nil {
				pageErrs[i] = fmt.Errorf("page %d: %w", page.number, err)
				return nil
			}
			text, err := s.reader.ReadPage(gctx, page.mimeType, data)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				pageErrs[i] = fmt.Errorf("page %d: %w", page.number, err)
				return nil
			}
			texts[i] = strings.TrimSpace(text)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return models.ExtractedData{}, fmt.Errorf("extraction cancelled: %w", err)
	}

	out := models.ExtractedData{Pages: make([]models.Page, 0, len(pages))}
	var parts []string
	for i, page := range pages {
		if pageErrs[i] != nil {
			logCtx.Warn("Page extraction failed.", "page", page.number, "error", pageErrs[i])
		}
		out.Pages = append(out.Pages, models.Page{PageNumber: page.number, Text: texts[i]})
		if texts[i] != "" {
			parts = append(parts, texts[i])
		}
	}
	if len(parts) == 0 {
		if err := errors.Join(pageErrs...); err != nil {
			return models.ExtractedData{}, fmt.Errorf("no page produced text: %w", err)
		}
		return models.ExtractedData{}, errors.New("no page produced text")
	}
	out.Text = strings.Join(parts, "\n\n")
	return out, nil
}

// splitPDF writes one file per page into outDir.
func splitPDF(path, outDir string) ([]pageInput, error) {
	pageCount, err := api.PageCountFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if pageCount <= 1 {
		return []pageInput{{number: 1, mimeType: "application/pdf", path: path}}, nil
	}

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.SplitFile(path, outDir, 1, cfg); err != nil {
		return nil, fmt.Errorf("failed to split PDF: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	pages := make([]pageInput, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		pagePath := filepath.Join(outDir, fmt.Sprintf("%s_%d.pdf", base, i))
		if _, err := os.Stat(pagePath); err != nil {
			return nil, fmt.Errorf("split page %d missing: %w", i, err)
		}
		pages = append(pages, pageInput{number: i, mimeType: "application/pdf", path: pagePath})
	}
	return pages, nil
}

// FallbackExtraction is the deterministic text used when extraction fails.
func FallbackExtraction(hints ExtractionHints) models.ExtractedData {
	patient := hints.PatientName
	if patient == "" {
		patient = "unknown patient"
	}
	text := fmt.Sprintf(
		"[Automatic text extraction unavailable]\nDocument type: %s\nPatient: %s\nSource file: %s\nThe original document is attached to this record for manual review.",
		hints.DocumentType.Label(), patient, hints.OriginalName,
	)
	return models.ExtractedData{
		Text:  text,
		Pages: []models.Page{{PageNumber: 1, Text: text}},
	}
}
