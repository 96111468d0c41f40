// Package config loads the pipeline configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/medicaldocumentflow/internal/common"
	"github.com/Lllllllleong/medicaldocumentflow/internal/gcp"
)

const (
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
	StoreMemory    = "memory"

	ArchiveGCS  = "gcs"
	ArchiveS3   = "s3"
	ArchiveNone = "none"
)

type Config struct {
	ProjectID      string
	VertexAIRegion string
	GeminiModel    string

	StoreBackend        string
	FirestoreCollection string
	DatabaseDSN         string

	ArchiveBackend string
	ArchiveBucket  string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3BaseEndpoint string

	UploadDir      string
	MaxUploadBytes int64

	Voice VoiceConfig

	// CallMaxDuration is both the poll ceiling and the hang-up cap pushed to
	// the call agent.
	CallMaxDuration  time.Duration
	CallPollInterval time.Duration

	ExtractionConcurrency int
	HTTPTimeout           time.Duration

	LogLevel  slog.Level
	LogFormat string
}

type VoiceConfig struct {
	BaseURL    string
	APIKey     string
	AgentID    string
	LLMID      string
	FromNumber string
	VoiceID    string
}

// Enabled reports whether enough is configured to place real calls.
func (v VoiceConfig) Enabled() bool {
	return v.APIKey != "" && v.AgentID != "" && v.LLMID != "" && v.FromNumber != ""
}

func Load() (*Config, error) {
	cfg := &Config{
		ProjectID:           gcp.GetEnv("PROJECT_ID", ""),
		VertexAIRegion:      gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		GeminiModel:         gcp.GetEnv("GEMINI_MODEL", "gemini-1.5-pro"),
		StoreBackend:        strings.ToLower(gcp.GetEnv("STORE_BACKEND", StoreFirestore)),
		FirestoreCollection: gcp.GetEnv("FIRESTORE_COLLECTION", "medicalRecords"),
		DatabaseDSN:         gcp.GetEnv("DATABASE_DSN", ""),
		ArchiveBackend:      strings.ToLower(gcp.GetEnv("ARCHIVE_BACKEND", ArchiveGCS)),
		ArchiveBucket:       gcp.GetEnv("ARCHIVE_BUCKET", ""),
		S3Region:            gcp.GetEnv("S3_REGION", "us-east-1"),
		S3AccessKey:         gcp.GetEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:         gcp.GetEnv("S3_SECRET_KEY", ""),
		S3BaseEndpoint:      gcp.GetEnv("S3_BASE_ENDPOINT", ""),
		UploadDir:           gcp.GetEnv("UPLOAD_DIR", "./uploads"),
		Voice: VoiceConfig{
			BaseURL:    gcp.GetEnv("RETELL_BASE_URL", "https://api.retellai.com"),
			APIKey:     gcp.GetEnv("RETELL_API_KEY", ""),
			AgentID:    gcp.GetEnv("RETELL_AGENT_ID", ""),
			LLMID:      gcp.GetEnv("RETELL_LLM_ID", ""),
			FromNumber: gcp.GetEnv("RETELL_FROM_NUMBER", ""),
			VoiceID:    gcp.GetEnv("RETELL_VOICE_ID", "11labs-Adrian"),
		},
		LogFormat: strings.ToLower(gcp.GetEnv("LOG_FORMAT", "json")),
	}

	var err error
	if cfg.MaxUploadBytes, err = getEnvInt64("MAX_UPLOAD_BYTES", 10<<20); err != nil {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
	}
	if cfg.CallMaxDuration, err = getEnvDuration("CALL_MAX_DURATION", 3*time.Minute); err != nil {
		return nil, fmt.Errorf("CALL_MAX_DURATION: %w", err)
	}
	if cfg.CallPollInterval, err = getEnvDuration("CALL_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, fmt.Errorf("CALL_POLL_INTERVAL: %w", err)
	}
	if cfg.HTTPTimeout, err = getEnvDuration("HTTP_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("HTTP_TIMEOUT: %w", err)
	}
	concurrency, err := getEnvInt64("EXTRACTION_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("EXTRACTION_CONCURRENCY: %w", err)
	}
	cfg.ExtractionConcurrency = int(concurrency)
	if cfg.LogLevel, err = parseLogLevel(gcp.GetEnv("LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks backend-specific requirements.
func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return common.NewAppError("CONFIG_ERROR", msg, common.ErrInvalidInput)
	}

	switch c.StoreBackend {
	case StoreFirestore:
		if c.ProjectID == "" {
			return invalid("PROJECT_ID is required for the firestore store")
		}
	case StorePostgres:
		if c.DatabaseDSN == "" {
			return invalid("DATABASE_DSN is required for the postgres store")
		}
	case StoreMemory:
	default:
		return invalid(fmt.Sprintf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.ArchiveBackend {
	case ArchiveGCS:
		if c.ArchiveBucket == "" {
			return invalid("ARCHIVE_BUCKET is required for the gcs archive")
		}
	case ArchiveS3:
		if c.ArchiveBucket == "" {
			return invalid("ARCHIVE_BUCKET is required for the s3 archive")
		}
		if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
			return invalid("S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
		}
	case ArchiveNone:
	default:
		return invalid(fmt.Sprintf("unknown ARCHIVE_BACKEND %q", c.ArchiveBackend))
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return invalid(fmt.Sprintf("unknown LOG_FORMAT %q", c.LogFormat))
	}
	if c.MaxUploadBytes <= 0 {
		return invalid("MAX_UPLOAD_BYTES must be positive")
	}
	if c.ExtractionConcurrency <= 0 {
		return invalid("EXTRACTION_CONCURRENCY must be positive")
	}
	if c.CallPollInterval <= 0 || c.CallPollInterval >= c.CallMaxDuration {
		return invalid("CALL_POLL_INTERVAL must be positive and shorter than CALL_MAX_DURATION")
	}
	return nil
}

// SetupLogger installs the process-wide slog logger.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", val)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q (use Go format: 5s, 3m)", val)
	}
	return d, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q", level)
	}
}
