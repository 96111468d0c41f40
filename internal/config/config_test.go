package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/medicaldocumentflow/internal/common"
)

func setMemoryEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("ARCHIVE_BACKEND", "none")
}

func TestLoadDefaults(t *testing.T) {
	setMemoryEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "us-central1", cfg.VertexAIRegion)
	assert.Equal(t, "medicalRecords", cfg.FirestoreCollection)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 3*time.Minute, cfg.CallMaxDuration)
	assert.Equal(t, 5*time.Second, cfg.CallPollInterval)
	assert.Equal(t, 4, cfg.ExtractionConcurrency)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.False(t, cfg.Voice.Enabled())
}

func TestLoadOverrides(t *testing.T) {
	setMemoryEnv(t)
	t.Setenv("CALL_MAX_DURATION", "90s")
	t.Setenv("CALL_POLL_INTERVAL", "2s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RETELL_API_KEY", "key")
	t.Setenv("RETELL_AGENT_ID", "agent")
	t.Setenv("RETELL_LLM_ID", "llm")
	t.Setenv("RETELL_FROM_NUMBER", "+15550000000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.CallMaxDuration)
	assert.Equal(t, 2*time.Second, cfg.CallPollInterval)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.True(t, cfg.Voice.Enabled())
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"CALL_MAX_DURATION": "three minutes"}},
		{"interval not shorter than ceiling", map[string]string{"CALL_MAX_DURATION": "5s", "CALL_POLL_INTERVAL": "5s"}},
		{"postgres without dsn", map[string]string{"STORE_BACKEND": "postgres"}},
		{"gcs without bucket", map[string]string{"ARCHIVE_BACKEND": "gcs"}},
		{"half s3 credentials", map[string]string{"ARCHIVE_BACKEND": "s3", "ARCHIVE_BUCKET": "b", "S3_ACCESS_KEY": "k"}},
		{"unknown store", map[string]string{"STORE_BACKEND": "redis"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setMemoryEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestValidateUsesInvalidInput(t *testing.T) {
	cfg := &Config{StoreBackend: StoreFirestore, ArchiveBackend: ArchiveNone}
	err := cfg.Validate()
	require.ErrorIs(t, err, common.ErrInvalidInput)
}
