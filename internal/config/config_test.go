package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("SYNC_LOCK_TTL", "90s")
	t.Setenv("S3_USE_SSL", "false")
	t.Setenv("EXPORT_TIMEOUT_SECONDS", "not-a-number")

	cfg := Load()
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, 90*time.Second, cfg.SyncLockTTL)
	assert.False(t, cfg.S3UseSSL)
	assert.Equal(t, 30*time.Second, cfg.ExportTimeout)
	assert.False(t, cfg.ContractsEnabled())
}

func TestLoadPipelineMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadPipeline(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 75, cfg.ConfidenceThreshold)
	assert.Equal(t, 7*24*time.Hour, cfg.EscalationWindow)
	assert.Contains(t, cfg.DistressKeywords, "overwhelmed")
}

func TestLoadPipelineOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	contents := `
confidence_threshold: 70
escalation_window: 72h
distress_keywords: [help, upset]
overrides:
  wed_1:
    confidence_threshold: 90
  wed_2:
    escalation_window: 24h
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadPipeline(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"help", "upset"}, cfg.DistressKeywords)
	assert.Equal(t, 90, cfg.ThresholdFor("wed_1"))
	assert.Equal(t, 70, cfg.ThresholdFor("wed_2"))
	assert.Equal(t, 24*time.Hour, cfg.WindowFor("wed_2"))
	assert.Equal(t, 72*time.Hour, cfg.WindowFor("wed_1"))
	// untouched keys keep their defaults
	assert.Equal(t, 3, cfg.MinNoteLength)
}

func TestLoadPipelineRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("confidence_threshold: 140\n"), 0o644))

	_, err := LoadPipeline(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence_threshold")
}

func TestRepositoryPipelineFileParses(t *testing.T) {
	cfg, err := LoadPipeline(filepath.Join("..", "..", "config", "pipeline.yaml"))
	require.NoError(t, err)
	assert.Len(t, cfg.DistressKeywords, 31)
	assert.True(t, cfg.ProviderEnabled("zoom"))
	assert.False(t, cfg.ProviderEnabled("fax"))
}
