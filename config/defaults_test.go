package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, DetectorConfig{}, cfg.Detector)
	assert.NotEqual(t, BuilderConfig{}, cfg.Builder)
	assert.NotEqual(t, ChunkingConfig{}, cfg.Chunking)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotEqual(t, MetricsConfig{}, cfg.Metrics)
	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEmpty(t, cfg.Source.Type)
}

func TestDefaultDetectorConfig(t *testing.T) {
	cfg := DefaultDetectorConfig()
	assert.Equal(t, 0.6, cfg.NamePatternConfidence)
	assert.Equal(t, 0.8, cfg.ValueShapeMinFraction)
	assert.Equal(t, 3, cfg.MaxShapeTargets)
	assert.Equal(t, 0.5, cfg.MinCardinalityRatio)
	assert.Equal(t, 0.5, cfg.OverlapAcceptance)
	assert.Equal(t, 20, cfg.OneToOneMinSample)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
}

func TestDefaultChunkingConfig(t *testing.T) {
	cfg := DefaultChunkingConfig()
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 100, cfg.Overlap)
	assert.Less(t, cfg.Overlap, cfg.ChunkSize)
}

func TestDefaultBuilderConfig(t *testing.T) {
	cfg := DefaultBuilderConfig()
	assert.Equal(t, 2, cfg.MaxDepth)
	assert.Equal(t, 10, cfg.PerRelationLimit)
	assert.Equal(t, 4, cfg.MaxConcurrentFetches)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stderr"}, cfg.OutputPaths)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "entitygraph", cfg.ServiceName)
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.APIKeys)
	assert.True(t, cfg.WatchFiles)
}
