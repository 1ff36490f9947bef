package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeSizeSimple(t *testing.T) {
	assert.Equal(t, "0 B", summarizeSizeSimple(0))
	assert.Equal(t, "512.00 B", summarizeSizeSimple(512))
	assert.Equal(t, "1.50 KB", summarizeSizeSimple(1536))
	assert.Equal(t, "2.0 MB", summarizeSizeSimple(2*1024*1024, 1))
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	args := &Args{
		CacheDir:   filepath.Join(dir, "cache"),
		InstallDir: filepath.Join(dir, "content"),
		APIKey:     "flag-key",
		Tick:       10 * time.Millisecond,
		Threaded:   true,
		Verbose:    true,
	}

	cfg, err := loadConfig(args)
	require.NoError(t, err)
	assert.Equal(t, args.CacheDir, cfg.Cache.Dir)
	assert.Equal(t, args.InstallDir, cfg.Backend.InstallDir)
	assert.Equal(t, "flag-key", cfg.Backend.APIKey)
	assert.Equal(t, 10*time.Millisecond, cfg.Host.TickInterval)
	assert.True(t, cfg.Worker.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)

	logger, err := newLogger(cfg.Log)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
