package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "finsight.db", cfg.Store.Path)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "https://www.facebook.com", cfg.Network.BaseURL)
	assert.Equal(t, 20, cfg.Graph.PostFetchLimit)
	assert.Equal(t, 3, cfg.Graph.RetryMaxAttempts)
	assert.Equal(t, 5, cfg.Graph.BreakerFailures)
	assert.Equal(t, 24, cfg.Scrape.StalenessHours)
	assert.Equal(t, 5, cfg.Scrape.DelaySecs)
	assert.Equal(t, 5, cfg.Analysis.BatchSize)
	assert.Equal(t, 7, cfg.Analysis.RecencyDays)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FINSIGHT_SERVER_PORT", "9090")
	t.Setenv("FINSIGHT_SCRAPE_DELAY_SECS", "12")
	t.Setenv("FINSIGHT_ANALYSIS_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 12, cfg.Scrape.DelaySecs)
	assert.Equal(t, "sk-test", cfg.Analysis.Key)
}

func TestApplyOverrides(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.ApplyOverrides(map[string]string{
		"scrape.delay_secs":   "10",
		"analysis.batch_size": "3",
	})
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Scrape.DelaySecs)
	assert.Equal(t, 3, cfg.Analysis.BatchSize)
	// Untouched keys keep their defaults.
	assert.Equal(t, 24, cfg.Scrape.StalenessHours)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestApplyOverridesEmpty(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	before := *cfg
	require.NoError(t, cfg.ApplyOverrides(nil))
	assert.Equal(t, before, *cfg)
}

func TestDurationHelpers(t *testing.T) {
	scrape := ScrapeConfig{StalenessHours: 24, DelaySecs: 5}
	assert.Equal(t, 24*time.Hour, scrape.Staleness())
	assert.Equal(t, 5*time.Second, scrape.Delay())

	analysis := AnalysisConfig{RecencyDays: 7, BatchDelaySecs: 2}
	assert.Equal(t, 7*24*time.Hour, analysis.Recency())
	assert.Equal(t, 2*time.Second, analysis.BatchDelay())
}
