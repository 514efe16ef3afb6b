package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Browser.BatchSize)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 15*time.Second, cfg.Browser.PageLoadTimeout)
	assert.Equal(t, 5*time.Second, cfg.Browser.ElementTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Browser.TypeDelay)
	assert.Equal(t, "subscription.txt", cfg.SubscriptionFile)
	assert.Equal(t, "scraper_data.db", cfg.DBPath)
	assert.Equal(t, "https://webbuilder.pfizer/webbuilder/dashboard/", cfg.Dashboard.URL)
	assert.False(t, cfg.Export.S3.Enabled())
	assert.Equal(t, time.UTC, cfg.Location)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("BATCH_SIZE", "5")
	t.Setenv("HEADLESS", "false")
	t.Setenv("SEARCH_WAIT_MS", "250")
	t.Setenv("MANUAL_LOGIN_WAIT", "1m")
	t.Setenv("DASHBOARD_URL", "https://dash.example.com/dashboard/")
	t.Setenv("S3_BUCKET", "exports")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Browser.BatchSize)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 250*time.Millisecond, cfg.Browser.SearchWait)
	assert.Equal(t, time.Minute, cfg.Browser.ManualLoginWait)
	assert.Equal(t, "https://dash.example.com/dashboard/", cfg.Dashboard.URL)
	assert.True(t, cfg.Export.S3.Enabled())
}

func TestLoadRejectsZeroBatch(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("BATCH_SIZE", "0")

	_, err := Load()
	assert.ErrorContains(t, err, "BATCH_SIZE")
}

func TestLoadDashboardOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("TIMEZONE", "UTC")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := `
url: https://staging.example.com/dashboard/
selectors:
  search_inputs:
    - "#subscription-search"
  results_table: "table.results"
consent:
  avoid:
    - Reject
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "dashboard.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	defaults := DefaultDashboard()
	assert.Equal(t, "https://staging.example.com/dashboard/", cfg.Dashboard.URL)
	assert.Equal(t, []string{"#subscription-search"}, cfg.Dashboard.Selectors.SearchInputs)
	assert.Equal(t, "table.results", cfg.Dashboard.Selectors.ResultsTable)
	assert.Equal(t, defaults.Selectors.NoResults, cfg.Dashboard.Selectors.NoResults)
	assert.Equal(t, []string{"Reject"}, cfg.Dashboard.Consent.Avoid)
	assert.Equal(t, defaults.Consent.AcceptAll, cfg.Dashboard.Consent.AcceptAll)
}

func TestLoadLocationFallback(t *testing.T) {
	loc, err := loadLocation("Asia/Kolkata")
	require.NoError(t, err)
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 5*3600+30*60, offset)

	_, err = loadLocation("Nowhere/Special")
	assert.Error(t, err)
}
